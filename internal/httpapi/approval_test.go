package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hivemind-ai/hive/internal/queen"
)

type fakeApprover struct {
	approved []string
	rejected []string
	err      error
}

func (f *fakeApprover) Approve(_ context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	f.approved = append(f.approved, id)
	return nil
}

func (f *fakeApprover) Reject(id, reason string) error {
	if f.err != nil {
		return f.err
	}
	f.rejected = append(f.rejected, id+":"+reason)
	return nil
}

func newApprovalServer(t *testing.T, approver Approver, token string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	NewApprovalHandler(approver, zap.NewNop(), token).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestApproveDecision(t *testing.T) {
	fa := &fakeApprover{}
	srv := newApprovalServer(t, fa, "")

	resp, err := http.Post(srv.URL+"/approvals/decision", "application/json",
		strings.NewReader(`{"decision_id":"d1","approved":true}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"d1"}, fa.approved)
}

func TestRejectDecisionWithReason(t *testing.T) {
	fa := &fakeApprover{}
	srv := newApprovalServer(t, fa, "")

	resp, err := http.Post(srv.URL+"/approvals/decision", "application/json",
		strings.NewReader(`{"decision_id":"d2","approved":false,"reason":"too risky"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, fa.rejected, 1)
	assert.Equal(t, "d2:too risky", fa.rejected[0])
}

func TestApprovalRequiresToken(t *testing.T) {
	fa := &fakeApprover{}
	srv := newApprovalServer(t, fa, "secret")

	resp, err := http.Post(srv.URL+"/approvals/decision", "application/json",
		strings.NewReader(`{"decision_id":"d1","approved":true}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/approvals/decision",
		strings.NewReader(`{"decision_id":"d1","approved":true}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestApprovalValidation(t *testing.T) {
	fa := &fakeApprover{}
	srv := newApprovalServer(t, fa, "")

	resp, err := http.Post(srv.URL+"/approvals/decision", "application/json",
		strings.NewReader(`{"approved":true}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp2, err := http.Get(srv.URL + "/approvals/decision")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp2.StatusCode)
}

func TestApprovalUnknownDecision(t *testing.T) {
	fa := &fakeApprover{err: queen.ErrNotPending}
	srv := newApprovalServer(t, fa, "")

	resp, err := http.Post(srv.URL+"/approvals/decision", "application/json",
		strings.NewReader(`{"decision_id":"ghost","approved":true}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
