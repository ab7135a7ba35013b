package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hivemind-ai/hive/internal/store"
)

type stubChecker struct {
	name     string
	status   CheckStatus
	critical bool
}

func (s *stubChecker) Name() string           { return s.name }
func (s *stubChecker) IsCritical() bool       { return s.critical }
func (s *stubChecker) Timeout() time.Duration { return time.Second }
func (s *stubChecker) Check(context.Context) CheckResult {
	res := CheckResult{Status: s.status}
	if s.status != StatusHealthy {
		res.Error = "probe failed"
	}
	return res
}

func TestOverallAggregation(t *testing.T) {
	m := NewManager(time.Minute, zap.NewNop())
	require.NoError(t, m.RegisterChecker(&stubChecker{name: "a", status: StatusHealthy, critical: true}))
	require.NoError(t, m.RegisterChecker(&stubChecker{name: "b", status: StatusHealthy}))

	overall := m.Overall(context.Background())
	assert.Equal(t, StatusHealthy, overall.Status)
	assert.Len(t, overall.Components, 2)
}

func TestCriticalFailureMarksUnhealthy(t *testing.T) {
	m := NewManager(time.Minute, zap.NewNop())
	require.NoError(t, m.RegisterChecker(&stubChecker{name: "kv", status: StatusUnhealthy, critical: true}))

	overall := m.Overall(context.Background())
	assert.Equal(t, StatusUnhealthy, overall.Status)
	assert.False(t, m.IsReady(context.Background()))
}

func TestNonCriticalFailureDegrades(t *testing.T) {
	m := NewManager(time.Minute, zap.NewNop())
	require.NoError(t, m.RegisterChecker(&stubChecker{name: "core", status: StatusHealthy, critical: true}))
	require.NoError(t, m.RegisterChecker(&stubChecker{name: "journal", status: StatusUnhealthy}))

	overall := m.Overall(context.Background())
	assert.Equal(t, StatusDegraded, overall.Status)
	assert.True(t, m.IsReady(context.Background()))
}

func TestDuplicateCheckerRejected(t *testing.T) {
	m := NewManager(time.Minute, zap.NewNop())
	require.NoError(t, m.RegisterChecker(&stubChecker{name: "a", status: StatusHealthy}))
	assert.Error(t, m.RegisterChecker(&stubChecker{name: "a", status: StatusHealthy}))
}

type failingKV struct{ store.KV }

func (failingKV) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, store.ErrClosed
}

func TestKVChecker(t *testing.T) {
	kv := store.NewMemoryKV()
	defer kv.Close()

	c := NewKVChecker(kv)
	res := c.Check(context.Background())
	assert.Equal(t, StatusHealthy, res.Status)

	res = NewKVChecker(failingKV{}).Check(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Contains(t, res.Error, store.ErrClosed.Error())
}

func TestHealthEndpoints(t *testing.T) {
	m := NewManager(time.Minute, zap.NewNop())
	require.NoError(t, m.RegisterChecker(&stubChecker{name: "kv", status: StatusUnhealthy, critical: true}))

	mux := http.NewServeMux()
	NewHTTPHandler(m, zap.NewNop()).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/health/live")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
