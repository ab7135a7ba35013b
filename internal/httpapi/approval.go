package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/hivemind-ai/hive/internal/queen"
)

// Approver resolves escalated decisions. Satisfied by the swarm.
type Approver interface {
	Approve(ctx context.Context, decisionID string) error
	Reject(decisionID, reason string) error
}

// ApprovalHandler handles human approval decisions via HTTP.
type ApprovalHandler struct {
	approver  Approver
	logger    *zap.Logger
	authToken string
}

// NewApprovalHandler creates a new handler. An empty authToken disables auth.
func NewApprovalHandler(approver Approver, logger *zap.Logger, authToken string) *ApprovalHandler {
	return &ApprovalHandler{approver: approver, logger: logger, authToken: authToken}
}

// RegisterRoutes registers approval routes on the provided mux.
func (h *ApprovalHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/approvals/decision", h.handleDecision)
}

// approvalDecisionRequest is the expected payload for approval decisions.
type approvalDecisionRequest struct {
	DecisionID string `json:"decision_id"`
	Approved   bool   `json:"approved"`
	Reason     string `json:"reason,omitempty"`
	DecidedBy  string `json:"decided_by,omitempty"`
}

func (h *ApprovalHandler) handleDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	// Auth: Bearer token
	if h.authToken != "" {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != h.authToken {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
	}

	var req approvalDecisionRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.logger.Warn("approval decode error", zap.Error(err))
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.DecisionID == "" {
		http.Error(w, `{"error":"decision_id is required"}`, http.StatusBadRequest)
		return
	}

	var err error
	if req.Approved {
		err = h.approver.Approve(r.Context(), req.DecisionID)
	} else {
		reason := req.Reason
		if reason == "" {
			reason = "rejected via approvals API"
		}
		err = h.approver.Reject(req.DecisionID, reason)
	}
	if err != nil {
		if errors.Is(err, queen.ErrNotPending) || errors.Is(err, queen.ErrDecisionUnknown) {
			http.Error(w, `{"error":"decision not pending"}`, http.StatusNotFound)
			return
		}
		h.logger.Error("approval resolution failed",
			zap.String("decision_id", req.DecisionID),
			zap.Bool("approved", req.Approved),
			zap.Error(err),
		)
		http.Error(w, `{"error":"resolution failed"}`, http.StatusBadGateway)
		return
	}

	h.logger.Info("Approval resolved",
		zap.String("decision_id", req.DecisionID),
		zap.Bool("approved", req.Approved),
		zap.String("decided_by", req.DecidedBy),
	)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      "resolved",
		"decision_id": req.DecisionID,
		"approved":    req.Approved,
	})
}
