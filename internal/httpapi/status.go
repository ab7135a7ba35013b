package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/hivemind-ai/hive/internal/hive"
)

// StatusHandler exposes a read-only projection of the swarm.
type StatusHandler struct {
	status func() hive.Status
	logger *zap.Logger
}

func NewStatusHandler(status func() hive.Status, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{status: status, logger: logger}
}

// RegisterRoutes registers status routes on the provided mux.
func (h *StatusHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/status", h.handleStatus)
}

func (h *StatusHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.status()); err != nil {
		h.logger.Warn("status encode error", zap.Error(err))
	}
}
