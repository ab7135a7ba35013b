package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hivemind-ai/hive/internal/events"
)

// StreamHandler serves swarm events over Server-Sent Events.
type StreamHandler struct {
	bus    *events.Bus
	logger *zap.Logger
}

func NewStreamHandler(bus *events.Bus, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{bus: bus, logger: logger}
}

// RegisterRoutes registers SSE routes on the provided mux.
func (h *StreamHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/stream/sse", h.handleSSE)
}

// handleSSE streams events for one stream (or all streams when omitted).
// GET /stream/sse?stream=<name>&types=a,b&last_event_id=<seq>
func (h *StreamHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	stream := r.URL.Query().Get("stream")

	// Optional: type filter (comma-separated)
	typeFilter := map[string]struct{}{}
	if s := r.URL.Query().Get("types"); s != "" {
		for _, t := range strings.Split(s, ",") {
			t = strings.TrimSpace(t)
			if t != "" {
				typeFilter[t] = struct{}{}
			}
		}
	}
	// Optional: Last-Event-ID header or query param to replay from
	var lastID uint64
	if lei := r.Header.Get("Last-Event-ID"); lei != "" {
		if n, err := strconv.ParseUint(lei, 10, 64); err == nil {
			lastID = n
		}
	}
	if q := r.URL.Query().Get("last_event_id"); q != "" && lastID == 0 {
		if n, err := strconv.ParseUint(q, 10, 64); err == nil {
			lastID = n
		}
	}

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch := h.bus.Subscribe(stream, 256)
	defer h.bus.Unsubscribe(stream, ch)

	fmt.Fprintf(w, ": connected to stream %q\n\n", stream)
	flusher.Flush()

	// Replay backlog since lastID (best-effort, per-stream only)
	if lastID > 0 && stream != "" {
		for _, ev := range h.bus.ReplaySince(stream, lastID) {
			if !h.writeEvent(w, ev, typeFilter) {
				continue
			}
		}
		flusher.Flush()
	}

	hb := time.NewTicker(15 * time.Second)
	defer hb.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("SSE client disconnected", zap.String("stream", stream))
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if h.writeEvent(w, evt, typeFilter) {
				flusher.Flush()
			}
		case <-hb.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

func (h *StreamHandler) writeEvent(w http.ResponseWriter, evt events.Event, typeFilter map[string]struct{}) bool {
	if len(typeFilter) > 0 {
		if _, ok := typeFilter[evt.Type]; !ok {
			return false
		}
	}
	if evt.Seq > 0 {
		fmt.Fprintf(w, "id: %d\n", evt.Seq)
	}
	if evt.Type != "" {
		fmt.Fprintf(w, "event: %s\n", evt.Type)
	}
	fmt.Fprintf(w, "data: %s\n\n", string(evt.Marshal()))
	return true
}
