// Package httpapi serves live research progress events over SSE and
// WebSocket on the worker's admin listener.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/converge/internal/streaming"
)

// EventSource delivers a workflow's events after since until the terminal
// event or ctx cancellation. *streaming.Manager implements it.
type EventSource interface {
	Subscribe(ctx context.Context, workflowID string, since uint64, ch chan<- streaming.Event) error
}

// StreamingHandler serves workflow progress events
type StreamingHandler struct {
	events    EventSource
	logger    *zap.Logger
	heartbeat time.Duration
}

func NewStreamingHandler(events EventSource, logger *zap.Logger) *StreamingHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamingHandler{events: events, logger: logger, heartbeat: 15 * time.Second}
}

// RegisterRoutes registers /stream/sse and /stream/ws
func (h *StreamingHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/stream/sse", h.handleSSE)
	mux.HandleFunc("/stream/ws", h.handleWS)
}

type streamRequest struct {
	workflowID string
	since      uint64
	types      map[string]struct{}
}

func parseStreamRequest(r *http.Request) (streamRequest, error) {
	req := streamRequest{workflowID: r.URL.Query().Get("workflow_id")}
	if req.workflowID == "" {
		return req, fmt.Errorf("workflow_id required")
	}
	if s := r.URL.Query().Get("types"); s != "" {
		req.types = map[string]struct{}{}
		for _, t := range strings.Split(s, ",") {
			if t = strings.TrimSpace(t); t != "" {
				req.types[t] = struct{}{}
			}
		}
	}
	// Last-Event-ID wins over the query parameter
	last := r.Header.Get("Last-Event-ID")
	if last == "" {
		last = r.URL.Query().Get("last_event_id")
	}
	if last != "" {
		n, err := strconv.ParseUint(last, 10, 64)
		if err != nil {
			return req, fmt.Errorf("invalid last_event_id %q", last)
		}
		req.since = n
	}
	return req, nil
}

func (s streamRequest) wants(evt streaming.Event) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[evt.Type]
	return ok
}

// subscribe runs the subscription in the background. The returned channel
// closes once the terminal event was delivered or ctx ends.
func (h *StreamingHandler) subscribe(ctx context.Context, req streamRequest) <-chan streaming.Event {
	ch := make(chan streaming.Event, 64)
	go func() {
		defer close(ch)
		if err := h.events.Subscribe(ctx, req.workflowID, req.since, ch); err != nil {
			h.logger.Warn("Event subscription ended with error",
				zap.String("workflow_id", req.workflowID),
				zap.Error(err),
			)
		}
	}()
	return ch
}

// handleSSE streams events as Server-Sent Events.
// GET /stream/sse?workflow_id=<id>[&types=a,b][&last_event_id=N]
func (h *StreamingHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	req, err := parseStreamRequest(r)
	if err != nil {
		http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	fmt.Fprintf(w, ": connected to workflow %s\n\n", req.workflowID)
	flusher.Flush()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	ch := h.subscribe(ctx, req)

	hb := time.NewTicker(h.heartbeat)
	defer hb.Stop()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", zap.String("workflow_id", req.workflowID))
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if !req.wants(evt) {
				continue
			}
			if evt.Seq > 0 {
				fmt.Fprintf(w, "id: %d\n", evt.Seq)
			}
			if evt.Type != "" {
				fmt.Fprintf(w, "event: %s\n", evt.Type)
			}
			fmt.Fprintf(w, "data: %s\n\n", evt.Marshal())
			flusher.Flush()
		case <-hb.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}
