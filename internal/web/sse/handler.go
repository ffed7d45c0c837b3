package sse

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mcoot/pxcanvas/internal/api/apierr"
	"github.com/mcoot/pxcanvas/internal/api/response"
	"github.com/mcoot/pxcanvas/internal/model"
)

// Event names on the wire
const (
	EventSnapshot = "snapshot"
	EventDelta    = "delta"
	EventResync   = "resync"
)

const (
	// Reconnect delay advertised to EventSource clients, in milliseconds
	retryMillis = 3000

	// Time between keepalive comments
	pingPeriod = 30 * time.Second
)

var errInvalidSince = errors.New("invalid since revision")

// ResyncPayload is the data of a resync event
type ResyncPayload struct {
	Reason string `json:"reason"`
}

// Handler serves the canvas change stream
type Handler struct {
	hub        *Hub
	logger     *slog.Logger
	pingPeriod time.Duration
}

// NewHandler creates a new SSE handler
func NewHandler(hub *Hub, logger *slog.Logger) *Handler {
	return &Handler{
		hub:        hub,
		logger:     logger.With(slog.String("component", "sse")),
		pingPeriod: pingPeriod,
	}
}

// ServeHTTP handles GET /api/v1/canvas/events. The starting point is taken
// from ?since or the Last-Event-ID header; without either the stream opens
// with a snapshot.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	since, err := parseSince(r)
	if err != nil {
		apierr.WriteError(w, apierr.NewInvalidRequestError("since must be a non-negative integer"))
		return
	}

	sub, err := h.hub.Subscribe(r.Context(), since)
	if err != nil {
		if r.Context().Err() == nil {
			apierr.WriteError(w, model.ErrStoreUnavailable)
		}
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)

	started := time.Now()
	logger := h.logger.With(slog.Int64("start_revision", sub.Revision))
	logger.Info("sse subscriber connected", slog.Bool("replay", sub.Snapshot == nil))
	defer func() {
		logger.Info("sse subscriber disconnected", slog.Duration("connection_duration", time.Since(started)))
	}()

	if _, err := w.Write([]byte("retry: " + strconv.Itoa(retryMillis) + "\n\n")); err != nil {
		return
	}
	if sub.Snapshot != nil {
		if err := writeJSONEvent(w, EventSnapshot, sub.Snapshot.Revision, response.CanvasFromModel(sub.Snapshot)); err != nil {
			return
		}
	}
	for _, d := range sub.Replay {
		if err := writeJSONEvent(w, EventDelta, d.Revision, response.DeltaFromModel(d)); err != nil {
			return
		}
	}
	flusher.Flush()

	ticker := h.hub.clock.NewTicker(h.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case d, ok := <-sub.Deltas():
			if !ok {
				h.writeResync(w, sub.Err())
				flusher.Flush()
				return
			}
			if err := writeJSONEvent(w, EventDelta, d.Revision, response.DeltaFromModel(d)); err != nil {
				return
			}
			flusher.Flush()

		case <-ticker.C():
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// writeResync tells the client to fetch a fresh snapshot. Nothing is sent
// when the hub is shutting down.
func (h *Handler) writeResync(w http.ResponseWriter, reason error) {
	if reason == nil || errors.Is(reason, ErrHubClosed) {
		return
	}
	payload := ResyncPayload{Reason: "gap"}
	if errors.Is(reason, ErrLagging) {
		payload.Reason = "lagging"
	}
	h.logger.Info("sse subscriber told to resync", slog.String("reason", payload.Reason))
	data, _ := json.Marshal(payload)
	_, _ = w.Write(formatSSEMessage(EventResync, "", string(data)))
}

// parseSince reads the resume revision from the query or Last-Event-ID
func parseSince(r *http.Request) (*int64, error) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		raw = r.Header.Get("Last-Event-ID")
	}
	if raw == "" {
		return nil, nil
	}
	since, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || since < 0 {
		return nil, errInvalidSince
	}
	return &since, nil
}

func writeJSONEvent(w http.ResponseWriter, event string, id int64, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = w.Write(formatSSEMessage(event, strconv.FormatInt(id, 10), string(data)))
	return err
}

// formatSSEMessage formats an SSE message with event name, optional id and
// data. Multi-line data gets a "data: " prefix on each line.
func formatSSEMessage(eventName, id, data string) []byte {
	var b strings.Builder
	b.WriteString("event: " + eventName + "\n")
	if id != "" {
		b.WriteString("id: " + id + "\n")
	}
	for _, line := range splitLines(data) {
		b.WriteString("data: " + line + "\n")
	}
	b.WriteString("\n")
	return []byte(b.String())
}

// splitLines splits a string into lines, handling various line endings
func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}
