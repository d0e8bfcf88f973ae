package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bnema/vidpipe/internal/service"
)

const keepAliveInterval = 15 * time.Second

type EventSource interface {
	Subscribe(itemID string) chan service.Event
	SubscribeAll() chan service.Event
	Unsubscribe(itemID string, ch chan service.Event)
	UnsubscribeAll(ch chan service.Event)
}

type SSEHandler struct {
	events    EventSource
	keepAlive time.Duration
}

func NewSSEHandler(events EventSource) *SSEHandler {
	return &SSEHandler{events: events, keepAlive: keepAliveInterval}
}

// sseWrite writes an SSE event, handling multi-line data correctly.
func sseWrite(w http.ResponseWriter, eventName string, data string) {
	_, _ = fmt.Fprintf(w, "event: %s\n", eventName)
	for _, line := range strings.Split(data, "\n") {
		_, _ = fmt.Fprintf(w, "data: %s\n", line)
	}
	_, _ = fmt.Fprint(w, "\n")
	flush(w)
}

// sendComment writes an SSE comment line, used for keep-alives.
func sendComment(w http.ResponseWriter, text string) {
	_, _ = fmt.Fprintf(w, ": %s\n\n", text)
	flush(w)
}

func flush(w http.ResponseWriter) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// Events streams bus events. With ?item=<id> only that item's events are
// sent; ?logs=1 adds pipeline log lines.
func (h *SSEHandler) Events() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		itemID := r.URL.Query().Get("item")
		withLogs := r.URL.Query().Get("logs") == "1"

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		var ch chan service.Event
		if itemID != "" {
			ch = h.events.Subscribe(itemID)
			defer h.events.Unsubscribe(itemID, ch)
		} else {
			ch = h.events.SubscribeAll()
			defer h.events.UnsubscribeAll(ch)
		}

		w.WriteHeader(http.StatusOK)
		sendComment(w, "connected")

		ctx := r.Context()
		keepAlive := time.NewTicker(h.keepAlive)
		defer keepAlive.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-keepAlive.C:
				sendComment(w, "keep-alive")
			case event, ok := <-ch:
				if !ok {
					return
				}
				if event.Type == service.EventLog && !withLogs {
					continue
				}
				data, err := json.Marshal(event)
				if err != nil {
					continue
				}
				sseWrite(w, event.Type, string(data))
			}
		}
	}
}
