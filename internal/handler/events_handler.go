package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"drive-warden/internal/event"
	"drive-warden/pkg/apierror"
)

// EventsHandler streams bus events over Server-Sent Events. Clients use this
// to watch job progress and violations live; the durable source of truth
// remains the job and audit endpoints.
type EventsHandler struct {
	bus event.Bus
}

func NewEventsHandler(bus event.Bus) *EventsHandler {
	return &EventsHandler{bus: bus}
}

func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apierror.New("NOT_SUPPORTED", "streaming unsupported by this connection", "", http.StatusInternalServerError))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, unsubscribe := h.bus.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, open := <-events:
			if !open {
				return
			}

			payload, err := json.Marshal(e)
			if err != nil {
				continue
			}

			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, payload)
			flusher.Flush()
		}
	}
}
