package httpapi

import (
	"fmt"
	"net/http"
	"time"
)

// EventsHandler streams routing events to the client as Server-Sent-Events.
// A keep-alive comment goes out every 15 seconds so idle connections survive
// intermediary timeouts.
func EventsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		sub := d.Events.Subscribe(64)
		defer d.Events.Unsubscribe(sub)

		keepAlive := time.NewTicker(15 * time.Second)
		defer keepAlive.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-keepAlive.C:
				if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case e := <-sub.C:
				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, e.JSON()); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}
