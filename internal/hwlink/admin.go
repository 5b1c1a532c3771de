package hwlink

import (
	"encoding/json"
	"fmt"
	"net/http"

	"tailscale.com/tsweb"
)

// AttachAdminRoutes mounts link diagnostics under /debug/. These routes are
// meant for localhost or tailnet access only.
func (e *Emitter) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("hwlink", "signal controller link status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(e.Stats()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	// Server-sent events with each frame as it is written to the link.
	debug.HandleSilentFunc("hwlink-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		ch := e.subscribe()
		defer e.unsubscribe(ch)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case frame := <-ch:
				if _, err := fmt.Fprintf(w, "data: %s\n\n", frame); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
