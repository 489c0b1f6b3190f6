package progressbus

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"flyx/models"
)

// heartbeatInterval is how often a comment line is sent to keep
// intermediary proxies from timing out an idle SSE connection (§4.3).
const heartbeatInterval = 15 * time.Second

// ServeHTTP streams jobID's progress events as newline-framed JSON SSE
// events until the job reaches a terminal phase or the client disconnects.
// Grounded on the manual-flush streaming style of
// other_examples/07e5a2a4_lucasduport-iptv-proxy's proxy handler, adapted
// from raw bytes to "event: progress\ndata: {...}\n\n" framing.
func (b *Bus) ServeHTTP(w http.ResponseWriter, r *http.Request, jobID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, unsubscribe := b.Subscribe(jobID, 0)
	defer unsubscribe()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, event); err != nil {
				return
			}
			flusher.Flush()
			if event.IsTerminal() {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, event models.ProgressEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
