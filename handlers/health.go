package handlers

import (
	"encoding/json"
	"net/http"
)

// poolStats is the subset of *stealth.Pool's runtime state the health
// endpoint reports, named so this package doesn't need to import stealth
// just to describe its shape.
type poolStats interface {
	Stats() (activeBrowsers, acquireQueueDepth int)
}

// HealthHandler reports service liveness plus the browser pool's current
// load, richer than the teacher's static `{"status":"ok"}` stub since a
// caller deciding whether to retry needs to know if the pool is saturated
// (supplemented feature, §6).
type HealthHandler struct {
	Pool poolStats
}

// NewHealthHandler wires the handler against the browser pool, which may
// be nil in configurations that haven't started a pool yet.
func NewHealthHandler(pool poolStats) *HealthHandler {
	return &HealthHandler{Pool: pool}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if h.Pool != nil {
		active, queued := h.Pool.Stats()
		resp["browserPool"] = map[string]int{
			"activeBrowsers":    active,
			"acquireQueueDepth": queued,
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
