package healthcheck

import (
	"encoding/json"
	"net/http"
	"time"
)

// Response is the body of /healthz and /readyz. Snapshot fields are inlined.
type Response struct {
	Status string `json:"status"`
	Snapshot
}

// HealthHandler reports 200 while ticks keep arriving within two poll intervals.
func HealthHandler(tracker *Tracker, pollInterval time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if tracker.Healthy(time.Now().UTC(), pollInterval) {
			WriteJSON(w, http.StatusOK, Response{Status: "ok", Snapshot: tracker.Snapshot()})
			return
		}
		WriteJSON(w, http.StatusServiceUnavailable, Response{Status: "stale", Snapshot: tracker.Snapshot()})
	}
}

// ReadyHandler reports 200 once a full cycle has completed.
func ReadyHandler(tracker *Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if tracker.Ready() {
			WriteJSON(w, http.StatusOK, Response{Status: "ready", Snapshot: tracker.Snapshot()})
			return
		}
		WriteJSON(w, http.StatusServiceUnavailable, Response{Status: "starting", Snapshot: tracker.Snapshot()})
	}
}

// WriteJSON encodes payload with the given status code. Responses are never cached.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
