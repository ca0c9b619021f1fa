package handler

import (
	"encoding/json"
	"net/http"
	"time"
)

// HelloHandler is the demo endpoint guarded by the rate limit.
func HelloHandler(w http.ResponseWriter, r *http.Request) {
	clientID := r.Header.Get("X-Client-ID")
	if clientID == "" {
		clientID = "default"
	}

	writeJSON(w, map[string]string{
		"message":   "Hello! Your request was admitted.",
		"client_id": clientID,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// StatusHandler reports liveness; it is not rate limited.
func StatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(body)
}
