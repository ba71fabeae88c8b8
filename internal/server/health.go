package server

import (
	"net/http"
	"time"

	"rideralert/internal/models"
)

func (s *Server) handleLivez(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz reports ready once the rider is online and polling.
func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if !s.monitor.Snapshot().Online {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	snap := s.monitor.Snapshot()
	var lastChecked int64
	if snap.LastCheckedAt != nil {
		lastChecked = snap.LastCheckedAt.Unix()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ready":           snap.Online,
		"status":          snap.Status,
		"healthy":         snap.Status != models.StatusConnectionError,
		"browsers":        s.hub.Clients(),
		"uptimeSec":       int64(time.Since(s.startedAt).Seconds()),
		"lastCheckedUnix": lastChecked,
	})
}
