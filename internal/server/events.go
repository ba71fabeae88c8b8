package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"rideralert/internal/models"
)

const (
	eventsPushInterval = 30 * time.Second
	eventsWriteTimeout = 5 * time.Second
)

var eventsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := strings.ToLower(strings.TrimSpace(r.Host))
		originHost := strings.ToLower(strings.TrimSpace(u.Host))
		return host == originHost
	},
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := eventsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.serveEvents(conn)
}

func (s *Server) serveEvents(conn *websocket.Conn) {
	defer conn.Close()

	client := s.hub.register()
	defer s.hub.unregister(client)

	updates, cancel := s.monitor.Subscribe()
	defer cancel()

	if err := writeState(conn, s.monitor.Snapshot()); err != nil {
		return
	}

	ticker := time.NewTicker(eventsPushInterval)
	defer ticker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case snap := <-updates:
			if err := writeState(conn, snap); err != nil {
				return
			}
		case payload := <-client.send:
			_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.log.Debug("event write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := writeState(conn, s.monitor.Snapshot()); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func writeState(conn *websocket.Conn, snap models.Snapshot) error {
	payload, err := json.Marshal(eventMessage{Type: "state", State: &snap})
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, payload)
}
