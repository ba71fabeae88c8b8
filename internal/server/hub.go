package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rideralert/internal/alarm"
	"rideralert/internal/models"
	"rideralert/internal/notify"
)

const clientBuffer = 16

var errNoClients = errors.New("no browser connected")

type eventMessage struct {
	Type         string               `json:"type"`
	State        *models.Snapshot     `json:"state,omitempty"`
	Tone         *alarm.Tone          `json:"tone,omitempty"`
	Notification *notify.Notification `json:"notification,omitempty"`
}

type hubClient struct {
	id   string
	send chan []byte
}

// Hub fans tones and notifications out to connected browsers. It is both an
// alarm.ToneSink and a notify.Notifier.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*hubClient
	log     *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*hubClient),
		log:     log.Named("hub"),
	}
}

// Play forwards a tone to every browser.
func (h *Hub) Play(t alarm.Tone) {
	h.broadcast(eventMessage{Type: "tone", Tone: &t})
}

// Notify asks every browser to raise a system notification.
func (h *Hub) Notify(_ context.Context, n notify.Notification) error {
	if h.broadcast(eventMessage{Type: "notify", Notification: &n}) == 0 {
		return errNoClients
	}
	return nil
}

// Clients returns the number of connected browsers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register() *hubClient {
	c := &hubClient{id: uuid.NewString(), send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.log.Debug("browser connected", zap.String("client_id", c.id))
	return c
}

func (h *Hub) unregister(c *hubClient) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	h.log.Debug("browser disconnected", zap.String("client_id", c.id))
}

// broadcast returns how many clients accepted the message. Full client
// buffers drop the message.
func (h *Hub) broadcast(msg eventMessage) int {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("encode event", zap.String("type", msg.Type), zap.Error(err))
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, c := range h.clients {
		select {
		case c.send <- payload:
			delivered++
		default:
			h.log.Debug("dropping event for slow browser", zap.String("client_id", c.id), zap.String("type", msg.Type))
		}
	}
	return delivered
}
