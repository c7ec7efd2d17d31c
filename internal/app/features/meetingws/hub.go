package meetingws

import (
	"encoding/json"
	"sync"

	"github.com/dalemusser/mentorlink/internal/app/meeting"
	"github.com/dalemusser/mentorlink/internal/app/system/meetmetrics"
	"go.uber.org/zap"
)

// Hub tracks the live websocket clients of this process by connection id
// and implements meeting.Sink.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	metrics *meetmetrics.Metrics
	log     *zap.Logger
}

// NewHub returns an empty hub.
func NewHub(metrics *meetmetrics.Metrics, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]*Client),
		metrics: metrics,
		log:     logger,
	}
}

// Send encodes ev and queues it on connID's write pump. It never blocks: a
// client whose buffer is full is disconnected.
func (h *Hub) Send(connID string, ev meeting.Event) bool {
	h.mu.RLock()
	c := h.clients[connID]
	h.mu.RUnlock()
	if c == nil {
		return false
	}

	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("failed to encode event", zap.String("type", ev.Type), zap.Error(err))
		return false
	}
	return c.enqueue(data)
}

// Count returns the number of registered clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll asks every client to close. Their read pumps then run the
// normal disconnect path.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.metrics.ConnectionOpened()
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	h.mu.Unlock()
	if ok {
		h.metrics.ConnectionClosed()
	}
}
