// Package ws fans dashboard snapshots out to websocket clients.
package ws

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/flood-monitor-service/internal/observability"
)

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

const broadcastBuffer = 16

// Hub tracks connected clients and delivers every broadcast to each of them.
type Hub struct {
	logger  *slog.Logger
	metrics *observability.Metrics

	clients   map[Subscriber]struct{}
	register  chan Subscriber
	unreg     chan Subscriber
	broadcast chan []byte
	done      chan struct{}
}

// NewHub creates a Hub. Call Run to start delivering.
func NewHub(logger *slog.Logger, metrics *observability.Metrics) *Hub {
	return &Hub{
		logger:    logger,
		metrics:   metrics,
		clients:   make(map[Subscriber]struct{}),
		register:  make(chan Subscriber),
		unreg:     make(chan Subscriber),
		broadcast: make(chan []byte, broadcastBuffer),
		done:      make(chan struct{}),
	}
}

// Run serves register, unregister and broadcast requests until ctx is
// cancelled, then closes every remaining client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	defer func() {
		for c := range h.clients {
			c.Close()
			delete(h.clients, c)
		}
		h.metrics.StreamClients.Set(0)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
		case c := <-h.unreg:
			delete(h.clients, c)
		case payload := <-h.broadcast:
			for c := range h.clients {
				if err := c.Send(payload); err != nil {
					c.Close()
					delete(h.clients, c)
				}
			}
		}
		h.metrics.StreamClients.Set(float64(len(h.clients)))
	}
}

// Register adds a client. It returns false once the hub has stopped.
func (h *Hub) Register(c Subscriber) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(c Subscriber) {
	select {
	case h.unreg <- c:
	case <-h.done:
	}
}

// Broadcast queues payload for every client without blocking. When clients
// are too slow to keep up, the oldest queued snapshot is discarded so the
// most recent one is always delivered.
func (h *Hub) Broadcast(payload []byte) {
	for {
		select {
		case h.broadcast <- payload:
			return
		default:
		}
		select {
		case <-h.broadcast:
			h.logger.Debug("stream queue full, discarded oldest snapshot")
		default:
		}
	}
}
