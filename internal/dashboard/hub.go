// Package dashboard is the control surface of the trader: a REST API for
// commands, a WebSocket hub fanning out live snapshots, and a poller that
// publishes those snapshots through Redis Pub/Sub.
package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"bntrader/internal/store/redis"

	"github.com/gorilla/websocket"
)

// Hub manages WebSocket clients and the Redis Pub/Sub fan-out. The latest
// payload per channel is cached so a fresh client gets a full snapshot on
// connect.
type Hub struct {
	pub *redis.Publisher

	mu      sync.RWMutex
	clients map[*client]bool
	latest  map[string]latestEntry
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
}

// NewHub creates a hub over the given publisher.
func NewHub(pub *redis.Publisher) *Hub {
	return &Hub{
		pub:     pub,
		clients: make(map[*client]bool),
		latest:  make(map[string]latestEntry),
	}
}

// Run subscribes to the snapshot channels and routes messages to clients.
// Blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	channels := []string{
		redis.ChannelPositions,
		redis.ChannelOrders,
		redis.ChannelMode,
		redis.ChannelSignal,
		redis.ChannelSummary,
	}
	sub := h.pub.Subscribe(ctx, channels...)
	defer sub.Close()

	log.Printf("[dashboard] hub subscribed to %d channels", len(channels))
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast(msg.Channel, []byte(msg.Payload))
		}
	}
}

// broadcast caches the payload and fans the envelope out to every client.
func (h *Hub) broadcast(channel string, data []byte) {
	now := time.Now()
	envelope, err := json.Marshal(map[string]any{
		"channel": channel,
		"data":    json.RawMessage(data),
		"ts":      now.Format(time.RFC3339Nano),
	})
	if err != nil {
		log.Printf("[dashboard] envelope marshal: %v", err)
		return
	}

	h.mu.Lock()
	h.latest[channel] = latestEntry{Data: data, TS: now}
	for c := range h.clients {
		select {
		case c.send <- envelope:
		default:
			// slow client, drop it
			delete(h.clients, c)
			close(c.send)
		}
	}
	h.mu.Unlock()
}

// handleConn registers a new WebSocket peer and starts its pumps.
func (h *Hub) handleConn(conn *websocket.Conn) {
	c := &client{conn: conn, send: make(chan []byte, 64), hub: h}

	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	go c.writePump()
	go c.readPump()
	c.sendInitialState()
	log.Printf("[dashboard] ws client connected (%d total)", h.ClientCount())
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
