// Package ws provides a lightweight WebSocket pub/sub hub.
// Components broadcast JSON events through the hub, and every connected client
// receives them in real time. The hub also handles ping/pong keepalives
// so stale connections get cleaned up automatically.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Hub manages WebSocket client connections and fans out broadcast messages
// to all of them. It is safe for concurrent use; register, unregister, and
// broadcast all go through channels.
type Hub struct {
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan message
	upgrader   websocket.Upgrader
	log        *zap.Logger

	// retained is the last message sent with Retain, replayed to every
	// client on connect. Only touched by Run.
	retained []byte

	connected atomic.Int64
	dropped   atomic.Uint64
	sent      atomic.Uint64
}

type message struct {
	data   []byte
	retain bool
}

// NewHub allocates a hub with buffered channels.
// Call Run in a goroutine to start the event loop.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn, 16),
		unregister: make(chan *websocket.Conn, 16),
		broadcast:  make(chan message, 256),
		log:        logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Run processes registrations, unregistrations, broadcasts, and keepalive
// pings in a single select loop. It closes all clients when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ping := time.NewTicker(20 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.connected.Add(1)
			if h.retained != nil {
				h.write(c, websocket.TextMessage, h.retained, 3*time.Second)
			}

		case c := <-h.unregister:
			h.drop(c)

		case msg := <-h.broadcast:
			if msg.retain {
				h.retained = msg.data
			}
			for c := range h.clients {
				h.write(c, websocket.TextMessage, msg.data, 3*time.Second)
			}

		case <-ping.C:
			for c := range h.clients {
				h.write(c, websocket.PingMessage, nil, 2*time.Second)
			}
		}
	}
}

func (h *Hub) write(c *websocket.Conn, kind int, data []byte, timeout time.Duration) {
	_ = c.SetWriteDeadline(time.Now().Add(timeout))
	if err := c.WriteMessage(kind, data); err != nil {
		h.log.Debug("dropping websocket client", zap.String("remote", c.RemoteAddr().String()), zap.Error(err))
		h.drop(c)
		return
	}
	if kind == websocket.TextMessage {
		h.sent.Add(1)
	}
}

func (h *Hub) drop(c *websocket.Conn) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		h.connected.Add(-1)
	}
	_ = c.Close()
}

// Handler returns an http.Handler that upgrades incoming requests to
// WebSocket connections and registers them with the hub.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already replied.
			return
		}
		h.register <- conn

		go func() {
			defer func() { h.unregister <- conn }()
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			conn.SetPongHandler(func(string) error {
				_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
				return nil
			})

			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	})
}

// BroadcastJSON marshals v to JSON and queues it for delivery to all
// connected clients. If the broadcast channel is full the message is
// dropped and counted rather than blocking the caller.
func (h *Hub) BroadcastJSON(v any) {
	h.enqueue(v, false)
}

// Retain broadcasts v like BroadcastJSON and also keeps it as the message
// every newly connected client receives first.
func (h *Hub) Retain(v any) {
	h.enqueue(v, true)
}

func (h *Hub) enqueue(v any, retain bool) {
	b, err := json.Marshal(v)
	if err != nil {
		h.dropped.Add(1)
		return
	}
	select {
	case h.broadcast <- message{data: b, retain: retain}:
	default:
		h.dropped.Add(1)
	}
}

// Stats is a point-in-time view of the hub counters.
type Stats struct {
	Clients int64  `json:"clients"`
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
}

func (h *Hub) Stats() Stats {
	return Stats{Clients: h.connected.Load(), Sent: h.sent.Load(), Dropped: h.dropped.Load()}
}
