// Package ws provides a lightweight WebSocket pub/sub hub.
// Components broadcast JSON events through the hub, and every connected client
// receives them in real time. The latest sticky event (the current run state)
// is replayed to clients that connect later.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

type message struct {
	data   []byte
	sticky bool
}

// Hub manages WebSocket client connections and fans out broadcast messages
// to all of them. It is safe for concurrent use; register, unregister, and
// broadcast all go through channels.
type Hub struct {
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan message
	done       chan struct{} // closed when Run returns
	upgrader   websocket.Upgrader

	last []byte // owned by Run
}

// NewHub allocates a hub with buffered channels.
// Call Run in a goroutine to start the event loop.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn, 16),
		unregister: make(chan *websocket.Conn, 16),
		broadcast:  make(chan message, 256),
		done:       make(chan struct{}),
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
// pings in a single select loop. It closes all clients when ctx is cancelled,
// including ones still queued for registration. Run must be called once.
func (h *Hub) Run(ctx context.Context) {
	ping := time.NewTicker(20 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			for c := range h.clients {
				_ = c.Close()
			}
			for {
				select {
				case c := <-h.register:
					_ = c.Close()
				default:
					return
				}
			}

		case c := <-h.register:
			h.clients[c] = struct{}{}
			if h.last != nil {
				h.write(c, websocket.TextMessage, h.last, 3*time.Second)
			}

		case c := <-h.unregister:
			delete(h.clients, c)
			_ = c.Close()

		case msg := <-h.broadcast:
			if msg.sticky {
				h.last = msg.data
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

// write sends one frame and drops the client on failure.
func (h *Hub) write(c *websocket.Conn, kind int, data []byte, timeout time.Duration) {
	_ = c.SetWriteDeadline(time.Now().Add(timeout))
	if err := c.WriteMessage(kind, data); err != nil {
		delete(h.clients, c)
		_ = c.Close()
	}
}

// Handler returns an http.Handler that upgrades incoming requests to
// WebSocket connections and registers them with the hub.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, "websocket upgrade failed", http.StatusBadRequest)
			return
		}
		if !h.submit(h.register, conn) {
			_ = conn.Close()
			return
		}

		go func() {
			defer func() {
				if !h.submit(h.unregister, conn) {
					_ = conn.Close()
				}
			}()
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

// submit hands c to the event loop. It reports false once Run has returned.
func (h *Hub) submit(ch chan<- *websocket.Conn, c *websocket.Conn) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case ch <- c:
		return true
	case <-h.done:
		return false
	}
}

// BroadcastJSON marshals v to JSON and queues it for delivery to all
// connected clients. If the broadcast channel is full the message is
// silently dropped to avoid blocking the caller.
func (h *Hub) BroadcastJSON(v any) {
	h.send(v, false)
}

// BroadcastSticky is BroadcastJSON for events that describe current state;
// the most recent one is also sent to every client that connects afterwards.
func (h *Hub) BroadcastSticky(v any) {
	h.send(v, true)
}

func (h *Hub) send(v any, sticky bool) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- message{data: b, sticky: sticky}:
	default:
	}
}
