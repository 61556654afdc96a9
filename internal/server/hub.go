package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"hostfact/internal/facts"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// FactEvent is pushed to watch subscribers whenever an agent reports a
// fact snapshot.
type FactEvent struct {
	AgentID     string        `json:"agent_id"`
	Hostname    string        `json:"hostname"`
	CollectedAt int64         `json:"collected_at"`
	Facts       facts.FactSet `json:"facts"`
}

// Hub fans fact events out to connected watch clients. All client state is
// owned by the Run goroutine.
type Hub struct {
	log *slog.Logger

	register   chan *watchClient
	unregister chan *watchClient
	events     chan FactEvent

	clients map[*watchClient]bool
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:        log,
		register:   make(chan *watchClient),
		unregister: make(chan *watchClient),
		events:     make(chan FactEvent, 100),
		clients:    map[*watchClient]bool{},
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
			}
			return

		case c := <-h.register:
			h.clients[c] = true
			h.log.Info("watch client connected", "total", len(h.clients))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.log.Info("watch client disconnected", "total", len(h.clients))
			}

		case ev := <-h.events:
			msg, err := json.Marshal(ev)
			if err != nil {
				h.log.Error("cannot marshal fact event", "err", err)
				continue
			}
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					h.log.Warn("watch client too slow, dropping")
					delete(h.clients, c)
					close(c.send)
				}
			}
		}
	}
}

// Publish never blocks; if the hub is saturated the event is dropped so
// the heartbeat path stays fast.
func (h *Hub) Publish(ev FactEvent) {
	select {
	case h.events <- ev:
	default:
	}
}

type watchClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func (c *watchClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		// watchers only listen; discard anything they send
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *watchClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var watchUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWatch upgrades the connection and streams fact events until the
// client goes away. Admin key checks happen in the wrapping middleware.
func (h *Hub) ServeWatch(w http.ResponseWriter, r *http.Request) {
	conn, err := watchUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "err", err)
		return
	}
	c := &watchClient{hub: h, conn: conn, send: make(chan []byte, 64)}
	h.register <- c
	go c.writePump()
	go c.readPump()
}
