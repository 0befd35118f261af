package alerts

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsEnvelope frames every message sent to alert dashboard clients.
type wsEnvelope struct {
	Type   string  `json:"type"`
	Alert  *Alert  `json:"alert,omitempty"`
	Alerts []Alert `json:"alerts,omitempty"`
}

// wsRequest is what dashboard clients may send back.
type wsRequest struct {
	Type           string `json:"type"`
	AlertID        string `json:"alert_id,omitempty"`
	ResolutionNote string `json:"resolution_note,omitempty"`
}

// replayBuffer keeps the most recent alert frames so a reconnecting
// dashboard does not miss what fired while it was away.
type replayBuffer struct {
	mu    sync.RWMutex
	buf   [][]byte
	size  int
	start int
	count int
}

func newReplayBuffer(size int) *replayBuffer {
	return &replayBuffer{buf: make([][]byte, size), size: size}
}

func (r *replayBuffer) add(frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := (r.start + r.count) % r.size
	if r.count == r.size {
		r.start = (r.start + 1) % r.size
		r.count--
	}
	r.buf[idx] = frame
	r.count++
}

func (r *replayBuffer) all() [][]byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([][]byte, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(r.start+i)%r.size])
	}
	return out
}

// Hub is a websocket fan-out for the analyst alert dashboard. It
// implements Channel, so subscribing it to the Manager streams every
// alert to all connected clients.
type Hub struct {
	log     *zap.SugaredLogger
	manager *Manager

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan []byte

	clients map[*wsClient]struct{}
	recent  *replayBuffer

	done     chan struct{}
	stopOnce sync.Once

	upgrader websocket.Upgrader
}

type wsClient struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
}

// NewHub builds and starts the hub. replaySize bounds how many recent
// alerts a freshly connected client receives.
func NewHub(manager *Manager, replaySize int, log *zap.SugaredLogger) *Hub {
	h := &Hub{
		log:        log,
		manager:    manager,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan []byte, 256),
		clients:    make(map[*wsClient]struct{}),
		recent:     newReplayBuffer(replaySize),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	go h.run()
	return h
}

// Close stops the fan-out loop and disconnects every client. Safe to
// call more than once.
func (h *Hub) Close() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			// Close connections rather than send channels; the pumps
			// observe done and exit without racing a channel close.
			for c := range h.clients {
				delete(h.clients, c)
				c.conn.Close()
			}
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
		case frame := <-h.broadcast:
			h.recent.add(frame)
			for c := range h.clients {
				select {
				case c.send <- frame:
				default:
					// drop slow client
				}
			}
		}
	}
}

// ServeWS upgrades the request and registers the client. The client
// immediately receives the current active alerts and the recent alert
// replay.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("Websocket upgrade failed", "error", err)
		return
	}
	c := &wsClient{
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, 64),
		hub:    h,
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	if frame, err := json.Marshal(wsEnvelope{
		Type:   "active_alerts",
		Alerts: h.manager.Active(userID),
	}); err == nil {
		c.send <- frame
	}
	for _, frame := range h.recent.all() {
		select {
		case c.send <- frame:
		default:
		}
	}

	go c.writePump()
	go c.readPump()
}

// Send implements Channel by broadcasting the alert frame to every
// connected client.
func (h *Hub) Send(ctx context.Context, alert *Alert) error {
	frame, err := json.Marshal(wsEnvelope{Type: "alert_message", Alert: alert})
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- frame:
		return nil
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) ChannelType() string { return "websocket" }
func (h *Hub) Enabled() bool       { return true }

// readPump handles acknowledge/resolve requests from the dashboard.
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var req wsRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			continue
		}
		switch req.Type {
		case "acknowledge_alert":
			if req.AlertID != "" {
				c.hub.manager.Acknowledge(context.Background(), req.AlertID, c.userID)
			}
		case "resolve_alert":
			if req.AlertID != "" {
				c.hub.manager.Resolve(context.Background(), req.AlertID, c.userID, req.ResolutionNote)
			}
		case "get_alerts":
			if frame, err := json.Marshal(wsEnvelope{
				Type:   "active_alerts",
				Alerts: c.hub.manager.Active(c.userID),
			}); err == nil {
				select {
				case c.send <- frame:
				default:
				}
			}
		}
	}
}

// writePump sends frames and heartbeats to the client.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() { ticker.Stop(); c.conn.Close() }()
	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.hub.done:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
