package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"cosem-go/internal/access"
	"cosem-go/internal/cosem"
)

const (
	wsReadLimit    = 4096
	wsWriteTimeout = 10 * time.Second
	wsQueueSize    = 64
)

// eventMessage is the websocket form of an access event.
type eventMessage struct {
	Type        string     `json:"type"`
	ClassID     uint16     `json:"class_id"`
	LogicalName string     `json:"logical_name"`
	Index       int        `json:"index"`
	Value       *valueNode `json:"value,omitempty"`
	Time        time.Time  `json:"time"`
}

func newEventMessage(e access.Event) eventMessage {
	m := eventMessage{
		Type:        e.Type,
		ClassID:     e.ClassID,
		LogicalName: e.LogicalName.String(),
		Index:       e.Index,
		Time:        time.Now().UTC(),
	}
	if !e.Value.IsNone() {
		n := newValueNode(e.Value)
		m.Value = &n
	}
	return m
}

// WSHub manages websocket connections and fans events out to them.
type WSHub struct {
	clients map[*wsClient]struct{}
	mu      sync.RWMutex
	logger  *slog.Logger

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan eventMessage

	done     chan struct{}
	stopOnce sync.Once
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	// filter limits delivery to one object; empty means every event.
	filter string
}

func (c *wsClient) wants(m eventMessage) bool {
	return c.filter == "" || c.filter == m.LogicalName
}

// NewWSHub creates a new websocket hub.
func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]struct{}),
		logger:     logger,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan eventMessage, 256),
		done:       make(chan struct{}),
	}
}

// Run is the hub loop; it returns after Stop.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client connected", "total", total, "filter", client.filter)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client disconnected", "total", total)

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *WSHub) deliver(msg eventMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("ws marshal", "err", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if !client.wants(msg) {
			continue
		}
		select {
		case client.send <- data:
		default:
			delete(h.clients, client)
			close(client.send)
			h.logger.Warn("ws client evicted (too slow)")
		}
	}
}

// Stop signals the hub to shut down. Safe to call multiple times.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// Broadcast queues msg for every interested client. It never blocks.
func (h *WSHub) Broadcast(msg eventMessage) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws broadcast channel full, dropping event", "ln", msg.LogicalName)
	}
}

// handleWS upgrades the request. ?ln=A.B.C.D.E.F restricts the stream to one object.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	var filter string
	if q := r.URL.Query().Get("ln"); q != "" {
		ln, err := cosem.ParseLogicalName(q)
		if err != nil {
			http.Error(w, "invalid logical name", http.StatusBadRequest)
			return
		}
		filter = ln.String()
	}

	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.allowedOrigins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return
	}
	conn.SetReadLimit(wsReadLimit)

	client := &wsClient{
		conn:   conn,
		send:   make(chan []byte, wsQueueSize),
		filter: filter,
	}

	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}
	s.serveClient(client)
}

// serveClient writes queued events until the peer goes away or the hub
// closes the client's queue. Incoming frames are discarded; clients never
// send anything meaningful.
func (s *Server) serveClient(client *wsClient) {
	ctx := client.conn.CloseRead(context.Background())
	defer func() {
		select {
		case s.wsHub.unregister <- client:
		case <-s.wsHub.done:
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-client.send:
			if !ok {
				s.closeClient(client)
				return
			}
			wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := client.conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				s.logger.Debug("ws write", "err", err)
				return
			}
		}
	}
}

// closeClient says goodbye to a client whose queue was closed, either by
// eviction or by hub shutdown.
func (s *Server) closeClient(client *wsClient) {
	select {
	case <-s.wsHub.done:
		client.conn.Close(websocket.StatusGoingAway, "server shutdown")
	default:
		client.conn.Close(websocket.StatusPolicyViolation, "too slow")
	}
}
