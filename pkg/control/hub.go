package control

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// writeTimeout bounds a single WebSocket write so a stuck client is dropped
// instead of stalling the feed.
const writeTimeout = 5 * time.Second

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Message types.
const (
	MessageProgress = "progress"
	MessageStatus   = "status"
)

type conn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
}

// Hub fans progress events out to WebSocket clients.
type Hub struct {
	ctrl *Controller
	log  *slog.Logger

	mu    sync.RWMutex
	conns map[*conn]struct{}
}

// NewHub creates a hub reporting on ctrl's engine.
func NewHub(ctrl *Controller, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		ctrl:  ctrl,
		log:   log,
		conns: make(map[*conn]struct{}),
	}
}

// Run forwards engine progress events to all clients until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for e := range h.ctrl.Engine().ObserveProgress(ctx) {
		h.Broadcast(ctx, MessageProgress, e)
	}
}

// HandleWS upgrades the request and sends the current status, then keeps the
// client registered until it disconnects.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	c := &conn{ws: ws, cancel: cancel}

	if err := h.write(ctx, c, MessageStatus, h.ctrl.Status()); err != nil {
		cancel()
		_ = ws.Close(websocket.StatusInternalError, "status write failed")
		return
	}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	h.log.Info("websocket connected", "remote", r.RemoteAddr)

	// Read loop detects disconnects and consumes pings.
	go func() {
		defer func() {
			h.remove(c)
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()
}

// Broadcast sends a typed message to all connected clients.
func (h *Hub) Broadcast(ctx context.Context, typ string, payload any) {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := h.write(ctx, c, typ, payload); err != nil {
			h.log.Debug("websocket write failed", "error", err)
			h.remove(c)
		}
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) write(ctx context.Context, c *conn, typ string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(Message{Type: typ, Payload: data})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	return c.ws.Write(ctx, websocket.MessageText, msg)
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		h.log.Info("websocket disconnected")
	}
}
