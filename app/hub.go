package app

import (
	"sync"
	"sync/atomic"
	"time"

	"DatasetApp/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// client is one open viewer tab.
type client struct {
	id         string
	conn       *websocket.Conn
	writeMu    sync.Mutex
	lastActive atomic.Int64
	closeOnce  sync.Once
	done       chan struct{}
}

func (c *client) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

func (c *client) idleFor() time.Duration {
	return time.Since(time.Unix(0, c.lastActive.Load()))
}

func (c *client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *client) close(code int, reason string) {
	c.closeOnce.Do(func() {
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.conn.Close()
		close(c.done)
	})
}

// hub tracks viewer connections. Every add or remove closes the current
// changed channel and replaces it, so waiters can select on it.
type hub struct {
	mu      sync.Mutex
	clients map[string]*client
	seen    bool
	changed chan struct{}
	onCount func(int)
}

func newHub(onCount func(int)) *hub {
	if onCount == nil {
		onCount = func(int) {}
	}
	return &hub{
		clients: make(map[string]*client),
		changed: make(chan struct{}),
		onCount: onCount,
	}
}

func (h *hub) notifyLocked() {
	close(h.changed)
	h.changed = make(chan struct{})
	h.onCount(len(h.clients))
}

func (h *hub) add(conn *websocket.Conn) *client {
	c := &client{id: uuid.NewString(), conn: conn, done: make(chan struct{})}
	c.touch()
	h.mu.Lock()
	h.clients[c.id] = c
	h.seen = true
	h.notifyLocked()
	h.mu.Unlock()
	logger.Log().Info("Viewer connected", zap.String("client", c.id), zap.Int("clients", h.count()))
	return c
}

func (h *hub) remove(c *client) {
	c.close(websocket.CloseNormalClosure, "bye")
	h.mu.Lock()
	_, ok := h.clients[c.id]
	if ok {
		delete(h.clients, c.id)
		h.notifyLocked()
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		logger.Log().Info("Viewer disconnected", zap.String("client", c.id), zap.Int("clients", n))
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// state reports the client count, whether any client ever connected, and
// the channel closed on the next change.
func (h *hub) state() (int, bool, <-chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients), h.seen, h.changed
}

func (h *hub) snapshot() []*client {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *hub) broadcast(v any) {
	for _, c := range h.snapshot() {
		if err := c.writeJSON(v); err != nil {
			logger.Log().Warn("Dropping viewer after write error", zap.String("client", c.id), zap.Error(err))
			h.remove(c)
		}
	}
}

func (h *hub) closeAll(reason string) {
	for _, c := range h.snapshot() {
		c.close(websocket.CloseGoingAway, reason)
	}
}

// startIdleMonitor pings c every interval and drops it once nothing was
// heard from it for idleTimeout.
func (h *hub) startIdleMonitor(c *client, interval, idleTimeout time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.done:
				return
			case <-ticker.C:
				if c.idleFor() > idleTimeout {
					logger.Log().Info("Viewer idle, releasing", zap.String("client", c.id))
					h.remove(c)
					return
				}
				if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					h.remove(c)
					return
				}
			}
		}
	}()
}
