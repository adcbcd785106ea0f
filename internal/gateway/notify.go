// ABOUTME: Change broadcaster that pushes project updates to websocket clients
// ABOUTME: Gates readiness on the store's initial load before fanning out events

package gateway

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gitplan/gitplan/internal/auth"
	"github.com/gitplan/gitplan/internal/store"
)

// changeNotification is the JSON payload pushed to websocket clients.
type changeNotification struct {
	Type string `json:"type"`
	Path string `json:"path,omitempty"`
}

// Broadcaster fans project change events out to websocket clients.
//
// The store emits a single load-complete event before any change events.
// That first event flips the broadcaster ready and is never forwarded:
// clients care about changes after the baseline they fetched, not about
// the baseline existing.
type Broadcaster struct {
	auth   *auth.Authenticator
	logger *slog.Logger

	mu     sync.Mutex
	ready  bool
	conns  map[*websocket.Conn]*wsClient
	closed bool
}

// wsClient pairs a connection with its write lock. Gorilla connections
// allow at most one concurrent writer.
type wsClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsClient) send(msg changeNotification) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(msg)
}

// NewBroadcaster creates a broadcaster. Websocket upgrades authenticate
// through a, accepting session tokens and API keys as a bearer header or
// "token" query parameter.
func NewBroadcaster(a *auth.Authenticator, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		auth:   a,
		logger: logger.With("component", "broadcaster"),
		conns:  make(map[*websocket.Conn]*wsClient),
	}
}

// Ready reports whether the initial project load has completed.
func (b *Broadcaster) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

// Handle consumes one store event. The first load-complete event flips
// the ready gate; everything after fans out to connected clients.
//
// Writes happen outside the broadcaster lock, against a snapshot of the
// connection set, so a slow client never stalls upgrades, Close, or the
// ready probe.
func (b *Broadcaster) Handle(ev store.Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if ev.Kind == store.EventReady {
		if !b.ready {
			b.ready = true
			b.mu.Unlock()
			b.logger.Info("project loaded, accepting requests")
			return
		}
		// A re-emitted ready (fresh clone after reconnect) is just a change.
	}
	clients := make([]*wsClient, 0, len(b.conns))
	for _, c := range b.conns {
		clients = append(clients, c)
	}
	b.mu.Unlock()

	msg := changeNotification{Type: "changed", Path: ev.Path}
	stale := 0
	for _, c := range clients {
		if err := c.send(msg); err != nil {
			b.remove(c.conn)
			stale++
		}
	}

	if stale > 0 {
		b.logger.Debug("dropped stale websocket clients", "count", stale)
	}
	b.logger.Debug("broadcast change", "path", ev.Path, "clients", len(clients)-stale)
}

// ServeHTTP handles GET /ws websocket upgrades. Browsers connect with a
// session token, agents with an API key; both go through the same
// bearer-or-query resolution.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if b.auth != nil {
		if _, err := b.auth.AuthenticateBearer(r); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = conn.Close()
		return
	}
	b.conns[conn] = &wsClient{conn: conn}
	n := len(b.conns)
	b.mu.Unlock()

	b.logger.Debug("websocket client connected", "clients", n)

	// Drain the read side so control frames are processed and disconnects
	// are noticed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				b.remove(conn)
				return
			}
		}
	}()
}

func (b *Broadcaster) remove(conn *websocket.Conn) {
	b.mu.Lock()
	if _, ok := b.conns[conn]; ok {
		delete(b.conns, conn)
	}
	b.mu.Unlock()
	_ = conn.Close()
}

// Close disconnects all clients. Further events are dropped.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for conn := range b.conns {
		_ = conn.Close()
	}
	b.conns = make(map[*websocket.Conn]*wsClient)
}
