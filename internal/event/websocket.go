package event

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// writeTimeout bounds a single frame write to one subscriber. Slow clients
// are disconnected rather than allowed to stall the broadcaster.
const writeTimeout = 2 * time.Second

// WebSocketBroadcaster is a Sink that pushes events as JSON frames to every
// connected WebSocket subscriber. It doubles as an http.Handler that accepts
// new subscriptions.
//
// Delivery is best-effort: events emitted while no subscriber is connected
// are lost, and a subscriber whose write times out is dropped.
type WebSocketBroadcaster struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]context.CancelFunc
	now   func() time.Time
}

// Compile-time assertions.
var (
	_ Sink         = (*WebSocketBroadcaster)(nil)
	_ http.Handler = (*WebSocketBroadcaster)(nil)
)

// NewWebSocketBroadcaster creates an empty broadcaster.
func NewWebSocketBroadcaster() *WebSocketBroadcaster {
	return &WebSocketBroadcaster{
		conns: make(map[*websocket.Conn]context.CancelFunc),
		now:   time.Now,
	}
}

// ServeHTTP upgrades the request to a WebSocket subscription. The connection
// stays registered until the client disconnects or a write fails.
func (b *WebSocketBroadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("event subscriber accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	b.mu.Lock()
	b.conns[conn] = cancel
	b.mu.Unlock()

	slog.Debug("event subscriber connected", "remote", r.RemoteAddr)

	// Hold the handler open until the subscriber goes away. Reads are
	// discarded; the stream is push-only.
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}

	b.remove(conn, websocket.StatusNormalClosure, "subscriber closed")
}

// Emit implements [Sink]. Each registered subscriber receives the event as a
// single JSON text frame.
func (b *WebSocketBroadcaster) Emit(ev Event) {
	data, err := Marshal(ev, b.now())
	if err != nil {
		slog.Warn("event marshal failed", "kind", ev.EventKind(), "error", err)
		return
	}

	b.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			b.remove(conn, websocket.StatusPolicyViolation, "write timeout")
		}
	}
}

// Close disconnects every subscriber.
func (b *WebSocketBroadcaster) Close() {
	b.mu.Lock()
	conns := b.conns
	b.conns = make(map[*websocket.Conn]context.CancelFunc)
	b.mu.Unlock()

	for conn, cancel := range conns {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		cancel()
	}
}

// remove unregisters and closes one subscriber. Safe to call twice for the
// same connection.
func (b *WebSocketBroadcaster) remove(conn *websocket.Conn, code websocket.StatusCode, reason string) {
	b.mu.Lock()
	cancel, ok := b.conns[conn]
	delete(b.conns, conn)
	b.mu.Unlock()

	if ok {
		conn.Close(code, reason)
		cancel()
	}
}
