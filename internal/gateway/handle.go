package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/auricle/internal/transport"
)

// sendTimeout bounds one outbound message write. A client that stops reading
// costs a worker at most this much before the send counts as dropped.
const sendTimeout = 5 * time.Second

// ErrHandleClosed is returned by Send after the handle was closed. Workers
// racing a disconnect treat it as a drop, not a failure.
var ErrHandleClosed = errors.New("gateway: handle closed")

// wsHandle adapts a websocket connection to [transport.Handle]. Pipeline
// workers and the read loop share it, so Send, IsOpen, and Close must all be
// safe to call concurrently and after close.
type wsHandle struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

var _ transport.Handle = (*wsHandle)(nil)

func newHandle(conn *websocket.Conn) *wsHandle {
	return &wsHandle{conn: conn}
}

// Send serializes msg as JSON and writes it to the connection. An error means
// the message was dropped; the caller must not retry.
func (h *wsHandle) Send(msg any) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHandleClosed
	}
	conn := h.conn
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		return fmt.Errorf("gateway: send: %w", err)
	}
	return nil
}

// IsOpen reports whether the handle can still deliver messages.
func (h *wsHandle) IsOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.closed
}

// Close shuts the connection down with a normal closure. Safe to call more
// than once; only the first call touches the connection.
func (h *wsHandle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	conn := h.conn
	h.mu.Unlock()

	return conn.Close(websocket.StatusNormalClosure, "session ended")
}

// markClosed flags the handle as unusable without issuing a close frame,
// for when the peer already went away and the connection is dead anyway.
func (h *wsHandle) markClosed() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
}
