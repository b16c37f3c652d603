// Package socket adapts a gorilla WebSocket connection to the chat transport
// contract.
package socket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait bounds a single frame write. It must stay below the
	// heartbeat interval so a dead peer is not masked by a hung write.
	writeWait = 10 * time.Second
	// closeGracePeriod is how long the close handshake may take.
	closeGracePeriod = time.Second
)

// Conn wraps a *websocket.Conn with serialized writes and text-only reads.
type Conn struct {
	ws *websocket.Conn

	mu     sync.Mutex
	closed bool
}

// New wraps an upgraded WebSocket connection. readLimit caps inbound frame
// size at the transport level; zero leaves gorilla's default in place.
func New(ws *websocket.Conn, readLimit int64) *Conn {
	if readLimit > 0 {
		ws.SetReadLimit(readLimit)
	}
	return &Conn{ws: ws}
}

// ReadText blocks until the next text frame arrives, skipping binary frames.
func (c *Conn) ReadText() ([]byte, error) {
	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		return data, nil
	}
}

// WriteText writes one text frame under a write deadline.
func (c *Conn) WriteText(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close sends a best-effort close frame and tears down the underlying socket.
// Safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	_ = c.ws.SetWriteDeadline(time.Now().Add(closeGracePeriod))
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.mu.Unlock()
	return c.ws.Close()
}
