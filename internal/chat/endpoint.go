package chat

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrEndpointClosed is returned when writing to an endpoint that has been
// detached or replaced.
var ErrEndpointClosed = errors.New("chat: endpoint closed")

// Role identifies which side of a marketplace conversation a user is on.
type Role string

// Recognized participant roles.
const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// ParseRole validates a raw role value from the handshake.
func ParseRole(raw string) (Role, error) {
	switch Role(raw) {
	case RoleBuyer, RoleSeller:
		return Role(raw), nil
	default:
		return "", fmt.Errorf("chat: unknown role %q", raw)
	}
}

// Transport is the bidirectional text-framed channel behind an endpoint. The
// registry serializes writes; implementations only need to tolerate sequential
// use from whichever goroutine currently holds the endpoint.
type Transport interface {
	ReadText() ([]byte, error)
	WriteText(data []byte) error
	Close() error
}

// Endpoint is one live socket belonging to one user in one thread. It holds no
// back-pointers; the registry is the sole owner of room membership.
type Endpoint struct {
	ThreadID    string
	UserID      string
	Role        Role
	ConnectedAt time.Time

	transport Transport
	alive     atomic.Bool

	writeMu sync.Mutex

	hbMu          sync.Mutex
	lastHeartbeat time.Time
}

func newEndpoint(threadID, userID string, role Role, transport Transport, now time.Time) *Endpoint {
	e := &Endpoint{
		ThreadID:      threadID,
		UserID:        userID,
		Role:          role,
		ConnectedAt:   now,
		transport:     transport,
		lastHeartbeat: now,
	}
	e.alive.Store(true)
	return e
}

// Alive reports whether the endpoint is still writable. The flag transitions
// true to false exactly once.
func (e *Endpoint) Alive() bool {
	return e.alive.Load()
}

// LastHeartbeat returns the time of the most recent pong from the client.
func (e *Endpoint) LastHeartbeat() time.Time {
	e.hbMu.Lock()
	defer e.hbMu.Unlock()
	return e.lastHeartbeat
}

func (e *Endpoint) markPong(now time.Time) {
	e.hbMu.Lock()
	e.lastHeartbeat = now
	e.hbMu.Unlock()
}

// send writes one text frame, holding the per-endpoint write mutex so that at
// most one writer touches the transport at a time.
func (e *Endpoint) send(data []byte) error {
	if !e.alive.Load() {
		return ErrEndpointClosed
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if !e.alive.Load() {
		return ErrEndpointClosed
	}
	return e.transport.WriteText(data)
}

// receive blocks until the next inbound text frame arrives.
func (e *Endpoint) receive() ([]byte, error) {
	return e.transport.ReadText()
}

// close marks the endpoint dead and closes the transport. Taking the write
// mutex lets any in-flight write finish first, so no frame is emitted after
// close returns. Close errors are ignored; the peer may already be gone.
func (e *Endpoint) close() {
	if !e.alive.CompareAndSwap(true, false) {
		return
	}
	e.writeMu.Lock()
	_ = e.transport.Close()
	e.writeMu.Unlock()
}
