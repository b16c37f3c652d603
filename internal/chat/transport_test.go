package chat

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeTransport records written frames and serves scripted reads.
type fakeTransport struct {
	mu       sync.Mutex
	written  [][]byte
	writeErr error
	closed   bool

	incoming  chan []byte
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{incoming: make(chan []byte, 16)}
}

func (t *fakeTransport) ReadText() ([]byte, error) {
	data, ok := <-t.incoming
	if !ok {
		return nil, io.EOF
	}
	return data, nil
}

func (t *fakeTransport) WriteText(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writeErr != nil {
		return t.writeErr
	}
	if t.closed {
		return errors.New("transport closed")
	}
	t.written = append(t.written, append([]byte(nil), data...))
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.closeOnce.Do(func() { close(t.incoming) })
	return nil
}

func (t *fakeTransport) failWrites(err error) {
	t.mu.Lock()
	t.writeErr = err
	t.mu.Unlock()
}

func (t *fakeTransport) push(data []byte) {
	t.incoming <- data
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) frames() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.written))
	copy(out, t.written)
	return out
}

// framesOfType decodes every written frame and keeps those with the given tag.
func (t *fakeTransport) framesOfType(tb testing.TB, frameType string) []map[string]any {
	tb.Helper()
	var matches []map[string]any
	for _, raw := range t.frames() {
		var decoded map[string]any
		require.NoError(tb, json.Unmarshal(raw, &decoded))
		if decoded["type"] == frameType {
			matches = append(matches, decoded)
		}
	}
	return matches
}

// waitForFrames polls until at least want frames of the type arrived.
func (t *fakeTransport) waitForFrames(tb testing.TB, frameType string, want int, timeout time.Duration) []map[string]any {
	tb.Helper()
	deadline := time.Now().Add(timeout)
	for {
		matches := t.framesOfType(tb, frameType)
		if len(matches) >= want {
			return matches
		}
		if time.Now().After(deadline) {
			tb.Fatalf("timed out waiting for %d %q frames, got %d", want, frameType, len(matches))
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// checkInvariants asserts the structural invariants that must hold whenever
// the registry is quiescent: no empty rooms, and a one-to-one correspondence
// between room members and heartbeat handles.
func checkInvariants(t *testing.T, r *Registry) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[endpointKey]bool)
	for threadID, rm := range r.rooms {
		require.NotEmpty(t, rm.members, "room %q kept with no members", threadID)
		for userID := range rm.members {
			key := endpointKey{threadID: threadID, userID: userID}
			require.Contains(t, r.heartbeats, key, "member %v has no heartbeat", key)
			seen[key] = true
		}
	}
	for key := range r.heartbeats {
		require.True(t, seen[key], "heartbeat %v has no member", key)
	}
}
