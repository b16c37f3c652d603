package chat

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"boardmarket/chatservice/internal/config"
	"boardmarket/chatservice/internal/logging"
	"boardmarket/chatservice/internal/metrics"
)

// ErrRegistryClosed is returned by Attach after the registry has been drained.
var ErrRegistryClosed = errors.New("chat: registry closed")

type endpointKey struct {
	threadID string
	userID   string
}

// Registry is the process-wide owner of thread rooms and per-endpoint
// heartbeat goroutines. Every mutation of room membership goes through it.
type Registry struct {
	mu         sync.Mutex
	rooms      map[string]*room
	heartbeats map[endpointKey]*heartbeat
	closed     bool

	pingInterval time.Duration
	pingJitter   time.Duration
	log          *logging.Logger
	metrics      *metrics.ChatMetrics
	now          func() time.Time
	jitter       func(max time.Duration) time.Duration
}

// Option customizes registry construction.
type Option func(*Registry)

// WithLogger overrides the registry logger.
func WithLogger(logger *logging.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.log = logger
		}
	}
}

// WithMetrics attaches Prometheus collectors to registry operations.
func WithMetrics(m *metrics.ChatMetrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithPingInterval overrides the base heartbeat period.
func WithPingInterval(interval time.Duration) Option {
	return func(r *Registry) {
		if interval > 0 {
			r.pingInterval = interval
		}
	}
}

// WithPingJitter overrides the upper bound of per-iteration heartbeat jitter.
func WithPingJitter(jitter time.Duration) Option {
	return func(r *Registry) {
		if jitter >= 0 {
			r.pingJitter = jitter
		}
	}
}

// WithClock overrides the registry time source; primarily used in tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) {
		if clock != nil {
			r.now = clock
		}
	}
}

// WithJitterSource overrides jitter sampling; primarily used in tests.
func WithJitterSource(sample func(max time.Duration) time.Duration) Option {
	return func(r *Registry) {
		if sample != nil {
			r.jitter = sample
		}
	}
}

// NewRegistry constructs an empty registry using the heartbeat cadence from cfg.
func NewRegistry(cfg *config.Config, opts ...Option) *Registry {
	registry := &Registry{
		rooms:        make(map[string]*room),
		heartbeats:   make(map[endpointKey]*heartbeat),
		pingInterval: config.DefaultPingInterval,
		pingJitter:   config.DefaultPingJitter,
		log:          logging.L(),
		now:          time.Now,
		jitter:       sampleJitter,
	}
	if cfg != nil {
		if cfg.PingInterval > 0 {
			registry.pingInterval = cfg.PingInterval
		}
		if cfg.PingJitter >= 0 {
			registry.pingJitter = cfg.PingJitter
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(registry)
		}
	}
	return registry
}

// Attach registers a new endpoint for the user in the given thread, evicting
// any previous endpoint for the same user first, and announces the join to the
// rest of the room. The returned endpoint is live and has a heartbeat running.
func (r *Registry) Attach(threadID, userID string, role Role, transport Transport) (*Endpoint, error) {
	if threadID == "" || userID == "" {
		return nil, fmt.Errorf("chat: attach requires thread and user identifiers")
	}
	if transport == nil {
		return nil, fmt.Errorf("chat: attach requires a transport")
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	rm, ok := r.rooms[threadID]
	if !ok {
		rm = newRoom(threadID)
		r.rooms[threadID] = rm
	}

	key := endpointKey{threadID: threadID, userID: userID}
	if previous, ok := rm.members[userID]; ok {
		// The old endpoint must be fully evicted before the replacement
		// becomes visible to any other component.
		previous.close()
		if hb := r.heartbeats[key]; hb != nil {
			hb.stop()
			delete(r.heartbeats, key)
		}
		delete(rm.members, userID)
		r.metrics.ConnectionClosed()
		r.log.Info("replaced existing chat session",
			logging.String("thread_id", threadID),
			logging.String("user_id", userID),
		)
	}

	endpoint := newEndpoint(threadID, userID, role, transport, r.now())
	rm.members[userID] = endpoint
	hb := newHeartbeat()
	r.heartbeats[key] = hb
	roomCount := len(r.rooms)
	r.mu.Unlock()

	go r.runHeartbeat(hb, endpoint)

	r.metrics.ConnectionOpened()
	r.metrics.SetRooms(roomCount)
	r.log.Info("chat endpoint attached",
		logging.String("thread_id", threadID),
		logging.String("user_id", userID),
		logging.String("role", string(role)),
	)

	joined := encodeUserJoined(threadID, userID, role, r.now())
	r.broadcast(threadID, joined, userID)
	r.metrics.PresenceEvent()

	return endpoint, nil
}

// Detach removes whatever endpoint currently serves the user in the thread.
// It is idempotent; detaching an absent endpoint is a no-op.
func (r *Registry) Detach(threadID, userID string) {
	r.mu.Lock()
	rm, ok := r.rooms[threadID]
	if !ok {
		r.mu.Unlock()
		return
	}
	endpoint, ok := rm.members[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	r.detachLocked(rm, endpoint)
}

// DetachEndpoint removes the given endpoint only if it is still the current
// occupant of its slot. Callers that held an endpoint across a possible
// replacement must use this instead of Detach to avoid evicting the successor.
func (r *Registry) DetachEndpoint(endpoint *Endpoint) {
	if endpoint == nil {
		return
	}
	r.mu.Lock()
	rm, ok := r.rooms[endpoint.ThreadID]
	if !ok {
		r.mu.Unlock()
		return
	}
	current, ok := rm.members[endpoint.UserID]
	if !ok || current != endpoint {
		r.mu.Unlock()
		return
	}
	r.detachLocked(rm, endpoint)
}

// detachLocked evicts the endpoint, cancels its heartbeat, and prunes the room
// if it emptied. It releases the registry lock before dispatching the
// user_left notification.
func (r *Registry) detachLocked(rm *room, endpoint *Endpoint) {
	endpoint.close()
	key := endpointKey{threadID: endpoint.ThreadID, userID: endpoint.UserID}
	if hb := r.heartbeats[key]; hb != nil {
		hb.stop()
		delete(r.heartbeats, key)
	}
	delete(rm.members, endpoint.UserID)
	remaining := len(rm.members)
	if remaining == 0 {
		delete(r.rooms, endpoint.ThreadID)
	}
	roomCount := len(r.rooms)
	r.mu.Unlock()

	r.metrics.ConnectionClosed()
	r.metrics.SetRooms(roomCount)
	r.log.Info("chat endpoint detached",
		logging.String("thread_id", endpoint.ThreadID),
		logging.String("user_id", endpoint.UserID),
		logging.Int("remaining", remaining),
	)

	if remaining > 0 {
		left := encodeUserLeft(endpoint.ThreadID, endpoint.UserID, r.now())
		r.broadcast(endpoint.ThreadID, left, "")
		r.metrics.PresenceEvent()
	}
}

// Broadcast writes the frame to every member of the thread room, skipping
// excludeUser when non-empty. Delivery is best effort; endpoints whose write
// fails are detached after the iteration.
func (r *Registry) Broadcast(threadID string, frame []byte, excludeUser string) {
	r.broadcast(threadID, frame, excludeUser)
}

func (r *Registry) broadcast(threadID string, frame []byte, excludeUser string) {
	r.mu.Lock()
	rm, ok := r.rooms[threadID]
	if !ok {
		r.mu.Unlock()
		return
	}
	recipients := rm.snapshot(excludeUser)
	r.mu.Unlock()

	r.metrics.BroadcastDispatched()

	var failed []*Endpoint
	for _, endpoint := range recipients {
		if err := endpoint.send(frame); err != nil {
			r.metrics.BroadcastWriteFailed()
			r.log.Debug("broadcast write failed",
				logging.String("thread_id", threadID),
				logging.String("user_id", endpoint.UserID),
				logging.Error(err),
			)
			failed = append(failed, endpoint)
		}
	}
	for _, endpoint := range failed {
		r.DetachEndpoint(endpoint)
	}
}

// SendPersonal writes the frame to a single member of the thread room. A
// failed write detaches the endpoint.
func (r *Registry) SendPersonal(threadID, userID string, frame []byte) {
	r.mu.Lock()
	rm, ok := r.rooms[threadID]
	if !ok {
		r.mu.Unlock()
		return
	}
	endpoint, ok := rm.members[userID]
	r.mu.Unlock()
	if !ok {
		return
	}
	if err := endpoint.send(frame); err != nil {
		r.DetachEndpoint(endpoint)
	}
}

// NotifyNewMessage fans out a frame built by the persistence layer after a
// message was durably stored outside the socket path. The frame is forwarded
// untouched, with no exclusion.
func (r *Registry) NotifyNewMessage(threadID string, frame []byte) {
	r.broadcast(threadID, frame, "")
}

// HandlePong records a heartbeat acknowledgement from the client. Absent
// endpoints are ignored.
func (r *Registry) HandlePong(threadID, userID string) {
	r.mu.Lock()
	rm, ok := r.rooms[threadID]
	if !ok {
		r.mu.Unlock()
		return
	}
	endpoint, ok := rm.members[userID]
	r.mu.Unlock()
	if !ok {
		return
	}
	endpoint.markPong(r.now())
}

// ThreadUsers returns the sorted user IDs currently attached to the thread.
func (r *Registry) ThreadUsers(threadID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[threadID]
	if !ok {
		return nil
	}
	users := make([]string, 0, len(rm.members))
	for userID := range rm.members {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

// Stats reports the current room and connection counts.
func (r *Registry) Stats() (rooms, connections int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rooms = len(r.rooms)
	for _, rm := range r.rooms {
		connections += len(rm.members)
	}
	return rooms, connections
}

// Close drains the registry: every transport is closed, every heartbeat
// goroutine is stopped and awaited, and both maps are cleared. Subsequent
// Attach calls fail with ErrRegistryClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	var endpoints []*Endpoint
	for _, rm := range r.rooms {
		for _, endpoint := range rm.members {
			endpoints = append(endpoints, endpoint)
		}
	}
	handles := make([]*heartbeat, 0, len(r.heartbeats))
	for _, hb := range r.heartbeats {
		handles = append(handles, hb)
	}
	r.rooms = make(map[string]*room)
	r.heartbeats = make(map[endpointKey]*heartbeat)
	r.mu.Unlock()

	for _, endpoint := range endpoints {
		endpoint.close()
		r.metrics.ConnectionClosed()
	}
	for _, hb := range handles {
		hb.stop()
		hb.wait()
	}
	r.metrics.SetRooms(0)
	r.log.Info("chat registry drained", logging.Int("endpoints", len(endpoints)))
}
