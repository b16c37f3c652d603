package chat

import (
	"math/rand"
	"sync"
	"time"

	"boardmarket/chatservice/internal/logging"
)

// heartbeat is the cancellation handle for one endpoint's ping loop.
type heartbeat struct {
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newHeartbeat() *heartbeat {
	return &heartbeat{
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// stop signals the loop to exit. Safe to call more than once.
func (h *heartbeat) stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

// wait blocks until the loop has exited.
func (h *heartbeat) wait() {
	<-h.doneCh
}

// sampleJitter draws a uniform value in [0, max). A zero max disables jitter.
func sampleJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

// runHeartbeat pings the endpoint every pingInterval plus jitter until the
// endpoint dies or the handle is stopped. The jitter spreads ping bursts
// across many concurrent sockets.
func (r *Registry) runHeartbeat(hb *heartbeat, endpoint *Endpoint) {
	defer close(hb.doneCh)
	timer := time.NewTimer(r.pingInterval + r.jitter(r.pingJitter))
	defer timer.Stop()
	for {
		select {
		case <-hb.stopCh:
			return
		case <-timer.C:
		}
		if !endpoint.Alive() {
			return
		}
		if err := endpoint.send(encodePing(r.now())); err != nil {
			r.log.Debug("heartbeat write failed",
				logging.String("thread_id", endpoint.ThreadID),
				logging.String("user_id", endpoint.UserID),
				logging.Error(err),
			)
			r.DetachEndpoint(endpoint)
			return
		}
		timer.Reset(r.pingInterval + r.jitter(r.pingJitter))
	}
}
