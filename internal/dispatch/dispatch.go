// Package dispatch maps the asynchronous MAC stack event stream onto
// blocking waits consumed by the session.
package dispatch

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/thingpilot/lorawan-node/internal/backend/mac"
)

// DefaultQueueSize is the default number of events the bridge can buffer.
const DefaultQueueSize = 20

// ErrTimeout is returned when no event in scope was received before the
// context deadline.
var ErrTimeout = errors.New("timeout waiting for event")

// Scope is a set of events a waiter is interested in.
type Scope []mac.Event

// Contains returns true when the scope contains e.
func (s Scope) Contains(e mac.Event) bool {
	for _, se := range s {
		if se == e {
			return true
		}
	}
	return false
}

// Event scopes of the session operations. Disconnected terminates every
// pending operation.
var (
	JoinScope = Scope{mac.Connected, mac.JoinFailure, mac.Disconnected}
	TXScope   = Scope{mac.TXDone, mac.TXTimeout, mac.TXError, mac.TXCryptoError, mac.TXSchedulingError, mac.Disconnected}
	RXScope   = Scope{mac.RXDone, mac.RXTimeout, mac.RXError, mac.Disconnected}

	// RXEvents are the receive results, without the terminating
	// Disconnected event.
	RXEvents = Scope{mac.RXDone, mac.RXTimeout, mac.RXError}
)

// Bridge implements mac.EventHandler. Events are buffered in a bounded FIFO
// queue and consumed by Wait. When the queue is full, the oldest event is
// dropped.
type Bridge struct {
	mu       sync.Mutex
	queue    []mac.Event
	size     int
	notify   chan struct{}
	observer func(mac.Event)
	retained Scope
}

// NewBridge creates a new Bridge buffering up to size events.
func NewBridge(size int) *Bridge {
	if size <= 0 {
		size = DefaultQueueSize
	}

	return &Bridge{
		queue:  make([]mac.Event, 0, size),
		size:   size,
		notify: make(chan struct{}, 1),
	}
}

// SetObserver sets the function which is called for every event that is
// consumed by Wait but is outside the scope of the waiter.
func (b *Bridge) SetObserver(f func(mac.Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observer = f
}

// SetRetained sets the events which are left in the queue when they are
// received by a waiter outside their scope. They are consumed by the next
// waiter which has them in scope.
func (b *Bridge) SetRetained(s Scope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.retained = s
}

// HandleEvent posts the event. It never blocks.
func (b *Bridge) HandleEvent(e mac.Event) {
	eventCounter(e.Name()).Inc()

	b.mu.Lock()
	if len(b.queue) == b.size {
		dropped := b.queue[0]
		b.queue = b.queue[1:]
		droppedCounter().Inc()
		log.WithFields(log.Fields{
			"event": dropped,
		}).Warning("dispatch: event queue full, dropping oldest event")
	}
	b.queue = append(b.queue, e)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Wait blocks until an event within the given scope is received or until the
// context is cancelled. Retained events outside the scope are put back in
// the queue, the others are passed to the observer and discarded.
func (b *Bridge) Wait(ctx context.Context, scope Scope) (mac.Event, error) {
	var kept []mac.Event
	defer func() {
		b.requeue(kept)
	}()

	for {
		for {
			e, ok := b.pop()
			if !ok {
				break
			}
			if scope.Contains(e) {
				return e, nil
			}
			if b.retain(e) {
				kept = append(kept, e)
				continue
			}
			b.observe(e)
		}

		select {
		case <-b.notify:
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return 0, ErrTimeout
			}
			return 0, ctx.Err()
		}
	}
}

// Drain removes and returns all queued events.
func (b *Bridge) Drain() []mac.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.queue
	b.queue = make([]mac.Event, 0, b.size)
	return out
}

// Len returns the number of queued events.
func (b *Bridge) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

func (b *Bridge) pop() (mac.Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.queue) == 0 {
		return 0, false
	}
	e := b.queue[0]
	b.queue = b.queue[1:]
	return e, true
}

func (b *Bridge) retain(e mac.Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.retained.Contains(e)
}

// requeue puts the given events back in front of the queue. When the queue
// overflows, the oldest events are dropped.
func (b *Bridge) requeue(events []mac.Event) {
	if len(events) == 0 {
		return
	}

	b.mu.Lock()
	q := make([]mac.Event, 0, b.size)
	q = append(q, events...)
	q = append(q, b.queue...)
	if n := len(q) - b.size; n > 0 {
		for _, e := range q[:n] {
			droppedCounter().Inc()
			log.WithField("event", e).Warning("dispatch: event queue full, dropping oldest event")
		}
		q = q[n:]
	}
	b.queue = q
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *Bridge) observe(e mac.Event) {
	b.mu.Lock()
	f := b.observer
	b.mu.Unlock()

	if f != nil {
		f(e)
	}
}
