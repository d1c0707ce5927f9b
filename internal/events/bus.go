package events

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Type names a pipeline event.
type Type string

const (
	// TypeSessionState marks a session state machine transition.
	TypeSessionState Type = "session_state"
	// TypeBreakerTransition marks a circuit state change.
	TypeBreakerTransition Type = "breaker_transition"
	// TypePHIDetected marks a turn routed to the privacy boundary. The
	// payload carries categories and confidence, never content.
	TypePHIDetected Type = "phi_detected"
	// TypeDegradation marks one applied budget degradation.
	TypeDegradation Type = "degradation"
	// TypeTurnCompleted carries the per-turn latency summary.
	TypeTurnCompleted Type = "turn_completed"
)

// Event is one pipeline notification.
type Event struct {
	Type      Type      `json:"type"`
	At        time.Time `json:"at"`
	SessionID string    `json:"session_id,omitempty"`
	Payload   any       `json:"payload,omitempty"`
}

// Bus fans events out to subscribers without ever blocking a publisher. A
// subscriber that falls behind loses events; drops are counted, not waited
// out.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	next   int
	closed bool

	logger *zap.Logger
	onDrop func()
}

// Option customizes a Bus.
type Option func(*Bus)

// WithDropFunc registers a hook invoked once per dropped event.
func WithDropFunc(fn func()) Option {
	return func(b *Bus) { b.onDrop = fn }
}

// NewBus creates an empty bus.
func NewBus(logger *zap.Logger, opts ...Option) *Bus {
	b := &Bus{
		subs:   make(map[int]chan Event),
		logger: logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a subscriber with the given buffer size and returns
// its channel plus a cancel func. The channel closes on cancel or bus close.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	id := b.next
	b.next++
	ch := make(chan Event, buffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber, dropping it for any whose
// buffer is full. It never blocks.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			if b.onDrop != nil {
				b.onDrop()
			}
			b.logger.Debug("event dropped",
				zap.String("type", string(ev.Type)),
				zap.String("session_id", ev.SessionID))
		}
	}
}

// Close terminates every subscriber channel. Publish becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
