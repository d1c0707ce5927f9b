package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBus_PublishReachesAllSubscribers(t *testing.T) {
	bus := NewBus(zap.NewNop())
	defer bus.Close()

	first, cancelFirst := bus.Subscribe(4)
	defer cancelFirst()
	second, cancelSecond := bus.Subscribe(4)
	defer cancelSecond()

	bus.Publish(Event{Type: TypeDegradation, SessionID: "s1"})

	for _, ch := range []<-chan Event{first, second} {
		select {
		case ev := <-ch:
			assert.Equal(t, TypeDegradation, ev.Type)
			assert.Equal(t, "s1", ev.SessionID)
			assert.False(t, ev.At.IsZero(), "publish stamps the time")
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBus_FullSubscriberDropsWithoutBlocking(t *testing.T) {
	drops := 0
	bus := NewBus(zap.NewNop(), WithDropFunc(func() { drops++ }))
	defer bus.Close()

	ch, cancel := bus.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			bus.Publish(Event{Type: TypeTurnCompleted})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	assert.Equal(t, 4, drops)
	assert.Len(t, ch, 1)
}

func TestBus_CancelStopsDelivery(t *testing.T) {
	bus := NewBus(zap.NewNop())
	defer bus.Close()

	ch, cancel := bus.Subscribe(4)
	cancel()

	_, open := <-ch
	assert.False(t, open, "canceled subscriber channel is closed")

	// Publishing after cancel must not panic.
	bus.Publish(Event{Type: TypeSessionState})
}

func TestBus_CloseTerminatesSubscribers(t *testing.T) {
	bus := NewBus(zap.NewNop())

	ch, _ := bus.Subscribe(4)
	bus.Close()

	_, open := <-ch
	require.False(t, open)

	// Idempotent close and post-close use must be safe.
	bus.Close()
	bus.Publish(Event{Type: TypeSessionState})

	late, _ := bus.Subscribe(4)
	_, open = <-late
	assert.False(t, open, "subscribing after close yields a closed channel")
}
