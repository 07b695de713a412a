package evolution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPublisherDeliversToAllSubscribers(t *testing.T) {
	p := NewPublisher(zap.NewNop())

	ch1, unsub1 := p.Subscribe(4)
	ch2, unsub2 := p.Subscribe(4)
	defer unsub1()
	defer unsub2()

	p.Publish(Event{Type: EventPromoted, TopicID: "t1", Version: 3})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, EventPromoted, ev.Type)
			assert.Equal(t, 3, ev.Version)
			assert.False(t, ev.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestPublisherDropsWhenBufferFull(t *testing.T) {
	p := NewPublisher(zap.NewNop())

	ch, unsub := p.Subscribe(1)
	defer unsub()

	p.Publish(Event{Type: EventPromoted, TopicID: "t1", Version: 1})
	p.Publish(Event{Type: EventPromoted, TopicID: "t1", Version: 2})

	ev := <-ch
	assert.Equal(t, 1, ev.Version)
	select {
	case ev := <-ch:
		t.Fatalf("unexpected second event: %+v", ev)
	default:
	}
}

func TestPublisherUnsubscribe(t *testing.T) {
	p := NewPublisher(zap.NewNop())

	ch, unsub := p.Subscribe(1)
	require.Equal(t, 1, p.SubscriberCount())

	unsub()
	assert.Equal(t, 0, p.SubscriberCount())

	// The channel is closed, and publishing after unsubscribe is safe.
	_, open := <-ch
	assert.False(t, open)
	p.Publish(Event{Type: EventArchived, TopicID: "t1", Version: 1})

	// Unsubscribing twice is a no-op.
	unsub()
}
