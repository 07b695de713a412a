package evolution

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType identifies what happened in the evolution lifecycle.
type EventType string

// Event types published by the engine.
const (
	EventEpisodeCompleted EventType = "episode_completed"
	EventCandidateCreated EventType = "candidate_created"
	EventPromoted         EventType = "promoted"
	EventArchived         EventType = "archived"
)

// Event is one lifecycle notification. Version is the strategy version the
// event concerns; Reason is set for candidate_created.
type Event struct {
	Type      EventType  `json:"type"`
	TopicID   string     `json:"topic_id"`
	Version   int        `json:"version"`
	EpisodeID string     `json:"episode_id,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	Metrics   *Aggregate `json:"metrics,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// Publisher fans events out to subscribers. Delivery is best effort: a
// subscriber whose buffer is full misses the event rather than blocking the
// engine. Watchers are observability, not a transport with delivery
// guarantees.
type Publisher struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	logger *zap.Logger
}

// NewPublisher creates an event publisher.
func NewPublisher(logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		subs:   make(map[int]chan Event),
		logger: logger.With(zap.String("component", "events")),
	}
}

// Subscribe registers a new subscriber with the given buffer size and returns
// its channel plus an unsubscribe function. The channel is closed on
// unsubscribe.
func (p *Publisher) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = ch
	p.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsubscribe
}

// Publish delivers an event to every subscriber without blocking.
func (p *Publisher) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	for id, ch := range p.subs {
		select {
		case ch <- event:
		default:
			p.logger.Debug("subscriber buffer full, event dropped",
				zap.Int("subscriber", id),
				zap.String("type", string(event.Type)),
			)
		}
	}
}

// SubscriberCount returns the number of live subscribers.
func (p *Publisher) SubscriberCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}
