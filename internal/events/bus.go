// Package events provides an in-process, synchronous publish/subscribe bus
// used to decouple post-commit work (suspect propagation, validation
// refreshes) from the write that triggered it.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nvandessel/tracegraph/internal/models"
)

// Topic names a stream of events.
type Topic string

const (
	// TopicModelChanged fires after a node write has committed.
	TopicModelChanged Topic = "model:changed"

	// TopicValidationUpdated fires after a validation pass over a project.
	TopicValidationUpdated Topic = "validation:updated"
)

// Event is a single published message.
type Event struct {
	ID        string
	Topic     Topic
	ProjectID string
	NodeID    string
	NodeKind  models.NodeKind
	Time      time.Time

	// Payload carries topic-specific data, e.g. a validation summary.
	Payload any
}

// HandlerFunc processes one event. A returned error is logged by the bus
// and never propagated to the publisher.
type HandlerFunc func(ctx context.Context, event Event) error

type subscription struct {
	name    string
	handler HandlerFunc
}

// Bus dispatches events to subscribers in registration order.
//
// Thread Safety: Bus is safe for concurrent use. Handlers run on the
// publisher's goroutine.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Topic][]subscription
	logger *slog.Logger
}

// NewBus creates an empty bus. A nil logger falls back to slog.Default().
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[Topic][]subscription),
		logger: logger,
	}
}

// Subscribe registers handler for topic under a descriptive name used in
// log lines.
func (b *Bus) Subscribe(topic Topic, name string, handler HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], subscription{name: name, handler: handler})
}

// Subscribers returns the number of handlers registered for topic.
func (b *Bus) Subscribers(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Publish delivers event to every handler of its topic and returns the
// number of handlers that failed or panicked. ID and Time are filled in
// when empty.
func (b *Bus) Publish(ctx context.Context, event Event) int {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	b.mu.RLock()
	subs := make([]subscription, len(b.subs[event.Topic]))
	copy(subs, b.subs[event.Topic])
	b.mu.RUnlock()

	failed := 0
	for _, sub := range subs {
		if err := b.safeInvoke(ctx, sub, event); err != nil {
			failed++
			b.logger.Warn("event handler failed",
				"topic", string(event.Topic),
				"handler", sub.name,
				"event_id", event.ID,
				"node_id", event.NodeID,
				"error", err,
			)
		}
	}
	return failed
}

func (b *Bus) safeInvoke(ctx context.Context, sub subscription, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return sub.handler(ctx, event)
}
