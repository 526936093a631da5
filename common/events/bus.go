package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/superdesk/legalarchive/common/logger"
)

// Topic names an event stream
type Topic string

const (
	TopicItemArchived      Topic = "legal_archive.item_archived"
	TopicQueueItemMigrated Topic = "legal_archive.queue_item_migrated"
	TopicRunCompleted      Topic = "legal_archive.run_completed"
	TopicRunFailed         Topic = "legal_archive.run_failed"
)

// Event is delivered to subscribers of its topic
type Event struct {
	Topic   Topic
	At      time.Time
	Payload map[string]any
}

// Handler processes one event. Errors are logged and do not stop delivery.
type Handler func(ctx context.Context, evt Event) error

type subscription struct {
	name    string
	handler Handler
}

// Bus is a synchronous in-process event bus. Handlers run in the order they
// subscribed, on the publisher's goroutine.
type Bus struct {
	mu     sync.RWMutex
	topics map[Topic][]subscription
	log    *logger.Logger
	now    func() time.Time
}

// NewBus creates an empty bus
func NewBus(log *logger.Logger) *Bus {
	return &Bus{
		topics: make(map[Topic][]subscription),
		log:    log,
		now:    time.Now,
	}
}

// Subscribe registers handler under name. Subscribing the same name to the
// same topic again is a no-op and returns false.
func (b *Bus) Subscribe(topic Topic, name string, handler Handler) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.topics[topic] {
		if s.name == name {
			return false
		}
	}

	b.topics[topic] = append(b.topics[topic], subscription{name: name, handler: handler})
	b.log.Debug("subscribed to topic", "topic", topic, "subscriber", name)
	return true
}

// Unsubscribe removes a named subscriber
func (b *Bus) Unsubscribe(topic Topic, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.topics[topic]
	for i, s := range subs {
		if s.name == name {
			b.topics[topic] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish delivers the event to every subscriber of topic and returns the
// handler errors joined, if any
func (b *Bus) Publish(ctx context.Context, topic Topic, payload map[string]any) error {
	b.mu.RLock()
	subs := append([]subscription(nil), b.topics[topic]...)
	b.mu.RUnlock()

	evt := Event{Topic: topic, At: b.now(), Payload: payload}

	var errs []error
	for _, s := range subs {
		if err := s.handler(ctx, evt); err != nil {
			b.log.Warn("event handler error", "topic", topic, "subscriber", s.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("event %s: %w", topic, errors.Join(errs...))
	}
	return nil
}

// Subscribers lists subscriber names for a topic in delivery order
func (b *Bus) Subscribers(topic Topic) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.topics[topic]))
	for _, s := range b.topics[topic] {
		names = append(names, s.name)
	}
	return names
}

// Close drops all subscriptions
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.topics = make(map[Topic][]subscription)
	return nil
}
