package event

import (
	"context"
	"sync"

	"github.com/Simodalstix/AWS-multiregion-ecommerce/pkg/kafka"
)

// LocalSink is an in-process Publisher. It records every published event and
// optionally fans them out to subscribed handlers, giving tests and
// single-node runs a bus with the same at-least-once, per-order-ordered
// semantics as the Kafka transport.
type LocalSink struct {
	mu       sync.RWMutex
	events   []Published
	handlers map[string][]kafka.Handler
}

// Published pairs an event with the topic it was published on.
type Published struct {
	Topic string
	Event *kafka.Event
}

// NewLocalSink creates an empty local sink.
func NewLocalSink() *LocalSink {
	return &LocalSink{
		handlers: make(map[string][]kafka.Handler),
	}
}

// Subscribe registers a handler for a topic. Handlers run synchronously
// inside Publish, in registration order.
func (s *LocalSink) Subscribe(topic string, h kafka.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[topic] = append(s.handlers[topic], h)
}

// Publish records the event and invokes any subscribed handlers.
func (s *LocalSink) Publish(ctx context.Context, topic string, event *kafka.Event) error {
	s.mu.Lock()
	s.events = append(s.events, Published{Topic: topic, Event: event})
	handlers := append([]kafka.Handler(nil), s.handlers[topic]...)
	s.mu.Unlock()

	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Events returns a snapshot of everything published so far.
func (s *LocalSink) Events() []Published {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Published(nil), s.events...)
}

// EventsOn returns the events published on one topic, in order.
func (s *LocalSink) EventsOn(topic string) []*kafka.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*kafka.Event
	for _, p := range s.events {
		if p.Topic == topic {
			out = append(out, p.Event)
		}
	}
	return out
}

// Reset clears recorded events.
func (s *LocalSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}
