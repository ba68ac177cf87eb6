package events

import (
	"context"
	"sync"
)

// MemoryBus is a synchronous in-process Bus used in tests and local
// single-process runs. It honours producer-side dedup and dispatches
// handlers inline on Publish.
type MemoryBus struct {
	mu       sync.Mutex
	source   string
	handlers map[string]map[string][]Handler
	seen     map[string]bool
	// Published keeps every accepted envelope in publish order.
	Published []Envelope
}

// NewMemoryBus builds an in-memory bus stamping envelopes with source.
func NewMemoryBus(source string) *MemoryBus {
	return &MemoryBus{
		source:   source,
		handlers: make(map[string]map[string][]Handler),
		seen:     make(map[string]bool),
	}
}

func (b *MemoryBus) Publish(ctx context.Context, topic, eventType string, payload any, dedupKey string) error {
	env, err := NewEnvelope(eventType, b.source, payload, dedupKey)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if dedupKey != "" {
		key := topic + ":" + dedupKey
		if b.seen[key] {
			b.mu.Unlock()
			return nil
		}
		b.seen[key] = true
	}
	b.Published = append(b.Published, env)
	handlers := append([]Handler(nil), b.handlers[topic][eventType]...)
	b.mu.Unlock()

	for _, handler := range handlers {
		if err := handler(ctx, env); err != nil {
			return err
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(topic, eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers[topic] == nil {
		b.handlers[topic] = make(map[string][]Handler)
	}
	b.handlers[topic][eventType] = append(b.handlers[topic][eventType], handler)
}

// ByType returns the accepted envelopes of one event type.
func (b *MemoryBus) ByType(eventType string) []Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Envelope
	for _, env := range b.Published {
		if env.EventType == eventType {
			out = append(out, env)
		}
	}
	return out
}
