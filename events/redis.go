package events

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"tably/utils"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	streamPrefix   = "events:"
	dedupPrefix    = "dedup:"
	seenPrefix     = "seen:"
	dedupRetention = 24 * time.Hour
	maxStreamLen   = 100000
	claimMinIdle   = 30 * time.Second
	readBlock      = 5 * time.Second
	readCount      = 32
	localQueueCap  = 1000
)

// RedisBus is a Bus backed by Redis Streams. One stream per topic, one
// consumer group per subscribing service, XACK on handler success. A
// bounded local queue absorbs short transport outages at the producer.
type RedisBus struct {
	client *redis.Client
	source string
	group  string

	mu       sync.RWMutex
	handlers map[string]map[string][]Handler // topic -> event type -> handlers
	queued   []pendingPublish
	logger   *zap.Logger
}

type pendingPublish struct {
	topic string
	env   Envelope
}

// NewRedisBus builds a bus for a service. source stamps outgoing envelopes;
// group names the consumer group for subscriptions.
func NewRedisBus(client *redis.Client, source, group string) *RedisBus {
	return &RedisBus{
		client:   client,
		source:   source,
		group:    group,
		handlers: make(map[string]map[string][]Handler),
		logger:   utils.GetLogger().With(zap.String("component", "event-bus")),
	}
}

// Publish persists the event and fans it out. A duplicate dedup key within
// the retention window is a no-op.
func (b *RedisBus) Publish(ctx context.Context, topic, eventType string, payload any, dedupKey string) error {
	env, err := NewEnvelope(eventType, b.source, payload, dedupKey)
	if err != nil {
		return fmt.Errorf("failed to encode event payload: %w", err)
	}
	if err := b.flushQueued(ctx); err != nil {
		return b.enqueue(topic, env)
	}
	if err := b.publishEnvelope(ctx, topic, env); err != nil {
		return b.enqueue(topic, env)
	}
	return nil
}

func (b *RedisBus) publishEnvelope(ctx context.Context, topic string, env Envelope) error {
	var dedupKey string
	if env.DedupKey != "" {
		dedupKey = dedupPrefix + topic + ":" + env.DedupKey
		n, err := b.client.Exists(ctx, dedupKey).Result()
		if err != nil {
			return fmt.Errorf("dedup check failed: %w", err)
		}
		if n > 0 {
			b.logger.Debug("duplicate publish suppressed",
				zap.String("topic", topic), zap.String("dedup_key", env.DedupKey))
			return nil
		}
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamPrefix + topic,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]any{"envelope": raw},
	}).Err(); err != nil {
		return fmt.Errorf("xadd failed: %w", err)
	}

	// Claim the dedup key only once the entry is in the stream. Claiming it
	// first would suppress the local-queue retry after a failed XADD and lose
	// the event. Two producers racing past the EXISTS check can both append;
	// the consumer seen set keeps the side effects single.
	if dedupKey != "" {
		if err := b.client.Set(ctx, dedupKey, 1, dedupRetention).Err(); err != nil {
			b.logger.Warn("failed to claim dedup key",
				zap.String("topic", topic), zap.String("dedup_key", env.DedupKey), zap.Error(err))
		}
	}
	return nil
}

func (b *RedisBus) enqueue(topic string, env Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queued) >= localQueueCap {
		return ErrBusUnavailable
	}
	b.queued = append(b.queued, pendingPublish{topic: topic, env: env})
	b.logger.Warn("transport unavailable, event queued locally",
		zap.String("topic", topic), zap.String("event_type", env.EventType))
	return nil
}

func (b *RedisBus) flushQueued(ctx context.Context) error {
	b.mu.Lock()
	queued := b.queued
	b.queued = nil
	b.mu.Unlock()

	for i, p := range queued {
		if err := b.publishEnvelope(ctx, p.topic, p.env); err != nil {
			b.mu.Lock()
			b.queued = append(queued[i:], b.queued...)
			b.mu.Unlock()
			return err
		}
	}
	return nil
}

// Subscribe registers a handler for an event type on a topic. Handlers are
// dispatched by the Run loop.
func (b *RedisBus) Subscribe(topic, eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers[topic] == nil {
		b.handlers[topic] = make(map[string][]Handler)
	}
	b.handlers[topic][eventType] = append(b.handlers[topic][eventType], handler)
}

// Run consumes all subscribed topics until ctx is cancelled. Consumers
// retry indefinitely with jittered exponential backoff on transport errors.
func (b *RedisBus) Run(ctx context.Context) {
	b.mu.RLock()
	topics := make([]string, 0, len(b.handlers))
	for topic := range b.handlers {
		topics = append(topics, topic)
	}
	b.mu.RUnlock()

	var wg sync.WaitGroup
	for _, topic := range topics {
		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			b.consumeTopic(ctx, topic)
		}(topic)
	}
	wg.Wait()
}

func (b *RedisBus) consumeTopic(ctx context.Context, topic string) {
	stream := streamPrefix + topic
	consumer := b.group + "-worker"
	backoff := time.Second

	if err := b.client.XGroupCreateMkStream(ctx, stream, b.group, "0").Err(); err != nil && !isBusyGroup(err) {
		b.logger.Error("failed to create consumer group", zap.String("stream", stream), zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Reclaim deliveries stuck with dead consumers before reading new ones.
		b.claimStale(ctx, stream, consumer)

		res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    readCount,
			Block:    readBlock,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			b.logger.Warn("stream read failed, backing off",
				zap.String("stream", stream), zap.Error(err))
			sleepWithJitter(ctx, &backoff)
			continue
		}
		backoff = time.Second

		for _, s := range res {
			for _, msg := range s.Messages {
				b.handleMessage(ctx, topic, stream, msg)
			}
		}
	}
}

func (b *RedisBus) claimStale(ctx context.Context, stream, consumer string) {
	msgs, _, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    b.group,
		Consumer: consumer,
		MinIdle:  claimMinIdle,
		Start:    "0-0",
		Count:    readCount,
	}).Result()
	if err != nil && err != redis.Nil {
		return
	}
	for _, msg := range msgs {
		b.handleMessage(ctx, stream[len(streamPrefix):], stream, msg)
	}
}

func (b *RedisBus) handleMessage(ctx context.Context, topic, stream string, msg redis.XMessage) {
	raw, ok := msg.Values["envelope"].(string)
	if !ok {
		// Malformed entry, ack so it never redelivers.
		b.client.XAck(ctx, stream, b.group, msg.ID)
		return
	}
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		b.logger.Error("dropping undecodable envelope", zap.String("stream", stream), zap.Error(err))
		b.client.XAck(ctx, stream, b.group, msg.ID)
		return
	}

	b.mu.RLock()
	handlers := b.handlers[topic][env.EventType]
	b.mu.RUnlock()
	if len(handlers) == 0 {
		b.client.XAck(ctx, stream, b.group, msg.ID)
		return
	}

	// Consumer-side seen set turns at-least-once delivery into
	// effectively-once side effects for a correct handler.
	if env.DedupKey != "" {
		seenKey := seenPrefix + b.group + ":" + topic + ":" + env.DedupKey
		if n, err := b.client.Exists(ctx, seenKey).Result(); err == nil && n > 0 {
			b.client.XAck(ctx, stream, b.group, msg.ID)
			return
		}
	}

	for _, handler := range handlers {
		if err := handler(ctx, env); err != nil {
			b.logger.Warn("handler failed, leaving delivery pending",
				zap.String("event_type", env.EventType),
				zap.String("dedup_key", env.DedupKey),
				zap.Error(err))
			return
		}
	}

	if env.DedupKey != "" {
		seenKey := seenPrefix + b.group + ":" + topic + ":" + env.DedupKey
		b.client.Set(ctx, seenKey, 1, dedupRetention)
	}
	b.client.XAck(ctx, stream, b.group, msg.ID)
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func sleepWithJitter(ctx context.Context, backoff *time.Duration) {
	d := *backoff + time.Duration(rand.Int63n(int64(*backoff/2)+1))
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
	if *backoff < 30*time.Second {
		*backoff *= 2
	}
}
