package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// defaultSubscriberBuffer is the channel size of a subscription.
const defaultSubscriberBuffer = 256

// MemoryBus is an in-process Bus. Each Endpoint is one participant; payloads
// published by an endpoint are delivered to the subscribers of every other
// endpoint.
type MemoryBus struct {
	mu      sync.RWMutex
	subs    map[string]map[*memorySub]struct{}
	closed  bool
	done    chan struct{}
	buffer  int
	metrics *Metrics
}

type memorySub struct {
	owner string
	ch    chan Delivery
	once  sync.Once
}

func (s *memorySub) close() {
	s.once.Do(func() { close(s.ch) })
}

// NewMemoryBus creates a bus. A buffer of zero uses the default.
func NewMemoryBus(buffer int, metrics *Metrics) *MemoryBus {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &MemoryBus{
		subs:    make(map[string]map[*memorySub]struct{}),
		done:    make(chan struct{}),
		buffer:  buffer,
		metrics: metrics,
	}
}

// Endpoint returns the Bus view of participant node.
func (b *MemoryBus) Endpoint(node string) *MemoryEndpoint {
	return &MemoryEndpoint{bus: b, node: node}
}

func (b *MemoryBus) publish(from, topic string, data []byte) error {
	if topic == "" {
		return fmt.Errorf("%w: empty topic", ErrInvalidMessage)
	}
	if !json.Valid(data) {
		return fmt.Errorf("%w: payload is not JSON", ErrInvalidMessage)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	for sub := range b.subs[topic] {
		if sub.owner == from {
			continue
		}
		d := Delivery{Topic: topic, From: from, Data: append([]byte(nil), data...)}
		select {
		case sub.ch <- d:
			b.metrics.frameOut(FrameDeliver)
		default:
			b.metrics.drop()
		}
	}
	return nil
}

func (b *MemoryBus) subscribe(ctx context.Context, owner, topic string) (<-chan Delivery, error) {
	if topic == "" {
		return nil, fmt.Errorf("%w: empty topic", ErrInvalidMessage)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	sub := &memorySub{owner: owner, ch: make(chan Delivery, b.buffer)}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*memorySub]struct{})
	}
	b.subs[topic][sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-b.done:
		}
		b.mu.Lock()
		delete(b.subs[topic], sub)
		if len(b.subs[topic]) == 0 {
			delete(b.subs, topic)
		}
		sub.close()
		b.mu.Unlock()
	}()

	return sub.ch, nil
}

// Subscribers returns the number of subscriptions on topic.
func (b *MemoryBus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Close closes every subscription.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.done)
	return nil
}

// MemoryEndpoint is one participant on a MemoryBus.
type MemoryEndpoint struct {
	bus  *MemoryBus
	node string
}

// Node returns the participant id.
func (e *MemoryEndpoint) Node() string { return e.node }

// Publish implements Bus.
func (e *MemoryEndpoint) Publish(ctx context.Context, topic string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.bus.publish(e.node, topic, data)
}

// Subscribe implements Bus.
func (e *MemoryEndpoint) Subscribe(ctx context.Context, topic string) (<-chan Delivery, error) {
	return e.bus.subscribe(ctx, e.node, topic)
}

// Close is a no-op; the bus is closed by its owner.
func (e *MemoryEndpoint) Close() error { return nil }
