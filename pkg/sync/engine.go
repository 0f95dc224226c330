package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Engine broadcasts local operations and applies remote ones for a single
// document.
type Engine struct {
	config  *Config
	store   Model
	logger  Logger
	metrics *Metrics

	seen  *seenCache
	ready chan struct{}
	once  sync.Once

	mu          sync.RWMutex
	lastSent    time.Time
	lastApplied time.Time

	stats Stats
}

// NewEngine creates a sync engine. It does nothing until Run is called;
// Publish works before that but remote changes are only applied while Run
// is active.
func NewEngine(config *Config) (*Engine, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Engine{
		config:  config,
		store:   config.Store,
		logger:  config.Logger,
		metrics: config.Metrics,
		seen:    newSeenCache(config.DedupeSize),
		ready:   make(chan struct{}),
		stats:   Stats{StartTime: time.Now()},
	}, nil
}

// Ready is closed once Run has subscribed to the document topic.
func (e *Engine) Ready() <-chan struct{} {
	return e.ready
}

// Run subscribes to the document topic and applies remote operations until
// ctx is cancelled or the bus closes the subscription.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("sync engine starting", "node", e.config.NodeID, "document", e.config.DocumentID)

	deliveries, err := e.config.Bus.Subscribe(ctx, e.config.DocumentID)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", e.config.DocumentID, err)
	}
	e.once.Do(func() { close(e.ready) })

	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					e.logger.Info("sync engine stopping", "node", e.config.NodeID)
					return ctx.Err()
				}
				return fmt.Errorf("subscription to %s closed", e.config.DocumentID)
			}
			if err := e.handleDelivery(d.Data); err != nil && !errors.Is(err, ErrDuplicateMessage) {
				atomic.AddUint64(&e.stats.ReceiveErrors, 1)
				e.metrics.failed("receive")
				e.logger.Error("failed to handle remote message", "from", d.From, "error", err)
			}

		case <-ctx.Done():
			e.logger.Info("sync engine stopping", "node", e.config.NodeID)
			return ctx.Err()
		}
	}
}

// handleDelivery decodes, filters and applies one remote payload.
func (e *Engine) handleDelivery(data []byte) error {
	atomic.AddUint64(&e.stats.MessagesReceived, 1)

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if msg.From == e.config.NodeID {
		return nil
	}
	if msg.DocumentID != e.config.DocumentID {
		return fmt.Errorf("%w: %s", ErrWrongDocument, msg.DocumentID)
	}
	if msg.ID != "" && e.seen.Observe(msg.ID, time.Now()) {
		atomic.AddUint64(&e.stats.Duplicates, 1)
		e.metrics.duplicate()
		return ErrDuplicateMessage
	}

	op, err := Decode(&msg)
	if err != nil {
		return err
	}

	changed, err := Apply(e.store, op)
	if err != nil {
		return fmt.Errorf("apply %s %s from %s: %w", op.Op(), op.Kind(), msg.From, err)
	}
	if !changed {
		atomic.AddUint64(&e.stats.MessagesIgnored, 1)
		e.metrics.ignored(op)
		e.logger.Debug("remote operation changed nothing", "op", op.Op(), "kind", op.Kind(), "from", msg.From)
		return nil
	}

	atomic.AddUint64(&e.stats.MessagesApplied, 1)
	e.metrics.applied(op)
	e.mu.Lock()
	e.lastApplied = time.Now()
	e.mu.Unlock()
	return nil
}

// Publish broadcasts ops in order. The caller has already applied them
// locally. Every failure is logged and counted; the first one is returned
// but the remaining ops are still attempted, and nothing is retried.
func (e *Engine) Publish(ctx context.Context, ops ...Operation) error {
	var firstErr error
	for _, op := range ops {
		if err := e.publish(ctx, op); err != nil {
			atomic.AddUint64(&e.stats.SendErrors, 1)
			e.metrics.failed("send")
			e.logger.Error("failed to publish operation", "op", op.Op(), "kind", op.Kind(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (e *Engine) publish(ctx context.Context, op Operation) error {
	msg, err := Encode(e.config.NodeID, e.config.DocumentID, op)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	e.seen.Observe(msg.ID, time.Now())

	ctx, cancel := context.WithTimeout(ctx, e.config.PublishTimeout)
	defer cancel()
	if err := e.config.Bus.Publish(ctx, e.config.DocumentID, data); err != nil {
		return fmt.Errorf("failed to broadcast: %w", err)
	}

	atomic.AddUint64(&e.stats.MessagesSent, 1)
	e.metrics.sent(op)
	e.mu.Lock()
	e.lastSent = time.Now()
	e.mu.Unlock()
	return nil
}

// Stats returns a copy of the engine statistics.
func (e *Engine) Stats() *Stats {
	e.mu.RLock()
	lastSent, lastApplied := e.lastSent, e.lastApplied
	e.mu.RUnlock()

	return &Stats{
		StartTime:        e.stats.StartTime,
		LastSent:         lastSent,
		LastApplied:      lastApplied,
		MessagesSent:     atomic.LoadUint64(&e.stats.MessagesSent),
		MessagesReceived: atomic.LoadUint64(&e.stats.MessagesReceived),
		MessagesApplied:  atomic.LoadUint64(&e.stats.MessagesApplied),
		MessagesIgnored:  atomic.LoadUint64(&e.stats.MessagesIgnored),
		Duplicates:       atomic.LoadUint64(&e.stats.Duplicates),
		SendErrors:       atomic.LoadUint64(&e.stats.SendErrors),
		ReceiveErrors:    atomic.LoadUint64(&e.stats.ReceiveErrors),
	}
}

// Apply performs a remote operation on m and reports whether anything
// changed.
func Apply(m Model, op Operation) (bool, error) {
	switch o := op.(type) {
	case LayerAdded:
		if _, exists := m.Layer(o.Layer.ID); exists {
			return false, nil
		}
		if err := m.InsertLayer(o.Layer); err != nil {
			return false, err
		}
		return true, nil

	case EdgeAdded:
		if _, exists := m.Edge(o.Edge.ID); exists {
			return false, nil
		}
		if err := m.InsertEdge(o.Edge); err != nil {
			return false, err
		}
		return true, nil

	case LayerUpdated:
		_, ok := m.PatchLayer(o.ID, o.Patch)
		return ok, nil

	case EdgeUpdated:
		_, ok := m.PatchEdge(o.ID, o.Patch)
		return ok, nil

	case Removed:
		return !m.Remove(o.IDs...).Empty(), nil

	default:
		return false, fmt.Errorf("%w: unsupported operation %T", ErrInvalidMessage, op)
	}
}
