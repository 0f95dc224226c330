package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Config configures a Manager.
type Config struct {
	Service Service
	Room    string
	Logger  Logger

	// TTL is passed with every acquire. Zero leaves it to the service.
	TTL time.Duration

	// RenewEvery is how often attributed selections re-acquire their
	// lease. Defaults to TTL/2; no renewal runs without a TTL.
	RenewEvery time.Duration

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time

	// Async runs service calls on a background worker, in submission order.
	// Select and Unselect then return as soon as the local selection is set.
	Async bool

	// Timeout bounds each asynchronous service call.
	Timeout time.Duration

	// QueueSize is the number of pending asynchronous calls.
	QueueSize int
}

// Validate checks required fields and fills defaults.
func (c *Config) Validate() error {
	if c.Service == nil {
		return fmt.Errorf("lock service is required")
	}
	if c.Room == "" {
		return fmt.Errorf("room is required")
	}
	if c.Logger == nil {
		c.Logger = noopLogger{}
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.RenewEvery <= 0 && c.TTL > 0 {
		c.RenewEvery = c.TTL / 2
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return nil
}

type selection struct {
	ids        []string
	attributed bool
	expires    time.Time
	gen        uint64
}

// Manager tracks the selection of each local user and mirrors it into the
// lock service.
type Manager struct {
	config Config
	logger Logger

	mu    sync.Mutex
	users map[string]*selection
	gen   uint64

	queue  chan func()
	done   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// NewManager creates a manager for one room.
func NewManager(config *Config) (*Manager, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	m := &Manager{
		config: *config,
		logger: config.Logger,
		users:  make(map[string]*selection),
		done:   make(chan struct{}),
	}
	if config.Async {
		m.queue = make(chan func(), config.QueueSize)
		m.wg.Add(1)
		go m.worker()
	}
	if config.RenewEvery > 0 {
		m.wg.Add(1)
		go m.renewLoop()
	}
	return m, nil
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case fn := <-m.queue:
			fn()
		}
	}
}

func (m *Manager) renewLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.RenewEvery)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.config.Timeout)
			if err := m.Renew(ctx); err != nil && !errors.Is(err, ErrClosed) {
				m.logger.Debug("Lease renewal failed", "room", m.config.Room, "error", err)
			}
			cancel()
		}
	}
}

// submit runs fn inline or on the worker.
func (m *Manager) submit(ctx context.Context, fn func(ctx context.Context) error) error {
	if !m.config.Async {
		return fn(ctx)
	}
	job := func() {
		cctx, cancel := context.WithTimeout(context.Background(), m.config.Timeout)
		defer cancel()
		_ = fn(cctx)
	}
	select {
	case m.queue <- job:
		return nil
	case <-m.done:
		return ErrClosed
	default:
		m.logger.Error("Lock queue full, dropping request", "room", m.config.Room)
		return ErrQueueFull
	}
}

// ErrClosed is returned after Close.
var ErrClosed = errors.New("lock manager closed")

// ErrQueueFull is returned when asynchronous calls back up.
var ErrQueueFull = errors.New("lock queue full")

// Select replaces user's selection with ids. The local selection is updated
// immediately; the lease is then acquired (replacing any previous lease of
// the user). When another participant holds one of the ids the selection is
// kept locally but left unattributed and ErrLockHeld is returned (in
// synchronous mode only).
func (m *Manager) Select(ctx context.Context, user string, ids []string) error {
	if len(ids) == 0 {
		return m.Unselect(ctx, user)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.gen++
	gen := m.gen
	m.users[user] = &selection{ids: append([]string(nil), ids...), gen: gen}
	m.mu.Unlock()

	req := AcquireRequest{Holder: user, Attributes: Attributes{IDs: ids}, TTL: m.config.TTL}
	return m.submit(ctx, func(ctx context.Context) error {
		l, err := m.config.Service.Acquire(ctx, m.config.Room, req)
		m.settle(user, gen, l, err)
		if err != nil {
			if errors.Is(err, ErrLockHeld) {
				m.logger.Debug("Selection not attributed", "user", user, "error", err)
				// A failed replace leaves our previous lease in place.
				if rerr := m.config.Service.Release(ctx, m.config.Room, user); rerr != nil && !errors.Is(rerr, ErrNotHeld) {
					m.logger.Debug("Failed to drop stale lease", "user", user, "error", rerr)
				}
			} else {
				m.logger.Error("Failed to acquire lock", "user", user, "room", m.config.Room, "error", err)
			}
			return err
		}
		return nil
	})
}

// settle records the acquire outcome unless a newer selection superseded it.
func (m *Manager) settle(user string, gen uint64, l Lock, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sel, ok := m.users[user]; ok && sel.gen == gen {
		sel.attributed = err == nil
		sel.expires = l.ExpiresAt
	}
}

// Renew re-acquires the lease of every attributed selection, extending its
// TTL. A selection whose lease lapsed and was taken by someone else becomes
// unattributed.
func (m *Manager) Renew(ctx context.Context) error {
	type renewal struct {
		user string
		ids  []string
		gen  uint64
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	var due []renewal
	for user, sel := range m.users {
		if sel.attributed {
			due = append(due, renewal{user: user, ids: append([]string(nil), sel.ids...), gen: sel.gen})
		}
	}
	m.mu.Unlock()

	var firstErr error
	for _, r := range due {
		r := r
		req := AcquireRequest{Holder: r.user, Attributes: Attributes{IDs: r.ids}, TTL: m.config.TTL}
		err := m.submit(ctx, func(ctx context.Context) error {
			l, err := m.config.Service.Acquire(ctx, m.config.Room, req)
			m.settle(r.user, r.gen, l, err)
			if err != nil {
				m.logger.Info("Lease lost", "user", r.user, "room", m.config.Room, "error", err)
			}
			return err
		})
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Unselect clears user's selection and releases its lease.
func (m *Manager) Unselect(ctx context.Context, user string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	_, had := m.users[user]
	delete(m.users, user)
	m.mu.Unlock()

	if !had {
		return nil
	}
	return m.submit(ctx, func(ctx context.Context) error {
		err := m.config.Service.Release(ctx, m.config.Room, user)
		if err != nil && !errors.Is(err, ErrNotHeld) {
			m.logger.Error("Failed to release lock", "user", user, "room", m.config.Room, "error", err)
			return err
		}
		return nil
	})
}

// Selection returns user's local selection.
func (m *Manager) Selection(user string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	sel, ok := m.users[user]
	if !ok {
		return nil
	}
	return append([]string(nil), sel.ids...)
}

// Attributed reports whether user's current selection is backed by a lease.
func (m *Manager) Attributed(user string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	sel, ok := m.users[user]
	if !ok || !sel.attributed {
		return false
	}
	return sel.expires.IsZero() || m.config.Clock().Before(sel.expires)
}

// Selected reports whether id is in user's local selection.
func (m *Manager) Selected(user, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	sel, ok := m.users[user]
	if !ok {
		return false
	}
	for _, have := range sel.ids {
		if have == id {
			return true
		}
	}
	return false
}

// LockedByOther reports whether a participant other than user holds id.
// Service errors are logged and treated as unlocked, so a lock outage never
// blocks editing.
func (m *Manager) LockedByOther(ctx context.Context, user, id string) bool {
	locks, err := m.config.Service.Get(ctx, m.config.Room)
	if err != nil {
		m.logger.Debug("Failed to read locks", "room", m.config.Room, "error", err)
		return false
	}
	holder, ok := HolderOf(locks, id, m.config.Clock())
	return ok && holder != user
}

// Locks returns the room's leases.
func (m *Manager) Locks(ctx context.Context) ([]Lock, error) {
	return m.config.Service.Get(ctx, m.config.Room)
}

// Flush waits until every queued asynchronous call has run.
func (m *Manager) Flush(ctx context.Context) error {
	if !m.config.Async {
		return nil
	}
	done := make(chan struct{})
	select {
	case m.queue <- func() { close(done) }:
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the leases of every local user and stops the worker.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	users := make([]string, 0, len(m.users))
	for u := range m.users {
		users = append(users, u)
	}
	m.users = make(map[string]*selection)
	m.mu.Unlock()

	_ = m.Flush(ctx)

	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	close(m.done)
	m.wg.Wait()

	var firstErr error
	for _, u := range users {
		if err := m.config.Service.Release(ctx, m.config.Room, u); err != nil && !errors.Is(err, ErrNotHeld) && firstErr == nil {
			firstErr = fmt.Errorf("release %s: %w", u, err)
		}
	}
	return firstErr
}
