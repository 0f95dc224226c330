package lock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryConfig configures a MemoryService.
type MemoryConfig struct {
	// TTL is the lease duration used when a request does not set one.
	// Zero means leases never expire.
	TTL time.Duration

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
}

// MemoryService is an in-process Service. The relay hub serves it to remote
// participants.
type MemoryService struct {
	mu    sync.Mutex
	rooms map[string][]Lock
	token uint64
	ttl   time.Duration
	clock func() time.Time
}

// NewMemoryService creates an empty arbiter.
func NewMemoryService(cfg MemoryConfig) *MemoryService {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &MemoryService{
		rooms: make(map[string][]Lock),
		ttl:   cfg.TTL,
		clock: cfg.Clock,
	}
}

// Acquire implements Service.
func (s *MemoryService) Acquire(ctx context.Context, room string, req AcquireRequest) (Lock, error) {
	if err := ctx.Err(); err != nil {
		return Lock{}, err
	}
	if room == "" || req.Holder == "" {
		return Lock{}, fmt.Errorf("%w: room and holder are required", ErrInvalidRequest)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	locks := s.pruneLocked(room, now)

	for _, l := range locks {
		if l.Holder == req.Holder {
			continue
		}
		for _, id := range req.Attributes.IDs {
			if l.Covers(id) {
				return Lock{}, fmt.Errorf("%w: %s is held by %s", ErrLockHeld, id, l.Holder)
			}
		}
	}

	s.token++
	granted := Lock{
		Room:       room,
		Holder:     req.Holder,
		Attributes: Attributes{IDs: append([]string(nil), req.Attributes.IDs...)},
		Token:      s.token,
		AcquiredAt: now,
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.ttl
	}
	if ttl > 0 {
		granted.ExpiresAt = now.Add(ttl)
	}

	kept := locks[:0]
	for _, l := range locks {
		if l.Holder != req.Holder {
			kept = append(kept, l)
		}
	}
	s.rooms[room] = append(kept, granted)
	return granted, nil
}

// Release implements Service.
func (s *MemoryService) Release(ctx context.Context, room, holder string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	locks := s.pruneLocked(room, s.clock())
	for i, l := range locks {
		if l.Holder == holder {
			s.rooms[room] = append(locks[:i], locks[i+1:]...)
			if len(s.rooms[room]) == 0 {
				delete(s.rooms, room)
			}
			return nil
		}
	}
	return ErrNotHeld
}

// Get implements Service.
func (s *MemoryService) Get(ctx context.Context, room string) ([]Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	locks := s.pruneLocked(room, s.clock())
	out := make([]Lock, len(locks))
	copy(out, locks)
	return out, nil
}

// pruneLocked drops expired leases of room and returns the rest.
func (s *MemoryService) pruneLocked(room string, now time.Time) []Lock {
	locks := s.rooms[room]
	live := locks[:0]
	for _, l := range locks {
		if !l.Expired(now) {
			live = append(live, l)
		}
	}
	if len(live) == 0 {
		delete(s.rooms, room)
		return nil
	}
	s.rooms[room] = live
	return live
}
