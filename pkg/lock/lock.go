// Package lock arbitrates which participant may edit which entities of a
// document.
//
// A Service keeps, per room (document id), the set of leases currently held.
// Each lease belongs to one holder and carries the ids it covers as
// attributes. The policy is deterministic:
//
//   - the service is the only arbiter; acquisition is atomic per room
//   - an acquire conflicts when any requested id is covered by a live lease
//     of a different holder, and the first request to reach the service wins
//   - a holder has at most one lease per room; acquiring again atomically
//     replaces it, so there is no release/re-acquire window
//   - a holder can only ever release its own lease
//   - a lease with a TTL lapses unless its holder renews it; the Manager
//     renews attributed selections every TTL/2, and the hub announces
//     lapsed leases and the leases of disconnected participants
//
// Manager is the participant side. It keeps the local optimistic selection of
// every user and mirrors it into the service; a user that loses the race
// keeps its selection locally but is not attributed remotely.
package lock

import (
	"context"
	"errors"
	"time"
)

// Errors returned by Service implementations.
var (
	// ErrLockHeld indicates a requested id is held by another participant
	ErrLockHeld = errors.New("lock held by another participant")

	// ErrNotHeld indicates the caller holds no lease in the room
	ErrNotHeld = errors.New("lock not held")

	// ErrInvalidRequest indicates a malformed acquire request
	ErrInvalidRequest = errors.New("invalid lock request")
)

// Attributes is the metadata attached to a lease.
type Attributes struct {
	IDs []string `json:"ids"`
}

// AcquireRequest asks for a lease.
type AcquireRequest struct {
	Holder     string        `json:"holder"`
	Attributes Attributes    `json:"attributes"`
	TTL        time.Duration `json:"ttl,omitempty"`
}

// Lock is a granted lease.
type Lock struct {
	Room       string     `json:"room"`
	Holder     string     `json:"holder"`
	Attributes Attributes `json:"attributes"`
	Token      uint64     `json:"token"`
	AcquiredAt time.Time  `json:"acquiredAt"`
	ExpiresAt  time.Time  `json:"expiresAt,omitempty"`
}

// Covers reports whether the lease includes id.
func (l Lock) Covers(id string) bool {
	for _, have := range l.Attributes.IDs {
		if have == id {
			return true
		}
	}
	return false
}

// Expired reports whether the lease has a deadline before now.
func (l Lock) Expired(now time.Time) bool {
	return !l.ExpiresAt.IsZero() && !now.Before(l.ExpiresAt)
}

// Service is the shared lock arbiter.
type Service interface {
	// Acquire grants or replaces the holder's lease in room. It fails with
	// ErrLockHeld when another holder covers one of the requested ids.
	Acquire(ctx context.Context, room string, req AcquireRequest) (Lock, error)

	// Release drops the holder's lease in room.
	Release(ctx context.Context, room, holder string) error

	// Get returns the live leases of room, oldest first.
	Get(ctx context.Context, room string) ([]Lock, error)
}

// HolderOf returns the holder covering id among the leases of locks that
// are still live at now, if any.
func HolderOf(locks []Lock, id string, now time.Time) (string, bool) {
	for _, l := range locks {
		if l.Covers(id) && !l.Expired(now) {
			return l.Holder, true
		}
	}
	return "", false
}

// Logger is the logging interface used by the lock package
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
