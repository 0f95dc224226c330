package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Veraticus/linkboard/pkg/transport"
)

// Request methods served by the relay hub.
const (
	MethodAcquire = "lock.acquire"
	MethodRelease = "lock.release"
	MethodGet     = "lock.get"
)

// Remote error codes mapped back to sentinel errors.
const (
	codeLockHeld = "lock_held"
	codeNotHeld  = "not_held"
)

// Topic is the broadcast topic carrying the lease set of room.
func Topic(room string) string {
	return "locks/" + room
}

// RoomState is the payload of lock requests and broadcasts.
type RoomState struct {
	Room  string         `json:"room"`
	Locks []Lock         `json:"locks,omitempty"`
	Req   AcquireRequest `json:"request,omitempty"`
}

// Registry is the hub side needed to serve the lock methods.
type Registry interface {
	Handle(method string, fn transport.HandlerFunc)
	Broadcast(topic string, data []byte) error
	OnDisconnect(fn func(node string))
}

// ServeConfig configures Serve.
type ServeConfig struct {
	Logger Logger

	// Sweep is how often rooms are checked for lapsed leases.
	// Defaults to one second.
	Sweep time.Duration
}

// Server exposes a Service on the relay hub.
type Server struct {
	hub    Registry
	svc    Service
	logger Logger

	mu    sync.Mutex
	rooms map[string][]Lock // last broadcast lease set per room
}

// Serve exposes svc on hub. The holder of every request is the
// authenticated node id of the caller, so a participant can only acquire or
// release its own lease. The lease set of a room is broadcast on Topic(room)
// after every change, including leases that lapse and leases dropped when
// their holder disconnects. Sweeping stops when ctx is done.
func Serve(ctx context.Context, hub Registry, svc Service, config *ServeConfig) *Server {
	if config == nil {
		config = &ServeConfig{}
	}
	if config.Logger == nil {
		config.Logger = noopLogger{}
	}
	if config.Sweep <= 0 {
		config.Sweep = time.Second
	}

	s := &Server{
		hub:    hub,
		svc:    svc,
		logger: config.Logger,
		rooms:  make(map[string][]Lock),
	}

	hub.Handle(MethodAcquire, s.acquire)
	hub.Handle(MethodRelease, s.release)
	hub.Handle(MethodGet, s.get)
	hub.OnDisconnect(func(node string) {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Disconnect(cctx, node)
	})

	go s.sweepLoop(ctx, config.Sweep)
	return s
}

func decodeRoom(payload json.RawMessage) (RoomState, error) {
	var st RoomState
	if err := json.Unmarshal(payload, &st); err != nil || st.Room == "" {
		return st, &transport.RemoteError{Code: transport.CodeBadRequest, Message: "room is required"}
	}
	return st, nil
}

func (s *Server) acquire(ctx context.Context, from string, payload json.RawMessage) (any, error) {
	st, err := decodeRoom(payload)
	if err != nil {
		return nil, err
	}
	st.Req.Holder = from
	l, err := s.svc.Acquire(ctx, st.Room, st.Req)
	if err != nil {
		return nil, toRemote(err)
	}
	s.broadcast(ctx, st.Room)
	return l, nil
}

func (s *Server) release(ctx context.Context, from string, payload json.RawMessage) (any, error) {
	st, err := decodeRoom(payload)
	if err != nil {
		return nil, err
	}
	if err := s.svc.Release(ctx, st.Room, from); err != nil {
		return nil, toRemote(err)
	}
	s.broadcast(ctx, st.Room)
	return nil, nil
}

func (s *Server) get(ctx context.Context, _ string, payload json.RawMessage) (any, error) {
	st, err := decodeRoom(payload)
	if err != nil {
		return nil, err
	}
	locks, err := s.svc.Get(ctx, st.Room)
	if err != nil {
		return nil, toRemote(err)
	}
	return RoomState{Room: st.Room, Locks: locks}, nil
}

// broadcast publishes the current lease set of room.
func (s *Server) broadcast(ctx context.Context, room string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcastLocked(ctx, room, true)
}

// broadcastLocked publishes room's lease set, or only when it differs from
// the last one published unless force is set.
func (s *Server) broadcastLocked(ctx context.Context, room string, force bool) {
	locks, err := s.svc.Get(ctx, room)
	if err != nil {
		s.logger.Error("Failed to read locks for broadcast", "room", room, "error", err)
		return
	}
	if !force && sameLeases(s.rooms[room], locks) {
		return
	}
	if len(locks) == 0 {
		delete(s.rooms, room)
	} else {
		s.rooms[room] = locks
	}

	data, err := json.Marshal(RoomState{Room: room, Locks: locks})
	if err != nil {
		s.logger.Error("Failed to encode locks", "room", room, "error", err)
		return
	}
	if err := s.hub.Broadcast(Topic(room), data); err != nil {
		s.logger.Debug("Failed to broadcast locks", "room", room, "error", err)
	}
}

// Sweep broadcasts every room whose lease set changed since it was last
// published, which happens when leases lapse.
func (s *Server) Sweep(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for room := range s.rooms {
		s.broadcastLocked(ctx, room, false)
	}
}

func (s *Server) sweepLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Disconnect releases the leases node holds in every known room.
func (s *Server) Disconnect(ctx context.Context, node string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for room, locks := range s.rooms {
		held := false
		for _, l := range locks {
			if l.Holder == node {
				held = true
				break
			}
		}
		if !held {
			continue
		}
		if err := s.svc.Release(ctx, room, node); err != nil && !errors.Is(err, ErrNotHeld) {
			s.logger.Error("Failed to release lease of departed node", "node", node, "room", room, "error", err)
			continue
		}
		s.logger.Info("Released lease of departed node", "node", node, "room", room)
		s.broadcastLocked(ctx, room, false)
	}
}

func sameLeases(a, b []Lock) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Token != b[i].Token {
			return false
		}
	}
	return true
}

// liveLocks filters out the leases that lapsed by now.
func liveLocks(locks []Lock, now time.Time) []Lock {
	out := make([]Lock, 0, len(locks))
	for _, l := range locks {
		if !l.Expired(now) {
			out = append(out, l)
		}
	}
	return out
}

func toRemote(err error) error {
	switch {
	case errors.Is(err, ErrLockHeld):
		return &transport.RemoteError{Code: codeLockHeld, Message: err.Error()}
	case errors.Is(err, ErrNotHeld):
		return &transport.RemoteError{Code: codeNotHeld, Message: err.Error()}
	case errors.Is(err, ErrInvalidRequest):
		return &transport.RemoteError{Code: transport.CodeBadRequest, Message: err.Error()}
	}
	return err
}

func fromRemote(err error) error {
	var re *transport.RemoteError
	if !errors.As(err, &re) {
		return err
	}
	switch re.Code {
	case codeLockHeld:
		return fmt.Errorf("%w: %s", ErrLockHeld, re.Message)
	case codeNotHeld:
		return ErrNotHeld
	case transport.CodeBadRequest:
		return fmt.Errorf("%w: %s", ErrInvalidRequest, re.Message)
	}
	return err
}

// Conn is the participant connection used by RemoteService.
type Conn interface {
	transport.Bus
	transport.Requester
}

// RemoteService is a Service backed by the relay hub. Rooms passed to Watch
// are cached from the hub's broadcasts so Get answers without a round trip.
type RemoteService struct {
	conn   Conn
	logger Logger
	clock  func() time.Time

	mu    sync.RWMutex
	cache map[string][]Lock
}

// NewRemoteService wraps conn.
func NewRemoteService(conn Conn, logger Logger) *RemoteService {
	if logger == nil {
		logger = noopLogger{}
	}
	return &RemoteService{conn: conn, logger: logger, clock: time.Now, cache: make(map[string][]Lock)}
}

// Acquire implements Service. The holder is the connection's node id on the
// hub; req.Holder is informational.
func (s *RemoteService) Acquire(ctx context.Context, room string, req AcquireRequest) (Lock, error) {
	var l Lock
	if err := s.conn.Request(ctx, MethodAcquire, RoomState{Room: room, Req: req}, &l); err != nil {
		return Lock{}, fromRemote(err)
	}
	return l, nil
}

// Release implements Service. Only the connection's own lease can be
// released.
func (s *RemoteService) Release(ctx context.Context, room, _ string) error {
	if err := s.conn.Request(ctx, MethodRelease, RoomState{Room: room}, nil); err != nil {
		return fromRemote(err)
	}
	return nil
}

// Get implements Service. Cached leases that lapsed are left out even
// before the hub announces it.
func (s *RemoteService) Get(ctx context.Context, room string) ([]Lock, error) {
	s.mu.RLock()
	locks, ok := s.cache[room]
	s.mu.RUnlock()
	if ok {
		return liveLocks(locks, s.clock()), nil
	}

	var st RoomState
	if err := s.conn.Request(ctx, MethodGet, RoomState{Room: room}, &st); err != nil {
		return nil, fromRemote(err)
	}
	return liveLocks(st.Locks, s.clock()), nil
}

// Watch seeds the cache for room and keeps it current until ctx is done.
func (s *RemoteService) Watch(ctx context.Context, room string) error {
	ch, err := s.conn.Subscribe(ctx, Topic(room))
	if err != nil {
		return fmt.Errorf("subscribe to locks: %w", err)
	}

	var st RoomState
	if err := s.conn.Request(ctx, MethodGet, RoomState{Room: room}, &st); err != nil {
		return fmt.Errorf("load locks: %w", fromRemote(err))
	}
	s.store(room, st.Locks)

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.cache, room)
			s.mu.Unlock()
		}()
		for d := range ch {
			var st RoomState
			if err := json.Unmarshal(d.Data, &st); err != nil || st.Room != room {
				s.logger.Debug("Ignoring lock broadcast", "room", room, "error", err)
				continue
			}
			s.store(room, st.Locks)
		}
	}()
	return nil
}

func (s *RemoteService) store(room string, locks []Lock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if locks == nil {
		locks = []Lock{}
	}
	s.cache[room] = locks
}
