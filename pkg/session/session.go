// Package session wires one open document together: the store, the undo
// log, the selection locks, the sync engine, the canvas state machine and
// the saver.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Veraticus/linkboard/pkg/canvas"
	"github.com/Veraticus/linkboard/pkg/diagram"
	"github.com/Veraticus/linkboard/pkg/history"
	"github.com/Veraticus/linkboard/pkg/lock"
	"github.com/Veraticus/linkboard/pkg/persistence"
	boardsync "github.com/Veraticus/linkboard/pkg/sync"
	"github.com/Veraticus/linkboard/pkg/transport"
)

// ErrNoStorage is returned by Save when the session has no gateway.
var ErrNoStorage = errors.New("no storage configured")

// Logger interface for session logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(_ string, _ ...any) {}
func (noopLogger) Info(_ string, _ ...any)  {}
func (noopLogger) Error(_ string, _ ...any) {}

// Config configures Open.
type Config struct {
	DocumentID string
	User       string

	Bus   transport.Bus
	Locks lock.Service

	// Gateway enables loading the last saved document and saving. Optional.
	Gateway persistence.Gateway
	// Render produces the preview stored with each save. Optional.
	Render persistence.RenderFunc

	Logger  Logger
	Metrics *boardsync.Metrics
	Warn    func(msg string)

	MaxLayers    int
	HistorySize  int
	LockTTL      time.Duration
	SaveTimeout  time.Duration
	ReadyTimeout time.Duration
}

// Validate checks required fields and fills defaults.
func (c *Config) Validate() error {
	if err := persistence.ValidateID(c.DocumentID); err != nil {
		return err
	}
	if c.User == "" {
		return errors.New("user is required")
	}
	if c.Bus == nil {
		return errors.New("bus is required")
	}
	if c.Locks == nil {
		return errors.New("lock service is required")
	}
	if c.Logger == nil {
		c.Logger = noopLogger{}
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 10 * time.Second
	}
	return nil
}

// Status is a point-in-time summary of the session.
type Status struct {
	Document  string
	User      string
	Mode      canvas.Mode
	Layers    int
	Edges     int
	Selection []string
	CanUndo   bool
	CanRedo   bool
	Saves     int64
	LastSave  time.Time
	Sync      *boardsync.Stats
}

// Session is one participant's view of one document.
type Session struct {
	config  *Config
	logger  Logger
	store   *diagram.Store
	history *history.Log
	locks   *lock.Manager
	engine  *boardsync.Engine
	machine *canvas.Machine
	saver   *persistence.Saver

	cancel    context.CancelFunc
	done      chan struct{}
	engineErr error

	closeOnce sync.Once
	closeErr  error
}

// Open builds the session and starts syncing. When a gateway is configured
// the last saved version of the document is loaded first; a document that
// was never saved starts empty.
func Open(ctx context.Context, config *Config) (*Session, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := config.Logger

	store, err := diagram.NewStore(&diagram.Config{Logger: logger, MaxLayers: config.MaxLayers})
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	if config.Gateway != nil {
		if err := restore(ctx, config.Gateway, config.DocumentID, store, logger); err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	locks, err := lock.NewManager(&lock.Config{
		Service: config.Locks,
		Room:    config.DocumentID,
		Logger:  logger,
		TTL:     config.LockTTL,
		Async:   true,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create lock manager: %w", err)
	}

	engine, err := boardsync.NewEngine(&boardsync.Config{
		Store:      store,
		Bus:        config.Bus,
		Logger:     logger,
		Metrics:    config.Metrics,
		NodeID:     config.User,
		DocumentID: config.DocumentID,
	})
	if err != nil {
		_ = locks.Close(ctx)
		_ = store.Close()
		return nil, fmt.Errorf("failed to create sync engine: %w", err)
	}

	hist := history.New(config.HistorySize)
	machine, err := canvas.New(&canvas.Config{
		Store:     store,
		Locks:     locks,
		Publisher: engine,
		History:   hist,
		User:      config.User,
		Logger:    logger,
		Warn:      config.Warn,
	})
	if err != nil {
		_ = locks.Close(ctx)
		_ = store.Close()
		return nil, fmt.Errorf("failed to create canvas: %w", err)
	}

	s := &Session{
		config:  config,
		logger:  logger,
		store:   store,
		history: hist,
		locks:   locks,
		engine:  engine,
		machine: machine,
		done:    make(chan struct{}),
	}

	if config.Gateway != nil {
		s.saver, err = persistence.NewSaver(&persistence.SaverConfig{
			Gateway:    config.Gateway,
			Source:     store,
			DocumentID: config.DocumentID,
			Render:     config.Render,
			Logger:     logger,
			Timeout:    config.SaveTimeout,
		})
		if err != nil {
			_ = locks.Close(ctx)
			_ = store.Close()
			return nil, fmt.Errorf("failed to create saver: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		s.engineErr = engine.Run(runCtx)
		close(s.done)
	}()

	// Remote operations are only applied once subscribed.
	timer := time.NewTimer(config.ReadyTimeout)
	defer timer.Stop()
	select {
	case <-engine.Ready():
	case <-s.done:
		_ = s.shutdown(ctx, false)
		return nil, fmt.Errorf("sync engine failed to start: %w", s.engineErr)
	case <-timer.C:
		_ = s.shutdown(ctx, false)
		return nil, errors.New("sync engine did not become ready")
	case <-ctx.Done():
		_ = s.shutdown(context.Background(), false)
		return nil, ctx.Err()
	}

	logger.Info("Session opened",
		"document", config.DocumentID,
		"user", config.User,
		"layers", store.LayerCount(),
		"saving", s.saver != nil)
	return s, nil
}

func restore(ctx context.Context, gw persistence.Gateway, id string, store *diagram.Store, logger Logger) error {
	doc, err := gw.Load(ctx, id)
	if errors.Is(err, persistence.ErrNotFound) {
		logger.Info("Starting new document", "document", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load document: %w", err)
	}
	if err := store.ReplaceAll(doc.Snapshot.Layers, doc.Snapshot.Edges); err != nil {
		return fmt.Errorf("failed to restore document: %w", err)
	}
	logger.Info("Restored document", "document", id, "saved_at", doc.SavedAt)
	return nil
}

// Machine returns the canvas state machine.
func (s *Session) Machine() *canvas.Machine { return s.machine }

// Store returns the document store.
func (s *Session) Store() *diagram.Store { return s.store }

// Engine returns the sync engine.
func (s *Session) Engine() *boardsync.Engine { return s.engine }

// Locks returns the selection lock manager.
func (s *Session) Locks() *lock.Manager { return s.locks }

// DocumentID returns the open document.
func (s *Session) DocumentID() string { return s.config.DocumentID }

// Save writes the document through the gateway and waits for it.
func (s *Session) Save(ctx context.Context, reason persistence.Reason) error {
	if s.saver == nil {
		return ErrNoStorage
	}
	return s.saver.Trigger(ctx, reason)
}

// Export serializes the document; perms must include EXPORT.
func (s *Session) Export(ctx context.Context, perms canvas.Permissions) ([]byte, error) {
	return s.machine.Export(ctx, perms)
}

// Import replaces the document and broadcasts the replacement; perms must
// include UPDATE.
func (s *Session) Import(ctx context.Context, perms canvas.Permissions, data []byte) error {
	return s.machine.Import(ctx, perms, data)
}

// Done is closed when the sync engine stops.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the sync engine's exit error once Done is closed.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.engineErr
	default:
		return nil
	}
}

// Status summarizes the session.
func (s *Session) Status() Status {
	undo, redo := s.history.Len()
	st := Status{
		Document:  s.config.DocumentID,
		User:      s.config.User,
		Mode:      s.machine.Mode(),
		Layers:    s.store.LayerCount(),
		Edges:     len(s.store.Edges()),
		Selection: s.machine.Selection(),
		CanUndo:   undo > 0,
		CanRedo:   redo > 0,
		Sync:      s.engine.Stats(),
	}
	if s.saver != nil {
		stats := s.saver.Stats()
		st.Saves = stats.Saves.Load()
		if ns := stats.LastSave.Load(); ns != 0 {
			st.LastSave = time.Unix(0, ns)
		}
	}
	return st
}

// Close ends any gesture in progress, saves with reason BeforeUnload,
// releases the user's locks, stops the engine and closes the store. It is
// safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closeErr = s.shutdown(ctx, true)
	})
	return s.closeErr
}

func (s *Session) shutdown(ctx context.Context, save bool) error {
	var errs []error

	s.machine.Cancel(ctx)
	if save && s.saver != nil {
		if err := s.saver.Trigger(ctx, persistence.BeforeUnload); err != nil {
			errs = append(errs, fmt.Errorf("final save: %w", err))
		}
	}
	if err := s.locks.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("release locks: %w", err))
	}

	if s.cancel != nil {
		s.cancel()
		select {
		case <-s.done:
			if err := s.engineErr; err != nil && !errors.Is(err, context.Canceled) {
				errs = append(errs, fmt.Errorf("sync engine: %w", err))
			}
		case <-ctx.Done():
			errs = append(errs, errors.New("sync engine shutdown timeout"))
		}
	}

	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	s.logger.Info("Session closed", "document", s.config.DocumentID, "user", s.config.User)
	return errors.Join(errs...)
}
