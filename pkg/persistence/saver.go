package persistence

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Veraticus/linkboard/pkg/diagram"
)

// Reason says why a save was triggered.
type Reason int

const (
	// VisibilityHidden fires when the page is hidden.
	VisibilityHidden Reason = iota
	// BeforeUnload fires before the page unloads.
	BeforeUnload
	// Navigation fires when the user leaves the board in-app.
	Navigation
	// Manual is an explicit save request.
	Manual
)

func (r Reason) String() string {
	switch r {
	case VisibilityHidden:
		return "visibility-hidden"
	case BeforeUnload:
		return "before-unload"
	case Navigation:
		return "navigation"
	case Manual:
		return "manual"
	default:
		return "unknown"
	}
}

// Source supplies the board to save.
type Source interface {
	Snapshot() *diagram.Snapshot
}

// RenderFunc produces a preview image for a snapshot.
type RenderFunc func(*diagram.Snapshot) ([]byte, error)

// SaverConfig configures a Saver.
type SaverConfig struct {
	Gateway    Gateway
	Source     Source
	DocumentID string
	Render     RenderFunc // optional
	Logger     Logger
	Timeout    time.Duration
	Clock      func() time.Time
}

// Validate checks the config and applies defaults.
func (c *SaverConfig) Validate() error {
	if c.Gateway == nil {
		return errors.New("gateway is required")
	}
	if c.Source == nil {
		return errors.New("source is required")
	}
	if err := ValidateID(c.DocumentID); err != nil {
		return err
	}
	if c.Timeout < 0 {
		return errors.New("timeout cannot be negative")
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = noopLogger{}
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return nil
}

// SaverStats counts save outcomes.
type SaverStats struct {
	Saves           atomic.Int64
	Failures        atomic.Int64
	PreviewFailures atomic.Int64
	LastSave        atomic.Int64 // unix nanos
}

// Saver writes the current board through a gateway. Triggers are
// serialized: a trigger that arrives while a save is running waits for it
// and then saves the newer state.
type Saver struct {
	config *SaverConfig
	mu     sync.Mutex
	stats  SaverStats
}

// NewSaver creates a saver.
func NewSaver(config *SaverConfig) (*Saver, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Saver{config: config}, nil
}

// Trigger saves the board and waits for the gateway to finish. A preview
// that fails to render is logged and the document is saved without one.
func (s *Saver) Trigger(ctx context.Context, reason Reason) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	snap := s.config.Source.Snapshot()
	doc := &Document{
		ID:       s.config.DocumentID,
		Snapshot: snap,
		SavedAt:  s.config.Clock(),
	}

	if s.config.Render != nil {
		preview, err := s.config.Render(snap)
		if err != nil {
			s.stats.PreviewFailures.Add(1)
			s.config.Logger.Error("Failed to render preview", "document", doc.ID, "error", err)
		} else {
			doc.Preview = preview
		}
	}

	start := time.Now()
	if err := s.config.Gateway.Save(ctx, doc); err != nil {
		s.stats.Failures.Add(1)
		s.config.Logger.Error("Save failed", "document", doc.ID, "reason", reason.String(), "error", err)
		return err
	}

	s.stats.Saves.Add(1)
	s.stats.LastSave.Store(doc.SavedAt.UnixNano())
	s.config.Logger.Info("Saved document",
		"document", doc.ID,
		"reason", reason.String(),
		"layers", len(snap.Layers),
		"edges", len(snap.Edges),
		"duration", time.Since(start))
	return nil
}

// Stats returns the saver counters.
func (s *Saver) Stats() *SaverStats {
	return &s.stats
}
