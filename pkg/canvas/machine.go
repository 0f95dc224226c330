// Package canvas turns pointer and keyboard input into edits of a board.
//
// A Machine is the single owner of the interaction mode. Every event is
// handled synchronously: the local store is updated first, then the change
// is handed to the publisher. Pointer coordinates arrive in screen space
// together with the camera that produced them, and every event carries the
// participant's permissions, so the machine keeps no viewport or session
// state of its own.
package canvas

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Veraticus/linkboard/pkg/diagram"
	"github.com/Veraticus/linkboard/pkg/geometry"
	"github.com/Veraticus/linkboard/pkg/history"
	"github.com/Veraticus/linkboard/pkg/lock"
	boardsync "github.com/Veraticus/linkboard/pkg/sync"
)

// ErrWrongMode is returned by operations that are not available in the
// current mode.
var ErrWrongMode = errors.New("not available in current mode")

// Locker tracks what each participant has selected. lock.Manager
// implements it.
type Locker interface {
	Select(ctx context.Context, user string, ids []string) error
	Unselect(ctx context.Context, user string) error
	Selection(user string) []string
	LockedByOther(ctx context.Context, user, id string) bool
}

// Publisher broadcasts operations that were already applied locally.
// sync.Engine implements it.
type Publisher interface {
	Publish(ctx context.Context, ops ...boardsync.Operation) error
}

// Logger interface for canvas logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(_ string, _ ...any) {}
func (noopLogger) Info(_ string, _ ...any)  {}
func (noopLogger) Error(_ string, _ ...any) {}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, ...boardsync.Operation) error { return nil }

// Config wires a Machine to its collaborators.
type Config struct {
	Store     *diagram.Store
	Locks     Locker
	Publisher Publisher
	History   *history.Log
	User      string
	Logger    Logger

	// Warn surfaces a blocking warning to the participant, e.g. a missing
	// permission.
	Warn func(msg string)

	Clock func() time.Time

	DragThreshold float64
	HandleSnap    float64
	LayerSnap     float64
	HitRadius     float64
	DoubleClick   time.Duration
	LayerSize     geometry.Size
	PlacementGap  float64
}

// Validate checks required fields and applies defaults.
func (c *Config) Validate() error {
	if c.Store == nil {
		return errors.New("store is required")
	}
	if c.Locks == nil {
		return errors.New("locker is required")
	}
	if c.User == "" {
		return errors.New("user is required")
	}

	if c.Publisher == nil {
		c.Publisher = noopPublisher{}
	}
	if c.History == nil {
		c.History = history.New(0)
	}
	if c.Logger == nil {
		c.Logger = noopLogger{}
	}
	if c.Warn == nil {
		c.Warn = func(string) {}
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.DragThreshold <= 0 {
		c.DragThreshold = 5
	}
	if c.HandleSnap <= 0 {
		c.HandleSnap = 20
	}
	if c.LayerSnap <= 0 {
		c.LayerSnap = 80
	}
	if c.HitRadius <= 0 {
		c.HitRadius = 8
	}
	if c.DoubleClick <= 0 {
		c.DoubleClick = 400 * time.Millisecond
	}
	if c.LayerSize.Width <= 0 || c.LayerSize.Height <= 0 {
		c.LayerSize = geometry.Size{Width: 150, Height: 100}
	}
	if c.PlacementGap <= 0 {
		c.PlacementGap = geometry.DefaultPlacementGap
	}
	return nil
}

type snapKind int

const (
	snapNone snapKind = iota
	snapHandle
	snapLayer
)

// snapTarget is where a dragged edge end will land on release.
type snapTarget struct {
	kind    snapKind
	layerID string
	handle  geometry.Handle
	bounds  geometry.Rect
}

type click struct {
	at      time.Time
	layerID string
}

// Machine is the canvas state machine of one participant.
type Machine struct {
	config  *Config
	store   *diagram.Store
	locks   Locker
	pub     Publisher
	history *history.Log
	logger  Logger

	mu         sync.Mutex
	state      State
	shadow     Shadow
	activeEdge string
	snap       snapTarget
	stub       diagram.Edge // edge being drawn, not yet in the store
	recorder   *history.Recorder
	lastClick  click
	pencilDown bool
	beforeGrab State
}

// New creates a machine in ModeNone.
func New(config *Config) (*Machine, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Machine{
		config:  config,
		store:   config.Store,
		locks:   config.Locks,
		pub:     config.Publisher,
		history: config.History,
		logger:  config.Logger,
		state:   State{Mode: ModeNone},
	}, nil
}

// State returns a copy of the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// Mode returns the current mode.
func (m *Machine) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Mode
}

// Shadow returns the current preview.
func (m *Machine) Shadow() Shadow {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shadow
}

// ActiveEdge returns the id of the edge picked for the edge tools, if any.
func (m *Machine) ActiveEdge() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeEdge
}

// Selection returns the layers the local participant has selected.
func (m *Machine) Selection() []string {
	return m.locks.Selection(m.config.User)
}

// History exposes the undo log.
func (m *Machine) History() *history.Log {
	return m.history
}

// require checks a permission and surfaces a warning when it is missing.
func (m *Machine) require(perms Permissions, want Permission) error {
	if err := CheckPermission(perms, want); err != nil {
		m.logger.Info("gesture blocked", "user", m.config.User, "permission", want, "mode", m.state.Mode)
		m.config.Warn(err.Error())
		return err
	}
	return nil
}

// publish hands ops to the publisher. Failures are the publisher's to log;
// the local change stands either way.
func (m *Machine) publish(ctx context.Context, ops ...boardsync.Operation) {
	if len(ops) == 0 {
		return
	}
	if err := m.pub.Publish(ctx, ops...); err != nil {
		m.logger.Debug("publish failed", "ops", len(ops), "error", err)
	}
}

func (m *Machine) selectLayers(ctx context.Context, ids []string) error {
	err := m.locks.Select(ctx, m.config.User, ids)
	if err != nil && !errors.Is(err, lock.ErrLockHeld) {
		m.logger.Error("selection failed", "user", m.config.User, "error", err)
	}
	return err
}

func (m *Machine) clearSelection(ctx context.Context) {
	if err := m.locks.Unselect(ctx, m.config.User); err != nil {
		m.logger.Debug("unselect failed", "user", m.config.User, "error", err)
	}
}

// reset returns to ModeNone, dropping any preview, snap target and
// undrawn edge.
func (m *Machine) reset() {
	m.state = State{Mode: ModeNone}
	m.shadow = Shadow{}
	m.snap = snapTarget{}
	m.stub = diagram.Edge{}
	m.recorder = nil
	m.pencilDown = false
}

// end records the gesture in the undo log and resets.
func (m *Machine) end() {
	if m.recorder != nil {
		m.history.Record(m.recorder.Commit(m.store))
	}
	m.reset()
}

// abort ends a gesture whose target disappeared underneath it, typically
// removed by a remote participant. Nothing is recorded for undo.
func (m *Machine) abort(reason string, keysAndValues ...any) {
	m.logger.Debug("gesture aborted: "+reason, append(keysAndValues, "mode", m.state.Mode)...)
	m.reset()
}

// lockedByOther returns the first of ids another participant holds.
func (m *Machine) lockedByOther(ctx context.Context, ids ...string) (string, bool) {
	for _, id := range ids {
		if m.locks.LockedByOther(ctx, m.config.User, id) {
			return id, true
		}
	}
	return "", false
}

// layerOps is the broadcast for a layer patch and the edges it re-anchored.
func layerOps(id string, patch diagram.LayerPatch, moved []diagram.Edge) []boardsync.Operation {
	ops := []boardsync.Operation{boardsync.LayerUpdated{ID: id, Patch: patch}}
	for _, e := range moved {
		ops = append(ops, boardsync.EdgeUpdated{ID: e.ID, Patch: diagram.EndpointPatch(e)})
	}
	return ops
}

// attachmentPatch carries everything an edge edit can change.
func attachmentPatch(e diagram.Edge) diagram.EdgePatch {
	p := diagram.EndpointPatch(e)
	p.FromLayerID = &e.FromLayerID
	p.ToLayerID = &e.ToLayerID
	p.HandleStart = &e.HandleStart
	p.HandleEnd = &e.HandleEnd
	p.Orientation = &e.Orientation
	if e.ControlPoint1 == nil && e.ControlPoint2 == nil {
		p.ResetControlPoints = true
	}
	return p
}

func contains(ids []string, id string) bool {
	for _, have := range ids {
		if have == id {
			return true
		}
	}
	return false
}

func without(targets []geometry.Target, ids ...string) []geometry.Target {
	out := targets[:0:0]
	for _, t := range targets {
		if !contains(ids, t.ID) {
			out = append(out, t)
		}
	}
	return out
}

func rects(targets []geometry.Target) []geometry.Rect {
	out := make([]geometry.Rect, len(targets))
	for i, t := range targets {
		out[i] = t.Bounds
	}
	return out
}
