// Package history implements the undo/redo log of a board.
//
// The log only tracks layers. Each entry stores, per touched layer, the full
// state before and after the gesture (nil meaning "did not exist"); undo
// restores the before states and redo the after states through the store.
// Edges are not recorded: they follow their layers through the store's own
// re-anchoring, and an edge removed together with its layer is not brought
// back by undo.
package history

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Veraticus/linkboard/pkg/diagram"
)

// ErrNothingToUndo is returned by Undo on an empty undo stack.
var ErrNothingToUndo = errors.New("nothing to undo")

// ErrNothingToRedo is returned by Redo on an empty redo stack.
var ErrNothingToRedo = errors.New("nothing to redo")

// DefaultCapacity bounds the undo stack.
const DefaultCapacity = 200

// Change is the before and after state of one layer.
type Change struct {
	ID     string
	Before *diagram.Layer
	After  *diagram.Layer
}

// Entry groups the changes of one user gesture.
type Entry struct {
	Label   string
	Changes []Change
}

// Applier forces a layer into a recorded state. diagram.Store implements it.
type Applier interface {
	RestoreLayer(id string, state *diagram.Layer) (diagram.Restore, error)
}

// Reader reads the current state of a layer.
type Reader interface {
	Layer(id string) (diagram.Layer, bool)
}

// Outcome is what replaying one change did to the store.
type Outcome struct {
	ID string
	diagram.Restore
}

// Log holds the undo and redo stacks.
type Log struct {
	mu       sync.Mutex
	undo     []Entry
	redo     []Entry
	capacity int
}

// New returns an empty log keeping at most capacity entries.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{capacity: capacity}
}

// Record pushes an entry and clears the redo stack. Entries without changes
// are dropped.
func (l *Log) Record(e Entry) {
	if len(e.Changes) == 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.undo = append(l.undo, e)
	if len(l.undo) > l.capacity {
		l.undo = l.undo[len(l.undo)-l.capacity:]
	}
	l.redo = nil
}

// Undo reverts the most recent entry.
func (l *Log) Undo(a Applier) ([]Outcome, error) {
	l.mu.Lock()
	if len(l.undo) == 0 {
		l.mu.Unlock()
		return nil, ErrNothingToUndo
	}
	e := l.undo[len(l.undo)-1]
	l.undo = l.undo[:len(l.undo)-1]
	l.redo = append(l.redo, e)
	l.mu.Unlock()

	outcomes := make([]Outcome, 0, len(e.Changes))
	var firstErr error
	for i := len(e.Changes) - 1; i >= 0; i-- {
		c := e.Changes[i]
		res, err := a.RestoreLayer(c.ID, c.Before)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to undo %s on layer %s: %w", e.Label, c.ID, err)
			}
			continue
		}
		outcomes = append(outcomes, Outcome{ID: c.ID, Restore: res})
	}
	return outcomes, firstErr
}

// Redo re-applies the most recently undone entry.
func (l *Log) Redo(a Applier) ([]Outcome, error) {
	l.mu.Lock()
	if len(l.redo) == 0 {
		l.mu.Unlock()
		return nil, ErrNothingToRedo
	}
	e := l.redo[len(l.redo)-1]
	l.redo = l.redo[:len(l.redo)-1]
	l.undo = append(l.undo, e)
	l.mu.Unlock()

	outcomes := make([]Outcome, 0, len(e.Changes))
	var firstErr error
	for _, c := range e.Changes {
		res, err := a.RestoreLayer(c.ID, c.After)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to redo %s on layer %s: %w", e.Label, c.ID, err)
			}
			continue
		}
		outcomes = append(outcomes, Outcome{ID: c.ID, Restore: res})
	}
	return outcomes, firstErr
}

// CanUndo reports whether Undo has anything to revert.
func (l *Log) CanUndo() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.undo) > 0
}

// CanRedo reports whether Redo has anything to re-apply.
func (l *Log) CanRedo() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.redo) > 0
}

// Len returns the sizes of the undo and redo stacks.
func (l *Log) Len() (undo, redo int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.undo), len(l.redo)
}

// Clear empties both stacks, for instance after an import replaced the
// document.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.undo = nil
	l.redo = nil
}

// Recorder captures the before state of layers when a gesture starts and
// turns it into an Entry when the gesture ends.
type Recorder struct {
	label  string
	order  []string
	before map[string]*diagram.Layer
}

// Capture starts recording a gesture over the given layers.
func Capture(r Reader, label string, ids ...string) *Recorder {
	rec := &Recorder{label: label, before: make(map[string]*diagram.Layer)}
	for _, id := range ids {
		rec.Track(r, id)
	}
	return rec
}

// Track adds a layer to the recording. Layers created during the gesture
// are tracked before they exist and get a nil before state.
func (rec *Recorder) Track(r Reader, id string) {
	if _, ok := rec.before[id]; ok {
		return
	}
	rec.order = append(rec.order, id)
	if l, ok := r.Layer(id); ok {
		rec.before[id] = &l
	} else {
		rec.before[id] = nil
	}
}

// Commit reads the after states and returns the entry. Layers that ended
// where they started are left out.
func (rec *Recorder) Commit(r Reader) Entry {
	e := Entry{Label: rec.label}
	for _, id := range rec.order {
		before := rec.before[id]
		var after *diagram.Layer
		if l, ok := r.Layer(id); ok {
			after = &l
		}
		if before == nil && after == nil {
			continue
		}
		if before != nil && after != nil && diagram.DiffLayer(*before, *after).IsEmpty() {
			continue
		}
		e.Changes = append(e.Changes, Change{ID: id, Before: before, After: after})
	}
	return e
}
