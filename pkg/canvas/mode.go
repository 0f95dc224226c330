package canvas

import (
	"github.com/Veraticus/linkboard/pkg/diagram"
	"github.com/Veraticus/linkboard/pkg/geometry"
)

// Mode is the interaction mode of the canvas.
type Mode int

// Canvas modes.
const (
	ModeNone Mode = iota
	ModeGrab
	ModePressing
	ModeSelectionNet
	ModeInserting
	ModeTranslating
	ModeResizing
	ModePencil
	ModeEdge
	ModeEdgeActive
	ModeEdgeDrawing
	ModeEdgeEditing
	ModeTyping
	ModeTooling
	ModeImporting
	ModeExporting
)

var modeNames = [...]string{
	ModeNone:         "None",
	ModeGrab:         "Grab",
	ModePressing:     "Pressing",
	ModeSelectionNet: "SelectionNet",
	ModeInserting:    "Inserting",
	ModeTranslating:  "Translating",
	ModeResizing:     "Resizing",
	ModePencil:       "Pencil",
	ModeEdge:         "Edge",
	ModeEdgeActive:   "EdgeActive",
	ModeEdgeDrawing:  "EdgeDrawing",
	ModeEdgeEditing:  "EdgeEditing",
	ModeTyping:       "Typing",
	ModeTooling:      "Tooling",
	ModeImporting:    "Importing",
	ModeExporting:    "Exporting",
}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return "Unknown"
	}
	return modeNames[m]
}

// Grip is the part of an edge dragged in EdgeEditing.
type Grip int

// Edge grips.
const (
	GripStart Grip = iota
	GripMiddle
	GripEnd
)

func (g Grip) String() string {
	switch g {
	case GripStart:
		return "start"
	case GripMiddle:
		return "middle"
	case GripEnd:
		return "end"
	}
	return "unknown"
}

// State is a snapshot of the machine. Only the fields that belong to Mode
// are meaningful.
type State struct {
	Mode Mode

	// Inserting
	LayerType diagram.LayerType

	// Pressing, SelectionNet and Translating. Origin is where the pointer
	// went down, Current where it was last seen.
	Origin  geometry.Point
	Current geometry.Point

	// SelectionNet
	Candidates []string

	// Resizing and Typing
	LayerID       string
	Corner        geometry.Side
	InitialBounds geometry.Rect

	// EdgeActive, Tooling, EdgeDrawing and EdgeEditing
	EdgeID     string
	Grip       Grip
	StartPoint geometry.Point

	// Pencil stroke in progress.
	Points []geometry.Point
}

func (s State) clone() State {
	s.Candidates = append([]string(nil), s.Candidates...)
	s.Points = append([]geometry.Point(nil), s.Points...)
	return s
}

// Shadow is the preview drawn while hovering a connection handle, inserting
// a layer or drawing an edge toward empty space. It is never part of the
// document.
type Shadow struct {
	Layer *diagram.Layer
	Edge  *diagram.Edge
}

// Empty reports whether there is nothing to preview.
func (s Shadow) Empty() bool {
	return s.Layer == nil && s.Edge == nil
}
