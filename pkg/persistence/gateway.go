// Package persistence stores boards outside the process.
//
// A Gateway saves and loads whole documents: the snapshot of layers and
// edges plus a rendered preview. Saves are triggered by a Saver on page
// lifecycle events (hidden, unload, navigation) and each trigger waits for
// its save to finish.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/linkboard/pkg/diagram"
)

// ErrNotFound is returned by Load when no document was saved under the id.
var ErrNotFound = errors.New("document not found")

// ErrInvalidDocumentID is returned for ids that cannot name a document.
var ErrInvalidDocumentID = errors.New("invalid document id")

// Document is what a gateway stores.
type Document struct {
	ID       string
	Snapshot *diagram.Snapshot
	Preview  []byte
	SavedAt  time.Time
}

// Gateway saves and loads documents.
type Gateway interface {
	Save(ctx context.Context, doc *Document) error
	Load(ctx context.Context, documentID string) (*Document, error)
}

// Logger interface for persistence logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(_ string, _ ...any) {}
func (noopLogger) Info(_ string, _ ...any)  {}
func (noopLogger) Error(_ string, _ ...any) {}

// ValidateID rejects empty ids and ids that could escape a directory.
func ValidateID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty", ErrInvalidDocumentID)
	case len(id) > 256:
		return fmt.Errorf("%w: longer than 256 bytes", ErrInvalidDocumentID)
	case id == "." || id == "..":
		return fmt.Errorf("%w: %q", ErrInvalidDocumentID, id)
	case strings.ContainsAny(id, "/\\\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidDocumentID, id)
	}
	return nil
}

func validateDocument(doc *Document) error {
	if doc == nil {
		return errors.New("document is required")
	}
	if err := ValidateID(doc.ID); err != nil {
		return err
	}
	if doc.Snapshot == nil {
		return errors.New("snapshot is required")
	}
	return nil
}
