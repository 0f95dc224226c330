package persistence

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Veraticus/linkboard/pkg/diagram"
)

// FileGateway keeps each document as <id>.json with its preview beside it
// as <id>.png.
type FileGateway struct {
	dir string
}

// NewFileGateway creates dir if needed.
func NewFileGateway(dir string) (*FileGateway, error) {
	if dir == "" {
		return nil, errors.New("directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return &FileGateway{dir: dir}, nil
}

// Dir returns the storage directory.
func (g *FileGateway) Dir() string {
	return g.dir
}

func (g *FileGateway) paths(id string) (string, string) {
	base := filepath.Join(g.dir, id)
	return base + ".json", base + ".png"
}

// Save writes the document. Each file is replaced atomically; a document
// without a preview removes any stale one.
func (g *FileGateway) Save(ctx context.Context, doc *Document) error {
	if err := validateDocument(doc); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := doc.Snapshot.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", doc.ID, err)
	}

	jsonPath, pngPath := g.paths(doc.ID)
	if err := writeAtomic(jsonPath, data); err != nil {
		return err
	}
	if len(doc.Preview) == 0 {
		if err := os.Remove(pngPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove stale preview: %w", err)
		}
		return nil
	}
	return writeAtomic(pngPath, doc.Preview)
}

// Load reads the document and its preview, if any.
func (g *FileGateway) Load(ctx context.Context, documentID string) (*Document, error) {
	if err := ValidateID(documentID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	jsonPath, pngPath := g.paths(documentID)
	info, err := os.Stat(jsonPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, documentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", jsonPath, err)
	}
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", jsonPath, err)
	}
	snap, err := diagram.ParseSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("document %s is corrupt: %w", documentID, err)
	}

	doc := &Document{ID: documentID, Snapshot: snap, SavedAt: info.ModTime()}
	preview, err := os.ReadFile(pngPath)
	switch {
	case err == nil:
		doc.Preview = preview
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("failed to read %s: %w", pngPath, err)
	}
	return doc, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
