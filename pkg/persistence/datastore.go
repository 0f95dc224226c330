package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/Veraticus/linkboard/pkg/diagram"
)

// DefaultKind is the datastore kind documents are stored under.
const DefaultKind = "Document"

// datastoreClient is the subset of *datastore.Client the gateway uses.
type datastoreClient interface {
	Put(ctx context.Context, key *datastore.Key, src interface{}) (*datastore.Key, error)
	Get(ctx context.Context, key *datastore.Key, dst interface{}) error
}

// documentEntity is the stored form. The collections are JSON text: they
// are read back whole and never queried, so none of it is indexed.
type documentEntity struct {
	Layers  string    `datastore:"layers,noindex"`
	Edges   string    `datastore:"edges,noindex"`
	Preview []byte    `datastore:"preview,noindex"`
	SavedAt time.Time `datastore:"savedAt"`
}

// DatastoreGateway stores documents in Cloud Datastore, keyed by document
// id.
type DatastoreGateway struct {
	client datastoreClient
	kind   string
	logger Logger
}

// DatastoreConfig configures NewDatastoreGateway.
type DatastoreConfig struct {
	ProjectID string
	Kind      string
	Logger    Logger
}

// NewDatastoreGateway connects to Datastore. Credentials and emulator
// settings come from the environment as usual for Google clients.
func NewDatastoreGateway(ctx context.Context, cfg DatastoreConfig) (*DatastoreGateway, *datastore.Client, error) {
	client, err := datastore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create datastore client: %w", err)
	}
	return newDatastoreGateway(client, cfg.Kind, cfg.Logger), client, nil
}

func newDatastoreGateway(client datastoreClient, kind string, logger Logger) *DatastoreGateway {
	if kind == "" {
		kind = DefaultKind
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &DatastoreGateway{client: client, kind: kind, logger: logger}
}

func (g *DatastoreGateway) key(id string) *datastore.Key {
	return datastore.NameKey(g.kind, id, nil)
}

// Save upserts the document.
func (g *DatastoreGateway) Save(ctx context.Context, doc *Document) error {
	if err := validateDocument(doc); err != nil {
		return err
	}

	layers, err := json.Marshal(doc.Snapshot.Layers)
	if err != nil {
		return fmt.Errorf("failed to encode layers: %w", err)
	}
	edges, err := json.Marshal(doc.Snapshot.Edges)
	if err != nil {
		return fmt.Errorf("failed to encode edges: %w", err)
	}
	savedAt := doc.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}

	entity := &documentEntity{
		Layers:  string(layers),
		Edges:   string(edges),
		Preview: doc.Preview,
		SavedAt: savedAt.UTC(),
	}
	if _, err := g.client.Put(ctx, g.key(doc.ID), entity); err != nil {
		g.logger.Error("Failed to save document", "kind", g.kind, "id", doc.ID, "error", err)
		return fmt.Errorf("failed to save %s: %w", doc.ID, err)
	}
	g.logger.Debug("Saved document", "kind", g.kind, "id", doc.ID, "bytes", len(layers)+len(edges))
	return nil
}

// Load fetches and validates the document.
func (g *DatastoreGateway) Load(ctx context.Context, documentID string) (*Document, error) {
	if err := ValidateID(documentID); err != nil {
		return nil, err
	}

	var entity documentEntity
	if err := g.client.Get(ctx, g.key(documentID), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, documentID)
		}
		return nil, fmt.Errorf("failed to load %s: %w", documentID, err)
	}

	// Reassemble and validate as one payload.
	raw, err := json.Marshal(struct {
		Layers json.RawMessage `json:"layers"`
		Edges  json.RawMessage `json:"edges"`
	}{rawOrEmpty(entity.Layers), rawOrEmpty(entity.Edges)})
	if err != nil {
		return nil, fmt.Errorf("document %s is corrupt: %w", documentID, err)
	}
	snap, err := diagram.ParseSnapshot(raw)
	if err != nil {
		return nil, fmt.Errorf("document %s is corrupt: %w", documentID, err)
	}

	return &Document{ID: documentID, Snapshot: snap, Preview: entity.Preview, SavedAt: entity.SavedAt}, nil
}

func rawOrEmpty(s string) json.RawMessage {
	if s == "" {
		return json.RawMessage("[]")
	}
	return json.RawMessage(s)
}
