package chromemdb

import (
	"context"
	"fmt"
	"runtime"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
)

// VectorDBManager encapsulates the chromem-go database operations. Collections are addressed
// by name on every call; the manager holds no per-collection state.
type VectorDBManager struct {
	db            *chromem.DB
	dbPath        string
	compress      bool
	encryptionKey string
	embed         chromem.EmbeddingFunc
}

// NewVectorDBManager initializes a new vector database manager. embed is attached to every
// collection and is only called for documents or queries that arrive without an embedding.
func NewVectorDBManager(dbPath string, inMemory, compress bool, encryptionKey string, embed chromem.EmbeddingFunc) (*VectorDBManager, error) {
	var db *chromem.DB
	var err error
	if inMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(dbPath, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	return &VectorDBManager{
		db:            db,
		dbPath:        dbPath,
		compress:      compress,
		encryptionKey: encryptionKey,
		embed:         embed,
	}, nil
}

// create or read collection
func (m *VectorDBManager) GetOrCreateCollection(name string, metadata map[string]string) (*chromem.Collection, error) {
	c, err := m.db.GetOrCreateCollection(name, metadata, m.embed)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	return c, nil
}

// GetCollection returns nil when the collection does not exist.
func (m *VectorDBManager) GetCollection(name string) *chromem.Collection {
	return m.db.GetCollection(name, m.embed)
}

// add multiple documents
func (m *VectorDBManager) CreateDocs(ctx context.Context, c *chromem.Collection, documents []chromem.Document) error {
	err := c.AddDocuments(ctx, documents, runtime.NumCPU())
	if err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

// SearchWithQueryOptions performs a similarity search; NResults is clamped to the collection size.
func (m *VectorDBManager) SearchWithQueryOptions(ctx context.Context, c *chromem.Collection, opts chromem.QueryOptions) ([]chromem.Result, error) {
	// exit if query or embedding is not provided
	if opts.QueryText == "" && opts.QueryEmbedding == nil {
		return nil, fmt.Errorf("either query or embedding must be provided")
	}
	count := c.Count()
	if count == 0 || opts.NResults <= 0 {
		return nil, nil
	}
	opts.NResults = min(opts.NResults, count)

	results, err := c.QueryWithOptions(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}
	return results, nil
}

// DeleteCollection is idempotent.
func (m *VectorDBManager) DeleteCollection(name string) error {
	if err := m.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	return nil
}

func (m *VectorDBManager) ListCollections() []string {
	var names []string
	for name := range m.db.ListCollections() {
		names = append(names, name)
	}
	return names
}

// export to file
func (m *VectorDBManager) Export(ctx context.Context, filePath string, collections ...string) error {
	if filePath == "" {
		return fmt.Errorf("export file path is required")
	}

	log.Debug().Str("file", filePath).Bool("compress", m.compress).Strs("collections", collections).Msg("Exporting collections")
	err := m.db.ExportToFile(filePath, m.compress, m.encryptionKey, collections...)
	if err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// import from file
func (m *VectorDBManager) Import(ctx context.Context, filePath string, collections ...string) error {
	err := m.db.ImportFromFile(filePath, m.encryptionKey, collections...)
	if err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	return nil
}
