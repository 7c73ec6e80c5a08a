package rag

import (
	"context"
	"fmt"
	"strconv"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"gemserve/internal/chromemdb"
	"gemserve/internal/embedding"
	"gemserve/internal/models"
)

// Store is the retrieval store: one vector collection per chat session. Failures are logged
// and reported as false/empty results, never returned to the caller as errors.
type Store struct {
	vdb       *chromemdb.VectorDBManager
	embedder  embeddings.Embedder
	batchSize int
}

func NewStore(vdb *chromemdb.VectorDBManager, embedder embeddings.Embedder, batchSize int) *Store {
	return &Store{vdb: vdb, embedder: embedder, batchSize: batchSize}
}

// EmbeddingFunc adapts an embedder to chromem so collections can embed on their own.
func EmbeddingFunc(embedder embeddings.Embedder) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return embedder.EmbedQuery(ctx, text)
	}
}

func CollectionName(sessionID int64) string {
	return fmt.Sprintf(models.CollectionNameFormat, sessionID)
}

func ChunkID(fileID int64, index int) string {
	return fmt.Sprintf(models.ChunkIDFormat, fileID, index)
}

// GetOrCreateCollection is idempotent.
func (s *Store) GetOrCreateCollection(sessionID int64) (*chromem.Collection, error) {
	return s.vdb.GetOrCreateCollection(CollectionName(sessionID), map[string]string{
		models.MetaSessionID: strconv.FormatInt(sessionID, 10),
	})
}

// AddChunks embeds and stores the chunks of one file. It reports false only when nothing could
// be stored; chunks whose embedding failed are skipped.
func (s *Store) AddChunks(ctx context.Context, sessionID, fileID int64, filename string, chunks []string) bool {
	logger := log.With().Int64("session_id", sessionID).Int64("file_id", fileID).Str("filename", filename).Logger()
	if len(chunks) == 0 {
		logger.Warn().Msg("No chunks to add")
		return false
	}

	logger.Info().Int("chunks", len(chunks)).Msg("Generating embeddings")
	results := embedding.EmbedChunks(ctx, s.embedder, chunks, s.batchSize)

	docs := make([]chromem.Document, 0, len(results))
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			continue
		}
		docs = append(docs, chromem.Document{
			ID:      ChunkID(fileID, r.Index),
			Content: r.Content,
			Metadata: map[string]string{
				models.MetaFileID:     strconv.FormatInt(fileID, 10),
				models.MetaFilename:   filename,
				models.MetaChunkIndex: strconv.Itoa(r.Index),
				models.MetaSessionID:  strconv.FormatInt(sessionID, 10),
			},
			Embedding: r.Embedding,
		})
	}
	if len(docs) == 0 {
		logger.Error().Int("failed", failed).Msg("Every chunk failed to embed")
		return false
	}

	collection, err := s.GetOrCreateCollection(sessionID)
	if err != nil {
		logger.Error().Err(err).Msg("Error opening collection")
		return false
	}
	if err := s.vdb.CreateDocs(ctx, collection, docs); err != nil {
		logger.Error().Err(err).Msg("Error adding chunks to collection")
		return false
	}

	if failed > 0 {
		logger.Warn().Int("added", len(docs)).Int("failed", failed).Msg("Added chunks with partial embedding failures")
	} else {
		logger.Info().Int("added", len(docs)).Msg("Added chunks")
	}
	return true
}

// Query returns up to k chunks most similar to text, best first. ok is false when the session
// has no collection or the lookup failed.
func (s *Store) Query(ctx context.Context, sessionID int64, text string, k int) ([]models.RetrievedChunk, bool) {
	logger := log.With().Int64("session_id", sessionID).Logger()

	collection := s.vdb.GetCollection(CollectionName(sessionID))
	if collection == nil {
		logger.Debug().Msg("No collection for session")
		return nil, false
	}

	queryEmbedding, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		logger.Warn().Err(err).Msg("Error embedding query")
		return nil, false
	}

	results, err := s.vdb.SearchWithQueryOptions(ctx, collection, chromem.QueryOptions{
		QueryEmbedding: queryEmbedding,
		NResults:       k,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Error querying collection")
		return nil, false
	}

	chunks := make([]models.RetrievedChunk, 0, len(results))
	for _, r := range results {
		fileID, _ := strconv.ParseInt(r.Metadata[models.MetaFileID], 10, 64)
		index, _ := strconv.Atoi(r.Metadata[models.MetaChunkIndex])
		chunks = append(chunks, models.RetrievedChunk{
			ID:         r.ID,
			FileID:     fileID,
			Filename:   r.Metadata[models.MetaFilename],
			ChunkIndex: index,
			Content:    r.Content,
			Similarity: r.Similarity,
		})
	}
	return chunks, true
}

// DeleteCollection is idempotent; a missing collection is not an error.
func (s *Store) DeleteCollection(sessionID int64) {
	if err := s.vdb.DeleteCollection(CollectionName(sessionID)); err != nil {
		log.Warn().Err(err).Int64("session_id", sessionID).Msg("Error deleting collection")
		return
	}
	log.Info().Int64("session_id", sessionID).Msg("Deleted collection")
}

// Export writes the given sessions' collections (all when none given) to filePath.
func (s *Store) Export(ctx context.Context, filePath string, sessionIDs ...int64) error {
	return s.vdb.Export(ctx, filePath, names(sessionIDs)...)
}

func (s *Store) Import(ctx context.Context, filePath string, sessionIDs ...int64) error {
	return s.vdb.Import(ctx, filePath, names(sessionIDs)...)
}

func names(sessionIDs []int64) []string {
	out := make([]string, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		out = append(out, CollectionName(id))
	}
	return out
}
