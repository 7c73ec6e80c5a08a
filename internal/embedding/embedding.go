package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"gemserve/internal/config"
)

const defaultBatchSize = 4

// NewEmbedder builds the embedder configured in cfg: "ollama" (default) or any
// OpenAI-compatible endpoint ("openai").
func NewEmbedder(cfg *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "ollama":
		return NewOllamaEmbedder(cfg)
	case "openai":
		return NewOpenAIEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}

// new ollama embedder
func NewOllamaEmbedder(cfg *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	log.Debug().Interface("config", map[string]string{
		"base_url":        cfg.BaseURL,
		"embedding_model": cfg.Model,
	}).Msg("Creating ollama embedder")

	llm, err := ollama.New(
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ollama: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm, embeddings.WithBatchSize(batchSize(cfg)))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return embedder, nil
}

func NewOpenAIEmbedder(cfg *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	log.Debug().Interface("config", map[string]string{
		"base_url":        cfg.BaseURL,
		"embedding_model": cfg.Model,
	}).Msg("Creating openai embedder")

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize openai: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm, embeddings.WithBatchSize(batchSize(cfg)))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return embedder, nil
}

func batchSize(cfg *config.LLMConfig) int {
	if cfg.BatchSize > 0 {
		return cfg.BatchSize
	}
	return defaultBatchSize
}

// Result is the outcome of embedding one chunk. Embedding is nil when Err is set.
type Result struct {
	Index     int
	Content   string
	Embedding []float32
	Err       error
}

// EmbedChunks embeds chunks in batches of batchSize. A failed batch is retried one chunk at a
// time so a bad chunk only loses itself. Results keep the input order.
func EmbedChunks(ctx context.Context, embedder embeddings.Embedder, chunks []string, batchSize int) []Result {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	results := make([]Result, len(chunks))
	for start := 0; start < len(chunks); start += batchSize {
		end := min(start+batchSize, len(chunks))
		batch := chunks[start:end]

		vectors, err := embedder.EmbedDocuments(ctx, batch)
		if err == nil && len(vectors) == len(batch) {
			for i, v := range vectors {
				results[start+i] = checked(start+i, batch[i], v, nil)
			}
			continue
		}
		if err == nil {
			err = fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(batch))
		}
		log.Warn().Err(err).Int("batch_start", start).Msg("Batch embedding failed, retrying chunk by chunk")

		for i, content := range batch {
			v, err := embedder.EmbedQuery(ctx, content)
			results[start+i] = checked(start+i, content, v, err)
		}
	}
	return results
}

func checked(index int, content string, v []float32, err error) Result {
	if err == nil && len(v) == 0 {
		err = fmt.Errorf("empty embedding")
	}
	if err != nil {
		log.Error().Err(err).Int("chunk_index", index).Msg("Error generating embedding")
		return Result{Index: index, Content: content, Err: err}
	}
	return Result{Index: index, Content: content, Embedding: v}
}
