package types

import (
	"context"

	"github.com/xhad/sift/internal/models"
)

// Core interfaces
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Generator answers a question from retrieved context. The concrete
// variant (ollama, mock) is resolved once at startup from configuration.
type Generator interface {
	GenerateAnswer(ctx context.Context, question string, contexts []string) (string, error)
}

type VectorStore interface {
	InsertDocumentWithChunks(ctx context.Context, meta models.DocumentMeta, chunks []string, vectors [][]float32) (int64, []int64, error)
	Search(ctx context.Context, vector []float32, scope string, topK int) ([]models.ScoredChunk, error)
	FetchByIDs(ctx context.Context, ids []int64) ([]models.Chunk, error)
	DeleteByScope(ctx context.Context, scope string) (int64, error)
}

// VectorFetcher is the narrow read the LSH indexer needs from the primary
// store during reranking. Only vectors visible in scope come back.
type VectorFetcher interface {
	FetchVectors(ctx context.Context, ids []int64, scope string) ([]models.ChunkVector, error)
}

// IndexSource exposes the indexing backlog held by the primary store.
type IndexSource interface {
	UnindexedChunks(ctx context.Context, scope string) ([]models.ChunkVector, error)
	MarkDocumentIndexed(ctx context.Context, documentID int64) error
}

// Index is the approximate index consumed by the hybrid retriever.
type Index interface {
	Query(ctx context.Context, vector []float32, scope string, topK int) ([]models.ScoredChunk, error)
}
