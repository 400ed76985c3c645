package models

// SharedScope marks documents visible to every tenant. Scoped documents
// carry a session or tenant identifier instead.
const SharedScope = "shared"

type DocumentMeta struct {
	Filename string
	MimeType string
	Scope    string
}

type Document struct {
	ID       int64
	Filename string
	MimeType string
	Scope    string
	Indexed  bool
}

type Chunk struct {
	ID         int64
	DocumentID int64
	Ordinal    int
	Content    string
}

// ChunkVector pairs a chunk with its full embedding, as read back from the
// primary store for indexing and reranking.
type ChunkVector struct {
	ID         int64
	DocumentID int64
	Vector     []float32
}

// ScoredChunk is a retrieval result ordered by descending Similarity.
type ScoredChunk struct {
	ID         int64
	Similarity float32
}
