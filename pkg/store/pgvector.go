package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/sirupsen/logrus"

	"github.com/xhad/sift/internal/models"
	"github.com/xhad/sift/pkg/retry"
)

type VectorStoreConfig struct {
	ConnString string
	Dimension  int
	Retry      retry.Policy
	Logger     *logrus.Logger
}

// VectorStore is the authoritative home of documents, chunks and their
// embeddings. The LSH bucket index is only a cache derived from it.
type VectorStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
	log    *logrus.Logger
}

func NewWithConfig(ctx context.Context, config VectorStoreConfig) (*VectorStore, error) {
	if config.Dimension == 0 {
		config.Dimension = 768
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry = retry.DefaultPolicy()
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &VectorStore{
		config: config,
		pool:   pool,
		log:    config.Logger,
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *VectorStore) initialize(ctx context.Context) error {
	_, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	_, err = vs.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			id BIGSERIAL PRIMARY KEY,
			filename TEXT NOT NULL,
			mime_type TEXT NOT NULL DEFAULT 'text/plain',
			scope TEXT NOT NULL,
			lsh_indexed BOOLEAN NOT NULL DEFAULT FALSE,
			uploaded_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}

	_, err = vs.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS document_chunks (
			id BIGSERIAL PRIMARY KEY,
			document_id BIGINT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			ordinal INTEGER NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			CONSTRAINT unique_chunk_per_document UNIQUE (document_id, ordinal)
		)`, vs.config.Dimension))
	if err != nil {
		return fmt.Errorf("failed to create document_chunks table: %w", err)
	}

	_, err = vs.pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_documents_scope
		ON documents (scope)`)
	if err != nil {
		return fmt.Errorf("failed to create scope index: %w", err)
	}

	_, err = vs.pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_chunks_embedding
		ON document_chunks
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`)
	if err != nil {
		return fmt.Errorf("failed to create embedding index: %w", err)
	}

	return nil
}

// InsertDocumentWithChunks persists a document and all of its chunks in a
// single transaction. Either everything lands or nothing does; a chunk
// count that differs from the vector count aborts before any write.
func (vs *VectorStore) InsertDocumentWithChunks(ctx context.Context, meta models.DocumentMeta, chunks []string, vectors [][]float32) (int64, []int64, error) {
	if len(chunks) != len(vectors) {
		return 0, nil, fmt.Errorf("chunk count %d does not match vector count %d", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return 0, nil, fmt.Errorf("document %q has no chunks", meta.Filename)
	}
	for i, v := range vectors {
		if len(v) != vs.config.Dimension {
			return 0, nil, fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), vs.config.Dimension)
		}
	}
	if meta.Scope == "" {
		meta.Scope = models.SharedScope
	}
	if meta.MimeType == "" {
		meta.MimeType = "text/plain"
	}

	var docID int64
	var chunkIDs []int64

	err := vs.config.Retry.Do(ctx, func() error {
		tx, err := vs.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		err = tx.QueryRow(ctx, `
			INSERT INTO documents (filename, mime_type, scope)
			VALUES ($1, $2, $3)
			RETURNING id`,
			meta.Filename, meta.MimeType, meta.Scope,
		).Scan(&docID)
		if err != nil {
			return fmt.Errorf("failed to insert document: %w", err)
		}

		chunkIDs = make([]int64, 0, len(chunks))
		for ordinal, content := range chunks {
			var chunkID int64
			err = tx.QueryRow(ctx, `
				INSERT INTO document_chunks (document_id, ordinal, content, embedding)
				VALUES ($1, $2, $3, $4)
				RETURNING id`,
				docID, ordinal, content, pgvector.NewVector(vectors[ordinal]),
			).Scan(&chunkID)
			if err != nil {
				return fmt.Errorf("failed to insert chunk %d: %w", ordinal, err)
			}
			chunkIDs = append(chunkIDs, chunkID)
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		return 0, nil, err
	}

	vs.log.WithFields(logrus.Fields{
		"document": docID,
		"chunks":   len(chunkIDs),
		"scope":    meta.Scope,
	}).Info("stored document")

	return docID, chunkIDs, nil
}

// Search runs an exact nearest-neighbor query over everything visible in
// scope, ordered by descending cosine similarity.
func (vs *VectorStore) Search(ctx context.Context, vector []float32, scope string, topK int) ([]models.ScoredChunk, error) {
	if len(vector) != vs.config.Dimension {
		return nil, fmt.Errorf("query vector has dimension %d, want %d", len(vector), vs.config.Dimension)
	}
	if topK <= 0 {
		return []models.ScoredChunk{}, nil
	}

	var results []models.ScoredChunk
	err := vs.config.Retry.Do(ctx, func() error {
		rows, err := vs.pool.Query(ctx, `
			SELECT dc.id, 1 - (dc.embedding <=> $1) AS similarity
			FROM document_chunks dc
			JOIN documents d ON dc.document_id = d.id
			WHERE d.scope = $2 OR d.scope = $3
			ORDER BY dc.embedding <=> $1
			LIMIT $4`,
			pgvector.NewVector(vector), scope, models.SharedScope, topK)
		if err != nil {
			return fmt.Errorf("failed to search chunks: %w", err)
		}
		defer rows.Close()

		results = results[:0]
		for rows.Next() {
			var sc models.ScoredChunk
			if err := rows.Scan(&sc.ID, &sc.Similarity); err != nil {
				return fmt.Errorf("failed to scan row: %w", err)
			}
			results = append(results, sc)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return results, nil
}

// FetchByIDs returns chunk content in the order of the input IDs. IDs
// that no longer exist are skipped.
func (vs *VectorStore) FetchByIDs(ctx context.Context, ids []int64) ([]models.Chunk, error) {
	if len(ids) == 0 {
		return []models.Chunk{}, nil
	}

	byID := make(map[int64]models.Chunk, len(ids))
	err := vs.config.Retry.Do(ctx, func() error {
		rows, err := vs.pool.Query(ctx, `
			SELECT id, document_id, ordinal, content
			FROM document_chunks
			WHERE id = ANY($1)`, ids)
		if err != nil {
			return fmt.Errorf("failed to fetch chunks: %w", err)
		}
		defer rows.Close()

		clear(byID)
		for rows.Next() {
			var c models.Chunk
			if err := rows.Scan(&c.ID, &c.DocumentID, &c.Ordinal, &c.Content); err != nil {
				return fmt.Errorf("failed to scan row: %w", err)
			}
			byID[c.ID] = c
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	ordered := make([]models.Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			ordered = append(ordered, c)
		}
	}
	return ordered, nil
}

// FetchVectors returns full embeddings for the given chunk IDs, restricted
// to chunks visible in scope. Missing or out-of-scope IDs are simply absent.
func (vs *VectorStore) FetchVectors(ctx context.Context, ids []int64, scope string) ([]models.ChunkVector, error) {
	if len(ids) == 0 {
		return []models.ChunkVector{}, nil
	}

	var vectors []models.ChunkVector
	err := vs.config.Retry.Do(ctx, func() error {
		rows, err := vs.pool.Query(ctx, `
			SELECT dc.id, dc.document_id, dc.embedding
			FROM document_chunks dc
			JOIN documents d ON dc.document_id = d.id
			WHERE dc.id = ANY($1) AND (d.scope = $2 OR d.scope = $3)`,
			ids, scope, models.SharedScope)
		if err != nil {
			return fmt.Errorf("failed to fetch vectors: %w", err)
		}
		defer rows.Close()

		vectors = vectors[:0]
		for rows.Next() {
			var cv models.ChunkVector
			var emb pgvector.Vector
			if err := rows.Scan(&cv.ID, &cv.DocumentID, &emb); err != nil {
				return fmt.Errorf("failed to scan row: %w", err)
			}
			cv.Vector = emb.Slice()
			vectors = append(vectors, cv)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return vectors, nil
}

// UnindexedChunks returns every chunk whose parent document has not been
// marked indexed yet, ordered by document then ordinal so a batch scan
// processes documents whole.
func (vs *VectorStore) UnindexedChunks(ctx context.Context, scope string) ([]models.ChunkVector, error) {
	query := `
		SELECT dc.id, dc.document_id, dc.embedding
		FROM document_chunks dc
		JOIN documents d ON dc.document_id = d.id
		WHERE NOT d.lsh_indexed`
	args := []any{}
	if scope != "" {
		query += " AND (d.scope = $1 OR d.scope = $2)"
		args = append(args, scope, models.SharedScope)
	}
	query += " ORDER BY dc.document_id, dc.ordinal"

	var chunks []models.ChunkVector
	err := vs.config.Retry.Do(ctx, func() error {
		rows, err := vs.pool.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to scan for unindexed chunks: %w", err)
		}
		defer rows.Close()

		chunks = chunks[:0]
		for rows.Next() {
			var cv models.ChunkVector
			var emb pgvector.Vector
			if err := rows.Scan(&cv.ID, &cv.DocumentID, &emb); err != nil {
				return fmt.Errorf("failed to scan row: %w", err)
			}
			cv.Vector = emb.Slice()
			chunks = append(chunks, cv)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return chunks, nil
}

// MarkDocumentIndexed flips the indexed flag once every chunk of the
// document has been written to the bucket store.
func (vs *VectorStore) MarkDocumentIndexed(ctx context.Context, documentID int64) error {
	return vs.config.Retry.Do(ctx, func() error {
		tag, err := vs.pool.Exec(ctx, `
			UPDATE documents SET lsh_indexed = TRUE WHERE id = $1`, documentID)
		if err != nil {
			return fmt.Errorf("failed to mark document %d indexed: %w", documentID, err)
		}
		if tag.RowsAffected() == 0 {
			return retry.Permanent(fmt.Errorf("document %d not found: %w", documentID, pgx.ErrNoRows))
		}
		return nil
	})
}

// DeleteByScope removes every document in the scope; chunks go with them
// via the cascade. Shared documents survive any tenant's clear.
func (vs *VectorStore) DeleteByScope(ctx context.Context, scope string) (int64, error) {
	var deleted int64
	err := vs.config.Retry.Do(ctx, func() error {
		tag, err := vs.pool.Exec(ctx, `DELETE FROM documents WHERE scope = $1`, scope)
		if err != nil {
			return fmt.Errorf("failed to clear scope %q: %w", scope, err)
		}
		deleted = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}

	vs.log.WithFields(logrus.Fields{"scope": scope, "documents": deleted}).Info("cleared scope")
	return deleted, nil
}

func (vs *VectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}
