package lsh

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/xhad/sift/internal/models"
	"github.com/xhad/sift/internal/types"
	"github.com/xhad/sift/pkg/retry"
)

type IndexerConfig struct {
	Dimension      int
	NumPerm        int     // total signature bits
	Bands          int     // NumPerm/Bands bits per band
	Threshold      float64 // inclusive similarity floor for reranked results
	KeyPrefix      string  // isolates deployments sharing one Redis
	CandidateLimit int     // fixed over-fetch, independent of topK
	BatchSize      int     // chunks per bucket write
	Retry          retry.Policy
	Logger         *logrus.Logger
}

// Indexer maintains and queries the approximate index. The bucket store
// is derived state: it can be flushed and rebuilt from the primary store
// at any time by re-running IndexUnindexed after clearing indexed flags.
type Indexer struct {
	config  IndexerConfig
	hasher  *hasher
	buckets *RedisBuckets
	source  types.IndexSource
	fetcher types.VectorFetcher
	log     *logrus.Logger
}

func NewIndexerWithConfig(client *redis.Client, source types.IndexSource, fetcher types.VectorFetcher, config IndexerConfig) (*Indexer, error) {
	if config.Dimension == 0 {
		config.Dimension = 768
	}
	if config.NumPerm == 0 {
		config.NumPerm = 256
	}
	if config.Bands == 0 {
		config.Bands = 16
	}
	if config.CandidateLimit == 0 {
		config.CandidateLimit = 50
	}
	if config.BatchSize == 0 {
		config.BatchSize = 1000
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "sift:lsh"
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry = retry.DefaultPolicy()
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}
	if config.Threshold < 0 || config.Threshold > 1 {
		return nil, fmt.Errorf("threshold must be in [0,1], got %v", config.Threshold)
	}

	h, err := newHasher(config.Dimension, config.NumPerm, config.Bands, config.KeyPrefix)
	if err != nil {
		return nil, err
	}

	return &Indexer{
		config:  config,
		hasher:  h,
		buckets: NewRedisBuckets(client, config.KeyPrefix, config.Retry),
		source:  source,
		fetcher: fetcher,
		log:     config.Logger,
	}, nil
}

// IndexUnindexed scans the primary store for chunks of documents not yet
// marked indexed and writes their signatures, one document at a time. A
// document is marked indexed only after every one of its chunks has been
// written; on any failure the document keeps its unindexed flag and the
// whole document is retried on the next run. Bucket writes are set
// insertions, so the rerun writes no duplicates.
//
// One failing document never stops the scan; its error is collected and
// the remaining documents proceed.
func (ix *Indexer) IndexUnindexed(ctx context.Context, scope string) (int, error) {
	pending, err := ix.source.UnindexedChunks(ctx, scope)
	if err != nil {
		return 0, fmt.Errorf("failed to list unindexed chunks: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	ix.log.WithFields(logrus.Fields{"chunks": len(pending), "scope": scope}).
		Info("starting index scan")

	// Group by parent document, preserving scan order.
	byDoc := make(map[int64][]models.ChunkVector)
	var docOrder []int64
	for _, cv := range pending {
		if _, seen := byDoc[cv.DocumentID]; !seen {
			docOrder = append(docOrder, cv.DocumentID)
		}
		byDoc[cv.DocumentID] = append(byDoc[cv.DocumentID], cv)
	}

	indexed := 0
	var docErrs []error

	for _, docID := range docOrder {
		chunks := byDoc[docID]
		if err := ix.indexDocument(ctx, chunks); err != nil {
			docErrs = append(docErrs, fmt.Errorf("document %d: %w", docID, err))
			ix.log.WithError(err).WithField("document", docID).
				Warn("document left unindexed, will retry on next scan")
			continue
		}

		if err := ix.source.MarkDocumentIndexed(ctx, docID); err != nil {
			docErrs = append(docErrs, fmt.Errorf("document %d: %w", docID, err))
			ix.log.WithError(err).WithField("document", docID).
				Warn("failed to mark document indexed")
			continue
		}

		indexed += len(chunks)
		ix.log.WithFields(logrus.Fields{"document": docID, "chunks": len(chunks)}).
			Debug("document indexed")
	}

	return indexed, errors.Join(docErrs...)
}

func (ix *Indexer) indexDocument(ctx context.Context, chunks []models.ChunkVector) error {
	for start := 0; start < len(chunks); start += ix.config.BatchSize {
		end := start + ix.config.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		entries := make([]bucketEntry, 0, end-start)
		for _, cv := range chunks[start:end] {
			values, err := ix.hasher.bandValues(cv.Vector)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", cv.ID, err)
			}
			entries = append(entries, bucketEntry{id: cv.ID, values: values})
		}

		if err := ix.buckets.AddBatch(ctx, entries); err != nil {
			return err
		}
	}
	return nil
}

// IndexNew is the incremental path for chunks ingested outside a bulk
// scan. Same signature and write semantics as the scan.
func (ix *Indexer) IndexNew(ctx context.Context, ids []int64, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("id count %d does not match vector count %d", len(ids), len(vectors))
	}

	entries := make([]bucketEntry, 0, len(ids))
	for i, id := range ids {
		values, err := ix.hasher.bandValues(vectors[i])
		if err != nil {
			return fmt.Errorf("chunk %d: %w", id, err)
		}
		entries = append(entries, bucketEntry{id: id, values: values})
	}

	return ix.buckets.AddBatch(ctx, entries)
}

// Query retrieves a fixed over-fetch of approximate candidates, reranks
// them against exact vectors from the primary store and returns at most
// topK results with similarity at or above the threshold, descending.
// Ties sort by ascending chunk ID so results are deterministic.
//
// Candidates whose exact vectors cannot be fetched (deleted, out of
// scope) are silently dropped: partial results beat total failure.
func (ix *Indexer) Query(ctx context.Context, vector []float32, scope string, topK int) ([]models.ScoredChunk, error) {
	if topK <= 0 {
		return []models.ScoredChunk{}, nil
	}

	values, err := ix.hasher.bandValues(vector)
	if err != nil {
		return nil, err
	}

	candidates, err := ix.buckets.Candidates(ctx, values, ix.config.CandidateLimit)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []models.ScoredChunk{}, nil
	}

	exact, err := ix.fetcher.FetchVectors(ctx, candidates, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candidate vectors: %w", err)
	}
	if len(exact) < len(candidates) {
		ix.log.WithFields(logrus.Fields{
			"candidates": len(candidates),
			"fetched":    len(exact),
		}).Warn("dropped candidates with unfetchable vectors")
	}

	threshold := float32(ix.config.Threshold)
	scored := make([]models.ScoredChunk, 0, len(exact))
	for _, cv := range exact {
		sim := Cosine(vector, cv.Vector)
		if sim >= threshold {
			scored = append(scored, models.ScoredChunk{ID: cv.ID, Similarity: sim})
		}
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].ID < scored[j].ID
	})

	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}
