package retriever_test

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/sift/internal/models"
	"github.com/xhad/sift/pkg/lsh"
	"github.com/xhad/sift/pkg/retriever"
	"github.com/xhad/sift/pkg/retry"
)

type fakeIndex struct {
	results []models.ScoredChunk
	err     error
	calls   int
}

func (f *fakeIndex) Query(_ context.Context, _ []float32, _ string, topK int) ([]models.ScoredChunk, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.results) > topK {
		return f.results[:topK], nil
	}
	return f.results, nil
}

type fakeStore struct {
	results []models.ScoredChunk
	calls   int
}

func (f *fakeStore) Search(_ context.Context, _ []float32, _ string, topK int) ([]models.ScoredChunk, error) {
	f.calls++
	if len(f.results) > topK {
		return f.results[:topK], nil
	}
	return f.results, nil
}

func scored(pairs ...models.ScoredChunk) []models.ScoredChunk { return pairs }

func TestRetrieve_DirectPathWhenDisabled(t *testing.T) {
	index := &fakeIndex{results: scored(models.ScoredChunk{ID: 1, Similarity: 0.9})}
	store := &fakeStore{results: scored(models.ScoredChunk{ID: 2, Similarity: 0.8})}

	r, err := retriever.NewWithConfig(index, store, retriever.RetrieverConfig{LSHEnabled: false})
	require.NoError(t, err)

	results, err := r.Retrieve(context.Background(), []float32{1, 0}, "tenant", 5)
	require.NoError(t, err)
	assert.Equal(t, store.results, results)
	assert.Zero(t, index.calls, "disabled index must never be queried")
	assert.Equal(t, 1, store.calls)
}

func TestRetrieve_LSHPathWhenEnabled(t *testing.T) {
	index := &fakeIndex{results: scored(
		models.ScoredChunk{ID: 3, Similarity: 0.95},
		models.ScoredChunk{ID: 1, Similarity: 0.85},
	)}
	store := &fakeStore{}

	r, err := retriever.NewWithConfig(index, store, retriever.RetrieverConfig{LSHEnabled: true})
	require.NoError(t, err)

	results, err := r.Retrieve(context.Background(), []float32{1, 0}, "tenant", 5)
	require.NoError(t, err)
	assert.Equal(t, index.results, results)
	assert.Zero(t, store.calls)
}

func TestRetrieve_FallsBackOnIndexFailure(t *testing.T) {
	index := &fakeIndex{err: errors.New("bucket store unreachable")}
	store := &fakeStore{results: scored(
		models.ScoredChunk{ID: 7, Similarity: 0.9},
		models.ScoredChunk{ID: 2, Similarity: 0.6},
	)}

	r, err := retriever.NewWithConfig(index, store, retriever.RetrieverConfig{LSHEnabled: true})
	require.NoError(t, err)

	results, err := r.Retrieve(context.Background(), []float32{1, 0}, "tenant", 2)
	require.NoError(t, err, "callers never observe the LSH failure")
	assert.Equal(t, store.results, results)
	assert.Equal(t, 1, index.calls)
	assert.Equal(t, 1, store.calls)
}

func TestRetrieve_DefaultTopK(t *testing.T) {
	store := &fakeStore{results: scored(
		models.ScoredChunk{ID: 1, Similarity: 0.9},
		models.ScoredChunk{ID: 2, Similarity: 0.8},
		models.ScoredChunk{ID: 3, Similarity: 0.7},
	)}

	r, err := retriever.NewWithConfig(nil, store, retriever.RetrieverConfig{DefaultTopK: 2})
	require.NoError(t, err)

	results, err := r.Retrieve(context.Background(), []float32{1, 0}, "tenant", 0)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestNewWithConfig_RequiresIndexWhenEnabled(t *testing.T) {
	_, err := retriever.NewWithConfig(nil, &fakeStore{}, retriever.RetrieverConfig{LSHEnabled: true})
	assert.Error(t, err)

	_, err = retriever.NewWithConfig(&fakeIndex{}, nil, retriever.RetrieverConfig{})
	assert.Error(t, err)
}

type staticFetcher struct {
	vectors map[int64][]float32
}

func (f *staticFetcher) FetchVectors(_ context.Context, ids []int64, _ string) ([]models.ChunkVector, error) {
	var out []models.ChunkVector
	for _, id := range ids {
		if v, ok := f.vectors[id]; ok {
			out = append(out, models.ChunkVector{ID: id, Vector: v})
		}
	}
	return out, nil
}

type staticSource struct{}

func (staticSource) UnindexedChunks(_ context.Context, _ string) ([]models.ChunkVector, error) {
	return nil, nil
}
func (staticSource) MarkDocumentIndexed(_ context.Context, _ int64) error { return nil }

// A dead bucket store must be invisible: retrieval serves exactly what
// the direct path would for the same query and topK.
func TestRetrieve_BucketOutageMatchesDirectPath(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	query := []float32{1, 0, 0, 0}
	fetcher := &staticFetcher{vectors: map[int64][]float32{
		1: {1, 0.2, 0, 0},
		2: {1, 0.5, 0, 0},
	}}

	ix, err := lsh.NewIndexerWithConfig(client, staticSource{}, fetcher, lsh.IndexerConfig{
		Dimension: 4,
		NumPerm:   32,
		Bands:     8,
		KeyPrefix: "test:fallback",
		Retry:     retry.Policy{MaxAttempts: 1, BaseDelay: 0, Multiplier: 1},
	})
	require.NoError(t, err)
	require.NoError(t, ix.IndexNew(context.Background(), []int64{1, 2}, [][]float32{query, query}))

	store := &fakeStore{results: scored(
		models.ScoredChunk{ID: 1, Similarity: 0.98},
		models.ScoredChunk{ID: 2, Similarity: 0.89},
	)}

	r, err := retriever.NewWithConfig(ix, store, retriever.RetrieverConfig{LSHEnabled: true})
	require.NoError(t, err)

	direct, err := store.Search(context.Background(), query, "tenant", 2)
	require.NoError(t, err)

	mr.SetError("connection reset")
	got, err := r.Retrieve(context.Background(), query, "tenant", 2)
	require.NoError(t, err)
	assert.Equal(t, direct, got)
}
