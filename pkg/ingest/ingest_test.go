package ingest_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/sift/internal/models"
	"github.com/xhad/sift/pkg/ingest"
)

type fakeEmbedder struct {
	calls     int
	shortBy   int // return this many fewer vectors than texts
	failAfter int // fail once this many calls have happened (0 = never)
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.failAfter > 0 && f.calls > f.failAfter {
		return nil, errors.New("embedding service unavailable")
	}
	vectors := make([][]float32, 0, len(texts))
	for i := range texts[:len(texts)-f.shortBy] {
		vectors = append(vectors, []float32{float32(i), 1, 0, 0})
	}
	return vectors, nil
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0, 0, 0}, nil
}

type fakeInserter struct {
	nextDoc int64
	docs    []models.DocumentMeta
	chunks  [][]string
	err     error
}

func (f *fakeInserter) InsertDocumentWithChunks(_ context.Context, meta models.DocumentMeta, chunks []string, vectors [][]float32) (int64, []int64, error) {
	if f.err != nil {
		return 0, nil, f.err
	}
	if len(chunks) != len(vectors) {
		return 0, nil, errors.New("count mismatch reached the store")
	}
	f.nextDoc++
	f.docs = append(f.docs, meta)
	f.chunks = append(f.chunks, chunks)

	ids := make([]int64, len(chunks))
	for i := range ids {
		ids[i] = f.nextDoc*100 + int64(i)
	}
	return f.nextDoc, ids, nil
}

func newPipeline(t *testing.T, emb *fakeEmbedder, ins *fakeInserter) *ingest.Pipeline {
	t.Helper()
	p, err := ingest.NewWithConfig(emb, ins, ingest.PipelineConfig{
		ChunkSize:    32,
		ChunkOverlap: 8,
	})
	require.NoError(t, err)
	return p
}

func TestIngest_ChunksEmbedsAndPersists(t *testing.T) {
	emb := &fakeEmbedder{}
	ins := &fakeInserter{}
	p := newPipeline(t, emb, ins)

	text := strings.Repeat("all work and no play makes jack a dull boy. ", 5)
	docID, err := p.Ingest(context.Background(), text, models.DocumentMeta{
		Filename: "shining.txt",
		Scope:    "room-237",
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, docID)

	require.Len(t, ins.chunks, 1)
	assert.Greater(t, len(ins.chunks[0]), 1, "long text must produce several chunks")
	assert.Equal(t, "room-237", ins.docs[0].Scope)
}

func TestIngest_EmptyTextRejectedBeforeEmbedding(t *testing.T) {
	emb := &fakeEmbedder{}
	ins := &fakeInserter{}
	p := newPipeline(t, emb, ins)

	_, err := p.Ingest(context.Background(), "   \n ", models.DocumentMeta{Filename: "empty.txt"})
	require.Error(t, err)
	assert.Zero(t, emb.calls)
	assert.Empty(t, ins.docs)
}

func TestIngest_CountMismatchAbortsDocument(t *testing.T) {
	emb := &fakeEmbedder{shortBy: 1}
	ins := &fakeInserter{}
	p := newPipeline(t, emb, ins)

	text := strings.Repeat("several chunks worth of text here. ", 4)
	_, err := p.Ingest(context.Background(), text, models.DocumentMeta{Filename: "bad.txt"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embeddings")
	assert.Empty(t, ins.docs, "nothing may persist on a mismatch")
}

func TestIngestFile_StripsHTML(t *testing.T) {
	emb := &fakeEmbedder{}
	ins := &fakeInserter{}
	p := newPipeline(t, emb, ins)

	dir := t.TempDir()
	path := filepath.Join(dir, "page.html")
	html := `<html><head><style>body{color:red}</style></head>
		<body><h1>Title</h1><script>alert("no")</script><p>Real   content here.</p></body></html>`
	require.NoError(t, os.WriteFile(path, []byte(html), 0o644))

	_, err := p.IngestFile(context.Background(), path, "tenant")
	require.NoError(t, err)

	require.Len(t, ins.chunks, 1)
	joined := strings.Join(ins.chunks[0], " ")
	assert.Contains(t, joined, "Real content here.")
	assert.NotContains(t, joined, "alert")
	assert.NotContains(t, joined, "color:red")
	assert.Equal(t, "text/html", ins.docs[0].MimeType)
}

func TestIngestFile_UnsupportedExtension(t *testing.T) {
	p := newPipeline(t, &fakeEmbedder{}, &fakeInserter{})

	_, err := p.IngestFile(context.Background(), "report.pdf", "tenant")
	assert.Error(t, err)
}

func TestIngestDir_CollectsPerFileErrors(t *testing.T) {
	// The embedder dies after the first file; later files fail on their
	// own while earlier results stand.
	emb := &fakeEmbedder{failAfter: 1}
	ins := &fakeInserter{}
	p := newPipeline(t, emb, ins)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("first document"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("second document"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.bin"), []byte{0x1}, 0o644))

	results, err := p.IngestDir(context.Background(), dir, "tenant")
	require.NoError(t, err)
	require.Len(t, results, 2, "unsupported files are not reported")

	var ok, failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
		} else {
			ok++
			assert.Positive(t, r.DocumentID)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, failed)
}
