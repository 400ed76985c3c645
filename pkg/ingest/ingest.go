package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/xhad/sift/internal/models"
	"github.com/xhad/sift/internal/types"
	"github.com/xhad/sift/pkg/chunker"
)

// Inserter is the one write the pipeline needs from the primary store.
type Inserter interface {
	InsertDocumentWithChunks(ctx context.Context, meta models.DocumentMeta, chunks []string, vectors [][]float32) (int64, []int64, error)
}

type PipelineConfig struct {
	ChunkSize    int
	ChunkOverlap int
	Logger       *logrus.Logger
}

// Pipeline runs chunk -> embed -> persist for one document at a time.
// Indexing into the approximate index is decoupled: freshly ingested
// documents are served by the direct search path until the next scan
// picks them up.
type Pipeline struct {
	config   PipelineConfig
	chunker  *chunker.Chunker
	embedder types.Embedder
	store    Inserter
	log      *logrus.Logger
}

func NewWithConfig(embedder types.Embedder, store Inserter, config PipelineConfig) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("pipeline requires an embedder")
	}
	if store == nil {
		return nil, fmt.Errorf("pipeline requires a store")
	}
	if config.ChunkSize == 0 {
		config.ChunkSize = 1000
	}
	if config.ChunkOverlap == 0 && config.ChunkSize > 200 {
		config.ChunkOverlap = 200
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}

	c, err := chunker.NewWithConfig(chunker.ChunkerConfig{
		ChunkSize:    config.ChunkSize,
		ChunkOverlap: config.ChunkOverlap,
	})
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		config:   config,
		chunker:  c,
		embedder: embedder,
		store:    store,
		log:      config.Logger,
	}, nil
}

// Ingest chunks the text, embeds every chunk and persists the document
// atomically. A chunk/embedding count mismatch aborts the document whole;
// nothing half-ingested ever lands.
func (p *Pipeline) Ingest(ctx context.Context, text string, meta models.DocumentMeta) (int64, error) {
	chunks := p.chunker.Split(text)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("document %q has no content", meta.Filename)
	}

	vectors, err := p.embedder.EmbedDocuments(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("failed to embed %q: %w", meta.Filename, err)
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("document %q: %d chunks but %d embeddings", meta.Filename, len(chunks), len(vectors))
	}

	docID, chunkIDs, err := p.store.InsertDocumentWithChunks(ctx, meta, chunks, vectors)
	if err != nil {
		return 0, fmt.Errorf("failed to persist %q: %w", meta.Filename, err)
	}

	p.log.WithFields(logrus.Fields{
		"document": docID,
		"chunks":   len(chunkIDs),
		"file":     meta.Filename,
	}).Info("ingested document")

	return docID, nil
}

var mimeTypes = map[string]string{
	".txt":      "text/plain",
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".html":     "text/html",
	".htm":      "text/html",
}

// Supported reports whether the pipeline knows how to read the file.
func Supported(path string) bool {
	_, ok := mimeTypes[strings.ToLower(filepath.Ext(path))]
	return ok
}

// IngestFile reads one file and ingests it. HTML files have their markup
// stripped before chunking.
func (p *Pipeline) IngestFile(ctx context.Context, path, scope string) (int64, error) {
	ext := strings.ToLower(filepath.Ext(path))
	mime, ok := mimeTypes[ext]
	if !ok {
		return 0, fmt.Errorf("unsupported file type %q", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", path, err)
	}

	text := string(data)
	if mime == "text/html" {
		text, err = extractHTMLText(text)
		if err != nil {
			return 0, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	return p.Ingest(ctx, text, models.DocumentMeta{
		Filename: filepath.Base(path),
		MimeType: mime,
		Scope:    scope,
	})
}

// FileResult reports the outcome for one file in a directory ingest.
type FileResult struct {
	Path       string
	DocumentID int64
	Err        error
}

// IngestDir ingests every supported file under dir. Failures are
// collected per file; one broken document never aborts the rest.
func (p *Pipeline) IngestDir(ctx context.Context, dir, scope string) ([]FileResult, error) {
	var results []FileResult

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !Supported(path) {
			return nil
		}

		docID, err := p.IngestFile(ctx, path, scope)
		if err != nil {
			p.log.WithError(err).WithField("file", path).Warn("skipping file")
		}
		results = append(results, FileResult{Path: path, DocumentID: docID, Err: err})
		return nil
	})
	if err != nil {
		return results, fmt.Errorf("failed to walk %s: %w", dir, err)
	}

	return results, nil
}

func extractHTMLText(raw string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return "", err
	}

	doc.Find("script, style, noscript").Remove()
	text := doc.Find("body").Text()
	if strings.TrimSpace(text) == "" {
		text = doc.Text()
	}

	return strings.Join(strings.Fields(text), " "), nil
}
