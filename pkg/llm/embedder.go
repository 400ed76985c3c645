package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms/ollama"
	"golang.org/x/time/rate"

	"github.com/xhad/sift/pkg/retry"
)

// ErrEmbeddingUnavailable is returned once the retry policy is exhausted
// against the embedding server.
var ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

// ErrEmptyQuery rejects blank query text before any network call.
var ErrEmptyQuery = errors.New("query text cannot be empty")

type EmbedderConfig struct {
	Model     string
	BaseURL   string // Ollama server URL
	Dimension int
	BatchSize int
	RateLimit float64 // requests per second against the embedding server
	Retry     retry.Policy
	Logger    *logrus.Logger
}

// Embedder is the gateway to the embedding model. Every vector it returns
// has exactly Dimension components; anything else from the server is a
// contract violation and is not retried.
type Embedder struct {
	config  EmbedderConfig
	llm     *ollama.LLM
	limiter *rate.Limiter
	log     *logrus.Logger
}

func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	if config.Model == "" {
		config.Model = "nomic-embed-text:latest"
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Dimension == 0 {
		config.Dimension = 768
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry = retry.DefaultPolicy()
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}

	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}

	emb, err := ollama.New(
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding model: %w", err)
	}

	return &Embedder{
		config:  config,
		llm:     emb,
		limiter: rate.NewLimiter(limit, 1),
		log:     config.Logger,
	}, nil
}

// EmbedDocuments embeds texts in fixed-size batches, retrying each batch
// with the shared backoff policy.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	all := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		vectors, err := e.embedBatch(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("batch starting at %d: %w", start, err)
		}
		all = append(all, vectors...)

		e.log.WithFields(logrus.Fields{
			"batch": len(batch),
			"total": len(all),
		}).Debug("embedded batch")
	}

	return all, nil
}

// EmbedQuery embeds a single query text.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyQuery
	}

	vectors, err := e.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *Embedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var vectors [][]float32

	err := e.config.Retry.Do(ctx, func() error {
		if err := e.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}

		result, err := e.llm.CreateEmbedding(ctx, batch)
		if err != nil {
			e.log.WithError(err).Warn("embedding request failed")
			return err
		}
		if len(result) != len(batch) {
			return retry.Permanent(fmt.Errorf(
				"embedding count mismatch: sent %d texts, got %d vectors", len(batch), len(result)))
		}
		for i, v := range result {
			if len(v) != e.config.Dimension {
				return retry.Permanent(fmt.Errorf(
					"vector %d has dimension %d, want %d", i, len(v), e.config.Dimension))
			}
		}

		vectors = result
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ErrEmbeddingUnavailable, err)
	}

	return vectors, nil
}
