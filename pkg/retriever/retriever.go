package retriever

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/xhad/sift/internal/models"
	"github.com/xhad/sift/internal/types"
)

type RetrieverConfig struct {
	LSHEnabled  bool
	DefaultTopK int
	Logger      *logrus.Logger
}

// Searcher is the direct exact path into the primary store.
type Searcher interface {
	Search(ctx context.Context, vector []float32, scope string, topK int) ([]models.ScoredChunk, error)
}

// Retriever chooses between the approximate index and the direct store
// search. Callers never observe an index failure: any error on the LSH
// path downgrades to the direct path for the same inputs.
type Retriever struct {
	config RetrieverConfig
	index  types.Index
	store  Searcher
	log    *logrus.Logger
}

func NewWithConfig(index types.Index, store Searcher, config RetrieverConfig) (*Retriever, error) {
	if store == nil {
		return nil, fmt.Errorf("retriever requires a vector store")
	}
	if config.LSHEnabled && index == nil {
		return nil, fmt.Errorf("LSH mode enabled but no index provided")
	}
	if config.DefaultTopK == 0 {
		config.DefaultTopK = 5
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}

	return &Retriever{
		config: config,
		index:  index,
		store:  store,
		log:    config.Logger,
	}, nil
}

// Retrieve returns at most topK chunk IDs visible in scope, strictly
// ordered by descending similarity regardless of which path served them.
func (r *Retriever) Retrieve(ctx context.Context, vector []float32, scope string, topK int) ([]models.ScoredChunk, error) {
	if topK <= 0 {
		topK = r.config.DefaultTopK
	}

	if r.config.LSHEnabled {
		results, err := r.index.Query(ctx, vector, scope, topK)
		if err == nil {
			return results, nil
		}
		r.log.WithError(err).WithField("scope", scope).
			Warn("approximate index failed, falling back to direct search")
	}

	return r.store.Search(ctx, vector, scope, topK)
}
