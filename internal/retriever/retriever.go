// Package retriever selects the documents most relevant to a query.
package retriever

import (
	"context"
	"errors"
	"sort"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragkb/internal/ai"
	"github.com/xxxsen/ragkb/internal/model"
	appErr "github.com/xxxsen/ragkb/internal/pkg/errors"
	"github.com/xxxsen/ragkb/internal/store"
)

const (
	DefaultThreshold = 0.7
	DefaultTopK      = 5
)

type Options struct {
	// Threshold is the minimum similarity for vector retrieval.
	Threshold float32
	TopK      int
}

type Retriever struct {
	store    store.Store
	embedder ai.IEmbedder
	defaults Options
}

// New uses vector retrieval when st is a store.VectorStore and an embedder
// is available, lexical search otherwise.
func New(st store.Store, embedder ai.IEmbedder, defaults Options) *Retriever {
	if defaults.TopK <= 0 {
		defaults.TopK = DefaultTopK
	}
	return &Retriever{store: st, embedder: embedder, defaults: defaults}
}

func (r *Retriever) Mode() string {
	if r.vectorStore() != nil {
		return "vector"
	}
	return "lexical"
}

func (r *Retriever) vectorStore() store.VectorStore {
	vs, ok := r.store.(store.VectorStore)
	if !ok || r.embedder == nil {
		return nil
	}
	return vs
}

// Retrieve returns at most topK documents matching filter. Nil threshold or
// non-positive topK fall back to the configured defaults. An empty result is
// not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, filter model.Filter, threshold *float32, topK int) (model.RetrievalResult, error) {
	if topK <= 0 {
		topK = r.defaults.TopK
	}
	minScore := r.defaults.Threshold
	if threshold != nil {
		minScore = *threshold
	}
	logger := logutil.GetLogger(ctx).With(zap.String("mode", r.Mode()), zap.Int("top_k", topK))
	if vs := r.vectorStore(); vs != nil {
		result, err := r.retrieveVector(ctx, vs, query, filter, minScore, topK)
		if err != nil {
			return nil, err
		}
		fields := []zap.Field{zap.Int("hits", len(result))}
		if len(result) > 0 {
			fields = append(fields, zap.Float32("top_score", *result[0].Similarity))
		}
		logger.Debug("retrieve finished", fields...)
		return result, nil
	}
	docs, err := r.store.Search(ctx, query, filter, topK)
	if err != nil {
		return nil, err
	}
	result := make(model.RetrievalResult, 0, len(docs))
	for _, doc := range docs {
		if !filter.Match(doc) {
			continue
		}
		doc.Similarity = nil
		result = append(result, doc)
		if len(result) >= topK {
			break
		}
	}
	logger.Debug("retrieve finished", zap.Int("hits", len(result)))
	return result, nil
}

func (r *Retriever) retrieveVector(ctx context.Context, vs store.VectorStore, query string, filter model.Filter, threshold float32, topK int) (model.RetrievalResult, error) {
	vec, err := r.embedder.Embed(ctx, query, ai.TaskRetrievalQuery)
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, appErr.Embedding("embed query", errors.New("empty query embedding"))
	}
	hits, err := vs.SearchByVector(ctx, vec, filter, threshold, topK)
	if err != nil {
		return nil, err
	}
	// backends rank natively; re-check so the contract holds for all of them
	result := make(model.RetrievalResult, 0, len(hits))
	for _, doc := range hits {
		if doc.Similarity == nil || *doc.Similarity < threshold || !filter.Match(doc) {
			continue
		}
		result = append(result, doc)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return *result[i].Similarity > *result[j].Similarity
	})
	if len(result) > topK {
		result = result[:topK]
	}
	return result, nil
}
