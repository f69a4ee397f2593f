package store

import (
	"context"
	"sort"
	"sync"

	"github.com/xxxsen/ragkb/internal/ai"
	"github.com/xxxsen/ragkb/internal/model"
	appErr "github.com/xxxsen/ragkb/internal/pkg/errors"
)

// MemoryStore keeps documents in process and searches them by brute-force
// cosine similarity. It embeds on write when an embedder is set.
type MemoryStore struct {
	mu       sync.RWMutex
	docs     map[string]*model.Document
	embedder ai.IEmbedder
}

func init() {
	Register("memory", func(deps Deps, args interface{}) (Store, error) {
		return NewMemoryStore(deps.Embedder), nil
	})
}

func NewMemoryStore(embedder ai.IEmbedder) *MemoryStore {
	return &MemoryStore{
		docs:     make(map[string]*model.Document),
		embedder: embedder,
	}
}

func (s *MemoryStore) Name() string {
	return "memory"
}

func (s *MemoryStore) Create(ctx context.Context, in *model.DocumentInput) (*model.Document, error) {
	doc, err := newDocument(in)
	if err != nil {
		return nil, err
	}
	if s.embedder != nil {
		if err := ensureEmbedding(ctx, s.embedder, doc); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	s.docs[doc.ID] = doc.Clone()
	s.mu.Unlock()
	return doc, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	return doc.Clone(), nil
}

// sorted returns clones ordered by created_at desc, id desc.
func (s *MemoryStore) sorted(keep func(*model.Document) bool) []*model.Document {
	s.mu.RLock()
	out := make([]*model.Document, 0, len(s.docs))
	for _, doc := range s.docs {
		if keep(doc) {
			out = append(out, doc.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (s *MemoryStore) List(ctx context.Context, q *model.ListQuery) ([]*model.Document, int64, error) {
	if q == nil {
		q = &model.ListQuery{}
	}
	limit, offset, err := pageBounds(q.Limit, q.Offset)
	if err != nil {
		return nil, 0, err
	}
	matched := s.sorted(func(doc *model.Document) bool {
		return q.Filter.Match(doc) && matchesSearch(doc, q.Search)
	})
	return paginate(matched, limit, offset), int64(len(matched)), nil
}

func (s *MemoryStore) Search(ctx context.Context, query string, filter model.Filter, limit int) ([]*model.Document, error) {
	limit = clampSearchLimit(limit)
	matched := s.sorted(func(doc *model.Document) bool {
		return filter.Match(doc) && matchesSearch(doc, query)
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, patch *model.DocumentPatch) (*model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.docs[id]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	doc := current.Clone()
	changed, err := applyPatch(doc, patch)
	if err != nil {
		return nil, err
	}
	if changed && s.embedder != nil {
		if err := reembed(ctx, s.embedder, doc); err != nil {
			return nil, err
		}
	}
	s.docs[id] = doc
	return doc.Clone(), nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return false, nil
	}
	delete(s.docs, id)
	return true, nil
}

func (s *MemoryStore) SearchByVector(ctx context.Context, vec []float32, filter model.Filter, threshold float32, limit int) (model.RetrievalResult, error) {
	s.mu.RLock()
	result := make(model.RetrievalResult, 0)
	for _, doc := range s.docs {
		if len(doc.Embedding) == 0 || !filter.Match(doc) {
			continue
		}
		score := cosineSimilarity(doc.Embedding, vec)
		if score < threshold {
			continue
		}
		result = append(result, withScore(doc, score))
	}
	s.mu.RUnlock()
	sort.SliceStable(result, func(i, j int) bool {
		if *result[i].Similarity != *result[j].Similarity {
			return *result[i].Similarity > *result[j].Similarity
		}
		return result[i].ID < result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) ListStale(ctx context.Context, modelName string, limit int) ([]*model.Document, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	stale := s.sorted(func(doc *model.Document) bool {
		return len(doc.Embedding) == 0 || doc.EmbeddingModel != modelName
	})
	// oldest first, like the relational backends
	for i, j := 0, len(stale)-1; i < j; i, j = i+1, j-1 {
		stale[i], stale[j] = stale[j], stale[i]
	}
	if len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

func (s *MemoryStore) SetEmbedding(ctx context.Context, id, content string, vec []float32, modelName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok || doc.Content != content {
		return false, nil
	}
	doc.Embedding = append([]float32(nil), vec...)
	doc.EmbeddingModel = modelName
	return true, nil
}
