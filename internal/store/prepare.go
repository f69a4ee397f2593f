package store

import (
	"context"
	"math"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/xxxsen/ragkb/internal/ai"
	"github.com/xxxsen/ragkb/internal/model"
	appErr "github.com/xxxsen/ragkb/internal/pkg/errors"
	"github.com/xxxsen/ragkb/internal/pkg/textutil"
	"github.com/xxxsen/ragkb/internal/pkg/timeutil"
)

const (
	fallbackTitleChars = 80
	defaultListLimit   = 20
)

// MaxListLimit is the largest page List accepts.
const MaxListLimit = 200

// newDocument validates and normalizes input into a document with a fresh id
// and timestamps.
func newDocument(in *model.DocumentInput) (*model.Document, error) {
	if in == nil {
		return nil, appErr.Invalid("document is required")
	}
	content := textutil.Normalize(in.Content)
	if content == "" {
		return nil, appErr.Invalid("document content is empty")
	}
	now := timeutil.NowUnixMilli()
	doc := &model.Document{
		ID:             uuid.NewString(),
		Title:          strings.TrimSpace(in.Title),
		Content:        content,
		Category:       strings.TrimSpace(in.Category),
		EmergencyType:  strings.TrimSpace(in.EmergencyType),
		Tags:           normalizeTags(in.Tags),
		Metadata:       copyMetadata(in.Metadata),
		Embedding:      append([]float32(nil), in.Embedding...),
		EmbeddingModel: in.EmbeddingModel,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if doc.Title == "" {
		doc.Title = textutil.Truncate(content, fallbackTitleChars)
	}
	if doc.Category == "" {
		doc.Category = model.DefaultCategory
	}
	if len(doc.Embedding) == 0 {
		doc.Embedding = nil
		doc.EmbeddingModel = ""
	}
	return doc, nil
}

// applyPatch mutates doc in place and reports whether the content changed.
func applyPatch(doc *model.Document, patch *model.DocumentPatch) (bool, error) {
	if patch == nil {
		return false, nil
	}
	contentChanged := false
	if patch.Content != nil {
		content := textutil.Normalize(*patch.Content)
		if content == "" {
			return false, appErr.Invalid("document content is empty")
		}
		if content != doc.Content {
			doc.Content = content
			contentChanged = true
		}
	}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			title = textutil.Truncate(doc.Content, fallbackTitleChars)
		}
		doc.Title = title
	}
	if patch.Category != nil {
		category := strings.TrimSpace(*patch.Category)
		if category == "" {
			category = model.DefaultCategory
		}
		doc.Category = category
	}
	if patch.EmergencyType != nil {
		doc.EmergencyType = strings.TrimSpace(*patch.EmergencyType)
	}
	if patch.Tags != nil {
		doc.Tags = normalizeTags(*patch.Tags)
	}
	if patch.Metadata != nil {
		doc.Metadata = copyMetadata(patch.Metadata)
	}
	doc.UpdatedAt = timeutil.NowUnixMilli()
	return contentChanged, nil
}

// normalizeTags trims and de-duplicates tags keeping first occurrence order.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

func copyMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// ensureEmbedding fills doc.Embedding through the embedder unless the caller
// supplied one.
func ensureEmbedding(ctx context.Context, embedder ai.IEmbedder, doc *model.Document) error {
	if len(doc.Embedding) > 0 {
		return nil
	}
	return reembed(ctx, embedder, doc)
}

func reembed(ctx context.Context, embedder ai.IEmbedder, doc *model.Document) error {
	if embedder == nil {
		return appErr.Embedding("embed document", ai.ErrUnavailable)
	}
	vec, err := embedder.Embed(ctx, doc.Content, ai.TaskRetrievalDocument)
	if err != nil {
		return err
	}
	doc.Embedding = vec
	doc.EmbeddingModel = embedder.ModelName()
	return nil
}

func matchesSearch(doc *model.Document, needle string) bool {
	if needle == "" {
		return true
	}
	needle = strings.ToLower(needle)
	return strings.Contains(strings.ToLower(doc.Title), needle) ||
		strings.Contains(strings.ToLower(doc.Content), needle)
}

func pageBounds(limit, offset int) (int, int, error) {
	if limit > MaxListLimit {
		return 0, 0, appErr.Invalid("limit must not exceed %d, got %d", MaxListLimit, limit)
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset, nil
}

func paginate(docs []*model.Document, limit, offset int) []*model.Document {
	if offset >= len(docs) {
		return []*model.Document{}
	}
	end := offset + limit
	if end > len(docs) {
		end = len(docs)
	}
	return docs[offset:end]
}

func filterDocs(docs []*model.Document, filter model.Filter) []*model.Document {
	if filter.IsEmpty() {
		return docs
	}
	out := docs[:0]
	for _, doc := range docs {
		if filter.Match(doc) {
			out = append(out, doc)
		}
	}
	return out
}

func clampSearchLimit(limit int) int {
	if limit <= 0 || limit > MaxSearchResults {
		return MaxSearchResults
	}
	return limit
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

func withScore(doc *model.Document, score float32) *model.Document {
	out := doc.Clone()
	out.Similarity = &score
	return out
}

// keyedMutex serializes work per document id.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
