package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragkb/internal/ai"
	"github.com/xxxsen/ragkb/internal/model"
	appErr "github.com/xxxsen/ragkb/internal/pkg/errors"
)

type qdrantConfig struct {
	URL        string `json:"url"`
	APIKey     string `json:"api_key"`
	Collection string `json:"collection"`
	Dimension  int    `json:"dimension"`
}

// qdrantStore talks to the Qdrant REST API. Point ids are the document ids;
// everything but the vector lives in the payload.
type qdrantStore struct {
	url        string
	apiKey     string
	collection string
	dimension  int
	client     *http.Client
	embedder   ai.IEmbedder
	locks      *keyedMutex
}

type qdrantPayload struct {
	Title          string            `json:"title"`
	Content        string            `json:"content"`
	Category       string            `json:"category"`
	EmergencyType  string            `json:"emergency_type"`
	Tags           []string          `json:"tags"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	EmbeddingModel string            `json:"embedding_model"`
	CreatedAt      int64             `json:"created_at"`
	UpdatedAt      int64             `json:"updated_at"`
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Score   float32        `json:"score,omitempty"`
	Vector  []float32      `json:"vector,omitempty"`
	Payload *qdrantPayload `json:"payload,omitempty"`
}

type qdrantError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *qdrantError) Error() string {
	return fmt.Sprintf("qdrant %s %s failed: %d %s", e.Method, e.Path, e.StatusCode, e.Body)
}

func init() {
	Register("qdrant", createQdrantStore)
}

func createQdrantStore(deps Deps, args interface{}) (Store, error) {
	cfg := &qdrantConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if cfg.URL == "" {
		return nil, appErr.Config("qdrant url is required")
	}
	if cfg.Dimension <= 0 {
		return nil, appErr.Config("qdrant store requires a positive dimension")
	}
	if cfg.Collection == "" {
		cfg.Collection = "documents"
	}
	s := &qdrantStore{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		client:     &http.Client{Timeout: deps.Timeout},
		embedder:   deps.Embedder,
		locks:      newKeyedMutex(),
	}
	if err := s.init(context.Background()); err != nil {
		return nil, appErr.Store("init", cfg.Collection, err)
	}
	return s, nil
}

func (s *qdrantStore) Name() string {
	return "qdrant"
}

func (s *qdrantStore) collectionPath(suffix string) string {
	return "/collections/" + s.collection + suffix
}

func (s *qdrantStore) init(ctx context.Context) error {
	err := s.do(ctx, http.MethodGet, s.collectionPath(""), nil, nil)
	if isQdrantNotFound(err) {
		body := map[string]interface{}{
			"vectors": map[string]interface{}{
				"size":     s.dimension,
				"distance": "Cosine",
			},
		}
		err = s.do(ctx, http.MethodPut, s.collectionPath(""), body, nil)
	}
	if err != nil {
		return err
	}
	indexes := []map[string]interface{}{
		{"field_name": "created_at", "field_schema": "integer"},
		{"field_name": "category", "field_schema": "keyword"},
		{"field_name": "emergency_type", "field_schema": "keyword"},
		{"field_name": "embedding_model", "field_schema": "keyword"},
		{"field_name": "title", "field_schema": map[string]interface{}{"type": "text", "tokenizer": "word", "lowercase": true}},
		{"field_name": "content", "field_schema": map[string]interface{}{"type": "text", "tokenizer": "word", "lowercase": true}},
	}
	for _, index := range indexes {
		if err := s.do(ctx, http.MethodPut, s.collectionPath("/index?wait=true"), index, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *qdrantStore) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.url+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &qdrantError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func isQdrantNotFound(err error) bool {
	var qe *qdrantError
	return errors.As(err, &qe) && qe.StatusCode == http.StatusNotFound
}

func toPayload(doc *model.Document) *qdrantPayload {
	return &qdrantPayload{
		Title:          doc.Title,
		Content:        doc.Content,
		Category:       doc.Category,
		EmergencyType:  doc.EmergencyType,
		Tags:           doc.Tags,
		Metadata:       doc.Metadata,
		EmbeddingModel: doc.EmbeddingModel,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
}

func fromPoint(p *qdrantPoint) *model.Document {
	doc := &model.Document{ID: p.ID, Embedding: p.Vector}
	if p.Payload != nil {
		doc.Title = p.Payload.Title
		doc.Content = p.Payload.Content
		doc.Category = p.Payload.Category
		doc.EmergencyType = p.Payload.EmergencyType
		doc.Tags = p.Payload.Tags
		doc.Metadata = p.Payload.Metadata
		doc.EmbeddingModel = p.Payload.EmbeddingModel
		doc.CreatedAt = p.Payload.CreatedAt
		doc.UpdatedAt = p.Payload.UpdatedAt
	}
	if doc.Tags == nil {
		doc.Tags = []string{}
	}
	return doc
}

func matchCond(key, value string) map[string]interface{} {
	return map[string]interface{}{"key": key, "match": map[string]interface{}{"value": value}}
}

// buildFilter converts a document filter plus an optional text query into a
// Qdrant filter. It returns nil when nothing restricts the result. The text
// query uses Qdrant full-text matching on the indexed title and content, so
// it matches whole tokens rather than arbitrary substrings.
func buildFilter(filter model.Filter, text string) map[string]interface{} {
	must := make([]interface{}, 0, 3)
	if filter.Category != "" {
		must = append(must, matchCond("category", filter.Category))
	}
	if filter.EmergencyType != "" {
		must = append(must, matchCond("emergency_type", filter.EmergencyType))
	}
	for k, v := range filter.Metadata {
		must = append(must, matchCond("metadata."+k, v))
	}
	if text != "" {
		must = append(must, map[string]interface{}{
			"should": []interface{}{
				map[string]interface{}{"key": "title", "match": map[string]interface{}{"text": text}},
				map[string]interface{}{"key": "content", "match": map[string]interface{}{"text": text}},
			},
		})
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]interface{}{"must": must}
}

func (s *qdrantStore) upsert(ctx context.Context, doc *model.Document) error {
	if len(doc.Embedding) == 0 {
		return appErr.Embedding("upsert", fmt.Errorf("document %s has no embedding", doc.ID))
	}
	body := map[string]interface{}{
		"points": []qdrantPoint{{ID: doc.ID, Vector: doc.Embedding, Payload: toPayload(doc)}},
	}
	return s.do(ctx, http.MethodPut, s.collectionPath("/points?wait=true"), body, nil)
}

func (s *qdrantStore) Create(ctx context.Context, in *model.DocumentInput) (*model.Document, error) {
	doc, err := newDocument(in)
	if err != nil {
		return nil, err
	}
	if err := ensureEmbedding(ctx, s.embedder, doc); err != nil {
		return nil, err
	}
	if err := s.upsert(ctx, doc); err != nil {
		return nil, appErr.Store("create", doc.ID, err)
	}
	return doc, nil
}

func (s *qdrantStore) fetch(ctx context.Context, id string) (*model.Document, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, appErr.ErrNotFound
	}
	body := map[string]interface{}{
		"ids":          []string{id},
		"with_payload": true,
		"with_vector":  true,
	}
	var resp struct {
		Result []qdrantPoint `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionPath("/points"), body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Result) == 0 {
		return nil, appErr.ErrNotFound
	}
	return fromPoint(&resp.Result[0]), nil
}

func (s *qdrantStore) Get(ctx context.Context, id string) (*model.Document, error) {
	doc, err := s.fetch(ctx, id)
	if err != nil {
		if appErr.IsNotFound(err) {
			return nil, err
		}
		return nil, appErr.Store("get", id, err)
	}
	return doc, nil
}

func (s *qdrantStore) count(ctx context.Context, filter map[string]interface{}) (int64, error) {
	body := map[string]interface{}{"exact": true}
	if filter != nil {
		body["filter"] = filter
	}
	var resp struct {
		Result struct {
			Count int64 `json:"count"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionPath("/points/count"), body, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

func (s *qdrantStore) queryOrdered(ctx context.Context, filter map[string]interface{}, direction string, limit, offset int) ([]*model.Document, error) {
	body := map[string]interface{}{
		"query": map[string]interface{}{
			"order_by": map[string]interface{}{"key": "created_at", "direction": direction},
		},
		"limit":        limit,
		"offset":       offset,
		"with_payload": true,
	}
	if filter != nil {
		body["filter"] = filter
	}
	var resp struct {
		Result struct {
			Points []qdrantPoint `json:"points"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionPath("/points/query"), body, &resp); err != nil {
		return nil, err
	}
	docs := make([]*model.Document, 0, len(resp.Result.Points))
	for i := range resp.Result.Points {
		docs = append(docs, fromPoint(&resp.Result.Points[i]))
	}
	return docs, nil
}

func (s *qdrantStore) List(ctx context.Context, q *model.ListQuery) ([]*model.Document, int64, error) {
	if q == nil {
		q = &model.ListQuery{}
	}
	limit, offset, err := pageBounds(q.Limit, q.Offset)
	if err != nil {
		return nil, 0, err
	}
	filter := buildFilter(q.Filter, q.Search)
	total, err := s.count(ctx, filter)
	if err != nil {
		return nil, 0, appErr.Store("list", "", err)
	}
	docs, err := s.queryOrdered(ctx, filter, "desc", limit, offset)
	if err != nil {
		return nil, 0, appErr.Store("list", "", err)
	}
	return docs, total, nil
}

func (s *qdrantStore) Search(ctx context.Context, query string, filter model.Filter, limit int) ([]*model.Document, error) {
	docs, err := s.queryOrdered(ctx, buildFilter(filter, query), "desc", clampSearchLimit(limit), 0)
	if err != nil {
		return nil, appErr.Store("search", query, err)
	}
	return docs, nil
}

func (s *qdrantStore) Update(ctx context.Context, id string, patch *model.DocumentPatch) (*model.Document, error) {
	unlock := s.locks.Lock(id)
	defer unlock()
	doc, err := s.fetch(ctx, id)
	if err != nil {
		if appErr.IsNotFound(err) {
			return nil, err
		}
		return nil, appErr.Store("update", id, err)
	}
	changed, err := applyPatch(doc, patch)
	if err != nil {
		return nil, err
	}
	if changed {
		if err := reembed(ctx, s.embedder, doc); err != nil {
			return nil, err
		}
	}
	if err := s.upsert(ctx, doc); err != nil {
		return nil, appErr.Store("update", id, err)
	}
	return doc, nil
}

func (s *qdrantStore) Delete(ctx context.Context, id string) (bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()
	if _, err := s.fetch(ctx, id); err != nil {
		if appErr.IsNotFound(err) {
			return false, nil
		}
		return false, appErr.Store("delete", id, err)
	}
	body := map[string]interface{}{"points": []string{id}}
	if err := s.do(ctx, http.MethodPost, s.collectionPath("/points/delete?wait=true"), body, nil); err != nil {
		return false, appErr.Store("delete", id, err)
	}
	return true, nil
}

func (s *qdrantStore) SearchByVector(ctx context.Context, vec []float32, filter model.Filter, threshold float32, limit int) (model.RetrievalResult, error) {
	if len(vec) != s.dimension {
		return nil, appErr.Embedding("search", fmt.Errorf("query embedding dimension %d, expected %d", len(vec), s.dimension))
	}
	if limit <= 0 {
		limit = MaxSearchResults
	}
	body := map[string]interface{}{
		"vector":          vec,
		"limit":           limit,
		"with_payload":    true,
		"score_threshold": threshold,
	}
	if f := buildFilter(filter, ""); f != nil {
		body["filter"] = f
	}
	var resp struct {
		Result []qdrantPoint `json:"result"`
	}
	start := time.Now()
	if err := s.do(ctx, http.MethodPost, s.collectionPath("/points/search"), body, &resp); err != nil {
		return nil, appErr.Store("vector search", "", err)
	}
	result := make(model.RetrievalResult, 0, len(resp.Result))
	for i := range resp.Result {
		doc := fromPoint(&resp.Result[i])
		score := resp.Result[i].Score
		doc.Similarity = &score
		result = append(result, doc)
	}
	logutil.GetLogger(ctx).Debug("vector search",
		zap.String("store", s.Name()),
		zap.Int("hits", len(result)),
		zap.Duration("cost", time.Since(start)),
	)
	return result, nil
}

func (s *qdrantStore) ListStale(ctx context.Context, modelName string, limit int) ([]*model.Document, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	filter := map[string]interface{}{
		"must_not": []interface{}{matchCond("embedding_model", modelName)},
	}
	docs, err := s.queryOrdered(ctx, filter, "asc", limit, 0)
	if err != nil {
		return nil, appErr.Store("list stale", modelName, err)
	}
	return docs, nil
}

func (s *qdrantStore) SetEmbedding(ctx context.Context, id, content string, vec []float32, modelName string) (bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()
	doc, err := s.fetch(ctx, id)
	if err != nil {
		if appErr.IsNotFound(err) {
			return false, nil
		}
		return false, appErr.Store("set embedding", id, err)
	}
	if doc.Content != content {
		return false, nil
	}
	doc.Embedding = vec
	doc.EmbeddingModel = modelName
	if err := s.upsert(ctx, doc); err != nil {
		return false, appErr.Store("set embedding", id, err)
	}
	return true, nil
}
