package store

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/ragkb/internal/model"
	appErr "github.com/xxxsen/ragkb/internal/pkg/errors"
)

// fakeQdrant implements the slice of the Qdrant REST API the store uses.
type fakeQdrant struct {
	mu      sync.Mutex
	created bool
	indexes []string
	points  map[string]qdrantPoint
}

type fakeFilter struct {
	Must    []fakeCond `json:"must"`
	MustNot []fakeCond `json:"must_not"`
	Should  []fakeCond `json:"should"`
}

type fakeCond struct {
	Key   string `json:"key"`
	Match struct {
		Value string `json:"value"`
		Text  string `json:"text"`
	} `json:"match"`
	Should []fakeCond `json:"should"`
}

func payloadField(p *qdrantPayload, key string) string {
	switch {
	case key == "category":
		return p.Category
	case key == "emergency_type":
		return p.EmergencyType
	case key == "embedding_model":
		return p.EmbeddingModel
	case key == "title":
		return p.Title
	case key == "content":
		return p.Content
	case strings.HasPrefix(key, "metadata."):
		return p.Metadata[strings.TrimPrefix(key, "metadata.")]
	}
	return ""
}

func (c fakeCond) match(p *qdrantPayload) bool {
	if len(c.Should) > 0 {
		for _, s := range c.Should {
			if s.match(p) {
				return true
			}
		}
		return false
	}
	field := payloadField(p, c.Key)
	if c.Match.Text != "" {
		return strings.Contains(strings.ToLower(field), strings.ToLower(c.Match.Text))
	}
	return field == c.Match.Value
}

func (f *fakeFilter) match(p *qdrantPayload) bool {
	if f == nil {
		return true
	}
	for _, c := range f.Must {
		if !c.match(p) {
			return false
		}
	}
	for _, c := range f.MustNot {
		if c.match(p) {
			return false
		}
	}
	return true
}

func (q *fakeQdrant) filtered(f *fakeFilter, desc bool) []qdrantPoint {
	out := make([]qdrantPoint, 0)
	for _, p := range q.points {
		if f.match(p.Payload) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Payload.CreatedAt, out[j].Payload.CreatedAt
		if a == b {
			return (out[i].ID > out[j].ID) == desc
		}
		return (a > b) == desc
	})
	return out
}

func (q *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q.mu.Lock()
	defer q.mu.Unlock()
	reply := func(v interface{}) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"result": v, "status": "ok"})
	}
	path := strings.TrimPrefix(r.URL.Path, "/collections/kb")
	switch {
	case r.Method == http.MethodGet && path == "":
		if !q.created {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		reply(map[string]interface{}{})
	case r.Method == http.MethodPut && path == "":
		q.created = true
		reply(true)
	case r.Method == http.MethodPut && path == "/index":
		var body struct {
			FieldName string `json:"field_name"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		q.indexes = append(q.indexes, body.FieldName)
		reply(map[string]interface{}{})
	case r.Method == http.MethodPut && path == "/points":
		var body struct {
			Points []qdrantPoint `json:"points"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		for _, p := range body.Points {
			q.points[p.ID] = p
		}
		reply(map[string]interface{}{})
	case r.Method == http.MethodPost && path == "/points":
		var body struct {
			IDs []string `json:"ids"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		out := make([]qdrantPoint, 0)
		for _, id := range body.IDs {
			if p, ok := q.points[id]; ok {
				out = append(out, p)
			}
		}
		reply(out)
	case r.Method == http.MethodPost && path == "/points/count":
		var body struct {
			Filter *fakeFilter `json:"filter"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		reply(map[string]interface{}{"count": len(q.filtered(body.Filter, true))})
	case r.Method == http.MethodPost && path == "/points/query":
		var body struct {
			Query struct {
				OrderBy struct {
					Direction string `json:"direction"`
				} `json:"order_by"`
			} `json:"query"`
			Filter *fakeFilter `json:"filter"`
			Limit  int         `json:"limit"`
			Offset int         `json:"offset"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		pts := q.filtered(body.Filter, body.Query.OrderBy.Direction != "asc")
		if body.Offset < len(pts) {
			pts = pts[body.Offset:]
		} else {
			pts = nil
		}
		if len(pts) > body.Limit {
			pts = pts[:body.Limit]
		}
		for i := range pts {
			pts[i].Vector = nil
		}
		reply(map[string]interface{}{"points": pts})
	case r.Method == http.MethodPost && path == "/points/search":
		var body struct {
			Vector         []float32   `json:"vector"`
			Filter         *fakeFilter `json:"filter"`
			Limit          int         `json:"limit"`
			ScoreThreshold float32     `json:"score_threshold"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		out := make([]qdrantPoint, 0)
		for _, p := range q.filtered(body.Filter, true) {
			score := cosineSimilarity(p.Vector, body.Vector)
			if score < body.ScoreThreshold {
				continue
			}
			out = append(out, qdrantPoint{ID: p.ID, Score: score, Payload: p.Payload})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
		if len(out) > body.Limit {
			out = out[:body.Limit]
		}
		reply(out)
	case r.Method == http.MethodPost && path == "/points/delete":
		var body struct {
			Points []string `json:"points"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		for _, id := range body.Points {
			delete(q.points, id)
		}
		reply(map[string]interface{}{})
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func newQdrantTestStore(t *testing.T, emb *keywordEmbedder) (VectorStore, *fakeQdrant) {
	t.Helper()
	fake := &fakeQdrant{points: map[string]qdrantPoint{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	s, err := New("qdrant", Deps{Embedder: emb}, map[string]interface{}{
		"url":        srv.URL,
		"collection": "kb",
		"dimension":  3,
	})
	require.NoError(t, err)
	vs, ok := s.(VectorStore)
	require.True(t, ok)
	return vs, fake
}

func TestQdrantStoreInitCreatesCollection(t *testing.T) {
	_, fake := newQdrantTestStore(t, &keywordEmbedder{})
	require.True(t, fake.created)
	require.Contains(t, fake.indexes, "created_at")
	require.Contains(t, fake.indexes, "content")
}

func TestQdrantStoreCRUD(t *testing.T) {
	ctx := context.Background()
	emb := &keywordEmbedder{}
	s, fake := newQdrantTestStore(t, emb)

	doc, err := s.Create(ctx, &model.DocumentInput{Content: "fire drill", Category: "Safety", Metadata: map[string]string{"site": "north"}})
	require.NoError(t, err)
	require.Len(t, fake.points, 1)
	require.Equal(t, []float32{1, 0, 0}, fake.points[doc.ID].Vector)

	got, err := s.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, "fire drill", got.Content)
	require.Equal(t, "north", got.Metadata["site"])
	require.Equal(t, "keyword-v1", got.EmbeddingModel)

	_, err = s.Get(ctx, "not-a-uuid")
	require.True(t, appErr.IsNotFound(err))

	title := "Drill"
	_, err = s.Update(ctx, doc.ID, &model.DocumentPatch{Title: &title})
	require.NoError(t, err)
	require.Equal(t, int32(1), emb.calls)
	require.Equal(t, []float32{1, 0, 0}, fake.points[doc.ID].Vector, "vector kept when content unchanged")

	content := "flood drill"
	_, err = s.Update(ctx, doc.ID, &model.DocumentPatch{Content: &content})
	require.NoError(t, err)
	require.Equal(t, int32(2), emb.calls)
	require.Equal(t, []float32{0, 1, 0}, fake.points[doc.ID].Vector)

	ok, err := s.Delete(ctx, doc.ID)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.Delete(ctx, doc.ID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestQdrantStoreListAndSearch(t *testing.T) {
	ctx := context.Background()
	s, _ := newQdrantTestStore(t, &keywordEmbedder{})
	for _, in := range []*model.DocumentInput{
		{Content: "fire fire", Category: "A"},
		{Content: "fire flood", Category: "A"},
		{Content: "flood", Category: "B"},
		{Content: "quake", Category: "A"},
	} {
		_, err := s.Create(ctx, in)
		require.NoError(t, err)
	}
	docs, total, err := s.List(ctx, &model.ListQuery{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Equal(t, int64(4), total)
	require.Len(t, docs, 2)

	_, total, err = s.List(ctx, &model.ListQuery{Filter: model.Filter{Category: "A"}})
	require.NoError(t, err)
	require.Equal(t, int64(3), total)

	docs, err = s.Search(ctx, "FLOOD", model.Filter{}, 10)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	res, err := s.SearchByVector(ctx, []float32{1, 0, 0}, model.Filter{Category: "A"}, 0.7, 5)
	require.NoError(t, err)
	require.Len(t, res, 2)
	require.Equal(t, "fire fire", res[0].Content)
	require.GreaterOrEqual(t, *res[1].Similarity, float32(0.7))

	_, err = s.SearchByVector(ctx, []float32{1, 0}, model.Filter{}, 0.7, 5)
	require.Error(t, err)
}

func TestQdrantStoreStale(t *testing.T) {
	ctx := context.Background()
	s, _ := newQdrantTestStore(t, &keywordEmbedder{})
	doc, err := s.Create(ctx, &model.DocumentInput{Content: "fire", Embedding: []float32{1, 0, 0}, EmbeddingModel: "old"})
	require.NoError(t, err)

	stale, err := s.ListStale(ctx, "keyword-v1", 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)

	ok, err := s.SetEmbedding(ctx, doc.ID, "stale text", []float32{1, 0, 0}, "keyword-v1")
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = s.SetEmbedding(ctx, doc.ID, "fire", []float32{1, 0, 0}, "keyword-v1")
	require.NoError(t, err)
	require.True(t, ok)
	stale, err = s.ListStale(ctx, "keyword-v1", 10)
	require.NoError(t, err)
	require.Empty(t, stale)
}

func TestQdrantBuildFilter(t *testing.T) {
	require.Nil(t, buildFilter(model.Filter{}, ""))

	f := buildFilter(model.Filter{Category: "Fire", Metadata: map[string]string{"site": "north"}}, "exit")
	must, ok := f["must"].([]interface{})
	require.True(t, ok)
	require.Len(t, must, 3)
	require.Equal(t, matchCond("category", "Fire"), must[0])
	require.Equal(t, matchCond("metadata.site", "north"), must[1])
	text, ok := must[2].(map[string]interface{})
	require.True(t, ok)
	should, ok := text["should"].([]interface{})
	require.True(t, ok)
	require.Len(t, should, 2)
	require.Equal(t, map[string]interface{}{"key": "content", "match": map[string]interface{}{"text": "exit"}}, should[1])
}
