package retriever

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/ragkb/internal/model"
	appErr "github.com/xxxsen/ragkb/internal/pkg/errors"
	"github.com/xxxsen/ragkb/internal/store"
	"github.com/xxxsen/ragkb/test/testutil"
)

type fixedEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f *fixedEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (f *fixedEmbedder) ModelName() string { return "fixed" }

func seedVectors(t *testing.T, s store.Store, docs map[string][]float32, category map[string]string) {
	t.Helper()
	for content, vec := range docs {
		_, err := s.Create(context.Background(), &model.DocumentInput{
			Content:   content,
			Category:  category[content],
			Embedding: vec,
		})
		require.NoError(t, err)
	}
}

func TestRetrieveVectorThresholdAndOrder(t *testing.T) {
	emb := &fixedEmbedder{vectors: map[string][]float32{"q": {1, 0, 0}}}
	s := store.NewMemoryStore(emb)
	seedVectors(t, s, map[string][]float32{
		"exact":   {1, 0, 0},
		"close":   {0.9, 0.1, 0},
		"edge":    {0.75, 0.6614, 0},
		"far":     {0.5, 0.8660254, 0},
		"unrelat": {0, 1, 0},
	}, nil)

	r := New(s, emb, Options{Threshold: DefaultThreshold, TopK: 5})
	require.Equal(t, "vector", r.Mode())
	res, err := r.Retrieve(context.Background(), "q", model.Filter{}, nil, 0)
	require.NoError(t, err)
	require.Len(t, res, 3)
	require.Equal(t, "exact", res[0].Content)
	require.Equal(t, "close", res[1].Content)
	require.Equal(t, "edge", res[2].Content)
	for i, doc := range res {
		require.NotNil(t, doc.Similarity)
		require.GreaterOrEqual(t, *doc.Similarity, float32(0.7))
		if i > 0 {
			require.GreaterOrEqual(t, *res[i-1].Similarity, *doc.Similarity)
		}
	}

	lower := float32(0.4)
	res, err = r.Retrieve(context.Background(), "q", model.Filter{}, &lower, 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
}

func TestRetrieveNeverAdmitsLowScores(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	emb := &fixedEmbedder{vectors: map[string][]float32{"q": {1, 0.5, 0.25}}}
	s := store.NewMemoryStore(emb)
	for i := 0; i < 200; i++ {
		vec := []float32{rng.Float32()*2 - 1, rng.Float32()*2 - 1, rng.Float32()*2 - 1}
		_, err := s.Create(context.Background(), &model.DocumentInput{Content: strings.Repeat("d", i+1), Embedding: vec})
		require.NoError(t, err)
	}
	r := New(s, emb, Options{Threshold: 0.7, TopK: 50})
	res, err := r.Retrieve(context.Background(), "q", model.Filter{}, nil, 0)
	require.NoError(t, err)
	require.LessOrEqual(t, len(res), 50)
	for _, doc := range res {
		require.GreaterOrEqual(t, *doc.Similarity, float32(0.7))
	}
}

func TestRetrieveRespectsFilter(t *testing.T) {
	emb := &fixedEmbedder{vectors: map[string][]float32{"q": {1, 0, 0}}}
	s := store.NewMemoryStore(emb)
	seedVectors(t, s, map[string][]float32{
		"fire a": {1, 0, 0},
		"fire b": {1, 0.01, 0},
	}, map[string]string{"fire a": "Fire", "fire b": "Flood"})

	r := New(s, emb, Options{Threshold: 0.7, TopK: 5})
	res, err := r.Retrieve(context.Background(), "q", model.Filter{Category: "Flood"}, nil, 0)
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.Equal(t, "fire b", res[0].Content)
}

func TestRetrieveEmptyIsNotError(t *testing.T) {
	emb := &fixedEmbedder{}
	r := New(store.NewMemoryStore(emb), emb, Options{Threshold: 0.7})
	res, err := r.Retrieve(context.Background(), "anything", model.Filter{}, nil, 0)
	require.NoError(t, err)
	require.Empty(t, res)
}

func TestRetrieveEmbeddingFailure(t *testing.T) {
	emb := &fixedEmbedder{err: appErr.Embedding("test", errors.New("quota"))}
	r := New(store.NewMemoryStore(nil), emb, Options{Threshold: 0.7})
	_, err := r.Retrieve(context.Background(), "q", model.Filter{}, nil, 0)
	require.True(t, errors.Is(err, appErr.ErrEmbedding))
}

func TestRetrieveLexical(t *testing.T) {
	s, err := store.New("sql", store.Deps{DB: testutil.OpenSQLite(t), Driver: "sqlite"}, nil)
	require.NoError(t, err)
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		_, err := s.Create(ctx, &model.DocumentInput{Content: "gas leak procedure step", Category: "Gas"})
		require.NoError(t, err)
	}
	_, err = s.Create(ctx, &model.DocumentInput{Content: "gas leak in the lab", Category: "Lab"})
	require.NoError(t, err)

	r := New(s, &fixedEmbedder{}, Options{Threshold: 0.7, TopK: 5})
	require.Equal(t, "lexical", r.Mode())
	res, err := r.Retrieve(ctx, "GAS LEAK", model.Filter{}, nil, 0)
	require.NoError(t, err)
	require.Len(t, res, 5)
	for _, doc := range res {
		require.Nil(t, doc.Similarity)
	}

	res, err = r.Retrieve(ctx, "gas leak", model.Filter{Category: "Lab"}, nil, 3)
	require.NoError(t, err)
	require.Len(t, res, 1)
}
