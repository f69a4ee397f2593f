package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/ragkb/internal/model"
	appErr "github.com/xxxsen/ragkb/internal/pkg/errors"
)

type fakeEmbedProvider struct {
	name  string
	calls int32
	vec   []float32
	err   error
}

func (f *fakeEmbedProvider) Name() string { return f.name }

func (f *fakeEmbedProvider) Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	return append([]float32(nil), f.vec...), nil
}

type fakeGenerator struct {
	resp   string
	err    error
	prompt string
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.resp, f.err
}

type lengthEmbedder struct{}

func (lengthEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	if text == "boom" {
		return nil, appErr.Embedding("test", errors.New("boom"))
	}
	return []float32{float32(len(text))}, nil
}

func (lengthEmbedder) ModelName() string { return "length" }

func TestEmbedderRejectsDimensionMismatch(t *testing.T) {
	p := &fakeEmbedProvider{name: "fake", vec: []float32{1, 2, 3}}
	_, err := NewEmbedder(p, "m", 4).Embed(context.Background(), "hi", TaskRetrievalQuery)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErr.ErrEmbedding))

	vec, err := NewEmbedder(p, "m", 3).Embed(context.Background(), "hi", TaskRetrievalQuery)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, vec)
}

func TestEmbedderWrapsProviderError(t *testing.T) {
	p := &fakeEmbedProvider{name: "fake", err: errors.New("upstream down")}
	_, err := NewEmbedder(p, "m", 0).Embed(context.Background(), "hi", TaskRetrievalDocument)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErr.ErrEmbedding))
	assert.Contains(t, err.Error(), "upstream down")
}

func TestGroupEmbedderFallsBack(t *testing.T) {
	bad := &fakeEmbedProvider{name: "bad", err: errors.New("fail")}
	good := &fakeEmbedProvider{name: "good", vec: []float32{0.5}}
	group := NewGroupEmbedder([]EmbedderEntry{
		{Name: "bad/m", Embedder: NewEmbedder(bad, "m", 0)},
		{Name: "good/m", Embedder: NewEmbedder(good, "m", 0)},
	})
	vec, err := group.Embed(context.Background(), "hello", TaskRetrievalDocument)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5}, vec)
	assert.Equal(t, int32(1), atomic.LoadInt32(&bad.calls))
	assert.Equal(t, "bad/m|good/m", group.ModelName())
}

func TestGroupGeneratorStopsOnCancelledContext(t *testing.T) {
	first := &fakeGenerator{err: errors.New("quota")}
	second := &fakeGenerator{resp: "ok"}
	group := NewGroupGenerator([]GeneratorEntry{
		{Name: "a:m", Generator: first},
		{Name: "skip:m"},
		{Name: "b:m", Generator: second},
	})

	res, err := group.Generate(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "ok", res)
	assert.Equal(t, "q", second.prompt)

	second.prompt = ""
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = group.Generate(ctx, "q")
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, second.prompt)

	assert.Nil(t, NewGroupGenerator([]GeneratorEntry{{Name: "empty:m"}}))
	assert.Nil(t, NewGroupEmbedder(nil))
}

func TestManagerUnavailableWithoutProviders(t *testing.T) {
	m := NewManager(nil, nil, ManagerConfig{})
	_, err := m.Generate(context.Background(), "hi")
	assert.True(t, errors.Is(err, appErr.ErrUnavailable))
	_, err = m.Embed(context.Background(), "hi", TaskRetrievalQuery)
	assert.True(t, errors.Is(err, appErr.ErrUnavailable))
}

func TestManagerGenerateEmptyResponse(t *testing.T) {
	m := NewManager(&fakeGenerator{resp: "   "}, nil, ManagerConfig{})
	_, err := m.Generate(context.Background(), "hi")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErr.ErrGeneration))
}

func TestManagerGenerateTimeout(t *testing.T) {
	slow := generatorFunc(func(ctx context.Context, prompt string) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Second):
			return "late", nil
		}
	})
	m := NewManager(slow, nil, ManagerConfig{Timeout: 1})
	start := time.Now()
	_, err := m.Generate(context.Background(), "hi")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 4*time.Second)
}

type generatorFunc func(ctx context.Context, prompt string) (string, error)

func (f generatorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

func TestManagerEmbedBatchKeepsOrder(t *testing.T) {
	m := NewManager(nil, lengthEmbedder{}, ManagerConfig{EmbedConcurrency: 2})
	out, err := m.EmbedBatch(context.Background(), []string{"a", "bbb", "cc", "dddd"}, TaskRetrievalDocument)
	require.NoError(t, err)
	require.Len(t, out, 4)
	assert.Equal(t, []float32{1}, out[0])
	assert.Equal(t, []float32{3}, out[1])
	assert.Equal(t, []float32{2}, out[2])
	assert.Equal(t, []float32{4}, out[3])

	_, err = m.EmbedBatch(context.Background(), []string{"a", "boom"}, TaskRetrievalDocument)
	assert.True(t, errors.Is(err, appErr.ErrEmbedding))
}

func TestManagerAnswerPrompts(t *testing.T) {
	gen := &fakeGenerator{resp: "Call 911."}
	m := NewManager(gen, nil, ManagerConfig{})

	score := float32(0.91)
	docs := []*model.Document{
		{Title: "Fire safety", Category: "Fire", EmergencyType: "fire", Tags: []string{"evacuation", "chunked"}, Similarity: &score, Content: "Leave the building."},
		{Title: "Fire drills", Content: "Practice twice a year."},
	}
	answer, err := m.Answer(context.Background(), "What to do in a fire?", docs)
	require.NoError(t, err)
	assert.Equal(t, "Call 911.", answer)
	assert.Contains(t, gen.prompt, "[1] Fire safety")
	assert.Contains(t, gen.prompt, "[2] Fire drills")
	assert.Contains(t, gen.prompt, "What to do in a fire?")
	assert.Less(t, strings.Index(gen.prompt, "Leave the building."), strings.Index(gen.prompt, "Practice twice a year."))
	assert.Contains(t, gen.prompt, "Category: Fire")
	assert.Contains(t, gen.prompt, "Emergency type: fire")
	assert.Contains(t, gen.prompt, "Tags: evacuation, chunked")
	assert.Contains(t, gen.prompt, "Similarity: 0.91")
	assert.Equal(t, 1, strings.Count(gen.prompt, "Similarity:"))

	_, err = m.Answer(context.Background(), "Unknown topic?", nil)
	require.NoError(t, err)
	assert.Contains(t, gen.prompt, "answer it\nfrom general knowledge")
	assert.Contains(t, gen.prompt, "how certain you are")
	assert.Contains(t, gen.prompt, "Do not invent specifics")
	assert.NotContains(t, gen.prompt, "don't know")
	assert.NotContains(t, gen.prompt, "CONTEXT:")
}

func TestOpenAIProviderRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/v1/chat/completions":
			var req openAIChatRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "gpt", req.Model)
			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":" hello "}}]}`))
		case "/v1/embeddings":
			_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2]}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	gp, err := NewGenerateProvider("openai", map[string]interface{}{"api_key": "key", "base_url": srv.URL + "/v1"})
	require.NoError(t, err)
	text, err := gp.Generate(context.Background(), "gpt", "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	ep, err := NewEmbedProvider("openai", map[string]interface{}{"api_key": "key", "base_url": srv.URL + "/v1"})
	require.NoError(t, err)
	vec, err := ep.Embed(context.Background(), "emb", "hi", TaskRetrievalQuery)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, vec)
}

func TestOpenAIProviderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`quota`))
	}))
	defer srv.Close()

	gp, err := NewGenerateProvider("openai", map[string]interface{}{"api_key": "key", "base_url": srv.URL})
	require.NoError(t, err)
	_, err = NewGenerator(gp, "gpt").Generate(context.Background(), "hi")
	require.Error(t, err)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	assert.Equal(t, "quota", statusErr.Body)
	assert.True(t, errors.Is(err, appErr.ErrGeneration))
}

func TestProviderRegistry(t *testing.T) {
	_, err := NewGenerateProvider("", nil)
	assert.True(t, errors.Is(err, appErr.ErrConfig))
	_, err = NewGenerateProvider("nope", map[string]interface{}{})
	assert.True(t, errors.Is(err, appErr.ErrConfig))
	_, err = NewEmbedProvider("openrouter", map[string]interface{}{})
	assert.True(t, errors.Is(err, appErr.ErrConfig))

	p, err := NewGenerateProvider("OpenRouter", map[string]interface{}{})
	require.NoError(t, err)
	_, err = p.Generate(context.Background(), "m", "hi")
	assert.True(t, errors.Is(err, appErr.ErrUnavailable))
}
