package handler_test

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/xxxsen/common/webapi"

	"github.com/xxxsen/ragkb/internal/ai"
	"github.com/xxxsen/ragkb/internal/chunker"
	"github.com/xxxsen/ragkb/internal/config"
	"github.com/xxxsen/ragkb/internal/extract"
	"github.com/xxxsen/ragkb/internal/filestore"
	"github.com/xxxsen/ragkb/internal/handler"
	"github.com/xxxsen/ragkb/internal/middleware"
	"github.com/xxxsen/ragkb/internal/retriever"
	"github.com/xxxsen/ragkb/internal/service"
	"github.com/xxxsen/ragkb/internal/store"
)

var embedKeywords = []string{"fire", "flood", "quake"}

type keywordEmbedder struct{}

func (keywordEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	text = strings.ToLower(text)
	vec := make([]float32, len(embedKeywords))
	for i, kw := range embedKeywords {
		vec[i] = float32(strings.Count(text, kw))
	}
	return vec, nil
}

func (keywordEmbedder) ModelName() string { return "keyword-v1" }

// recordingGenerator answers with a fixed text and keeps the last prompt.
type recordingGenerator struct {
	mu     sync.Mutex
	prompt string
}

func (g *recordingGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.prompt = prompt
	g.mu.Unlock()
	return "Use the stairs, not the elevator.", nil
}

func (g *recordingGenerator) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prompt
}

type testEnv struct {
	router    http.Handler
	store     *store.MemoryStore
	generator *recordingGenerator
	filesDir  string
}

func setupRouter(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	generator := &recordingGenerator{}
	manager := ai.NewManager(generator, keywordEmbedder{}, ai.ManagerConfig{Timeout: 5, MaxInputChars: 2000})
	st := store.NewMemoryStore(manager)

	ck, err := chunker.New(8000, 200)
	require.NoError(t, err)

	filesDir := t.TempDir()
	files, err := filestore.New(config.FileStoreConfig{
		Type: "local",
		Data: map[string]interface{}{
			"dir": filesDir,
		},
	})
	require.NoError(t, err)

	ingest := service.NewIngestService(st, ck, extract.NewValidator(1024*1024, nil),
		service.WithBatchEmbedder(manager),
		service.WithFileStore(files),
	)
	r := retriever.New(st, manager, retriever.Options{Threshold: retriever.DefaultThreshold, TopK: retriever.DefaultTopK})
	query := service.NewQueryService(r, manager, manager.MaxInputChars())

	deps := handler.RouterDeps{
		Documents: handler.NewDocumentHandler(service.NewDocumentService(st), ingest),
		Query:     handler.NewQueryHandler(query),
		Health:    handler.NewHealthHandler(st.Name(), r.Mode()),
	}

	engine, err := webapi.NewEngine(
		"/api/v1",
		"",
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(nil),
		),
	)
	require.NoError(t, err)

	return &testEnv{router: engine, store: st, generator: generator, filesDir: filesDir}
}
