package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragkb/internal/ai"
	"github.com/xxxsen/ragkb/internal/chunker"
	"github.com/xxxsen/ragkb/internal/config"
	"github.com/xxxsen/ragkb/internal/db"
	"github.com/xxxsen/ragkb/internal/embedcache"
	"github.com/xxxsen/ragkb/internal/extract"
	"github.com/xxxsen/ragkb/internal/filestore"
	"github.com/xxxsen/ragkb/internal/repo"
	"github.com/xxxsen/ragkb/internal/retriever"
	"github.com/xxxsen/ragkb/internal/service"
	"github.com/xxxsen/ragkb/internal/store"
)

type app struct {
	cfg        *config.Config
	db         *sql.DB
	store      store.Store
	manager    *ai.Manager
	retriever  *retriever.Retriever
	ingest     *service.IngestService
	documents  *service.DocumentService
	query      *service.QueryService
	embeddings *service.EmbeddingService
	cacheRepo  *repo.EmbeddingCacheRepo
}

func openDB(cfg *config.Config) (*sql.DB, error) {
	conn, err := db.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.ApplyMigrations(conn, cfg.Database.Driver); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return conn, nil
}

func buildApp(cfg *config.Config) (*app, error) {
	conn, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, db: conn}
	if err := a.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init() error {
	cfg := a.cfg
	logger := logutil.GetLogger(context.Background())

	if cfg.EmbedCache.DB {
		a.cacheRepo = repo.NewEmbeddingCacheRepo(a.db, cfg.Database.Driver)
	}
	generator, embedder, err := buildModels(cfg.AI, cfg.Store.Dimension)
	if err != nil {
		return err
	}
	if embedder != nil {
		if a.cacheRepo != nil {
			embedder = embedcache.WrapDBCacheToEmbedder(embedder, a.cacheRepo)
		}
		embedder = embedcache.WrapLruCacheToEmbedder(embedder, cfg.EmbedCache.LRUSize, time.Duration(cfg.EmbedCache.LRUTTL)*time.Second)
	}
	a.manager = ai.NewManager(generator, embedder, ai.ManagerConfig{
		Timeout:          cfg.AI.Timeout,
		MaxInputChars:    cfg.AI.MaxInputChars,
		EmbedConcurrency: cfg.AI.EmbedConcurrency,
	})

	// the manager stands in for the embedder so every call gets the ai timeout
	var storeEmbedder ai.IEmbedder
	if embedder != nil {
		storeEmbedder = a.manager
	}
	a.store, err = store.New(cfg.Store.Type, store.Deps{
		DB:       a.db,
		Driver:   cfg.Database.Driver,
		Embedder: storeEmbedder,
		Timeout:  time.Duration(cfg.Store.Timeout) * time.Second,
	}, storeArgs(cfg.Store))
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	ck, err := chunker.New(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	if err != nil {
		return err
	}
	opts := []service.IngestOption{service.WithTitleMaxChars(cfg.RAG.TitleMaxChars)}
	if embedder != nil {
		opts = append(opts, service.WithBatchEmbedder(a.manager))
	}
	if cfg.FileStore.Type != "" {
		files, err := filestore.New(cfg.FileStore)
		if err != nil {
			return fmt.Errorf("init file store: %w", err)
		}
		opts = append(opts, service.WithFileStore(files))
	}
	a.ingest = service.NewIngestService(a.store, ck, extract.NewValidator(cfg.Upload.MaxFileSize, cfg.Upload.AllowedTypes), opts...)
	a.documents = service.NewDocumentService(a.store)

	a.retriever = retriever.New(a.store, storeEmbedder, retriever.Options{
		Threshold: float32(cfg.RAG.SimilarityThreshold),
		TopK:      cfg.RAG.TopK,
	})
	a.query = service.NewQueryService(a.retriever, a.manager, cfg.AI.MaxInputChars)

	if vs, ok := a.store.(store.VectorStore); ok && storeEmbedder != nil {
		a.embeddings = service.NewEmbeddingService(vs, storeEmbedder, cfg.Jobs.BackfillBatch)
	}

	logger.Info("components ready",
		zap.String("store", a.store.Name()),
		zap.String("retrieval", a.retriever.Mode()),
		zap.String("embed_model", a.manager.EmbeddingModelName()),
		zap.Int("chunk_size", ck.Size()),
		zap.Int("chunk_overlap", ck.Overlap()),
	)
	return nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// buildModels resolves the ordered provider:model references into failover
// groups. Either result is nil when nothing is configured for it.
func buildModels(cfg config.AIConfig, dimension int) (ai.IGenerator, ai.IEmbedder, error) {
	providers := make(map[string]config.AIProviderConfig, len(cfg.Providers))
	for _, p := range cfg.Providers {
		providers[p.Name] = p
	}
	genEntries := make([]ai.GeneratorEntry, 0, len(cfg.Generate))
	for _, ref := range cfg.Generate {
		name, modelName, err := config.ParseModelRef(ref)
		if err != nil {
			return nil, nil, err
		}
		p := providers[name]
		provider, err := ai.NewGenerateProvider(p.Type, p.Data)
		if err != nil {
			return nil, nil, fmt.Errorf("init generate provider %s: %w", name, err)
		}
		genEntries = append(genEntries, ai.GeneratorEntry{Name: ref, Generator: ai.NewGenerator(provider, modelName)})
	}
	embedEntries := make([]ai.EmbedderEntry, 0, len(cfg.Embed))
	for _, ref := range cfg.Embed {
		name, modelName, err := config.ParseModelRef(ref)
		if err != nil {
			return nil, nil, err
		}
		p := providers[name]
		provider, err := ai.NewEmbedProvider(p.Type, p.Data)
		if err != nil {
			return nil, nil, fmt.Errorf("init embed provider %s: %w", name, err)
		}
		embedEntries = append(embedEntries, ai.EmbedderEntry{Name: ref, Embedder: ai.NewEmbedder(provider, modelName, dimension)})
	}
	var (
		generator ai.IGenerator
		embedder  ai.IEmbedder
	)
	if len(genEntries) > 0 {
		generator = ai.NewGroupGenerator(genEntries)
	}
	if len(embedEntries) > 0 {
		embedder = ai.NewGroupEmbedder(embedEntries)
	}
	return generator, embedder, nil
}

func storeArgs(cfg config.StoreConfig) interface{} {
	switch cfg.Type {
	case "pgvector":
		return map[string]interface{}{"dimension": cfg.Dimension}
	case "qdrant":
		return map[string]interface{}{
			"url":        cfg.Qdrant.URL,
			"api_key":    cfg.Qdrant.APIKey,
			"collection": cfg.Qdrant.Collection,
			"dimension":  cfg.Dimension,
		}
	default:
		return nil
	}
}
