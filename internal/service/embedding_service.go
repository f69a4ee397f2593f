package service

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragkb/internal/ai"
	"github.com/xxxsen/ragkb/internal/pkg/textutil"
	"github.com/xxxsen/ragkb/internal/store"
)

const defaultBackfillBatch = 50

// EmbeddingService keeps stored vectors in step with the configured
// embedding model.
type EmbeddingService struct {
	store    store.VectorStore
	embedder ai.IEmbedder
	batch    int
}

func NewEmbeddingService(st store.VectorStore, embedder ai.IEmbedder, batch int) *EmbeddingService {
	if batch <= 0 {
		batch = defaultBackfillBatch
	}
	return &EmbeddingService{store: st, embedder: embedder, batch: batch}
}

// Backfill re-embeds one page of documents whose vector is missing or was
// produced by another model. It returns how many were refreshed. A document
// that fails to embed is logged and skipped; a document edited while its
// vector was computed is left to the store's own re-embedding.
func (s *EmbeddingService) Backfill(ctx context.Context) (int, error) {
	modelName := s.embedder.ModelName()
	docs, err := s.store.ListStale(ctx, modelName, s.batch)
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}
	logger := logutil.GetLogger(ctx).With(zap.String("model", modelName))
	start := time.Now()
	var (
		done, skipped, failed int
		lastErr               error
	)
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		vec, err := s.embedder.Embed(ctx, textutil.Normalize(doc.Content), ai.TaskRetrievalDocument)
		if err != nil {
			logger.Error("embed stale document failed, skip", zap.String("id", doc.ID), zap.Error(err))
			failed++
			lastErr = err
			continue
		}
		applied, err := s.store.SetEmbedding(ctx, doc.ID, doc.Content, vec, modelName)
		if err != nil {
			logger.Error("save embedding failed", zap.String("id", doc.ID), zap.Error(err))
			return done, err
		}
		if !applied {
			skipped++
			continue
		}
		done++
	}
	logger.Info("embedding backfill finished",
		zap.Int("refreshed", done),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
		zap.Duration("cost", time.Since(start)),
	)
	if done == 0 && failed > 0 && failed == len(docs) {
		return 0, lastErr
	}
	return done, nil
}
