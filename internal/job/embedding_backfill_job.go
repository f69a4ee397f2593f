package job

import (
	"context"
)

type EmbeddingBackfiller interface {
	Backfill(ctx context.Context) (int, error)
}

// EmbeddingBackfillJob refreshes stale vectors one page per run.
type EmbeddingBackfillJob struct {
	svc EmbeddingBackfiller
}

func NewEmbeddingBackfillJob(svc EmbeddingBackfiller) *EmbeddingBackfillJob {
	return &EmbeddingBackfillJob{svc: svc}
}

func (j *EmbeddingBackfillJob) Name() string {
	return "embedding_backfill"
}

func (j *EmbeddingBackfillJob) Run(ctx context.Context) error {
	if j.svc == nil {
		return nil
	}
	_, err := j.svc.Backfill(ctx)
	return err
}
