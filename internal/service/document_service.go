package service

import (
	"context"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragkb/internal/model"
	appErr "github.com/xxxsen/ragkb/internal/pkg/errors"
	"github.com/xxxsen/ragkb/internal/store"
)

// DeleteResult reports a delete outcome; Reason is set when nothing was removed.
type DeleteResult struct {
	Deleted bool   `json:"deleted"`
	Reason  string `json:"reason,omitempty"`
}

const ReasonNotFound = "not_found"

type DocumentService struct {
	store store.Store
}

func NewDocumentService(st store.Store) *DocumentService {
	return &DocumentService{store: st}
}

func (s *DocumentService) List(ctx context.Context, q *model.ListQuery) ([]*model.Document, int64, error) {
	if q.Limit < 0 || q.Offset < 0 {
		return nil, 0, appErr.Invalid("limit and offset must not be negative")
	}
	if q.Limit > store.MaxListLimit {
		return nil, 0, appErr.Invalid("limit must not exceed %d", store.MaxListLimit)
	}
	q.Search = strings.TrimSpace(q.Search)
	return s.store.List(ctx, q)
}

func (s *DocumentService) Get(ctx context.Context, id string) (*model.Document, error) {
	if strings.TrimSpace(id) == "" {
		return nil, appErr.Invalid("id is required")
	}
	return s.store.Get(ctx, id)
}

func (s *DocumentService) Update(ctx context.Context, id string, patch *model.DocumentPatch) (*model.Document, error) {
	if strings.TrimSpace(id) == "" {
		return nil, appErr.Invalid("id is required")
	}
	doc, err := s.store.Update(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	logutil.GetLogger(ctx).Info("document updated", zap.String("id", id))
	return doc, nil
}

func (s *DocumentService) Delete(ctx context.Context, id string) (*DeleteResult, error) {
	if strings.TrimSpace(id) == "" {
		return &DeleteResult{Reason: ReasonNotFound}, nil
	}
	ok, err := s.store.Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &DeleteResult{Reason: ReasonNotFound}, nil
	}
	logutil.GetLogger(ctx).Info("document deleted", zap.String("id", id))
	return &DeleteResult{Deleted: true}, nil
}
