package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragkb/internal/model"
	appErr "github.com/xxxsen/ragkb/internal/pkg/errors"
)

type Retriever interface {
	Retrieve(ctx context.Context, query string, filter model.Filter, threshold *float32, topK int) (model.RetrievalResult, error)
}

// Synthesizer turns a query and its retrieved context into an answer.
type Synthesizer interface {
	Answer(ctx context.Context, query string, docs []*model.Document) (string, error)
}

type QueryRequest struct {
	Query     string       `json:"query"`
	Filter    model.Filter `json:"filters"`
	Threshold *float32     `json:"threshold,omitempty"`
	Limit     int          `json:"limit,omitempty"`
}

type QueryService struct {
	retriever     Retriever
	synthesizer   Synthesizer
	maxInputChars int
}

func NewQueryService(r Retriever, s Synthesizer, maxInputChars int) *QueryService {
	return &QueryService{retriever: r, synthesizer: s, maxInputChars: maxInputChars}
}

// Answer retrieves context for req and synthesizes an answer citing it.
// Every failure past input validation is reported as a query error.
func (s *QueryService) Answer(ctx context.Context, req *QueryRequest) (*model.Answer, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, appErr.Invalid("query is required")
	}
	if s.maxInputChars > 0 && utf8.RuneCountInString(query) > s.maxInputChars {
		return nil, appErr.Invalid("query exceeds %d characters", s.maxInputChars)
	}
	if req.Threshold != nil && (*req.Threshold < 0 || *req.Threshold > 1) {
		return nil, appErr.Invalid("threshold must be within [0, 1]")
	}
	if req.Limit < 0 {
		return nil, appErr.Invalid("limit must not be negative")
	}

	start := time.Now()
	logger := logutil.GetLogger(ctx)
	docs, err := s.retriever.Retrieve(ctx, query, req.Filter, req.Threshold, req.Limit)
	if err != nil {
		logger.Error("retrieve context failed", zap.Error(err))
		return nil, appErr.Query(err)
	}
	text, err := s.synthesizer.Answer(ctx, query, docs)
	if err != nil {
		logger.Error("synthesize answer failed", zap.Int("sources", len(docs)), zap.Error(err))
		return nil, appErr.Query(err)
	}
	sources := make([]*model.Document, 0, len(docs))
	sources = append(sources, docs...)
	logger.Info("query answered",
		zap.Int("sources", len(sources)),
		zap.Duration("cost", time.Since(start)),
	)
	return &model.Answer{Text: text, Sources: sources}, nil
}
