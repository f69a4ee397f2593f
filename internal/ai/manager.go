package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xxxsen/ragkb/internal/model"
	appErr "github.com/xxxsen/ragkb/internal/pkg/errors"
)

const defaultEmbedConcurrency = 4

type ManagerConfig struct {
	Timeout          int
	MaxInputChars    int
	EmbedConcurrency int
}

// Manager owns the configured generator and embedder and applies the
// per-call timeout to every request it makes.
type Manager struct {
	generator IGenerator
	embedder  IEmbedder
	cfg       ManagerConfig
}

func NewManager(generator IGenerator, embedder IEmbedder, cfg ManagerConfig) *Manager {
	if cfg.EmbedConcurrency <= 0 {
		cfg.EmbedConcurrency = defaultEmbedConcurrency
	}
	return &Manager{
		generator: generator,
		embedder:  embedder,
		cfg:       cfg,
	}
}

func (m *Manager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, time.Duration(m.cfg.Timeout)*time.Second)
	}
	return context.WithCancel(ctx)
}

func (m *Manager) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	if m == nil || m.embedder == nil {
		return nil, ErrUnavailable
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	return m.embedder.Embed(ctx, text, taskType)
}

// EmbedBatch embeds every text with bounded concurrency. The result keeps the
// input order; the first failure cancels the rest.
func (m *Manager) EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	if m == nil || m.embedder == nil {
		return nil, ErrUnavailable
	}
	out := make([][]float32, len(texts))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(m.cfg.EmbedConcurrency)
	for i, text := range texts {
		eg.Go(func() error {
			vec, err := m.Embed(ctx, text, taskType)
			if err != nil {
				return err
			}
			out[i] = vec
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Manager) Generate(ctx context.Context, prompt string) (string, error) {
	if m == nil || m.generator == nil {
		return "", ErrUnavailable
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	resp, err := m.generator.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp)
	if text == "" {
		return "", appErr.Generation("generate", fmt.Errorf("empty ai response"))
	}
	return text, nil
}

// Answer builds the prompt for query over docs and asks the generator.
// An empty docs slice produces the ungrounded prompt.
func (m *Manager) Answer(ctx context.Context, query string, docs []*model.Document) (string, error) {
	prompt := BuildAnswerPrompt(query, docs)
	logutil.GetLogger(ctx).Debug("generate answer",
		zap.Int("context_docs", len(docs)),
		zap.Int("prompt_chars", len(prompt)),
	)
	return m.Generate(ctx, prompt)
}

func (m *Manager) MaxInputChars() int {
	if m == nil {
		return 0
	}
	return m.cfg.MaxInputChars
}

func (m *Manager) Embedder() IEmbedder {
	if m == nil {
		return nil
	}
	return m.embedder
}

// ModelName lets the manager stand in for an IEmbedder.
func (m *Manager) ModelName() string {
	return m.EmbeddingModelName()
}

func (m *Manager) EmbeddingModelName() string {
	if m == nil || m.embedder == nil {
		return ""
	}
	return m.embedder.ModelName()
}
