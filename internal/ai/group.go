package ai

import (
	"context"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// GeneratorEntry is one "provider:model" reference of the ai.generate list.
type GeneratorEntry struct {
	Name      string
	Generator IGenerator
}

// EmbedderEntry is one "provider:model" reference of the ai.embed list. All
// entries of a group must produce vectors of the same dimension.
type EmbedderEntry struct {
	Name     string
	Embedder IEmbedder
}

// failover calls each configured entry in order until one succeeds. A caller
// whose context is done gets no further attempts. With no usable entry the
// result is ErrUnavailable.
func failover[T any](ctx context.Context, kind string, names []string, call func(i int) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	logger := logutil.GetLogger(ctx).With(zap.String("kind", kind))
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}
		start := time.Now()
		res, err := call(i)
		if err == nil {
			if i > 0 {
				logger.Info("served by fallback model", zap.String("model_ref", name), zap.Int("attempt", i+1))
			}
			return res, nil
		}
		lastErr = err
		logger.Warn("model call failed",
			zap.String("model_ref", name),
			zap.Int("attempt", i+1),
			zap.Int("remaining", len(names)-i-1),
			zap.Duration("cost", time.Since(start)),
			zap.Error(err),
		)
	}
	if lastErr == nil {
		return zero, ErrUnavailable
	}
	return zero, lastErr
}

type groupGenerator struct {
	names []string
	items []IGenerator
}

// NewGroupGenerator returns nil when no entry carries a generator.
func NewGroupGenerator(entries []GeneratorEntry) IGenerator {
	g := &groupGenerator{}
	for _, e := range entries {
		if e.Generator == nil {
			continue
		}
		g.names = append(g.names, e.Name)
		g.items = append(g.items, e.Generator)
	}
	if len(g.items) == 0 {
		return nil
	}
	return g
}

func (g *groupGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return failover(ctx, "generate", g.names, func(i int) (string, error) {
		return g.items[i].Generate(ctx, prompt)
	})
}

type groupEmbedder struct {
	names []string
	items []IEmbedder
	model string
}

// NewGroupEmbedder returns nil when no entry carries an embedder. The group's
// model name joins every reference, so stored vectors are marked stale when
// the list changes.
func NewGroupEmbedder(entries []EmbedderEntry) IEmbedder {
	g := &groupEmbedder{}
	for _, e := range entries {
		if e.Embedder == nil {
			continue
		}
		g.names = append(g.names, e.Name)
		g.items = append(g.items, e.Embedder)
	}
	if len(g.items) == 0 {
		return nil
	}
	labels := make([]string, 0, len(g.names))
	for _, name := range g.names {
		if name != "" {
			labels = append(labels, name)
		}
	}
	g.model = strings.Join(labels, "|")
	return g
}

func (g *groupEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	return failover(ctx, "embed", g.names, func(i int) ([]float32, error) {
		return g.items[i].Embed(ctx, text, taskType)
	})
}

func (g *groupEmbedder) ModelName() string {
	return g.model
}
