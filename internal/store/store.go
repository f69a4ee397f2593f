// Package store persists documents behind one contract with pluggable
// backends: a relational text-search store and vector databases.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xxxsen/ragkb/internal/ai"
	"github.com/xxxsen/ragkb/internal/model"
	appErr "github.com/xxxsen/ragkb/internal/pkg/errors"
)

// MaxSearchResults caps lexical search.
const MaxSearchResults = 50

const defaultTimeout = 15 * time.Second

type Store interface {
	Name() string
	Create(ctx context.Context, in *model.DocumentInput) (*model.Document, error)
	// Get returns an error matching appErr.ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (*model.Document, error)
	// List orders by created_at desc and reports the total match count.
	List(ctx context.Context, q *model.ListQuery) ([]*model.Document, int64, error)
	// Search is a case-insensitive substring match over title and content.
	Search(ctx context.Context, query string, filter model.Filter, limit int) ([]*model.Document, error)
	Update(ctx context.Context, id string, patch *model.DocumentPatch) (*model.Document, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// VectorStore is implemented by backends holding embeddings.
type VectorStore interface {
	Store
	SearchByVector(ctx context.Context, vec []float32, filter model.Filter, threshold float32, limit int) (model.RetrievalResult, error)
	// ListStale returns documents with no embedding or one produced by a
	// model other than modelName.
	ListStale(ctx context.Context, modelName string, limit int) ([]*model.Document, error)
	// SetEmbedding stores vec only while the document still holds content,
	// the text vec was computed from. It reports false when the document is
	// gone or its content has changed since.
	SetEmbedding(ctx context.Context, id, content string, vec []float32, modelName string) (bool, error)
}

// Deps are the shared resources handed to every backend factory.
type Deps struct {
	DB       *sql.DB
	Driver   string
	Embedder ai.IEmbedder
	Timeout  time.Duration
}

type Factory func(deps Deps, args interface{}) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

func New(name string, deps Deps, args interface{}) (Store, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, appErr.Config("store type is required")
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, appErr.Config("unsupported store type: %s", name)
	}
	if deps.Timeout <= 0 {
		deps.Timeout = defaultTimeout
	}
	return factory(deps, args)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode store config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode store config: %w", err)
	}
	return nil
}
