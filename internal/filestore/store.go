// Package filestore archives original uploaded files.
package filestore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xxxsen/ragkb/internal/config"
	appErr "github.com/xxxsen/ragkb/internal/pkg/errors"
)

type Store interface {
	Type() string
	Save(ctx context.Context, key string, r io.ReadSeeker, size int64) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

type Factory func(args interface{}) (Store, error)

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

func New(cfg config.FileStoreConfig) (Store, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	if key == "" {
		return nil, appErr.Config("file_store.type is required")
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, appErr.Config("unsupported file store type: %s", cfg.Type)
	}
	return factory(cfg.Data)
}

// NewKey returns a random object key that keeps the extension of name.
func NewKey(name string) string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	ext := strings.ToLower(filepath.Ext(name))
	if len(ext) > 10 || strings.ContainsAny(ext, `/\`) {
		ext = ""
	}
	return hex.EncodeToString(buf) + ext
}

func validKey(key string) bool {
	return key != "" && !strings.ContainsAny(key, `/\`) && key != "." && key != ".."
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return appErr.Config("encode file store config: %v", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return appErr.Config("decode file store config: %v", err)
	}
	return nil
}

func invalidKey(key string) error {
	return appErr.Invalid("invalid file key: %q", key)
}
