package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xxxsen/common/logger"

	"github.com/xxxsen/ragkb/internal/chunker"
	appErr "github.com/xxxsen/ragkb/internal/pkg/errors"
)

const (
	defaultSimilarityThreshold = 0.7
	defaultTopK                = 5
	defaultTitleMaxChars       = 80
	defaultMaxFileSize         = 10 << 20
	defaultAITimeout           = 60
	defaultMaxInputChars       = 20000
	defaultStoreTimeout        = 15
	defaultLRUTTL              = 3600
)

type Config struct {
	Port        int              `json:"port"`
	LogConfig   logger.LogConfig `json:"log_config"`
	Database    DatabaseConfig   `json:"database"`
	Store       StoreConfig      `json:"store"`
	AI          AIConfig         `json:"ai"`
	EmbedCache  EmbedCacheConfig `json:"embed_cache"`
	RAG         RAGConfig        `json:"rag"`
	Upload      UploadConfig     `json:"upload"`
	FileStore   FileStoreConfig  `json:"file_store"`
	Jobs        JobsConfig       `json:"jobs"`
	CORSOrigins []string         `json:"cors_origins"`
	// QueryRateWindowMs is the minimum interval between two queries from one client.
	QueryRateWindowMs int `json:"query_rate_window_ms"`
}

type DatabaseConfig struct {
	Driver   string `json:"driver"`
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
	Path     string `json:"path"`
}

type StoreConfig struct {
	Type      string       `json:"type"`
	Dimension int          `json:"dimension"`
	Timeout   int          `json:"timeout"`
	Qdrant    QdrantConfig `json:"qdrant"`
}

type QdrantConfig struct {
	URL        string `json:"url"`
	APIKey     string `json:"api_key"`
	Collection string `json:"collection"`
}

type AIProviderConfig struct {
	Name string      `json:"name"`
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type AIConfig struct {
	Providers []AIProviderConfig `json:"providers"`
	// Generate and Embed list "provider:model" references tried in order.
	Generate         []string `json:"generate"`
	Embed            []string `json:"embed"`
	Timeout          int      `json:"timeout"`
	MaxInputChars    int      `json:"max_input_chars"`
	EmbedConcurrency int      `json:"embed_concurrency"`
}

type EmbedCacheConfig struct {
	LRUSize    int  `json:"lru_size"`
	LRUTTL     int  `json:"lru_ttl"`
	DB         bool `json:"db"`
	MaxAgeDays int  `json:"max_age_days"`
}

type RAGConfig struct {
	ChunkSize           int     `json:"chunk_size"`
	ChunkOverlap        int     `json:"chunk_overlap"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	TopK                int     `json:"top_k"`
	TitleMaxChars       int     `json:"title_max_chars"`
}

type UploadConfig struct {
	MaxFileSize  int64    `json:"max_file_size"`
	AllowedTypes []string `json:"allowed_types"`
}

type FileStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type JobsConfig struct {
	EmbeddingBackfill string `json:"embedding_backfill"`
	BackfillBatch     int    `json:"backfill_batch"`
	CacheCleanup      string `json:"cache_cleanup"`
}

// Load reads a JSON config file. ${NAME} references are expanded from the
// environment before decoding.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Config, error) {
	// zero is a valid overlap and threshold, so their defaults are set before
	// decoding rather than filled in afterwards
	cfg := Config{RAG: RAGConfig{
		ChunkOverlap:        chunker.DefaultOverlap,
		SimilarityThreshold: defaultSimilarityThreshold,
	}}
	if err := json.Unmarshal([]byte(os.ExpandEnv(string(raw))), &cfg); err != nil {
		return nil, appErr.Config("decode config: %v", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogConfig.Level == "" {
		c.LogConfig.Level = "info"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	c.Database.Driver = strings.ToLower(c.Database.Driver)
	if c.Store.Type == "" {
		c.Store.Type = "sql"
	}
	c.Store.Type = strings.ToLower(c.Store.Type)
	if c.Store.Timeout <= 0 {
		c.Store.Timeout = defaultStoreTimeout
	}
	if c.Store.Qdrant.Collection == "" {
		c.Store.Qdrant.Collection = "documents"
	}
	if c.AI.Timeout <= 0 {
		c.AI.Timeout = defaultAITimeout
	}
	if c.AI.MaxInputChars <= 0 {
		c.AI.MaxInputChars = defaultMaxInputChars
	}
	if c.RAG.ChunkSize == 0 {
		c.RAG.ChunkSize = chunker.DefaultChunkSize
	}
	if c.RAG.TopK <= 0 {
		c.RAG.TopK = defaultTopK
	}
	if c.RAG.TitleMaxChars <= 0 {
		c.RAG.TitleMaxChars = defaultTitleMaxChars
	}
	if c.Upload.MaxFileSize <= 0 {
		c.Upload.MaxFileSize = defaultMaxFileSize
	}
	if c.EmbedCache.LRUSize > 0 && c.EmbedCache.LRUTTL <= 0 {
		c.EmbedCache.LRUTTL = defaultLRUTTL
	}
	if c.EmbedCache.MaxAgeDays <= 0 {
		c.EmbedCache.MaxAgeDays = 30
	}
	if c.Jobs.BackfillBatch <= 0 {
		c.Jobs.BackfillBatch = 50
	}
	if c.FileStore.Type == "" {
		c.FileStore.Type = "local"
	}
}

func (c *Config) validate() error {
	if c.Port == 0 {
		return appErr.Config("port is required")
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" && c.Database.DSN == "" {
			return appErr.Config("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" && c.Database.Host == "" {
			return appErr.Config("database.dsn or database.host is required for postgres")
		}
	default:
		return appErr.Config("database.driver must be postgres or sqlite")
	}
	switch c.Store.Type {
	case "sql", "memory":
	case "pgvector":
		if c.Database.Driver != "postgres" {
			return appErr.Config("store.type pgvector requires the postgres driver")
		}
		if c.Store.Dimension <= 0 {
			return appErr.Config("store.dimension is required for pgvector")
		}
	case "qdrant":
		if c.Store.Qdrant.URL == "" {
			return appErr.Config("store.qdrant.url is required")
		}
		if c.Store.Dimension <= 0 {
			return appErr.Config("store.dimension is required for qdrant")
		}
	default:
		return appErr.Config("unsupported store.type: %s", c.Store.Type)
	}
	if (c.Store.Type == "pgvector" || c.Store.Type == "qdrant") && len(c.AI.Embed) == 0 {
		return appErr.Config("store.type %s requires ai.embed", c.Store.Type)
	}
	if err := chunker.Validate(c.RAG.ChunkSize, c.RAG.ChunkOverlap); err != nil {
		return err
	}
	if c.RAG.SimilarityThreshold < 0 || c.RAG.SimilarityThreshold > 1 {
		return appErr.Config("rag.similarity_threshold must be within [0, 1]")
	}
	names := make(map[string]bool, len(c.AI.Providers))
	for _, p := range c.AI.Providers {
		if p.Name == "" || p.Type == "" {
			return appErr.Config("ai.providers entries need name and type")
		}
		if names[p.Name] {
			return appErr.Config("duplicate ai provider name: %s", p.Name)
		}
		names[p.Name] = true
	}
	for _, ref := range append(append([]string(nil), c.AI.Generate...), c.AI.Embed...) {
		provider, _, err := ParseModelRef(ref)
		if err != nil {
			return err
		}
		if !names[provider] {
			return appErr.Config("ai reference %s names unknown provider %s", ref, provider)
		}
	}
	return nil
}

// ParseModelRef splits a "provider:model" reference.
func ParseModelRef(ref string) (string, string, error) {
	provider, model, ok := strings.Cut(strings.TrimSpace(ref), ":")
	provider = strings.TrimSpace(provider)
	model = strings.TrimSpace(model)
	if !ok || provider == "" || model == "" {
		return "", "", appErr.Config("invalid model reference %q, want provider:model", ref)
	}
	return provider, model, nil
}
