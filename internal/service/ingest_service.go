package service

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragkb/internal/ai"
	"github.com/xxxsen/ragkb/internal/chunker"
	"github.com/xxxsen/ragkb/internal/extract"
	"github.com/xxxsen/ragkb/internal/filestore"
	"github.com/xxxsen/ragkb/internal/model"
	appErr "github.com/xxxsen/ragkb/internal/pkg/errors"
	"github.com/xxxsen/ragkb/internal/pkg/textutil"
	"github.com/xxxsen/ragkb/internal/store"
)

const (
	MetaSourceKey  = "source_key"
	MetaSourceName = "source_name"
	MetaChunkIndex = "chunk_index"
	MetaChunkCount = "chunk_count"

	defaultTitleMaxChars = 80
	rollbackTimeout      = 10 * time.Second
)

// BatchEmbedder embeds chunks ahead of persistence. *ai.Manager satisfies it.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error)
	ModelName() string
}

// IngestMeta is the caller-supplied metadata applied to every chunk.
type IngestMeta struct {
	Title         string            `json:"title"`
	Category      string            `json:"category"`
	EmergencyType string            `json:"emergency_type"`
	Tags          []string          `json:"tags"`
	Metadata      map[string]string `json:"metadata"`
	// Filename seeds the title when Title is empty.
	Filename string `json:"-"`
}

// UploadFile is an uploaded file fully read into memory.
type UploadFile struct {
	Name     string
	MimeType string
	Data     []byte
}

type IngestService struct {
	store         store.Store
	chunker       *chunker.Chunker
	embedder      BatchEmbedder
	validator     *extract.Validator
	files         filestore.Store
	titleMaxChars int
}

type IngestOption func(*IngestService)

func WithBatchEmbedder(e BatchEmbedder) IngestOption {
	return func(s *IngestService) {
		s.embedder = e
	}
}

func WithFileStore(fs filestore.Store) IngestOption {
	return func(s *IngestService) {
		s.files = fs
	}
}

func WithTitleMaxChars(n int) IngestOption {
	return func(s *IngestService) {
		if n > 0 {
			s.titleMaxChars = n
		}
	}
}

func NewIngestService(st store.Store, ck *chunker.Chunker, validator *extract.Validator, opts ...IngestOption) *IngestService {
	s := &IngestService{
		store:         st,
		chunker:       ck,
		validator:     validator,
		titleMaxChars: defaultTitleMaxChars,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProcessDocument chunks text, embeds the chunks when the store keeps
// vectors, and persists one document per chunk. Either every chunk is
// stored or none is.
func (s *IngestService) ProcessDocument(ctx context.Context, text string, meta IngestMeta) ([]string, error) {
	if textutil.Normalize(text) == "" {
		return nil, appErr.Invalid("document content is empty")
	}
	chunks := s.chunker.Split(text)
	inputs := make([]*model.DocumentInput, 0, len(chunks))
	for _, chunk := range chunks {
		if textutil.Normalize(chunk) == "" {
			continue
		}
		inputs = append(inputs, &model.DocumentInput{Content: chunk})
	}
	if len(inputs) == 0 {
		return nil, appErr.Invalid("document content is empty")
	}
	s.decorate(inputs, text, meta)
	if err := s.embedInputs(ctx, inputs); err != nil {
		return nil, err
	}

	logger := logutil.GetLogger(ctx).With(zap.String("title", meta.Title), zap.Int("chunks", len(inputs)))
	ids := make([]string, 0, len(inputs))
	for _, in := range inputs {
		doc, err := s.store.Create(ctx, in)
		if err != nil {
			logger.Error("persist chunk failed, rolling back", zap.Int("created", len(ids)), zap.Error(err))
			s.rollback(ctx, ids)
			return nil, err
		}
		ids = append(ids, doc.ID)
	}
	logger.Info("document ingested", zap.String("store", s.store.Name()))
	return ids, nil
}

func (s *IngestService) decorate(inputs []*model.DocumentInput, text string, meta IngestMeta) {
	title := meta.Title
	if title == "" {
		title = textutil.DeriveTitle(meta.Filename, text, s.titleMaxChars)
	}
	n := len(inputs)
	for i, in := range inputs {
		in.Title = title
		in.Category = meta.Category
		in.EmergencyType = meta.EmergencyType
		in.Tags = append([]string(nil), meta.Tags...)
		in.Metadata = make(map[string]string, len(meta.Metadata)+2)
		for k, v := range meta.Metadata {
			in.Metadata[k] = v
		}
		if n > 1 {
			in.Title = textutil.PartTitle(title, i+1, n)
			in.Tags = append(in.Tags, model.TagChunked)
			in.Metadata[MetaChunkIndex] = strconv.Itoa(i + 1)
			in.Metadata[MetaChunkCount] = strconv.Itoa(n)
		}
	}
}

func (s *IngestService) embedInputs(ctx context.Context, inputs []*model.DocumentInput) error {
	if _, ok := s.store.(store.VectorStore); !ok || s.embedder == nil {
		return nil
	}
	texts := make([]string, len(inputs))
	for i, in := range inputs {
		texts[i] = textutil.Normalize(in.Content)
	}
	start := time.Now()
	vectors, err := s.embedder.EmbedBatch(ctx, texts, ai.TaskRetrievalDocument)
	if err != nil {
		if !errors.Is(err, appErr.ErrEmbedding) && !errors.Is(err, appErr.ErrUnavailable) {
			err = appErr.Embedding("embed chunks", err)
		}
		return err
	}
	modelName := s.embedder.ModelName()
	for i, in := range inputs {
		in.Embedding = vectors[i]
		in.EmbeddingModel = modelName
	}
	logutil.GetLogger(ctx).Debug("chunks embedded",
		zap.Int("count", len(inputs)),
		zap.Duration("cost", time.Since(start)),
	)
	return nil
}

// rollback runs on a detached context so a cancelled request still cleans up.
func (s *IngestService) rollback(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()
	for _, id := range ids {
		if _, err := s.store.Delete(ctx, id); err != nil {
			logutil.GetLogger(ctx).Error("rollback chunk failed", zap.String("id", id), zap.Error(err))
		}
	}
}

func (s *IngestService) ValidateFile(name, mimeType string, size int64) extract.Validation {
	return s.validator.Validate(name, mimeType, size)
}

func (s *IngestService) MaxFileSize() int64 {
	return s.validator.MaxSize()
}

// ProcessFile validates and extracts an uploaded file, archives the original
// when a file store is configured, then ingests the text.
func (s *IngestService) ProcessFile(ctx context.Context, file *UploadFile, meta IngestMeta) ([]string, error) {
	check := s.ValidateFile(file.Name, file.MimeType, int64(len(file.Data)))
	if !check.Valid {
		return nil, appErr.Invalid("%s", check.Error)
	}
	text, err := extract.Text(ctx, check.Kind, file.Data)
	if err != nil {
		return nil, err
	}
	if meta.Filename == "" {
		meta.Filename = file.Name
	}
	key, err := s.archive(ctx, file)
	if err != nil {
		return nil, err
	}
	if key != "" {
		extra := make(map[string]string, len(meta.Metadata)+2)
		for k, v := range meta.Metadata {
			extra[k] = v
		}
		extra[MetaSourceKey] = key
		extra[MetaSourceName] = file.Name
		meta.Metadata = extra
	}
	ids, err := s.ProcessDocument(ctx, text, meta)
	if err != nil && key != "" {
		if derr := s.files.Delete(context.WithoutCancel(ctx), key); derr != nil {
			logutil.GetLogger(ctx).Warn("remove archived file failed", zap.String("key", key), zap.Error(derr))
		}
	}
	return ids, err
}

func (s *IngestService) archive(ctx context.Context, file *UploadFile) (string, error) {
	if s.files == nil {
		return "", nil
	}
	key := filestore.NewKey(file.Name)
	if err := s.files.Save(ctx, key, bytes.NewReader(file.Data), int64(len(file.Data))); err != nil {
		return "", appErr.Store("archive file", key, err)
	}
	return key, nil
}
