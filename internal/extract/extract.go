// Package extract validates uploaded files and turns them into plain text.
package extract

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"sync"

	appErr "github.com/xxxsen/ragkb/internal/pkg/errors"
)

type Kind string

const (
	KindText     Kind = "text"
	KindMarkdown Kind = "markdown"
	KindPDF      Kind = "pdf"
	KindDocx     Kind = "docx"
	KindDoc      Kind = "doc"
)

const DefaultMaxFileSize = 10 * 1024 * 1024

var mimeKinds = map[string]Kind{
	"text/plain":         KindText,
	"text/markdown":      KindMarkdown,
	"text/x-markdown":    KindMarkdown,
	"application/pdf":    KindPDF,
	"application/msword": KindDoc,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": KindDocx,
}

var extKinds = map[string]Kind{
	".txt":      KindText,
	".text":     KindText,
	".md":       KindMarkdown,
	".markdown": KindMarkdown,
	".pdf":      KindPDF,
	".doc":      KindDoc,
	".docx":     KindDocx,
}

// Extractor converts raw file bytes of one kind into text.
type Extractor func(ctx context.Context, data []byte) (string, error)

var (
	registryMu sync.RWMutex
	registry   = map[Kind]Extractor{}
)

func Register(kind Kind, fn Extractor) {
	if kind == "" || fn == nil {
		return
	}
	registryMu.Lock()
	registry[kind] = fn
	registryMu.Unlock()
}

// DetectKind resolves the file kind from its MIME type, falling back to the
// filename extension when the MIME type is missing or generic.
func DetectKind(name, mimeType string) (Kind, bool) {
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
		if kind, ok := mimeKinds[strings.ToLower(mt)]; ok {
			return kind, true
		}
	}
	kind, ok := extKinds[strings.ToLower(filepath.Ext(name))]
	return kind, ok
}

type Validation struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
	Kind  Kind   `json:"kind,omitempty"`
}

type Validator struct {
	maxSize int64
	allowed map[Kind]bool
}

// NewValidator builds a validator; an empty allow list permits every known kind.
func NewValidator(maxSize int64, allowed []string) *Validator {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	v := &Validator{maxSize: maxSize, allowed: map[Kind]bool{}}
	for _, item := range allowed {
		item = strings.ToLower(strings.TrimSpace(item))
		if item == "" {
			continue
		}
		v.allowed[Kind(item)] = true
	}
	return v
}

func (v *Validator) MaxSize() int64 {
	return v.maxSize
}

func (v *Validator) Validate(name, mimeType string, size int64) Validation {
	if size <= 0 {
		return Validation{Error: "file is empty"}
	}
	if size > v.maxSize {
		return Validation{Error: fmt.Sprintf("file too large (max %s)", formatSize(v.maxSize))}
	}
	kind, ok := DetectKind(name, mimeType)
	if !ok || (len(v.allowed) > 0 && !v.allowed[kind]) {
		return Validation{Error: "unsupported file type; allowed: plain text, markdown, PDF, Word"}
	}
	return Validation{Valid: true, Kind: kind}
}

// Text extracts plain text from data of the given kind.
func Text(ctx context.Context, kind Kind, data []byte) (string, error) {
	registryMu.RLock()
	fn := registry[kind]
	registryMu.RUnlock()
	if fn == nil {
		return "", appErr.Invalid("unsupported file type: %s", kind)
	}
	out, err := fn(ctx, data)
	if err != nil {
		if appErr.IsInvalid(err) {
			return "", err
		}
		return "", &appErr.Error{Kind: appErr.ErrInvalid, Op: "extract " + string(kind), Msg: "unreadable file", Err: err}
	}
	return out, nil
}

func formatSize(bytes int64) string {
	const mb = 1024 * 1024
	value := bytes / mb
	if value <= 0 {
		return fmt.Sprintf("%dKB", (bytes+1023)/1024)
	}
	return fmt.Sprintf("%dMB", value)
}
