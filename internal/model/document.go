package model

const (
	DefaultCategory = "General"
	TagChunked      = "chunked"
)

type Document struct {
	ID             string            `json:"id"`
	Title          string            `json:"title"`
	Content        string            `json:"content"`
	Category       string            `json:"category"`
	EmergencyType  string            `json:"emergency_type,omitempty"`
	Tags           []string          `json:"tags"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Embedding      []float32         `json:"-"`
	EmbeddingModel string            `json:"-"`
	CreatedAt      int64             `json:"created_at"`
	UpdatedAt      int64             `json:"updated_at"`
	// Similarity is only set on retrieval results and never persisted.
	Similarity *float32 `json:"similarity,omitempty"`
}

// DocumentInput carries everything needed to create a document. Content is
// normalized by the store.
type DocumentInput struct {
	Title         string
	Content       string
	Category      string
	EmergencyType string
	Tags          []string
	Metadata      map[string]string
	// Embedding may be precomputed by the caller; vector stores embed when nil.
	Embedding      []float32
	EmbeddingModel string
}

// DocumentPatch is a partial update; nil fields are left untouched.
type DocumentPatch struct {
	Title         *string
	Content       *string
	Category      *string
	EmergencyType *string
	Tags          *[]string
	Metadata      map[string]string
}

func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	out.Tags = append([]string(nil), d.Tags...)
	if d.Metadata != nil {
		out.Metadata = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			out.Metadata[k] = v
		}
	}
	out.Embedding = append([]float32(nil), d.Embedding...)
	if d.Similarity != nil {
		score := *d.Similarity
		out.Similarity = &score
	}
	return &out
}
