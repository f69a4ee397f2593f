package model

// Filter restricts stores and retrievers. Empty fields do not filter.
type Filter struct {
	Category      string            `json:"category,omitempty"`
	EmergencyType string            `json:"emergency_type,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func (f Filter) IsEmpty() bool {
	return f.Category == "" && f.EmergencyType == "" && len(f.Metadata) == 0
}

// Match reports whether doc satisfies every set field of the filter.
func (f Filter) Match(doc *Document) bool {
	if doc == nil {
		return false
	}
	if f.Category != "" && doc.Category != f.Category {
		return false
	}
	if f.EmergencyType != "" && doc.EmergencyType != f.EmergencyType {
		return false
	}
	for k, v := range f.Metadata {
		if doc.Metadata[k] != v {
			return false
		}
	}
	return true
}

type ListQuery struct {
	Limit  int
	Offset int
	Search string
	Filter Filter
}

// RetrievalResult is ordered by descending relevance. Each document carries
// its Similarity when the backend scores matches.
type RetrievalResult []*Document

type Answer struct {
	Text    string      `json:"answer"`
	Sources []*Document `json:"sources"`
}
