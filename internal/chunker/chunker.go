// Package chunker splits long text into overlapping, trimmed segments.
//
// The splitter walks the text window by window. A window that does not reach
// the end of the text is cut at the last sentence terminator or newline when
// that break point lies past the window midpoint; otherwise it is cut at the
// window boundary. The next window starts overlap characters before the cut.
// Lengths and offsets are measured in runes.
package chunker

import (
	"strings"

	appErr "github.com/xxxsen/ragkb/internal/pkg/errors"
)

const (
	DefaultChunkSize = 8000
	DefaultOverlap   = 200
)

// Span is one chunk plus the rune offsets [Start, End) of the untrimmed window
// it was cut from.
type Span struct {
	Text  string
	Start int
	End   int
}

type Chunker struct {
	size    int
	overlap int
}

func New(size, overlap int) (*Chunker, error) {
	if err := Validate(size, overlap); err != nil {
		return nil, err
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

func (c *Chunker) Size() int {
	return c.size
}

func (c *Chunker) Overlap() int {
	return c.overlap
}

func (c *Chunker) Split(text string) []string {
	return texts(split([]rune(text), c.size, c.overlap))
}

func (c *Chunker) Spans(text string) []Span {
	return split([]rune(text), c.size, c.overlap)
}

func Validate(size, overlap int) error {
	if size <= 0 {
		return appErr.Config("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return appErr.Config("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return nil
}

// Split is the stateless form of Chunker.Split.
func Split(text string, size, overlap int) ([]string, error) {
	if err := Validate(size, overlap); err != nil {
		return nil, err
	}
	return texts(split([]rune(text), size, overlap)), nil
}

func split(runes []rune, size, overlap int) []Span {
	n := len(runes)
	spans := make([]Span, 0, n/size+1)
	start, prevCut := 0, 0
	for start < n {
		end := start + size
		if end > n {
			end = n
		}
		cut := end
		if end < n {
			// a break point must also move past the previous cut, otherwise a
			// large overlap could yield a chunk nested inside its predecessor
			if bp := lastBreak(runes, start, end); bp >= 0 && bp-start > size/2 && bp >= prevCut {
				cut = bp + 1
			}
		}
		if chunk := strings.TrimSpace(string(runes[start:cut])); chunk != "" {
			spans = append(spans, Span{Text: chunk, Start: start, End: cut})
		}
		if cut >= n {
			break
		}
		prevCut = cut
		next := cut - overlap
		if next <= start {
			// the break point sat within overlap of start; drop the overlap
			next = cut
		}
		start = next
	}
	return spans
}

func lastBreak(runes []rune, start, end int) int {
	for i := end - 1; i >= start; i-- {
		if runes[i] == '.' || runes[i] == '\n' {
			return i
		}
	}
	return -1
}

func texts(spans []Span) []string {
	out := make([]string, 0, len(spans))
	for _, s := range spans {
		out = append(out, s.Text)
	}
	return out
}
