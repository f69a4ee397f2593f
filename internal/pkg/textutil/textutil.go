package textutil

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

const ellipsis = "..."

// Normalize strips control characters, collapses whitespace runs into a single
// space and trims the result. Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		if r == utf8.RuneError {
			continue
		}
		if unicode.IsSpace(r) {
			pendingSpace = true
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		if pendingSpace && sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		pendingSpace = false
		sb.WriteRune(r)
	}
	return sb.String()
}

// Truncate shortens s to at most max runes, appending an ellipsis when cut.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= len(ellipsis) {
		return string(runes[:max])
	}
	return strings.TrimSpace(string(runes[:max-len(ellipsis)])) + ellipsis
}

// DeriveTitle picks a title from a filename, falling back to the head of content.
func DeriveTitle(filename, content string, max int) string {
	if name := strings.TrimSpace(filepath.Base(filename)); filename != "" && name != "." && name != string(filepath.Separator) {
		name = strings.TrimSuffix(name, filepath.Ext(name))
		if name = strings.TrimSpace(name); name != "" {
			return Truncate(name, max)
		}
	}
	head := Normalize(content)
	if head == "" {
		return "Untitled"
	}
	return Truncate(head, max)
}

// PartTitle labels the i-th (1-based) of n chunks.
func PartTitle(title string, i, n int) string {
	return fmt.Sprintf("%s (Part %d/%d)", title, i, n)
}
