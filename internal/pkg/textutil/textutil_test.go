package textutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "blank", in: " \t\n ", want: ""},
		{name: "collapse", in: "a   b\n\nc\td", want: "a b c d"},
		{name: "control chars", in: "a\x00b\x07c\x7f", want: "abc"},
		{name: "trim", in: "  hello world  ", want: "hello world"},
		{name: "unicode", in: "héllo wörld", want: "héllo wörld"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in)
			require.Equal(t, tt.want, got)
			require.Equal(t, got, Normalize(got))
		})
	}
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "short", Truncate("short", 10))
	require.Equal(t, "abcdef...", Truncate("abcdefghijklmnop", 9))
	require.Equal(t, "ab", Truncate("abcdef", 2))
	require.Equal(t, "anything", Truncate("anything", 0))
}

func TestDeriveTitle(t *testing.T) {
	require.Equal(t, "report", DeriveTitle("/tmp/report.pdf", "ignored", 80))
	require.Equal(t, "first words of the body", DeriveTitle("", "  first words\nof the body ", 80))
	require.Equal(t, "Untitled", DeriveTitle("", "   ", 80))
	require.Equal(t, "abcd...", DeriveTitle("", "abcdefghij", 7))
}

func TestPartTitle(t *testing.T) {
	require.Equal(t, "Guide (Part 2/4)", PartTitle("Guide", 2, 4))
}
