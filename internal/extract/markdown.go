package extract

import (
	"context"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

func init() {
	Register(KindMarkdown, markdownText)
}

// markdownText renders markdown to plain text, one top-level block per
// paragraph so the chunker can break on block boundaries.
func markdownText(_ context.Context, data []byte) (string, error) {
	source := []byte(strings.TrimPrefix(string(data), string(utf8BOM)))
	doc := goldmark.New().Parser().Parse(text.NewReader(source))
	blocks := make([]string, 0)
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		if txt := blockText(node, source); txt != "" {
			blocks = append(blocks, txt)
		}
	}
	return strings.Join(blocks, "\n\n"), nil
}

func blockText(root ast.Node, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(root, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if node != root && node.Type() == ast.TypeBlock && sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		switch n := node.(type) {
		case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				line := lines.At(i)
				sb.Write(line.Value(source))
			}
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			sb.Write(n.Segment.Value(source))
			if n.SoftLineBreak() || n.HardLineBreak() {
				sb.WriteByte('\n')
			}
		case *ast.String:
			sb.Write(n.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}
