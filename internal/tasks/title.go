package tasks

import (
	"os"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// promptTitle extracts the first heading of the prompt markdown for display.
// Falls back to the file name when the prompt is unreadable or has no heading.
func promptTitle(path, fallback string) string {
	src, err := os.ReadFile(path)
	if err != nil {
		return fallback
	}

	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	title := ""
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if h, ok := n.(*ast.Heading); ok {
			title = headingText(h, src)
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})

	if title == "" {
		return fallback
	}
	return title
}

func headingText(h *ast.Heading, src []byte) string {
	var sb strings.Builder
	for c := h.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			sb.Write(t.Segment.Value(src))
		}
	}
	return strings.TrimSpace(sb.String())
}
