// Package sanitize turns Markdown into the plain text Max displays.
package sanitize

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

var blankLines = regexp.MustCompile(`\n\s*\n+`)

// Policy represents a sanitization policy for text content.
// It is safe for concurrent use.
type Policy struct {
	markdown goldmark.Markdown
}

// NewPlainTextPolicy creates a Policy that strips Markdown markup and raw
// HTML, keeping text, code, list markers and link targets of autolinks.
func NewPlainTextPolicy() *Policy {
	return &Policy{
		markdown: goldmark.New(goldmark.WithExtensions(extension.Strikethrough)),
	}
}

// SanitizeText strips HTML and Markdown from the input text.
func (p *Policy) SanitizeText(input string) string {
	if strings.TrimSpace(input) == "" {
		return ""
	}

	source := []byte(input)
	document := p.markdown.Parser().Parse(text.NewReader(source))

	w := &plainWriter{source: source}
	_ = ast.Walk(document, w.walk)

	out := html.UnescapeString(w.out.String())
	out = blankLines.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

// plainWriter collects the text of a goldmark AST.
type plainWriter struct {
	source []byte
	out    strings.Builder
	// next number per open list; -1 for bullet lists.
	lists []int
}

func (w *plainWriter) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node := n.(type) {
	case *ast.Text:
		if entering {
			w.out.Write(node.Segment.Value(w.source))
			if node.SoftLineBreak() || node.HardLineBreak() {
				w.out.WriteByte('\n')
			}
		}
	case *ast.String:
		if entering {
			w.out.Write(node.Value)
		}
	case *ast.AutoLink:
		if entering {
			w.out.Write(node.URL(w.source))
		}
		return ast.WalkSkipChildren, nil
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		if entering {
			lines := n.Lines()
			for i := range lines.Len() {
				segment := lines.At(i)
				w.out.Write(segment.Value(w.source))
			}
			w.endBlock()
		}
		return ast.WalkSkipChildren, nil
	case *ast.RawHTML, *ast.HTMLBlock:
		return ast.WalkSkipChildren, nil
	case *ast.List:
		if entering {
			next := -1
			if node.IsOrdered() {
				next = node.Start
			}
			w.lists = append(w.lists, next)
		} else {
			w.lists = w.lists[:len(w.lists)-1]
			w.endBlock()
		}
	case *ast.ListItem:
		if entering {
			depth := len(w.lists)
			w.out.WriteString(strings.Repeat("  ", depth-1))
			if w.lists[depth-1] < 0 {
				w.out.WriteString("• ")
			} else {
				fmt.Fprintf(&w.out, "%d. ", w.lists[depth-1])
				w.lists[depth-1]++
			}
		} else {
			w.newline()
		}
	case *ast.Paragraph, *ast.TextBlock, *ast.Heading, *ast.Blockquote, *ast.ThematicBreak:
		if !entering {
			w.endBlock()
		}
	}
	return ast.WalkContinue, nil
}

// endBlock separates blocks by a blank line, or by a line break inside lists.
func (w *plainWriter) endBlock() {
	w.newline()
	if len(w.lists) == 0 {
		w.out.WriteByte('\n')
	}
}

func (w *plainWriter) newline() {
	s := w.out.String()
	if s != "" && !strings.HasSuffix(s, "\n") {
		w.out.WriteByte('\n')
	}
}
