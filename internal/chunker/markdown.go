package chunker

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// splitMarkdown cuts content at top-level headings. Headings inside code
// fences or block quotes are not section boundaries.
func (c *Chunker) splitMarkdown(content string) []piece {
	src := []byte(content)
	doc := goldmark.DefaultParser().Parse(text.NewReader(src))

	var (
		cuts   []int
		labels [][]string
		title  []string // heading of the current section
	)
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok {
			continue
		}
		lines := h.Lines()
		if lines.Len() == 0 {
			continue
		}
		start := lines.At(0).Start
		lineStart := bytes.LastIndexByte(src[:start], '\n') + 1
		heading := strings.TrimSpace(string(lines.Value(src)))

		if lineStart > 0 && (len(cuts) == 0 || cuts[len(cuts)-1] < lineStart) {
			cuts = append(cuts, lineStart)
			labels = append(labels, title)
		}
		if heading != "" {
			title = []string{heading}
		} else {
			title = nil
		}
	}
	labels = append(labels, title)

	return c.splitSections(content, cuts, labels, textSeparators, false)
}
