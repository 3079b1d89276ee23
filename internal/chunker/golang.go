package chunker

import (
	"github.com/dshills/corpora/internal/parser"
)

// splitGo cuts Go source at top-level declarations. It reports false when the
// source does not parse.
func (c *Chunker) splitGo(content string) ([]piece, bool) {
	res, err := parser.New().ParseSource("source.go", content)
	if err != nil {
		return nil, false
	}

	cuts := parser.Boundaries(res)
	bounds := append([]int{0}, cuts...)
	bounds = append(bounds, len(content))

	labels := make([][]string, 0, len(bounds)-1)
	for i := 0; i+1 < len(bounds); i++ {
		labels = append(labels, parser.Symbols(res, bounds[i], bounds[i+1]))
	}

	return c.splitSections(content, cuts, labels, goSeparators, true), true
}
