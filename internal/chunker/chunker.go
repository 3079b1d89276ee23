package chunker

import (
	"strings"
	"unicode/utf8"
)

const (
	// DefaultChunkSize is the maximum chunk length in characters
	DefaultChunkSize = 5000

	// DefaultOverlap is the number of characters shared by consecutive chunks
	DefaultOverlap = 0
)

// Chunk is one piece of a file, in output order
type Chunk struct {
	Content  string
	Metadata map[string]any
}

// Chunker splits content according to a Strategy
type Chunker struct {
	size    int
	overlap int
}

// Option configures a Chunker
type Option func(*Chunker)

// WithChunkSize sets the maximum chunk length in characters
func WithChunkSize(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.size = n
		}
	}
}

// WithOverlap sets how many characters consecutive chunks share
func WithOverlap(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.overlap = n
		}
	}
}

// New creates a new Chunker instance
func New(opts ...Option) *Chunker {
	c := &Chunker{size: DefaultChunkSize, overlap: DefaultOverlap}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.size {
		c.overlap = c.size / 2
	}
	return c
}

// ChunkSize returns the configured maximum chunk length
func (c *Chunker) ChunkSize() int { return c.size }

// Overlap returns the configured overlap
func (c *Chunker) Overlap() int { return c.overlap }

// Split returns the chunk contents of content in order
func (c *Chunker) Split(content string, strategy Strategy) []string {
	chunks := c.Chunks(content, strategy)
	out := make([]string, len(chunks))
	for i, ch := range chunks {
		out[i] = ch.Content
	}
	return out
}

// Chunks splits content and attaches per-chunk metadata
func (c *Chunker) Chunks(content string, strategy Strategy) []Chunk {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	var pieces []piece
	switch strategy {
	case StrategyGo:
		var ok bool
		pieces, ok = c.splitGo(content)
		if !ok {
			strategy = StrategyCode
			pieces = c.splitRecursive(content, codeSeparators, true)
		}
	case StrategyMarkdown:
		pieces = c.splitMarkdown(content)
	case StrategyCode:
		pieces = c.splitRecursive(content, codeSeparators, true)
	default:
		pieces = c.splitRecursive(content, textSeparators, false)
	}

	chunks := make([]Chunk, 0, len(pieces))
	for _, p := range pieces {
		meta := map[string]any{"strategy": strategy.String()}
		if len(p.labels) > 0 {
			meta[labelKey(strategy)] = p.labels
		}
		chunks = append(chunks, Chunk{Content: p.text, Metadata: meta})
	}
	return chunks
}

func labelKey(s Strategy) string {
	if s == StrategyMarkdown {
		return "headings"
	}
	return "symbols"
}

// piece is a span of text plus the names (symbols, headings) it contains
type piece struct {
	text   string
	labels []string
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// splitRecursive splits text on the coarsest separator present, recursing
// into pieces that are still too large, and merges small neighbours
func (c *Chunker) splitRecursive(text string, separators []string, keepSeparator bool) []piece {
	sep := separators[len(separators)-1]
	var rest []string
	for i, s := range separators {
		if s == "" {
			sep = ""
			break
		}
		if strings.Contains(text, s) {
			sep = s
			rest = separators[i+1:]
			break
		}
	}

	joiner := sep
	if keepSeparator {
		joiner = ""
	}

	var out, good []piece
	for _, s := range splitOn(text, sep, keepSeparator) {
		if runeLen(s) < c.size {
			good = append(good, piece{text: s})
			continue
		}
		if len(good) > 0 {
			out = append(out, c.merge(good, joiner)...)
			good = nil
		}
		if len(rest) == 0 {
			out = append(out, c.hardSplit(s)...)
			continue
		}
		out = append(out, c.splitRecursive(s, rest, keepSeparator)...)
	}
	if len(good) > 0 {
		out = append(out, c.merge(good, joiner)...)
	}
	return out
}

// splitOn splits text on sep. With keepSeparator each separator stays at the
// start of the piece that follows it. Empty pieces are dropped.
func splitOn(text, sep string, keepSeparator bool) []string {
	var parts []string
	switch {
	case sep == "":
		parts = make([]string, 0, len(text))
		for _, r := range text {
			parts = append(parts, string(r))
		}
	case keepSeparator:
		for {
			// Search past the first byte so a leading separator stays with its piece
			idx := strings.Index(text[1:], sep)
			if idx < 0 {
				parts = append(parts, text)
				break
			}
			parts = append(parts, text[:idx+1])
			text = text[idx+1:]
		}
	default:
		parts = strings.Split(text, sep)
	}

	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// hardSplit cuts text into runs of at most size characters
func (c *Chunker) hardSplit(text string) []piece {
	var out []piece
	runes := []rune(text)
	step := c.size - c.overlap
	for start := 0; start < len(runes); start += step {
		end := min(start+c.size, len(runes))
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			out = append(out, piece{text: s})
		}
		if end == len(runes) {
			break
		}
	}
	return out
}

// merge packs pieces into chunks of at most size characters, carrying up to
// overlap characters of trailing pieces into the next chunk
func (c *Chunker) merge(pieces []piece, sep string) []piece {
	sepLen := runeLen(sep)
	var (
		docs    []piece
		current []piece
		total   int
	)

	for _, p := range pieces {
		l := runeLen(p.text)
		if len(current) > 0 && total+l+sepLen > c.size {
			if doc, ok := join(current, sep); ok {
				docs = append(docs, doc)
			}
			for len(current) > 0 && (total > c.overlap || total+l+sepLen > c.size) {
				total -= runeLen(current[0].text)
				if len(current) > 1 {
					total -= sepLen
				}
				current = current[1:]
			}
		}
		current = append(current, p)
		total += l
		if len(current) > 1 {
			total += sepLen
		}
	}

	if doc, ok := join(current, sep); ok {
		docs = append(docs, doc)
	}
	return docs
}

func join(pieces []piece, sep string) (piece, bool) {
	texts := make([]string, len(pieces))
	var labels []string
	for i, p := range pieces {
		texts[i] = p.text
		labels = appendUnique(labels, p.labels...)
	}
	text := strings.TrimSpace(strings.Join(texts, sep))
	if text == "" {
		return piece{}, false
	}
	return piece{text: text, labels: labels}, true
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, d := range dst {
			if d == v {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, v)
		}
	}
	return dst
}

// splitSections cuts text at the given byte offsets, labels each section,
// splits oversized sections with separators and merges the rest
func (c *Chunker) splitSections(text string, cuts []int, labels [][]string, separators []string, keepSeparator bool) []piece {
	bounds := append([]int{0}, cuts...)
	bounds = append(bounds, len(text))

	var out, good []piece
	for i := 0; i+1 < len(bounds); i++ {
		section := text[bounds[i]:bounds[i+1]]
		if section == "" {
			continue
		}
		var lbl []string
		if i < len(labels) {
			lbl = labels[i]
		}
		if runeLen(section) < c.size {
			good = append(good, piece{text: section, labels: lbl})
			continue
		}
		if len(good) > 0 {
			out = append(out, c.merge(good, "")...)
			good = nil
		}
		for _, sub := range c.splitRecursive(section, separators, keepSeparator) {
			sub.labels = lbl
			out = append(out, sub)
		}
	}
	if len(good) > 0 {
		out = append(out, c.merge(good, "")...)
	}
	return out
}
