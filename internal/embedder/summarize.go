package embedder

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
)

var (
	sentencePattern = regexp.MustCompile(`(?m)(?U)([^.!?\n]+[.!?\n])`)
	tokenPattern    = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
)

// FrequencySummarizer builds extractive summaries by ranking sentences on
// word frequency with stopwords removed
type FrequencySummarizer struct {
	maxSentences int
	stopwords    map[string]struct{}
}

// NewFrequencySummarizer creates a summarizer keeping DefaultSummarySentences
func NewFrequencySummarizer() *FrequencySummarizer {
	return &FrequencySummarizer{
		maxSentences: DefaultSummarySentences,
		stopwords:    defaultStopwords(),
	}
}

// Summarize returns the highest-ranked sentences of text in their original order
func (s *FrequencySummarizer) Summarize(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var sentences []string
	for _, m := range sentencePattern.FindAllString(text, -1) {
		if t := strings.TrimSpace(m); t != "" {
			sentences = append(sentences, t)
		}
	}
	if len(sentences) == 0 {
		return strings.TrimSpace(text), nil
	}

	freq := map[string]float64{}
	maxF := 0.0
	for _, sent := range sentences {
		for _, tok := range s.tokens(sent) {
			if _, ok := s.stopwords[tok]; ok {
				continue
			}
			freq[tok]++
			maxF = math.Max(maxF, freq[tok])
		}
	}

	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, len(sentences))
	for i, sent := range sentences {
		toks := s.tokens(sent)
		total := 0.0
		for _, tok := range toks {
			if v, ok := freq[tok]; ok && maxF > 0 {
				total += v / maxF
			}
		}
		if len(toks) > 0 {
			total /= math.Sqrt(float64(len(toks)))
		}
		scores[i] = scored{i, total}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	keep := min(s.maxSentences, len(scores))
	selected := make([]int, keep)
	for i := 0; i < keep; i++ {
		selected[i] = scores[i].idx
	}
	sort.Ints(selected)

	out := make([]string, 0, keep)
	for _, idx := range selected {
		out = append(out, sentences[idx])
	}
	return strings.Join(out, " "), nil
}

func (s *FrequencySummarizer) tokens(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
