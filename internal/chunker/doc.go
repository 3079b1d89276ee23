// Package chunker divides file content into ordered chunks ("splits") for
// embedding and retrieval.
//
// # Basic Usage
//
//	c := chunker.New(chunker.WithChunkSize(5000), chunker.WithOverlap(0))
//	for i, chunk := range c.Chunks(content, chunker.StrategyFor(path)) {
//	    fmt.Printf("split %d: %d chars %v\n", i, len([]rune(chunk.Content)), chunk.Metadata)
//	}
//
// # Strategies
//
// The strategy is a closed set selected from the file extension:
//   - StrategyGo: cuts at top-level declarations found by go/parser
//   - StrategyMarkdown: cuts at top-level headings found by goldmark
//   - StrategyCode: cuts at common definition keywords (class, def, func, fn, ...)
//   - StrategyText: cuts at paragraphs, then lines, then words (the fallback)
//
// Whatever the strategy, pieces larger than the chunk size are split again
// with progressively finer separators, and neighbouring small pieces are
// merged up to the chunk size. Chunk size and overlap are measured in
// characters (runes).
//
// # Guarantees
//
//   - Empty or whitespace-only content yields no chunks
//   - No chunk is empty and none exceeds the chunk size
//   - Identical input and strategy always yield identical chunks
package chunker
