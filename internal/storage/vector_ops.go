package storage

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/dshills/corpora/pkg/types"
)

// distanceEpsilon is the resolution distances are rounded to before ranking,
// so float noise between otherwise equal scores cannot reorder results
const distanceEpsilon = 1e-9

// candidate represents a split with its distance to the query
type candidate struct {
	split    *types.Split
	path     string
	distance float64
}

// rankCandidates scores every candidate against query and returns the best
// limit hits. Candidates whose dimension differs from the query are skipped.
func rankCandidates(cands []candidate, query []float32, limit int) []types.ScoredSplit {
	scored := cands[:0:0]
	for _, c := range cands {
		if len(c.split.Vector) != len(query) {
			continue // Dimension mismatch, skip
		}
		c.distance = cosineDistance(query, c.split.Vector)
		scored = append(scored, c)
	}

	sortCandidates(scored)
	return buildResults(scored, limit)
}

// sortCandidates orders by distance ascending, then insertion sequence
func sortCandidates(cands []candidate) {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].distance != cands[j].distance {
			return cands[i].distance < cands[j].distance
		}
		return cands[i].split.Seq < cands[j].split.Seq
	})
}

// buildResults truncates to limit; limit <= 0 yields nothing
func buildResults(cands []candidate, limit int) []types.ScoredSplit {
	if limit <= 0 {
		return []types.ScoredSplit{}
	}
	limit = min(limit, len(cands))

	results := make([]types.ScoredSplit, limit)
	for i := 0; i < limit; i++ {
		results[i] = types.ScoredSplit{
			Split:    cands[i].split,
			Path:     cands[i].path,
			Distance: cands[i].distance,
		}
	}
	return results
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineDistance returns 1 - cos(a, b), quantized. A zero vector is treated
// as orthogonal to everything.
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return 1
	}

	var dotProduct, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dotProduct += x * y
		normA += x * x
		normB += y * y
	}

	if normA == 0 || normB == 0 {
		return 1
	}

	return quantize(1 - dotProduct/(math.Sqrt(normA)*math.Sqrt(normB)))
}

// quantize rounds d to distanceEpsilon and clamps it to [0, 2]
func quantize(d float64) float64 {
	if math.IsNaN(d) {
		return 1
	}
	d = math.Round(d/distanceEpsilon) * distanceEpsilon
	return math.Min(math.Max(d, 0), 2)
}

// SerializeVector is an exported helper for testing
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector is an exported helper for testing
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}

// CosineDistance is an exported helper for the retriever and tests
func CosineDistance(a, b []float32) float64 {
	return cosineDistance(a, b)
}
