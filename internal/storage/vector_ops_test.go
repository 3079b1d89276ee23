package storage

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/dshills/corpora/pkg/types"
)

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 0},
		{"parallel", []float32{0.1, 0.1}, []float32{0.3, 0.3}, 0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, 2},
		{"45 degrees", []float32{1, 0}, []float32{1, 1}, 1 - 1/math.Sqrt2},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 1},
		{"dimension mismatch", []float32{1}, []float32{1, 0}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, CosineDistance(tt.a, tt.b), 1e-9)
		})
	}
}

func TestQuantize(t *testing.T) {
	assert.Equal(t, 0.0, quantize(1e-12))
	assert.Equal(t, 0.0, quantize(-1e-12))
	assert.Equal(t, 1.0, quantize(math.NaN()))
	assert.Equal(t, quantize(0.5+1e-13), quantize(0.5-1e-13))
}

func TestSerializeVector(t *testing.T) {
	vec := []float32{0, -1.5, 3.25, float32(math.Inf(1))}
	blob := SerializeVector(vec)
	assert.Len(t, blob, 16)
	assert.Equal(t, vec, DeserializeVector(blob))
}

func TestRankCandidates(t *testing.T) {
	mk := func(seq int64, vec ...float32) candidate {
		return candidate{split: &types.Split{ID: uuid.New(), Seq: seq, Vector: vec}, path: "p"}
	}

	cands := []candidate{
		mk(3, 1, 0),
		mk(1, 2, 0), // same direction as seq 3, lower seq wins
		mk(2, 0, 1),
		mk(4, 1, 0, 0), // wrong dimension
	}

	results := rankCandidates(cands, []float32{1, 0}, 10)
	assert.Len(t, results, 3)
	assert.Equal(t, int64(1), results[0].Split.Seq)
	assert.Equal(t, int64(3), results[1].Split.Seq)
	assert.Equal(t, int64(2), results[2].Split.Seq)

	assert.Len(t, rankCandidates(cands, []float32{1, 0}, 1), 1)
	assert.Empty(t, rankCandidates(cands, []float32{1, 0}, 0))
	assert.Empty(t, rankCandidates(cands, []float32{1, 0}, -5))
}

func BenchmarkRankCandidates(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	const dim = 384
	cands := make([]candidate, 5000)
	for i := range cands {
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = rng.Float32()
		}
		cands[i] = candidate{split: &types.Split{Seq: int64(i), Vector: vec}}
	}
	query := make([]float32, dim)
	for j := range query {
		query[j] = rng.Float32()
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = rankCandidates(cands, query, 10)
	}
}
