package types

import (
	"time"

	"github.com/google/uuid"
)

// Split is an ordered chunk of a file's content
type Split struct {
	ID       uuid.UUID
	FileID   uuid.UUID
	Order    int
	Content  string
	Vector   []float32 // nil until embedded
	Metadata map[string]any

	// Seq is the store-assigned insertion sequence, used as the ranking tiebreak
	Seq int64

	CreatedAt time.Time
}

// HasVector reports whether an embedding has been stored for the split
func (s *Split) HasVector() bool {
	return len(s.Vector) > 0
}

// SplitInput describes one split to be created for a file
type SplitInput struct {
	Order    int
	Content  string
	Metadata map[string]any
}

// Validate checks the split input
func (in SplitInput) Validate() error {
	if in.Order < 0 {
		return ErrNegativeOrder
	}
	return nil
}

// ScoredSplit is a retrieval hit
type ScoredSplit struct {
	Split    *Split
	Path     string  // path of the owning file
	Distance float64 // cosine distance, lower is more similar
}
