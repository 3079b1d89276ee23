package types

import (
	"time"

	"github.com/google/uuid"
)

// Corpus is a named collection of files belonging to an owner
type Corpus struct {
	ID        uuid.UUID
	Name      string
	URL       string // Optional origin, e.g. a repository URL
	Owner     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the corpus identity fields
func (c *Corpus) Validate() error {
	if c.Name == "" {
		return ErrEmptyCorpusName
	}
	if c.Owner == "" {
		return ErrEmptyOwner
	}
	return nil
}

// File is a member of a corpus keyed by (corpus, path)
type File struct {
	ID       uuid.UUID
	CorpusID uuid.UUID
	Path     string
	Content  string
	Digest   string // git blob digest of Content

	// Optional AI-generated summary
	Summary       string
	SummaryVector []float32

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasSummary reports whether a summary has been stored
func (f *File) HasSummary() bool {
	return f.Summary != ""
}

// ValidateDigest reports whether d has the shape of a blob digest
func ValidateDigest(d string) error {
	if len(d) != 40 {
		return ErrInvalidDigest
	}
	for i := 0; i < len(d); i++ {
		c := d[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return ErrInvalidDigest
		}
	}
	return nil
}

// CorpusStatus summarizes the stored state of a corpus
type CorpusStatus struct {
	Corpus         *Corpus
	FilesCount     int
	SplitsCount    int
	VectorsCount   int // splits that have an embedding
	SummariesCount int
	LastUpdatedAt  time.Time
	PendingVectors int // SplitsCount - VectorsCount
}
