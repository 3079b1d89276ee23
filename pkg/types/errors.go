package types

import "errors"

// Domain errors for type validation
var (
	ErrEmptyCorpusName = errors.New("corpus name cannot be empty")
	ErrEmptyOwner      = errors.New("corpus owner cannot be empty")
	ErrEmptyPath       = errors.New("file path cannot be empty")
	ErrInvalidDigest   = errors.New("digest must be 40 lowercase hex characters")
	ErrNegativeOrder   = errors.New("split order must be >= 0")
)
