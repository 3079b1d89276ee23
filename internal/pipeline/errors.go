package pipeline

import "errors"

var (
	// ErrDigestMismatch means the stored content no longer hashes to the
	// digest it was written with
	ErrDigestMismatch = errors.New("digest mismatch")
	// ErrAlreadyRunning is returned by Run and Drain when workers are active
	ErrAlreadyRunning = errors.New("pipeline: workers already running")
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The job fails on its current
// attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
