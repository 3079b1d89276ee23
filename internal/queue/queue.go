// Package queue provides a durable at-least-once job queue for the ingestion
// pipeline.
//
// A claimed job is leased to its worker. If the worker neither completes,
// retries nor fails the job before the lease expires, the job becomes
// claimable again, so handlers must tolerate re-delivery.
package queue

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	// ErrEmpty is returned by Claim when no job is ready
	ErrEmpty = errors.New("queue: no job ready")
	// ErrNotFound is returned for an unknown job id
	ErrNotFound = errors.New("queue: job not found")
)

// State is the lifecycle state of a job
type State string

const (
	StatePending State = "pending"
	StateRunning State = "running"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// Defaults
const (
	DefaultMaxAttempts = 5
	DefaultLease       = 5 * time.Minute
)

// Job is a unit of work
type Job struct {
	ID          string
	Kind        string
	Payload     []byte
	State       State
	Attempts    int // claims so far, including the current one
	MaxAttempts int
	LastError   string
	RunAt       time.Time
	LeaseUntil  time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Decode unmarshals the JSON payload into v
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", j.Kind, err)
	}
	return nil
}

// Exhausted reports whether the current attempt is the last one
func (j *Job) Exhausted() bool {
	return j.Attempts >= j.MaxAttempts
}

// Stats counts jobs per state
type Stats struct {
	Pending int
	Running int
	Done    int
	Failed  int
}

// Queue is implemented by MemoryQueue, SQLiteQueue and PostgresQueue
type Queue interface {
	Enqueue(ctx context.Context, kind string, payload any, opts ...EnqueueOption) (string, error)
	// Claim leases the next ready job or returns ErrEmpty
	Claim(ctx context.Context) (*Job, error)
	// Complete marks the job done and drops its payload
	Complete(ctx context.Context, id string) error
	// Retry releases the job to run again at the given time
	Retry(ctx context.Context, id string, cause error, at time.Time) error
	// Fail marks the job permanently failed
	Fail(ctx context.Context, id string, cause error) error
	Failed(ctx context.Context) ([]*Job, error)
	// Get returns the job or ErrNotFound
	Get(ctx context.Context, id string) (*Job, error)
	Stats(ctx context.Context) (Stats, error)
}

// EnqueueOption configures a single job
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	maxAttempts int
	runAt       time.Time
}

// WithMaxAttempts bounds how many times the job may be claimed
func WithMaxAttempts(n int) EnqueueOption {
	return func(o *enqueueOptions) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithRunAt delays the job until t
func WithRunAt(t time.Time) EnqueueOption {
	return func(o *enqueueOptions) { o.runAt = t }
}

// Option configures a queue implementation
type Option func(*config)

type config struct {
	lease       time.Duration
	maxAttempts int
	now         func() time.Time
}

// WithLease sets how long a claim is held before the job is redelivered
func WithLease(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.lease = d
		}
	}
}

// WithDefaultMaxAttempts sets the attempt bound for jobs enqueued without one
func WithDefaultMaxAttempts(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

func buildConfig(opts []Option) config {
	c := config{lease: DefaultLease, maxAttempts: DefaultMaxAttempts, now: time.Now}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// newJob validates and stamps a job for insertion
func (c *config) newJob(kind string, payload any, opts []EnqueueOption) (*Job, error) {
	if kind == "" {
		return nil, errors.New("queue: job kind is required")
	}
	body, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}

	now := c.now()
	o := enqueueOptions{maxAttempts: c.maxAttempts, runAt: now}
	for _, opt := range opts {
		opt(&o)
	}

	return &Job{
		ID:          newID(now),
		Kind:        kind,
		Payload:     body,
		State:       StatePending,
		MaxAttempts: o.maxAttempts,
		RunAt:       o.runAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return []byte("null"), nil
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("queue: encode payload: %w", err)
	}
	return b, nil
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// newID returns a time-sortable job id
func newID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

const leaseExpired = "lease expired after final attempt"
