package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue for tests and ephemeral runs
type MemoryQueue struct {
	mu   sync.Mutex
	jobs map[string]*Job
	cfg  config
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue creates an empty queue
func NewMemoryQueue(opts ...Option) *MemoryQueue {
	return &MemoryQueue{jobs: make(map[string]*Job), cfg: buildConfig(opts)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, kind string, payload any, opts ...EnqueueOption) (string, error) {
	job, err := q.cfg.newJob(kind, payload, opts)
	if err != nil {
		return "", err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs[job.ID] = job
	return job.ID, nil
}

func (q *MemoryQueue) Claim(ctx context.Context) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.cfg.now()
	var ready []*Job
	for _, j := range q.jobs {
		switch {
		case j.State == StatePending && !j.RunAt.After(now):
			ready = append(ready, j)
		case j.State == StateRunning && !j.LeaseUntil.After(now):
			if j.Exhausted() {
				j.State = StateFailed
				j.LastError = leaseExpired
				j.UpdatedAt = now
				continue
			}
			ready = append(ready, j)
		}
	}
	if len(ready) == 0 {
		return nil, ErrEmpty
	}

	sort.Slice(ready, func(a, b int) bool {
		if !ready[a].RunAt.Equal(ready[b].RunAt) {
			return ready[a].RunAt.Before(ready[b].RunAt)
		}
		return ready[a].ID < ready[b].ID
	})

	j := ready[0]
	j.State = StateRunning
	j.Attempts++
	j.LeaseUntil = now.Add(q.cfg.lease)
	j.UpdatedAt = now

	claimed := *j
	return &claimed, nil
}

func (q *MemoryQueue) update(id string, fn func(j *Job)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[id]
	if !ok {
		return ErrNotFound
	}
	fn(j)
	j.UpdatedAt = q.cfg.now()
	return nil
}

func (q *MemoryQueue) Complete(ctx context.Context, id string) error {
	return q.update(id, func(j *Job) {
		j.State = StateDone
		j.LeaseUntil = time.Time{}
		j.Payload = []byte{}
	})
}

func (q *MemoryQueue) Get(ctx context.Context, id string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	job := *j
	return &job, nil
}

func (q *MemoryQueue) Retry(ctx context.Context, id string, cause error, at time.Time) error {
	return q.update(id, func(j *Job) {
		j.State = StatePending
		j.LastError = errorText(cause)
		j.RunAt = at
		j.LeaseUntil = time.Time{}
	})
}

func (q *MemoryQueue) Fail(ctx context.Context, id string, cause error) error {
	return q.update(id, func(j *Job) {
		j.State = StateFailed
		j.LastError = errorText(cause)
		j.LeaseUntil = time.Time{}
	})
}

func (q *MemoryQueue) Failed(ctx context.Context) ([]*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var failed []*Job
	for _, j := range q.jobs {
		if j.State == StateFailed {
			c := *j
			failed = append(failed, &c)
		}
	}
	sort.Slice(failed, func(a, b int) bool { return failed[a].ID < failed[b].ID })
	return failed, nil
}

func (q *MemoryQueue) Stats(ctx context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s Stats
	for _, j := range q.jobs {
		switch j.State {
		case StatePending:
			s.Pending++
		case StateRunning:
			s.Running++
		case StateDone:
			s.Done++
		case StateFailed:
			s.Failed++
		}
	}
	return s, nil
}
