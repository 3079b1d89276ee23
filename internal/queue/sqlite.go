package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteQueue stores jobs in the jobs table of the corpora database. The
// table is created by the storage migrations.
type SQLiteQueue struct {
	db  *sql.DB
	cfg config
}

var _ Queue = (*SQLiteQueue)(nil)

// NewSQLiteQueue wraps a migrated database handle
func NewSQLiteQueue(db *sql.DB, opts ...Option) *SQLiteQueue {
	return &SQLiteQueue{db: db, cfg: buildConfig(opts)}
}

const jobColumns = `id, kind, payload, state, attempts, max_attempts, last_error, run_at, lease_until, created_at, updated_at`

// scanJob reads a job row; times are unix nanoseconds
func scanJob(row interface{ Scan(...any) error }) (*Job, error) {
	var j Job
	var state string
	var runAt, leaseUntil, createdAt, updatedAt int64
	if err := row.Scan(&j.ID, &j.Kind, &j.Payload, &state, &j.Attempts, &j.MaxAttempts, &j.LastError,
		&runAt, &leaseUntil, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	j.State = State(state)
	j.RunAt = time.Unix(0, runAt)
	if leaseUntil > 0 {
		j.LeaseUntil = time.Unix(0, leaseUntil)
	}
	j.CreatedAt = time.Unix(0, createdAt)
	j.UpdatedAt = time.Unix(0, updatedAt)
	return &j, nil
}

func (q *SQLiteQueue) Enqueue(ctx context.Context, kind string, payload any, opts ...EnqueueOption) (string, error) {
	job, err := q.cfg.newJob(kind, payload, opts)
	if err != nil {
		return "", err
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO jobs (id, kind, payload, state, attempts, max_attempts, run_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)
	`, job.ID, job.Kind, job.Payload, string(StatePending), job.MaxAttempts,
		job.RunAt.UnixNano(), job.CreatedAt.UnixNano(), job.UpdatedAt.UnixNano())
	if err != nil {
		return "", fmt.Errorf("failed to enqueue %s: %w", kind, err)
	}
	return job.ID, nil
}

func (q *SQLiteQueue) Claim(ctx context.Context) (*Job, error) {
	now := q.cfg.now().UnixNano()

	// Jobs whose worker vanished during the final attempt are not redelivered
	if _, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET state = ?, last_error = ?, lease_until = 0, updated_at = ?
		WHERE state = ? AND lease_until <= ? AND attempts >= max_attempts
	`, string(StateFailed), leaseExpired, now, string(StateRunning), now); err != nil {
		return nil, fmt.Errorf("failed to reap expired jobs: %w", err)
	}

	row := q.db.QueryRowContext(ctx, `
		UPDATE jobs SET state = ?, attempts = attempts + 1, lease_until = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE (state = ? AND run_at <= ?) OR (state = ? AND lease_until <= ?)
			ORDER BY run_at, id
			LIMIT 1
		)
		RETURNING `+jobColumns,
		string(StateRunning), now+q.cfg.lease.Nanoseconds(), now,
		string(StatePending), now, string(StateRunning), now)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return job, nil
}

func (q *SQLiteQueue) exec(ctx context.Context, query string, args ...any) error {
	res, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *SQLiteQueue) Complete(ctx context.Context, id string) error {
	return q.exec(ctx, `UPDATE jobs SET state = ?, payload = x'', lease_until = 0, updated_at = ? WHERE id = ?`,
		string(StateDone), q.cfg.now().UnixNano(), id)
}

func (q *SQLiteQueue) Get(ctx context.Context, id string) (*Job, error) {
	job, err := scanJob(q.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return job, nil
}

func (q *SQLiteQueue) Retry(ctx context.Context, id string, cause error, at time.Time) error {
	return q.exec(ctx, `UPDATE jobs SET state = ?, last_error = ?, run_at = ?, lease_until = 0, updated_at = ? WHERE id = ?`,
		string(StatePending), errorText(cause), at.UnixNano(), q.cfg.now().UnixNano(), id)
}

func (q *SQLiteQueue) Fail(ctx context.Context, id string, cause error) error {
	return q.exec(ctx, `UPDATE jobs SET state = ?, last_error = ?, lease_until = 0, updated_at = ? WHERE id = ?`,
		string(StateFailed), errorText(cause), q.cfg.now().UnixNano(), id)
}

func (q *SQLiteQueue) Failed(ctx context.Context) ([]*Job, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE state = ? ORDER BY id`, string(StateFailed))
	if err != nil {
		return nil, fmt.Errorf("failed to list failed jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (q *SQLiteQueue) Stats(ctx context.Context) (Stats, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var s Stats
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return Stats{}, err
		}
		s.add(State(state), n)
	}
	return s, rows.Err()
}

func (s *Stats) add(state State, n int) {
	switch state {
	case StatePending:
		s.Pending += n
	case StateRunning:
		s.Running += n
	case StateDone:
		s.Done += n
	case StateFailed:
		s.Failed += n
	}
}
