package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresQueue stores jobs in PostgreSQL. Claims use SKIP LOCKED so many
// workers across processes can poll the same table.
type PostgresQueue struct {
	pool *pgxpool.Pool
	cfg  config
}

var _ Queue = (*PostgresQueue)(nil)

// NewPostgresQueue wraps a pool whose database has been migrated by storage
func NewPostgresQueue(pool *pgxpool.Pool, opts ...Option) *PostgresQueue {
	return &PostgresQueue{pool: pool, cfg: buildConfig(opts)}
}

func (q *PostgresQueue) Enqueue(ctx context.Context, kind string, payload any, opts ...EnqueueOption) (string, error) {
	job, err := q.cfg.newJob(kind, payload, opts)
	if err != nil {
		return "", err
	}

	_, err = q.pool.Exec(ctx, `
		INSERT INTO jobs (id, kind, payload, state, attempts, max_attempts, run_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6, $7, $8)
	`, job.ID, job.Kind, job.Payload, string(StatePending), job.MaxAttempts,
		job.RunAt.UnixNano(), job.CreatedAt.UnixNano(), job.UpdatedAt.UnixNano())
	if err != nil {
		return "", fmt.Errorf("postgres: enqueue %s: %w", kind, err)
	}
	return job.ID, nil
}

func (q *PostgresQueue) Claim(ctx context.Context) (*Job, error) {
	now := q.cfg.now().UnixNano()

	if _, err := q.pool.Exec(ctx, `
		UPDATE jobs SET state = $1, last_error = $2, lease_until = 0, updated_at = $3
		WHERE state = $4 AND lease_until <= $3 AND attempts >= max_attempts
	`, string(StateFailed), leaseExpired, now, string(StateRunning)); err != nil {
		return nil, fmt.Errorf("postgres: reap expired jobs: %w", err)
	}

	row := q.pool.QueryRow(ctx, `
		UPDATE jobs SET state = $1, attempts = attempts + 1, lease_until = $2, updated_at = $3
		WHERE id = (
			SELECT id FROM jobs
			WHERE (state = $4 AND run_at <= $3) OR (state = $1 AND lease_until <= $3)
			ORDER BY run_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		string(StateRunning), now+q.cfg.lease.Nanoseconds(), now, string(StatePending))

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: claim job: %w", err)
	}
	return job, nil
}

func (q *PostgresQueue) exec(ctx context.Context, query string, args ...any) error {
	tag, err := q.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *PostgresQueue) Complete(ctx context.Context, id string) error {
	return q.exec(ctx, `UPDATE jobs SET state = $1, payload = ''::bytea, lease_until = 0, updated_at = $2 WHERE id = $3`,
		string(StateDone), q.cfg.now().UnixNano(), id)
}

func (q *PostgresQueue) Get(ctx context.Context, id string) (*Job, error) {
	job, err := scanJob(q.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get job %s: %w", id, err)
	}
	return job, nil
}

func (q *PostgresQueue) Retry(ctx context.Context, id string, cause error, at time.Time) error {
	return q.exec(ctx, `UPDATE jobs SET state = $1, last_error = $2, run_at = $3, lease_until = 0, updated_at = $4 WHERE id = $5`,
		string(StatePending), errorText(cause), at.UnixNano(), q.cfg.now().UnixNano(), id)
}

func (q *PostgresQueue) Fail(ctx context.Context, id string, cause error) error {
	return q.exec(ctx, `UPDATE jobs SET state = $1, last_error = $2, lease_until = 0, updated_at = $3 WHERE id = $4`,
		string(StateFailed), errorText(cause), q.cfg.now().UnixNano(), id)
}

func (q *PostgresQueue) Failed(ctx context.Context) ([]*Job, error) {
	rows, err := q.pool.Query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE state = $1 ORDER BY id`, string(StateFailed))
	if err != nil {
		return nil, fmt.Errorf("postgres: list failed jobs: %w", err)
	}
	defer rows.Close()

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

func (q *PostgresQueue) Stats(ctx context.Context) (Stats, error) {
	rows, err := q.pool.Query(ctx, `SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return Stats{}, fmt.Errorf("postgres: count jobs: %w", err)
	}
	defer rows.Close()

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
