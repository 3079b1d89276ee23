package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/corpora/internal/queue"
)

// Run processes jobs with the configured number of workers until ctx is
// cancelled. Idle workers poll the queue.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.running.TryAcquire() {
		return ErrAlreadyRunning
	}
	defer p.running.Release()

	p.logger.Info("workers started", "workers", p.workers)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			for {
				claimed := p.processNext(gctx)
				if claimed {
					continue
				}
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-time.After(p.pollInterval):
				}
			}
		})
	}

	err := g.Wait()
	p.logger.Info("workers stopped", "stats", p.Stats())
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// Drain processes jobs until nothing is pending or running, including jobs
// waiting out a retry delay, and returns the outcomes of this drain.
func (p *Pipeline) Drain(ctx context.Context) (Stats, error) {
	if !p.running.TryAcquire() {
		return Stats{}, ErrAlreadyRunning
	}
	defer p.running.Release()

	before := p.Stats()
	var inFlight atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			for {
				if err := gctx.Err(); err != nil {
					return err
				}

				inFlight.Add(1)
				claimed := p.processNext(gctx)
				inFlight.Add(-1)
				if claimed {
					continue
				}

				if inFlight.Load() == 0 {
					stats, err := p.queue.Stats(gctx)
					if err != nil {
						return fmt.Errorf("queue stats: %w", err)
					}
					if stats.Pending == 0 && stats.Running == 0 {
						return nil
					}
				}

				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-time.After(p.pollInterval):
				}
			}
		})
	}

	err := g.Wait()
	after := p.Stats()
	return Stats{
		Completed: after.Completed - before.Completed,
		Retried:   after.Retried - before.Retried,
		Failed:    after.Failed - before.Failed,
	}, err
}

// processNext claims and handles one job. It reports whether a job was
// claimed.
func (p *Pipeline) processNext(ctx context.Context) bool {
	job, err := p.queue.Claim(ctx)
	if err != nil {
		if !errors.Is(err, queue.ErrEmpty) && ctx.Err() == nil {
			p.logger.Error("claim failed", "error", err)
		}
		return false
	}
	p.process(ctx, job)
	return true
}

func (p *Pipeline) process(ctx context.Context, job *queue.Job) {
	ctx, span := p.tracer.Start(ctx, "pipeline."+job.Kind, trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.kind", job.Kind),
		attribute.Int("job.attempt", job.Attempts)))
	defer span.End()

	kind := attribute.String("kind", job.Kind)
	err := p.handle(ctx, job)

	// Bookkeeping must land even when the worker is shutting down
	bctx := context.WithoutCancel(ctx)

	if err == nil {
		if cerr := p.queue.Complete(bctx, job.ID); cerr != nil {
			p.logger.Error("complete job", "job_id", job.ID, "error", cerr)
			return
		}
		p.completed.Add(1)
		p.jobsCompleted.Add(ctx, 1, metric.WithAttributes(kind))
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if IsPermanent(err) || job.Exhausted() {
		if ferr := p.queue.Fail(bctx, job.ID, err); ferr != nil {
			p.logger.Error("fail job", "job_id", job.ID, "error", ferr)
		}
		p.failed.Add(1)
		p.jobsFailed.Add(bctx, 1, metric.WithAttributes(kind))
		p.logger.Error("job failed permanently",
			"kind", job.Kind,
			"job_id", job.ID,
			"attempt", job.Attempts,
			"max_attempts", job.MaxAttempts,
			"error", err)
		return
	}

	delay := p.backoff(job.Attempts)
	if rerr := p.queue.Retry(bctx, job.ID, err, p.now().Add(delay)); rerr != nil {
		p.logger.Error("retry job", "job_id", job.ID, "error", rerr)
		return
	}
	p.retried.Add(1)
	p.logger.Warn("job failed",
		"kind", job.Kind,
		"job_id", job.ID,
		"attempt", job.Attempts,
		"retry_in", delay,
		"error", err)
}

func (p *Pipeline) handle(ctx context.Context, job *queue.Job) error {
	h, ok := p.handlers[job.Kind]
	if !ok {
		return Permanent(fmt.Errorf("unknown job kind %q", job.Kind))
	}
	return h(ctx, job)
}
