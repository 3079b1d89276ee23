// Package syncer mirrors a local directory into a corpus. Only files whose
// digest differs from the stored one are uploaded, and stored files that no
// longer exist locally are deleted.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dshills/corpora/internal/collector"
	"github.com/dshills/corpora/internal/differ"
	"github.com/dshills/corpora/internal/logging"
)

// DefaultMaxArchiveBytes bounds the raw content packed into one upload
const DefaultMaxArchiveBytes = 64 << 20

// ErrDeleteAll is returned when the local side is empty but the corpus is
// not, and the caller did not allow deleting everything
var ErrDeleteAll = errors.New("sync would delete every file in the corpus")

// HashLister reads the stored path to digest map of a corpus
type HashLister interface {
	ListFileHashes(ctx context.Context, corpusID uuid.UUID) (map[string]string, error)
}

// Scheduler accepts ingestion work
type Scheduler interface {
	UpdateAndDelete(ctx context.Context, corpusID uuid.UUID, archive []byte, deletePaths []string) (string, error)
}

// Options controls a sync
type Options struct {
	Collect         collector.Options
	AllowDeleteAll  bool
	DryRun          bool // compute the diff without uploading
	MaxArchiveBytes int
	Logger          *slog.Logger
}

// Report describes what a sync did
type Report struct {
	Upserted  []string
	Deleted   []string
	Unchanged int
	Skipped   map[string]string // local files left out, with the reason
	JobIDs    []string          // one per uploaded batch
	DryRun    bool
}

// Empty reports whether the corpus was already in sync
func (r *Report) Empty() bool {
	return len(r.Upserted) == 0 && len(r.Deleted) == 0
}

// Syncer pushes local changes into corpora
type Syncer struct {
	store     HashLister
	scheduler Scheduler
}

// New creates a Syncer
func New(store HashLister, scheduler Scheduler) *Syncer {
	return &Syncer{store: store, scheduler: scheduler}
}

// Sync collects root, diffs it against the corpus and schedules the upload
// of changed files together with the deletion of removed ones
func (s *Syncer) Sync(ctx context.Context, root string, corpusID uuid.UUID, opts Options) (*Report, error) {
	logger := logging.OrNop(opts.Logger)
	if opts.Collect.Logger == nil {
		opts.Collect.Logger = logger
	}
	if opts.MaxArchiveBytes <= 0 {
		opts.MaxArchiveBytes = DefaultMaxArchiveBytes
	}

	snap, err := collector.Collect(ctx, root, opts.Collect)
	if err != nil {
		return nil, fmt.Errorf("collect files: %w", err)
	}

	remote, err := s.store.ListFileHashes(ctx, corpusID)
	if err != nil {
		return nil, fmt.Errorf("list remote hashes: %w", err)
	}

	local := snap.Hashes()
	diff := differ.Diff(local, remote)
	report := &Report{
		Upserted:  diff.Upsert,
		Deleted:   diff.Delete,
		Unchanged: len(local) - len(diff.Upsert),
		Skipped:   snap.Skipped,
		DryRun:    opts.DryRun,
	}

	if diff.DeletesAll(remote) && !opts.AllowDeleteAll {
		return report, fmt.Errorf("%w: %d files", ErrDeleteAll, len(diff.Delete))
	}

	logger.Info("sync diff",
		"corpus_id", corpusID,
		"upsert", len(diff.Upsert),
		"delete", len(diff.Delete),
		"unchanged", report.Unchanged)

	if diff.Empty() || opts.DryRun {
		return report, nil
	}

	batches := batchPaths(snap, diff.Upsert, opts.MaxArchiveBytes)
	if len(batches) == 0 {
		// Deletes only
		batches = [][]string{nil}
	}

	for i, paths := range batches {
		var data []byte
		if len(paths) > 0 {
			data, err = snap.Archive(paths)
			if err != nil {
				return report, fmt.Errorf("build archive: %w", err)
			}
		}

		var deletes []string
		if i == 0 {
			deletes = diff.Delete
		}

		jobID, err := s.scheduler.UpdateAndDelete(ctx, corpusID, data, deletes)
		if err != nil {
			return report, fmt.Errorf("schedule batch %d: %w", i+1, err)
		}
		report.JobIDs = append(report.JobIDs, jobID)
		logger.Debug("batch scheduled", "job_id", jobID, "files", len(paths), "archive_bytes", len(data))
	}
	return report, nil
}

// batchPaths groups paths so each group's raw size stays under limit. A
// single file larger than limit gets a batch of its own.
func batchPaths(snap *collector.Snapshot, paths []string, limit int) [][]string {
	sizes := make(map[string]int, len(snap.Files))
	for _, f := range snap.Files {
		sizes[f.Path] = len(f.Raw)
	}

	var (
		batches [][]string
		current []string
		total   int
	)
	for _, p := range paths {
		n := sizes[p]
		if len(current) > 0 && total+n > limit {
			batches = append(batches, current)
			current, total = nil, 0
		}
		current = append(current, p)
		total += n
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}
