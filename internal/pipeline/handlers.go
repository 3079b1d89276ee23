package pipeline

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dshills/corpora/internal/archive"
	"github.com/dshills/corpora/internal/chunker"
	"github.com/dshills/corpora/internal/digest"
	"github.com/dshills/corpora/internal/embedder"
	"github.com/dshills/corpora/internal/queue"
	"github.com/dshills/corpora/internal/storage"
	"github.com/dshills/corpora/pkg/types"
)

// fileOutcome records what happened to one archive entry
type fileOutcome int

const (
	fileUnchanged fileOutcome = iota
	fileUpserted
)

func (p *Pipeline) handleIngest(ctx context.Context, job *queue.Job) error {
	var payload ingestPayload
	if err := job.Decode(&payload); err != nil {
		return Permanent(err)
	}
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("corpus.id", payload.CorpusID.String()))

	corpus, err := p.store.GetCorpus(ctx, payload.CorpusID)
	if err != nil {
		if superseded(err) {
			return Permanent(fmt.Errorf("corpus %s: %w", payload.CorpusID, err))
		}
		return err
	}
	if err := p.store.TouchCorpus(ctx, corpus.ID); err != nil {
		return fmt.Errorf("touch corpus: %w", err)
	}

	if len(payload.DeletePaths) > 0 {
		n, err := p.store.DeleteFilesByPath(ctx, corpus.ID, payload.DeletePaths)
		if err != nil {
			return fmt.Errorf("delete files: %w", err)
		}
		p.logger.Info("files deleted", "corpus", corpus.Name, "requested", len(payload.DeletePaths), "deleted", n)
	}

	if len(payload.Archive) == 0 {
		return nil
	}

	var (
		upserted, unchanged, rejected, failed int
		retryable                             error
	)
	for entry, err := range archive.ExtractBytes(payload.Archive, archive.WithMaxEntrySize(p.maxEntrySize)) {
		if err != nil {
			var entryErr *archive.EntryError
			if errors.As(err, &entryErr) {
				rejected++
				p.logger.Warn("InvalidArchiveEntry", "corpus", corpus.Name, "path", entryErr.Path, "reason", entryErr.Reason)
				continue
			}
			return Permanent(fmt.Errorf("read archive: %w", err))
		}

		outcome, err := p.ingestEntry(ctx, corpus, entry)
		if err != nil {
			failed++
			p.logger.Error("file ingestion failed", "corpus", corpus.Name, "path", entry.Path, "error", err)
			if !IsPermanent(err) && retryable == nil {
				retryable = err
			}
			continue
		}
		if outcome == fileUnchanged {
			unchanged++
		} else {
			upserted++
		}
	}

	span.SetAttributes(
		attribute.Int("files.upserted", upserted),
		attribute.Int("files.unchanged", unchanged),
		attribute.Int("files.rejected", rejected),
		attribute.Int("files.failed", failed))
	p.logger.Info("archive ingested",
		"corpus", corpus.Name,
		"upserted", upserted,
		"unchanged", unchanged,
		"rejected", rejected,
		"failed", failed)

	// Unchanged files are skipped on the next attempt, so retrying only
	// repeats the work that failed
	if retryable != nil {
		return fmt.Errorf("%d of %d files failed: %w", failed, upserted+unchanged+failed, retryable)
	}
	return nil
}

// ingestEntry stores one archive entry and schedules its split generation
func (p *Pipeline) ingestEntry(ctx context.Context, corpus *types.Corpus, entry archive.Entry) (fileOutcome, error) {
	d := entry.Digest()

	existing, err := p.store.GetFileByPath(ctx, corpus.ID, entry.Path)
	switch {
	case err == nil && existing.Digest == d:
		complete, err := p.generationComplete(ctx, existing)
		if err != nil {
			return fileUnchanged, err
		}
		if complete {
			if p.summarize && !existing.HasSummary() && !blank(existing.Content) {
				if _, err := p.enqueue(ctx, KindSummarizeFile, filePayload{FileID: existing.ID, Digest: d}); err != nil {
					return fileUnchanged, err
				}
			}
			return fileUnchanged, nil
		}
	case err != nil && !superseded(err):
		return fileUnchanged, fmt.Errorf("get file: %w", err)
	}

	file, err := p.store.UpsertFile(ctx, corpus.ID, entry.Path, entry.Content, d)
	if err != nil {
		return fileUnchanged, fmt.Errorf("upsert file: %w", err)
	}

	stored, err := p.store.GetFile(ctx, file.ID)
	if err != nil {
		return fileUnchanged, fmt.Errorf("re-read file: %w", err)
	}
	if stored.Digest != d || digest.HashString(stored.Content) != d {
		p.logger.Error("DigestMismatch", "corpus", corpus.Name, "path", entry.Path, "expected", d, "stored", stored.Digest)
		return fileUnchanged, Permanent(fmt.Errorf("%s: %w", entry.Path, ErrDigestMismatch))
	}

	if _, err := p.enqueue(ctx, KindSplitFile, filePayload{FileID: file.ID, Digest: d}); err != nil {
		return fileUnchanged, err
	}
	if p.summarize && !blank(stored.Content) {
		if _, err := p.enqueue(ctx, KindSummarizeFile, filePayload{FileID: file.ID, Digest: d}); err != nil {
			return fileUnchanged, err
		}
	}
	return fileUpserted, nil
}

// generationComplete reports whether the file's current splits exist
func (p *Pipeline) generationComplete(ctx context.Context, f *types.File) (bool, error) {
	if blank(f.Content) {
		return true, nil
	}
	n, err := p.store.CountSplits(ctx, f.ID)
	if err != nil {
		return false, fmt.Errorf("count splits: %w", err)
	}
	return n > 0, nil
}

func (p *Pipeline) handleSplit(ctx context.Context, job *queue.Job) error {
	var payload filePayload
	if err := job.Decode(&payload); err != nil {
		return Permanent(err)
	}

	file, err := p.currentFile(ctx, payload)
	if err != nil || file == nil {
		return err
	}

	strategy := chunker.StrategyFor(file.Path)
	chunks := p.chunker.Chunks(file.Content, strategy)
	inputs := make([]types.SplitInput, len(chunks))
	for i, c := range chunks {
		meta := maps.Clone(c.Metadata)
		if meta == nil {
			meta = map[string]any{}
		}
		meta["path"] = file.Path
		inputs[i] = types.SplitInput{Order: i, Content: c.Content, Metadata: meta}
	}

	splits, err := p.store.ReplaceSplits(ctx, file.ID, inputs)
	if err != nil {
		if superseded(err) {
			return nil
		}
		return fmt.Errorf("replace splits: %w", err)
	}

	// A newer generation may have been written while we were chunking. Its
	// own split_file job may already have run, so schedule another one.
	current, err := p.store.GetFile(ctx, file.ID)
	if err != nil {
		if superseded(err) {
			return nil
		}
		return fmt.Errorf("re-read file: %w", err)
	}
	if current.Digest != payload.Digest {
		_, err := p.enqueue(ctx, KindSplitFile, filePayload{FileID: current.ID, Digest: current.Digest})
		return err
	}

	for _, s := range splits {
		if _, err := p.enqueue(ctx, KindEmbedSplit, splitPayload{SplitID: s.ID}); err != nil {
			return err
		}
	}
	p.logger.Debug("file split", "path", file.Path, "strategy", strategy.String(), "splits", len(splits))
	return nil
}

func (p *Pipeline) handleEmbed(ctx context.Context, job *queue.Job) error {
	var payload splitPayload
	if err := job.Decode(&payload); err != nil {
		return Permanent(err)
	}

	split, err := p.store.GetSplit(ctx, payload.SplitID)
	if err != nil {
		if superseded(err) {
			p.logger.Debug("split superseded", "split_id", payload.SplitID)
			return nil
		}
		return fmt.Errorf("get split: %w", err)
	}
	if split.HasVector() {
		return nil
	}

	vec, err := embedder.Embed(ctx, p.port, split.Content)
	if err != nil {
		if errors.Is(err, embedder.ErrEmptyText) {
			return Permanent(err)
		}
		return fmt.Errorf("embed split: %w", err)
	}

	if err := p.store.SetSplitVector(ctx, split.ID, vec); err != nil {
		// Already embedded by a duplicate delivery, or replaced meanwhile
		if errors.Is(err, storage.ErrAlreadyExists) || superseded(err) {
			return nil
		}
		return fmt.Errorf("set split vector: %w", err)
	}
	p.splitsDone.Add(ctx, 1)
	return nil
}

func (p *Pipeline) handleSummarize(ctx context.Context, job *queue.Job) error {
	var payload filePayload
	if err := job.Decode(&payload); err != nil {
		return Permanent(err)
	}

	file, err := p.currentFile(ctx, payload)
	if err != nil || file == nil {
		return err
	}
	if blank(file.Content) {
		return nil
	}

	corpus, err := p.store.GetCorpus(ctx, file.CorpusID)
	if err != nil {
		if superseded(err) {
			return nil
		}
		return fmt.Errorf("get corpus: %w", err)
	}

	summary := file.Summary
	if summary == "" {
		text := fmt.Sprintf("%s:%s\n\n%s", corpus.Name, file.Path, file.Content)
		summary, err = p.port.Summarize(ctx, text)
		if err != nil {
			if errors.Is(err, embedder.ErrEmptyText) {
				return Permanent(err)
			}
			return fmt.Errorf("summarize: %w", err)
		}
		if err := p.store.SetFileSummary(ctx, file.ID, payload.Digest, summary); err != nil {
			if superseded(err) {
				return nil
			}
			return fmt.Errorf("set summary: %w", err)
		}
	}
	if len(file.SummaryVector) > 0 || blank(summary) {
		return nil
	}

	vec, err := embedder.Embed(ctx, p.port, summary)
	if err != nil {
		return fmt.Errorf("embed summary: %w", err)
	}
	if err := p.store.SetFileSummaryVector(ctx, file.ID, payload.Digest, vec); err != nil {
		if superseded(err) {
			return nil
		}
		return fmt.Errorf("set summary vector: %w", err)
	}
	return nil
}

// currentFile loads the job's file. It returns nil, nil when the file is gone
// or has moved to another digest.
func (p *Pipeline) currentFile(ctx context.Context, payload filePayload) (*types.File, error) {
	file, err := p.store.GetFile(ctx, payload.FileID)
	if err != nil {
		if superseded(err) {
			p.logger.Debug("file superseded", "file_id", payload.FileID)
			return nil, nil
		}
		return nil, fmt.Errorf("get file: %w", err)
	}
	if file.Digest != payload.Digest {
		p.logger.Debug("file superseded", "file_id", payload.FileID, "digest", payload.Digest, "current", file.Digest)
		return nil, nil
	}
	return file, nil
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
