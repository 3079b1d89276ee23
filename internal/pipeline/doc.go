// Package pipeline turns uploaded archives into embedded, searchable splits.
//
// Ingestion is asynchronous. Ingest and UpdateAndDelete only enqueue an
// ingest_archive job and return its id. Workers then fan the work out:
//
//	ingest_archive  upsert changed files, delete removed paths
//	split_file      chunk one file generation into ordered splits
//	embed_split     embed one split and store its vector
//	summarize_file  optional file summary and summary vector
//
// Every handler is idempotent under re-delivery. File-scoped jobs carry the
// digest they were created for, and a job whose file has since moved to a
// different digest (or disappeared) is dropped as superseded. Split vectors
// are write-once, so a duplicated embed_split is a no-op.
//
// Failures are retried with exponential backoff until the job's attempt
// bound. Errors wrapped with Permanent skip the remaining attempts. A
// terminal failure is logged at error level and never affects sibling jobs.
//
// Usage:
//
//	p := pipeline.New(store, q, port, pipeline.WithWorkers(4))
//	jobID, err := p.UpdateAndDelete(ctx, corpusID, archive, deleted)
//	stats, err := p.Drain(ctx) // or p.Run(ctx) in a long-lived worker
package pipeline
