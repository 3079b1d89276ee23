// Package storage provides persistence for corpora, files and splits.
//
// Two implementations satisfy Storage:
//   - SQLiteStorage: a single database file, pure Go by default
//   - PostgresStorage: PostgreSQL with the pgvector extension
//
// # Database Schema
//
// Tables:
//   - corpora: named collections, unique on (owner, name)
//   - files: content and git blob digest, unique on (corpus_id, path)
//   - splits: ordered chunks with optional vector, unique on (file_id, split_order)
//   - jobs: the ingestion queue (see package queue)
//   - schema_version: applied migrations
//
// Deleting a corpus cascades to its files, and deleting a file cascades to
// its splits.
//
// # Basic Usage
//
//	store, err := storage.NewSQLiteStorage("~/.corpora/corpora.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	corpus := &types.Corpus{Name: "docs", Owner: "alice"}
//	err = store.CreateCorpus(ctx, corpus)
//
//	file, err := store.UpsertFile(ctx, corpus.ID, "README.md", content, digest.HashString(content))
//	splits, err := store.ReplaceSplits(ctx, file.ID, inputs)
//
// # Atomicity
//
// UpsertFile replaces content and digest and deletes the file's splits in
// one transaction. ReplaceSplits deletes and recreates a file's splits in one
// transaction, so readers never observe a partial generation.
//
// # Vector Search
//
// SearchSplits ranks embedded splits by cosine distance (1 - cosine
// similarity), ascending. Distances are rounded to 1e-9 and ties break on
// insertion sequence, which keeps results deterministic across backends.
//
// Build modes:
//
//	# Pure Go (default): ranking in Go
//	CGO_ENABLED=0 go build ./...
//
//	# CGO with sqlite-vec: ranking in SQL via vec_distance_cosine
//	CGO_ENABLED=1 go build -tags "sqlite_vec" ./...
//
// PostgreSQL ranks with the <=> operator. Pass WithEmbeddingDimension to
// type the vector columns and create an HNSW index.
//
// # Migrations
//
// Schema changes are semver-versioned migrations applied in order on open.
// The current version is the highest applied version.
package storage
