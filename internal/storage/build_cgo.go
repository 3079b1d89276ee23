//go:build sqlite_vec

package storage

// This file is compiled with CGO and the sqlite_vec tag.
//
// Build command:
//   CGO_ENABLED=1 go build -tags "sqlite_vec" ./...
//
// Splits are ranked in SQL with vec_distance_cosine when the sqlite-vec
// extension is loaded into the process (auto-registered or via
// sqlite3_auto_extension). Without it the store falls back to Go ranking.
//
// Driver used: github.com/mattn/go-sqlite3

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// VectorExtensionAvailable indicates the build may use the vector extension
	VectorExtensionAvailable = true

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)
