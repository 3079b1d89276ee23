// Package types provides shared domain types for the corpora service.
//
// A Corpus is a named collection of text files owned by a single owner. Each
// File stores its full UTF-8 content together with a git-compatible blob
// digest of that content. Each File is decomposed into an ordered sequence of
// Splits, the unit of embedding and retrieval.
//
// # Ownership
//
// Corpus exclusively owns its Files and File exclusively owns its Splits.
// Deleting a parent removes its children:
//
//	Corpus ──< File ──< Split
//
// # Split ordering
//
// Splits of one file carry dense order values 0..N-1 assigned by the chunker
// before any embedding work is dispatched, so concurrent embedding never
// reorders them:
//
//	for _, s := range splits {
//	    fmt.Println(s.Order, s.HasVector())
//	}
//
// # Search results
//
// ScoredSplit pairs a Split with the owning file path and the cosine distance
// to the query vector. Lower distance means a closer match.
package types
