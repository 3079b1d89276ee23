// Package mcp implements the Model Context Protocol (MCP) server for corpora.
//
// The server exposes corpus management and retrieval to AI coding assistants:
//   - create_corpus: Create an empty corpus
//   - sync_corpus: Upload the changes in a local directory to a corpus
//   - search_corpus: Rank stored splits against a natural language query
//   - get_context: Same as search_corpus, formatted as a prompt block
//   - list_corpora: List the corpora of the configured owner
//   - get_file_hashes: Map of path to git blob digest for a corpus
//   - get_status: File, split and vector counts plus queue state
//   - delete_corpus: Delete a corpus and everything in it
//
// Corpora are addressed by id or by name. Names resolve within the owner the
// server was started with.
//
// # Basic Usage
//
// The MCP server is started via the serve command, which also runs the
// ingestion workers in the same process:
//
//	corpora serve
//
// It listens on stdin for MCP protocol messages and writes responses to
// stdout. Logs go to stderr.
//
// # Tool: sync_corpus
//
//	Request:
//	{
//	  "name": "sync_corpus",
//	  "arguments": {
//	    "path": "/path/to/project",
//	    "wait": true
//	  }
//	}
//
//	Response:
//	{
//	  "corpus": {"id": "...", "name": "project", ...},
//	  "created": false,
//	  "upserted": 3,
//	  "deleted": 1,
//	  "unchanged": 240,
//	  "skipped": 2,
//	  "job_ids": ["01J..."],
//	  "status": {"statistics": {"files_count": 245, ...}}
//	}
//
// Only files whose digest differs from the stored one are uploaded. A sync
// that would delete every stored file is refused unless allow_delete_all is
// set.
//
// # Error Handling
//
// Tool handlers return *MCPError values:
//   - -32602: Invalid params (missing arguments, bad path, refused delete-all)
//   - -32603: Internal error (database, queue, embedding provider)
//   - -32001: Corpus not found
//   - -32002: Corpus already exists
//   - -32004: Empty query
package mcp
