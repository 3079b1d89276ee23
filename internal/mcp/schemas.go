package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func corpusProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Corpus name, or its id",
	}
}

func limitProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "integer",
		"description": "Maximum number of results to return (1-100)",
		"default":     10,
		"minimum":     1,
		"maximum":     100,
	}
}

// createCorpusTool returns the tool definition for create_corpus
func createCorpusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "create_corpus",
		Description: "Create an empty corpus",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Corpus name, unique per owner",
				},
				"url": map[string]interface{}{
					"type":        "string",
					"description": "Optional origin, e.g. the repository URL",
				},
			},
			Required: []string{"name"},
		},
	}
}

// syncCorpusTool returns the tool definition for sync_corpus
func syncCorpusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "sync_corpus",
		Description: "Upload the changed files of a local directory into a corpus and delete files removed locally. The corpus is created if needed.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the directory to sync",
				},
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Corpus name (defaults to the directory name)",
				},
				"allow_delete_all": map[string]interface{}{
					"type":        "boolean",
					"description": "Confirm a sync that deletes every stored file",
					"default":     false,
				},
				"wait": map[string]interface{}{
					"type":        "boolean",
					"description": "Wait until ingestion and embedding have finished",
					"default":     false,
				},
			},
			Required: []string{"path"},
		},
	}
}

// searchCorpusTool returns the tool definition for search_corpus
func searchCorpusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_corpus",
		Description: "Find the splits of a corpus most similar to a natural language query",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"corpus": corpusProperty(),
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query",
				},
				"limit": limitProperty(),
			},
			Required: []string{"corpus", "query"},
		},
	}
}

// getContextTool returns the tool definition for get_context
func getContextTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_context",
		Description: "Return the best matching splits of a corpus formatted as prompt context",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"corpus": corpusProperty(),
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Question or task the context is for",
				},
				"limit": limitProperty(),
			},
			Required: []string{"corpus", "query"},
		},
	}
}

// listCorporaTool returns the tool definition for list_corpora
func listCorporaTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_corpora",
		Description: "List the corpora of the current owner",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// getFileHashesTool returns the tool definition for get_file_hashes
func getFileHashesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_file_hashes",
		Description: "Return the stored path to digest map of a corpus",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"corpus": corpusProperty(),
			},
			Required: []string{"corpus"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report file, split and embedding counts of a corpus and the state of the job queue",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"corpus": corpusProperty(),
			},
			Required: []string{"corpus"},
		},
	}
}

// deleteCorpusTool returns the tool definition for delete_corpus
func deleteCorpusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "delete_corpus",
		Description: "Delete a corpus with all of its files and splits",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"corpus": corpusProperty(),
			},
			Required: []string{"corpus"},
		},
	}
}
