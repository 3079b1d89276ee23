package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/corpora/internal/embedder"
	"github.com/dshills/corpora/internal/storage"
	"github.com/dshills/corpora/internal/syncer"
	"github.com/dshills/corpora/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams  = -32602 // Invalid method parameters
	ErrorCodeInternalError  = -32603 // Internal JSON-RPC error
	ErrorCodeCorpusNotFound = -32001 // No corpus with the given name or id
	ErrorCodeCorpusExists   = -32002 // A corpus with that name already exists
	ErrorCodeEmptyQuery     = -32004 // Query parameter is empty
)

// maxFailedJobs caps the failed jobs listed by get_status
const maxFailedJobs = 10

// handleCreateCorpus handles the create_corpus tool invocation
func (s *Server) handleCreateCorpus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	name, err := requireString(args, "name")
	if err != nil {
		return nil, err
	}

	corpus := &types.Corpus{
		Name:  name,
		URL:   getStringDefault(args, "url", ""),
		Owner: s.owner,
	}
	if err := s.storage.CreateCorpus(ctx, corpus); err != nil {
		return nil, toolError("failed to create corpus", err)
	}

	return mcp.NewToolResultText(formatJSON(corpusJSON(corpus))), nil
}

// handleSyncCorpus handles the sync_corpus tool invocation
func (s *Server) handleSyncCorpus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	path, err := requireString(args, "path")
	if err != nil {
		return nil, err
	}
	if err := validatePath(path); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}

	name := getStringDefault(args, "name", filepath.Base(filepath.Clean(path)))
	corpus, created, err := s.getOrCreateCorpus(ctx, name)
	if err != nil {
		return nil, toolError("failed to resolve corpus", err)
	}

	report, err := s.syncer.Sync(ctx, path, corpus.ID, syncer.Options{
		Collect:        s.collect,
		AllowDeleteAll: getBoolDefault(args, "allow_delete_all", false),
		Logger:         s.logger,
	})
	if err != nil {
		return nil, toolError("sync failed", err)
	}

	response := map[string]interface{}{
		"corpus":    corpusJSON(corpus),
		"created":   created,
		"upserted":  len(report.Upserted),
		"deleted":   len(report.Deleted),
		"unchanged": report.Unchanged,
		"skipped":   len(report.Skipped),
		"job_ids":   report.JobIDs,
	}

	if getBoolDefault(args, "wait", false) && !report.Empty() {
		if err := s.waitIdle(ctx); err != nil {
			return nil, newMCPError(ErrorCodeInternalError, "waiting for ingestion failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
		status, err := s.storage.GetStatus(ctx, corpus.ID)
		if err != nil {
			return nil, toolError("failed to get status", err)
		}
		response["status"] = statusJSON(status)
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSearchCorpus handles the search_corpus tool invocation
func (s *Server) handleSearchCorpus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	corpus, query, limit, err := s.queryArgs(ctx, request)
	if err != nil {
		return nil, err
	}

	results, err := s.retriever.Retrieve(ctx, corpus.ID, query, limit)
	if err != nil {
		return nil, toolError("search failed", err)
	}

	hits := make([]map[string]interface{}, len(results))
	for i, r := range results {
		hits[i] = map[string]interface{}{
			"rank":     i + 1,
			"path":     r.Path,
			"order":    r.Split.Order,
			"distance": r.Distance,
			"content":  r.Split.Content,
		}
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"corpus":  corpus.Name,
		"query":   query,
		"results": hits,
	})), nil
}

// handleGetContext handles the get_context tool invocation
func (s *Server) handleGetContext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	corpus, query, limit, err := s.queryArgs(ctx, request)
	if err != nil {
		return nil, err
	}

	text, err := s.retriever.RetrieveContext(ctx, corpus.ID, query, limit)
	if err != nil {
		return nil, toolError("retrieval failed", err)
	}
	return mcp.NewToolResultText(text), nil
}

// handleListCorpora handles the list_corpora tool invocation
func (s *Server) handleListCorpora(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	corpora, err := s.storage.ListCorpora(ctx, s.owner)
	if err != nil {
		return nil, toolError("failed to list corpora", err)
	}

	list := make([]map[string]interface{}, len(corpora))
	for i, c := range corpora {
		list[i] = corpusJSON(c)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"owner":   s.owner,
		"corpora": list,
	})), nil
}

// handleGetFileHashes handles the get_file_hashes tool invocation
func (s *Server) handleGetFileHashes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	corpus, err := s.corpusArg(ctx, request)
	if err != nil {
		return nil, err
	}

	hashes, err := s.storage.ListFileHashes(ctx, corpus.ID)
	if err != nil {
		return nil, toolError("failed to list file hashes", err)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"corpus": corpus.Name,
		"files":  hashes,
	})), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	corpus, err := s.corpusArg(ctx, request)
	if err != nil {
		return nil, err
	}

	status, err := s.storage.GetStatus(ctx, corpus.ID)
	if err != nil {
		return nil, toolError("failed to get status", err)
	}

	qstats, err := s.queue.Stats(ctx)
	if err != nil {
		return nil, toolError("failed to get queue stats", err)
	}
	failed, err := s.queue.Failed(ctx)
	if err != nil {
		return nil, toolError("failed to list failed jobs", err)
	}

	failedJobs := make([]map[string]interface{}, 0, min(len(failed), maxFailedJobs))
	for _, j := range failed {
		if len(failedJobs) == maxFailedJobs {
			break
		}
		failedJobs = append(failedJobs, map[string]interface{}{
			"id":       j.ID,
			"kind":     j.Kind,
			"attempts": j.Attempts,
			"error":    j.LastError,
		})
	}

	response := statusJSON(status)
	response["queue"] = map[string]interface{}{
		"pending":     qstats.Pending,
		"running":     qstats.Running,
		"done":        qstats.Done,
		"failed":      qstats.Failed,
		"failed_jobs": failedJobs,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleDeleteCorpus handles the delete_corpus tool invocation
func (s *Server) handleDeleteCorpus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	corpus, err := s.corpusArg(ctx, request)
	if err != nil {
		return nil, err
	}

	if err := s.storage.DeleteCorpus(ctx, corpus.ID); err != nil {
		return nil, toolError("failed to delete corpus", err)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"deleted": true,
		"corpus":  corpus.Name,
	})), nil
}

// Helper functions

func (s *Server) getOrCreateCorpus(ctx context.Context, name string) (*types.Corpus, bool, error) {
	corpus, err := s.storage.GetCorpusByName(ctx, s.owner, name)
	if err == nil {
		return corpus, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, err
	}

	corpus = &types.Corpus{Name: name, Owner: s.owner}
	if err := s.storage.CreateCorpus(ctx, corpus); err != nil {
		// Lost a race with a concurrent create
		if errors.Is(err, storage.ErrAlreadyExists) {
			corpus, err = s.storage.GetCorpusByName(ctx, s.owner, name)
			return corpus, false, err
		}
		return nil, false, err
	}
	return corpus, true, nil
}

// resolveCorpus accepts a corpus id or a name owned by the server's owner
func (s *Server) resolveCorpus(ctx context.Context, ref string) (*types.Corpus, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return s.storage.GetCorpus(ctx, id)
	}
	return s.storage.GetCorpusByName(ctx, s.owner, ref)
}

func (s *Server) corpusArg(ctx context.Context, request mcp.CallToolRequest) (*types.Corpus, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	ref, err := requireString(args, "corpus")
	if err != nil {
		return nil, err
	}
	corpus, err := s.resolveCorpus(ctx, ref)
	if err != nil {
		return nil, toolError("failed to resolve corpus", err)
	}
	return corpus, nil
}

func (s *Server) queryArgs(ctx context.Context, request mcp.CallToolRequest) (*types.Corpus, string, int, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, "", 0, err
	}

	query := getStringDefault(args, "query", "")
	if strings.TrimSpace(query) == "" {
		return nil, "", 0, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	limit := getIntDefault(args, "limit", 10)
	if limit < 1 || limit > 100 {
		return nil, "", 0, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	corpus, err := s.corpusArg(ctx, request)
	if err != nil {
		return nil, "", 0, err
	}
	return corpus, query, limit, nil
}

// toolError maps domain errors onto MCP error codes
func toolError(message string, err error) error {
	data := map[string]interface{}{"error": err.Error()}
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return newMCPError(ErrorCodeCorpusNotFound, "corpus not found", data)
	case errors.Is(err, storage.ErrAlreadyExists):
		return newMCPError(ErrorCodeCorpusExists, "corpus already exists", data)
	case errors.Is(err, embedder.ErrEmptyText):
		return newMCPError(ErrorCodeEmptyQuery, "query cannot be empty", data)
	case errors.Is(err, syncer.ErrDeleteAll), errors.Is(err, types.ErrEmptyCorpusName):
		return newMCPError(ErrorCodeInvalidParams, message, data)
	default:
		return newMCPError(ErrorCodeInternalError, message, data)
	}
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

func arguments(request mcp.CallToolRequest) (map[string]interface{}, error) {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}, nil
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	return args, nil
}

func requireString(args map[string]interface{}, key string) (string, error) {
	val, ok := args[key].(string)
	if !ok || strings.TrimSpace(val) == "" {
		return "", newMCPError(ErrorCodeInvalidParams, key+" parameter is required", map[string]interface{}{
			"param":  key,
			"reason": "missing or empty",
		})
	}
	return val, nil
}

// validatePath checks that path is an absolute, readable directory
func validatePath(path string) error {
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}
	if !info.IsDir() {
		return ErrNotDirectory
	}

	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()
	return nil
}

func corpusJSON(c *types.Corpus) map[string]interface{} {
	return map[string]interface{}{
		"id":         c.ID.String(),
		"name":       c.Name,
		"url":        c.URL,
		"owner":      c.Owner,
		"created_at": c.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		"updated_at": c.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func statusJSON(status *types.CorpusStatus) map[string]interface{} {
	return map[string]interface{}{
		"corpus": corpusJSON(status.Corpus),
		"statistics": map[string]interface{}{
			"files_count":     status.FilesCount,
			"splits_count":    status.SplitsCount,
			"vectors_count":   status.VectorsCount,
			"pending_vectors": status.PendingVectors,
			"summaries_count": status.SummariesCount,
		},
	}
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// Validation helpers

var (
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)
