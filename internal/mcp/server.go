package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/corpora/internal/collector"
	"github.com/dshills/corpora/internal/logging"
	"github.com/dshills/corpora/internal/pipeline"
	"github.com/dshills/corpora/internal/queue"
	"github.com/dshills/corpora/internal/retriever"
	"github.com/dshills/corpora/internal/storage"
	"github.com/dshills/corpora/internal/syncer"
)

const (
	// ServerName is the MCP server name
	ServerName = "corpora"
	// DefaultWaitTimeout bounds sync_corpus with wait=true
	DefaultWaitTimeout = 10 * time.Minute
)

// Deps are the collaborators the tools operate on
type Deps struct {
	Store     storage.Storage
	Queue     queue.Queue
	Pipeline  *pipeline.Pipeline
	Retriever *retriever.Retriever
	Owner     string
	Version   string
	Collect   collector.Options
	Logger    *slog.Logger
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp       *server.MCPServer
	storage   storage.Storage
	queue     queue.Queue
	pipeline  *pipeline.Pipeline
	retriever *retriever.Retriever
	syncer    *syncer.Syncer
	owner     string
	collect   collector.Options
	logger    *slog.Logger

	pollInterval time.Duration
	waitTimeout  time.Duration
}

// NewServer creates a new MCP server instance
func NewServer(deps Deps) (*Server, error) {
	if deps.Store == nil || deps.Queue == nil || deps.Pipeline == nil || deps.Retriever == nil {
		return nil, errors.New("mcp: store, queue, pipeline and retriever are required")
	}
	if deps.Owner == "" {
		return nil, errors.New("mcp: owner is required")
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}

	s := &Server{
		mcp: server.NewMCPServer(
			ServerName,
			deps.Version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
		storage:      deps.Store,
		queue:        deps.Queue,
		pipeline:     deps.Pipeline,
		retriever:    deps.Retriever,
		syncer:       syncer.New(deps.Store, deps.Pipeline),
		owner:        deps.Owner,
		collect:      deps.Collect,
		logger:       logging.OrNop(deps.Logger),
		pollInterval: 250 * time.Millisecond,
		waitTimeout:  DefaultWaitTimeout,
	}

	s.registerTools()
	return s, nil
}

// Serve runs the MCP protocol on stdin and stdout until ctx is cancelled or
// stdin closes
func (s *Server) Serve(ctx context.Context) error {
	return s.ServeIO(ctx, os.Stdin, os.Stdout)
}

// ServeIO runs the MCP protocol over the given streams
func (s *Server) ServeIO(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))

	s.logger.Info("mcp server started", "name", ServerName)
	err := stdio.Listen(ctx, in, out)
	s.logger.Info("mcp server stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(createCorpusTool(), s.handleCreateCorpus)
	s.mcp.AddTool(syncCorpusTool(), s.handleSyncCorpus)
	s.mcp.AddTool(searchCorpusTool(), s.handleSearchCorpus)
	s.mcp.AddTool(getContextTool(), s.handleGetContext)
	s.mcp.AddTool(listCorporaTool(), s.handleListCorpora)
	s.mcp.AddTool(getFileHashesTool(), s.handleGetFileHashes)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	s.mcp.AddTool(deleteCorpusTool(), s.handleDeleteCorpus)
}

// waitIdle blocks until the queue has no pending or running jobs
func (s *Server) waitIdle(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.waitTimeout)
	defer cancel()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		stats, err := s.queue.Stats(ctx)
		if err != nil {
			return fmt.Errorf("queue stats: %w", err)
		}
		if stats.Pending == 0 && stats.Running == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
