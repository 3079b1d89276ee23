package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/corpora/internal/mcp"
)

var serveNoWorkers bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server on stdio",
	Long: `Runs the MCP server on stdin and stdout together with the ingestion
workers. Logs are written to stderr.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Run ingestion workers until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			a.logger.Info("workers started", "workers", a.cfg.Pipeline.Workers)
			err := a.pipeline.Run(ctx)
			stats := a.pipeline.Stats()
			a.logger.Info("workers stopped",
				"completed", stats.Completed,
				"retried", stats.Retried,
				"failed", stats.Failed)
			return err
		})
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveNoWorkers, "no-workers", false, "do not run ingestion workers in this process")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		server, err := mcp.NewServer(mcp.Deps{
			Store:     a.store,
			Queue:     a.queue,
			Pipeline:  a.pipeline,
			Retriever: a.retriever,
			Owner:     a.cfg.Owner,
			Version:   version,
			Collect:   a.collectOptions(),
			Logger:    a.logger,
		})
		if err != nil {
			return fmt.Errorf("create MCP server: %w", err)
		}

		g, gctx := errgroup.WithContext(ctx)
		gctx, cancel := context.WithCancel(gctx)
		defer cancel()

		if !serveNoWorkers {
			g.Go(func() error {
				return a.pipeline.Run(gctx)
			})
		}
		g.Go(func() error {
			// stdin closing ends the session and stops the workers
			defer cancel()
			return server.Serve(gctx)
		})
		return g.Wait()
	})
}
