package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
)

var (
	searchLimit int
	searchJSON  bool
)

var searchCmd = &cobra.Command{
	Use:   "search <corpus> <query>",
	Short: "Rank the splits of a corpus against a query",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args[1:], " ")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			corpus, err := a.resolveCorpus(ctx, args[0])
			if err != nil {
				return err
			}
			results, err := a.retriever.Retrieve(ctx, corpus.ID, query, searchLimit)
			if err != nil {
				return err
			}
			if searchJSON {
				return printJSON(cmd, results)
			}
			if len(results) == 0 {
				cmd.Println("No results found.")
				return nil
			}
			for i, r := range results {
				cmd.Printf("  [%d] %s #%d (%.4f)\n", i+1, r.Path, r.Split.Order, r.Distance)
				cmd.Printf("      %s\n", preview(r.Split.Content, 100))
			}
			return nil
		})
	},
}

var contextCmd = &cobra.Command{
	Use:   "context <corpus> <query>",
	Short: "Print retrieved splits as a prompt context block",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args[1:], " ")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			corpus, err := a.resolveCorpus(ctx, args[0])
			if err != nil {
				return err
			}
			text, err := a.retriever.RetrieveContext(ctx, corpus.ID, query, searchLimit)
			if err != nil {
				return err
			}
			cmd.Print(text)
			return nil
		})
	},
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "maximum number of results (default from config)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	contextCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "maximum number of results (default from config)")
	rootCmd.AddCommand(searchCmd, contextCmd)
}
