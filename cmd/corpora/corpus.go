package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dshills/corpora/pkg/types"
)

// failedLimit caps the failed jobs listed by status
const failedLimit = 10

var (
	initURL    string
	deleteYes  bool
	outputJSON bool
	splitsFull bool
)

var initCmd = &cobra.Command{
	Use:   "init <name>",
	Short: "Create an empty corpus",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			corpus := &types.Corpus{Name: args[0], URL: initURL, Owner: a.cfg.Owner}
			if err := a.store.CreateCorpus(ctx, corpus); err != nil {
				return fmt.Errorf("create corpus: %w", err)
			}
			cmd.Printf("Created corpus %s (%s)\n", corpus.Name, corpus.ID)
			return nil
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List corpora",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			corpora, err := a.store.ListCorpora(ctx, a.cfg.Owner)
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(cmd, corpora)
			}
			if len(corpora) == 0 {
				cmd.Println("No corpora.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tID\tUPDATED\tURL")
			for _, c := range corpora {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.Name, c.ID, c.UpdatedAt.Format("2006-01-02 15:04"), c.URL)
			}
			return w.Flush()
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <corpus>",
	Short: "Delete a corpus with its files and splits",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			corpus, err := a.resolveCorpus(ctx, args[0])
			if err != nil {
				return err
			}
			if !deleteYes {
				return fmt.Errorf("refusing to delete %s without --yes", corpus.Name)
			}
			if err := a.store.DeleteCorpus(ctx, corpus.ID); err != nil {
				return err
			}
			cmd.Printf("Deleted corpus %s\n", corpus.Name)
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <corpus>",
	Short: "Show file, split and vector counts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			corpus, err := a.resolveCorpus(ctx, args[0])
			if err != nil {
				return err
			}
			status, err := a.store.GetStatus(ctx, corpus.ID)
			if err != nil {
				return err
			}
			qstats, err := a.queue.Stats(ctx)
			if err != nil {
				return err
			}
			failed, err := a.queue.Failed(ctx)
			if err != nil {
				return err
			}

			cmd.Printf("Corpus:          %s (%s)\n", corpus.Name, corpus.ID)
			cmd.Printf("Files:           %d\n", status.FilesCount)
			cmd.Printf("Splits:          %d\n", status.SplitsCount)
			cmd.Printf("Vectors:         %d\n", status.VectorsCount)
			cmd.Printf("Pending vectors: %d\n", status.PendingVectors)
			cmd.Printf("Summaries:       %d\n", status.SummariesCount)
			if !status.LastUpdatedAt.IsZero() {
				cmd.Printf("Last updated:    %s\n", status.LastUpdatedAt.Format("2006-01-02 15:04:05"))
			}
			cmd.Printf("Jobs:            %d pending, %d running, %d done, %d failed\n",
				qstats.Pending, qstats.Running, qstats.Done, qstats.Failed)
			for i, j := range failed {
				if i == failedLimit {
					cmd.Printf("  ... %d more\n", len(failed)-failedLimit)
					break
				}
				cmd.Printf("  %s %s (%d attempts): %s\n", j.ID, j.Kind, j.Attempts, j.LastError)
			}
			return nil
		})
	},
}

var filesCmd = &cobra.Command{
	Use:   "files <corpus>",
	Short: "List stored file paths and digests",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			corpus, err := a.resolveCorpus(ctx, args[0])
			if err != nil {
				return err
			}
			hashes, err := a.store.ListFileHashes(ctx, corpus.ID)
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(cmd, hashes)
			}
			paths := make([]string, 0, len(hashes))
			for p := range hashes {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			for _, p := range paths {
				cmd.Printf("%s  %s\n", hashes[p], p)
			}
			return nil
		})
	},
}

var splitsCmd = &cobra.Command{
	Use:   "splits <corpus> <path>",
	Short: "Show the splits of a stored file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			corpus, err := a.resolveCorpus(ctx, args[0])
			if err != nil {
				return err
			}
			file, err := a.store.GetFileByPath(ctx, corpus.ID, args[1])
			if err != nil {
				return fmt.Errorf("file %s: %w", args[1], err)
			}
			splits, err := a.store.ListSplits(ctx, file.ID)
			if err != nil {
				return err
			}
			cmd.Printf("%s  %s  %d splits\n", file.Digest, file.Path, len(splits))
			for _, s := range splits {
				content := s.Content
				if !splitsFull {
					content = preview(content, 72)
				}
				cmd.Printf("[%d] embedded=%v %s\n", s.Order, s.Vector != nil, content)
			}
			return nil
		})
	},
}

func init() {
	initCmd.Flags().StringVar(&initURL, "url", "", "origin of the corpus, e.g. a repository URL")
	deleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "confirm deletion")
	listCmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	filesCmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	splitsCmd.Flags().BoolVar(&splitsFull, "full", false, "print full split content")

	rootCmd.AddCommand(initCmd, listCmd, deleteCmd, statusCmd, filesCmd, splitsCmd)
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

// preview flattens s onto one line and truncates it to n runes
func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
