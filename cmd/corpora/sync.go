package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dshills/corpora/internal/collector"
	"github.com/dshills/corpora/internal/storage"
	"github.com/dshills/corpora/internal/syncer"
	"github.com/dshills/corpora/pkg/types"
)

var (
	syncCorpus      string
	syncYes         bool
	syncWait        bool
	syncDryRun      bool
	syncNoGit       bool
	syncExclude     []string
	syncMaxFileSize int64
)

var syncCmd = &cobra.Command{
	Use:   "sync <dir>",
	Short: "Upload changed files of a directory to a corpus",
	Long: `Hashes every text file under dir, compares the digests with the corpus,
and uploads only new or changed files. Files missing locally are deleted from
the corpus. Inside a git work tree the file list comes from git ls-files.

The corpus is created when it does not exist. Its name defaults to the base
name of dir.`,
	Args: cobra.ExactArgs(1),
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringVarP(&syncCorpus, "corpus", "c", "", "corpus name or id (default: base name of dir)")
	syncCmd.Flags().BoolVarP(&syncYes, "yes", "y", false, "allow a sync that deletes every file in the corpus")
	syncCmd.Flags().BoolVarP(&syncWait, "wait", "w", false, "process the queued jobs before returning")
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "show what would change without uploading")
	syncCmd.Flags().BoolVar(&syncNoGit, "no-git", false, "walk the directory instead of using git ls-files")
	syncCmd.Flags().StringSliceVarP(&syncExclude, "exclude", "x", nil, "glob of paths to skip (repeatable)")
	syncCmd.Flags().Int64Var(&syncMaxFileSize, "max-file-size", 0, "skip files larger than this many bytes (at most pipeline.max_entry_size)")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	root, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	ref := syncCorpus
	if ref == "" {
		ref = filepath.Base(root)
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		corpus, err := a.resolveCorpus(ctx, ref)
		if err != nil {
			if syncDryRun || !errors.Is(err, storage.ErrNotFound) {
				return err
			}
			corpus = &types.Corpus{Name: ref, Owner: a.cfg.Owner}
			if cerr := a.store.CreateCorpus(ctx, corpus); cerr != nil && !errors.Is(cerr, storage.ErrAlreadyExists) {
				return fmt.Errorf("create corpus: %w", cerr)
			}
			if corpus, err = a.resolveCorpus(ctx, ref); err != nil {
				return err
			}
			cmd.Printf("Created corpus %s\n", corpus.Name)
		}

		report, err := syncer.New(a.store, a.pipeline).Sync(ctx, root, corpus.ID, syncer.Options{
			Collect:        collectFlags(a.collectOptions()),
			AllowDeleteAll: syncYes,
			DryRun:         syncDryRun,
			Logger:         a.logger,
		})
		if errors.Is(err, syncer.ErrDeleteAll) {
			return fmt.Errorf("%w: pass --yes to confirm", err)
		}
		if err != nil {
			return err
		}

		printReport(cmd, corpus, report)

		if syncWait && !report.Empty() && !report.DryRun {
			stats, err := a.pipeline.Drain(ctx)
			if err != nil {
				return err
			}
			cmd.Printf("Processed %d jobs (%d retried, %d failed)\n", stats.Completed, stats.Retried, stats.Failed)
			if stats.Failed > 0 {
				return fmt.Errorf("%d jobs failed, see corpora status %s", stats.Failed, corpus.Name)
			}
		}
		return nil
	})
}

// collectFlags applies the sync flags over base. --max-file-size can only
// lower the server's entry limit.
func collectFlags(base collector.Options) collector.Options {
	base.Exclude = syncExclude
	base.NoGit = syncNoGit
	if syncMaxFileSize > 0 && (base.MaxFileSize <= 0 || syncMaxFileSize < base.MaxFileSize) {
		base.MaxFileSize = syncMaxFileSize
	}
	return base
}

func printReport(cmd *cobra.Command, corpus *types.Corpus, r *syncer.Report) {
	prefix := ""
	if r.DryRun {
		prefix = "[dry run] "
	}
	if r.Empty() {
		cmd.Printf("%s%s is up to date (%d files)\n", prefix, corpus.Name, r.Unchanged)
	} else {
		cmd.Printf("%s%s: %d upserted, %d deleted, %d unchanged\n",
			prefix, corpus.Name, len(r.Upserted), len(r.Deleted), r.Unchanged)
	}
	for _, p := range r.Upserted {
		cmd.Printf("  + %s\n", p)
	}
	for _, p := range r.Deleted {
		cmd.Printf("  - %s\n", p)
	}
	if len(r.Skipped) > 0 {
		cmd.Printf("Skipped %d files\n", len(r.Skipped))
	}
}
