// Package collector gathers the local side of a sync: the text files under a
// directory and their canonical digests.
package collector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/corpora/internal/archive"
	"github.com/dshills/corpora/internal/digest"
	"github.com/dshills/corpora/internal/logging"
)

// DefaultMaxFileSize matches the server's default archive entry limit
const DefaultMaxFileSize = archive.DefaultMaxEntrySize

// ErrUnknownPath is returned by Archive for a path not in the snapshot
var ErrUnknownPath = errors.New("path not in snapshot")

// Options controls which files are collected
type Options struct {
	// Exclude holds filepath.Match patterns tested against the base name and
	// the slash-separated relative path
	Exclude     []string
	MaxFileSize int64
	// NoGit walks the directory even inside a git work tree
	NoGit   bool
	Workers int
	Logger  *slog.Logger
}

// File is one collected file
type File struct {
	Path   string // relative to the root, as the server stores it
	Raw    []byte
	Digest string
}

// Snapshot is the collected state of a directory
type Snapshot struct {
	Root    string
	Source  string // "git" or "walk"
	Files   []File // sorted by path
	Skipped map[string]string
	byPath  map[string]int
}

// Hashes returns path to digest for every collected file
func (s *Snapshot) Hashes() map[string]string {
	out := make(map[string]string, len(s.Files))
	for _, f := range s.Files {
		out[f.Path] = f.Digest
	}
	return out
}

// Archive packs the named files into a gzip-compressed tar
func (s *Snapshot) Archive(paths []string) ([]byte, error) {
	files := make(map[string][]byte, len(paths))
	for _, p := range paths {
		i, ok := s.byPath[p]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPath, p)
		}
		files[p] = s.Files[i].Raw
	}
	return archive.Build(files)
}

// Collect lists and reads the text files under root. Inside a git work tree
// only tracked files are considered, otherwise the tree is walked skipping
// hidden directories.
func Collect(ctx context.Context, root string, opts Options) (*Snapshot, error) {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	logger := logging.OrNop(opts.Logger)

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	snap := &Snapshot{Root: abs, Skipped: map[string]string{}}

	var paths []string
	if !opts.NoGit && isGitWorkTree(ctx, abs) {
		snap.Source = "git"
		paths, err = gitFiles(ctx, abs)
	} else {
		snap.Source = "walk"
		paths, err = walkFiles(abs)
	}
	if err != nil {
		return nil, err
	}

	var candidates []candidate
	keys := make(map[string]string, len(paths))
	for _, p := range paths {
		if matchesAny(p, opts.Exclude) {
			snap.Skipped[p] = "excluded"
			continue
		}
		// Key files by the name the server will store them under
		key, err := archive.CleanPath(p)
		if err != nil {
			var entryErr *archive.EntryError
			if errors.As(err, &entryErr) {
				snap.Skipped[p] = entryErr.Reason
				continue
			}
			return nil, err
		}
		if other, dup := keys[key]; dup {
			snap.Skipped[p] = fmt.Sprintf("same stored path as %s", other)
			continue
		}
		keys[key] = p
		candidates = append(candidates, candidate{rel: p, key: key})
	}

	files, skipped, err := readFiles(ctx, abs, candidates, opts)
	if err != nil {
		return nil, err
	}
	for p, reason := range skipped {
		snap.Skipped[p] = reason
	}

	slices.SortFunc(files, func(a, b File) int { return strings.Compare(a.Path, b.Path) })
	snap.Files = files
	snap.byPath = make(map[string]int, len(files))
	for i, f := range files {
		snap.byPath[f.Path] = i
	}

	logger.Info("files collected",
		"root", abs,
		"source", snap.Source,
		"files", len(files),
		"skipped", len(snap.Skipped))
	return snap, nil
}

// candidate is a file to read at rel, keyed by its stored path
type candidate struct {
	rel string
	key string
}

// readFiles loads and hashes candidates concurrently
func readFiles(ctx context.Context, root string, paths []candidate, opts Options) ([]File, map[string]string, error) {
	var (
		mu      sync.Mutex
		files   = make([]File, 0, len(paths))
		skipped = map[string]string{}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for _, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			f, reason, err := readFile(root, p.rel, opts.MaxFileSize)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			if reason != "" {
				skipped[p.rel] = reason
				return nil
			}
			f.Path = p.key
			files = append(files, f)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return files, skipped, nil
}

// readFile returns the file or the reason it was skipped
func readFile(root, rel string, maxSize int64) (File, string, error) {
	full := filepath.Join(root, filepath.FromSlash(rel))
	info, err := os.Lstat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Tracked but deleted in the work tree
			return File{}, "missing", nil
		}
		return File{}, "", err
	}
	if !info.Mode().IsRegular() {
		return File{}, "not a regular file", nil
	}
	if info.Size() > maxSize {
		return File{}, "too large", nil
	}
	if isBinaryExtension(rel) {
		return File{}, "binary", nil
	}

	raw, err := os.ReadFile(full)
	if err != nil {
		return File{}, "", fmt.Errorf("read %s: %w", rel, err)
	}
	if !isText(raw) {
		return File{}, "binary", nil
	}
	return File{Path: rel, Raw: raw, Digest: digest.HashCanonical(raw)}, "", nil
}

func isGitWorkTree(ctx context.Context, dir string) bool {
	if _, err := exec.LookPath("git"); err != nil {
		return false
	}
	out, err := exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", "--is-inside-work-tree").Output()
	return err == nil && strings.TrimSpace(string(out)) == "true"
}

// gitFiles lists tracked files relative to dir
func gitFiles(ctx context.Context, dir string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "ls-files", "-z", "--full-name", "--", ".")
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("git ls-files: %w: %s", err, bytes.TrimSpace(exitErr.Stderr))
		}
		return nil, fmt.Errorf("git ls-files: %w", err)
	}

	prefix, err := gitPrefix(ctx, dir)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, name := range bytes.Split(out, []byte{0}) {
		if len(name) == 0 {
			continue
		}
		p := strings.TrimPrefix(string(name), prefix)
		paths = append(paths, p)
	}
	return paths, nil
}

// gitPrefix is dir relative to the repository root, with a trailing slash
func gitPrefix(ctx context.Context, dir string) (string, error) {
	out, err := exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", "--show-prefix").Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// walkFiles lists regular files below root, skipping hidden directories
func walkFiles(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	return paths, err
}

func matchesAny(rel string, patterns []string) bool {
	base := filepath.Base(rel)
	for _, pattern := range patterns {
		if ok, err := filepath.Match(pattern, base); err == nil && ok {
			return true
		}
		if ok, err := filepath.Match(pattern, rel); err == nil && ok {
			return true
		}
		// "dir/" excludes a whole subtree
		if strings.HasSuffix(pattern, "/") && strings.HasPrefix(rel, pattern) {
			return true
		}
	}
	return false
}

// isText rejects content with NUL bytes or invalid UTF-8
func isText(raw []byte) bool {
	return bytes.IndexByte(raw, 0) < 0 && utf8.Valid(raw)
}

var binaryExts = map[string]bool{
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".a": true, ".o": true,
	".zip": true, ".tar": true, ".gz": true, ".bz2": true, ".xz": true, ".7z": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true, ".webp": true,
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	".mp3": true, ".mp4": true, ".avi": true, ".mov": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true,
	".db": true, ".sqlite": true,
}

func isBinaryExtension(path string) bool {
	return binaryExts[strings.ToLower(filepath.Ext(path))]
}
