// Package archive reads and writes the gzip-compressed tar streams used to
// upload corpus files.
//
// Extraction is lazy and single pass:
//
//	for entry, err := range archive.Extract(r) {
//	    if errors.Is(err, archive.ErrInvalidEntry) {
//	        continue // unsafe path, skip it
//	    }
//	    if err != nil {
//	        return err // the stream itself is broken
//	    }
//	    store(entry.Path, entry.Content)
//	}
//
// Only regular files are yielded. Entry paths must stay inside the archive
// root; absolute paths and ".." segments are rejected.
package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"iter"
	"path"
	"strings"

	"github.com/dshills/corpora/internal/digest"
)

// DefaultMaxEntrySize bounds the decompressed size of a single entry
const DefaultMaxEntrySize = 32 << 20

// ErrInvalidEntry marks an archive entry that was rejected
var ErrInvalidEntry = errors.New("invalid archive entry")

// EntryError describes why a single entry was rejected
type EntryError struct {
	Path   string
	Reason string
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("invalid archive entry %q: %s", e.Path, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidEntry
func (e *EntryError) Unwrap() error {
	return ErrInvalidEntry
}

// Entry is one regular file read from an archive
type Entry struct {
	Path    string // normalized relative path
	Raw     []byte // bytes as stored in the archive
	Content string // Raw decoded as UTF-8 with invalid sequences replaced
}

// Digest returns the canonical digest of the entry content
func (e Entry) Digest() string {
	return digest.HashString(e.Content)
}

type extractConfig struct {
	maxEntrySize int64
}

// Option configures extraction
type Option func(*extractConfig)

// WithMaxEntrySize overrides DefaultMaxEntrySize
func WithMaxEntrySize(n int64) Option {
	return func(c *extractConfig) {
		if n > 0 {
			c.maxEntrySize = n
		}
	}
}

// Extract returns a single-pass sequence over the regular files in a
// gzip-compressed tar stream. Rejected entries yield an *EntryError and
// iteration continues. A broken stream yields its error once and stops.
func Extract(r io.Reader, opts ...Option) iter.Seq2[Entry, error] {
	cfg := extractConfig{maxEntrySize: DefaultMaxEntrySize}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(yield func(Entry, error) bool) {
		gz, err := gzip.NewReader(r)
		if err != nil {
			yield(Entry{}, fmt.Errorf("open gzip stream: %w", err))
			return
		}
		defer func() { _ = gz.Close() }()

		tr := tar.NewReader(gz)
		for {
			hdr, err := tr.Next()
			if err == io.EOF {
				return
			}
			if errors.Is(err, tar.ErrInsecurePath) && hdr != nil {
				// Reported when GODEBUG=tarinsecurepath=0; the header is still usable
				err = nil
			}
			if err != nil {
				yield(Entry{}, fmt.Errorf("read tar header: %w", err))
				return
			}

			if !isRegular(hdr) {
				continue
			}

			name, err := CleanPath(hdr.Name)
			if err != nil {
				if !yield(Entry{Path: hdr.Name}, err) {
					return
				}
				continue
			}

			if hdr.Size > cfg.maxEntrySize {
				if !yield(Entry{Path: name}, &EntryError{Path: name, Reason: fmt.Sprintf("size %d exceeds limit %d", hdr.Size, cfg.maxEntrySize)}) {
					return
				}
				continue
			}

			raw, err := io.ReadAll(tr)
			if err != nil {
				yield(Entry{Path: name}, fmt.Errorf("read entry %q: %w", name, err))
				return
			}

			entry := Entry{Path: name, Raw: raw, Content: digest.Decode(raw)}
			if !yield(entry, nil) {
				return
			}
		}
	}
}

// ExtractBytes is Extract over an in-memory archive
func ExtractBytes(b []byte, opts ...Option) iter.Seq2[Entry, error] {
	return Extract(bytes.NewReader(b), opts...)
}

// tar.Reader reports legacy '\x00' entries as TypeReg
func isRegular(hdr *tar.Header) bool {
	return hdr.Typeflag == tar.TypeReg
}

// CleanPath normalizes an archive entry name and rejects names that would
// resolve outside the archive root
func CleanPath(name string) (string, error) {
	if name == "" {
		return "", &EntryError{Path: name, Reason: "empty path"}
	}
	if strings.ContainsRune(name, 0) {
		return "", &EntryError{Path: name, Reason: "path contains NUL"}
	}
	if strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) || hasDriveLetter(name) {
		return "", &EntryError{Path: name, Reason: "absolute path"}
	}

	slashed := strings.ReplaceAll(name, `\`, "/")
	for _, seg := range strings.Split(slashed, "/") {
		if seg == ".." {
			return "", &EntryError{Path: name, Reason: "path traversal"}
		}
	}

	cleaned := path.Clean(slashed)
	if cleaned == "." || cleaned == "" {
		return "", &EntryError{Path: name, Reason: "empty path"}
	}
	return cleaned, nil
}

func hasDriveLetter(name string) bool {
	if len(name) < 2 || name[1] != ':' {
		return false
	}
	c := name[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
