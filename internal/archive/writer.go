package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"sort"
	"time"
)

// Writer produces a gzip-compressed tar stream of regular files
type Writer struct {
	gz *gzip.Writer
	tw *tar.Writer
}

// NewWriter wraps w
func NewWriter(w io.Writer) *Writer {
	gz := gzip.NewWriter(w)
	return &Writer{gz: gz, tw: tar.NewWriter(gz)}
}

// Add writes one file entry
func (w *Writer) Add(name string, content []byte) error {
	clean, err := CleanPath(name)
	if err != nil {
		return err
	}
	hdr := &tar.Header{
		Name:     clean,
		Mode:     0o644,
		Size:     int64(len(content)),
		Typeflag: tar.TypeReg,
		ModTime:  time.Unix(0, 0),
		Format:   tar.FormatPAX,
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write header for %s: %w", clean, err)
	}
	if _, err := w.tw.Write(content); err != nil {
		return fmt.Errorf("write content for %s: %w", clean, err)
	}
	return nil
}

// Close flushes the tar and gzip streams
func (w *Writer) Close() error {
	if err := w.tw.Close(); err != nil {
		_ = w.gz.Close()
		return err
	}
	return w.gz.Close()
}

// Build creates an in-memory archive from files, written in path order
func Build(files map[string][]byte) ([]byte, error) {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, name := range names {
		if err := w.Add(name, files[name]); err != nil {
			_ = w.Close()
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
