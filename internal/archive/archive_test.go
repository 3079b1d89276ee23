package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/corpora/internal/digest"
)

type rawEntry struct {
	name     string
	typeflag byte
	body     string
}

// buildRaw writes entries without path validation, to exercise the reader
func buildRaw(t *testing.T, entries []rawEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Typeflag: e.typeflag, Mode: 0o644}
		if e.typeflag == tar.TypeReg {
			hdr.Size = int64(len(e.body))
		}
		if e.typeflag == tar.TypeSymlink {
			hdr.Linkname = e.body
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if e.typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func collect(t *testing.T, data []byte, opts ...Option) (map[string]string, []error) {
	t.Helper()
	files := map[string]string{}
	var errs []error
	for entry, err := range ExtractBytes(data, opts...) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		files[entry.Path] = entry.Content
	}
	return files, errs
}

func TestBuildAndExtract(t *testing.T) {
	data, err := Build(map[string][]byte{
		"a.txt":        []byte("hello"),
		"dir/b.md":     []byte("# Title\n\nbody"),
		"./dir/c/d.go": []byte("package d\n"),
		"empty.txt":    {},
	})
	require.NoError(t, err)

	files, errs := collect(t, data)
	assert.Empty(t, errs)
	assert.Equal(t, map[string]string{
		"a.txt":      "hello",
		"dir/b.md":   "# Title\n\nbody",
		"dir/c/d.go": "package d\n",
		"empty.txt":  "",
	}, files)
}

func TestExtractSkipsNonRegular(t *testing.T) {
	data := buildRaw(t, []rawEntry{
		{name: "dir/", typeflag: tar.TypeDir},
		{name: "dir/link", typeflag: tar.TypeSymlink, body: "../../etc/passwd"},
		{name: "dir/file.txt", typeflag: tar.TypeReg, body: "content"},
	})

	files, errs := collect(t, data)
	assert.Empty(t, errs)
	assert.Equal(t, map[string]string{"dir/file.txt": "content"}, files)
}

func TestExtractRejectsTraversal(t *testing.T) {
	data := buildRaw(t, []rawEntry{
		{name: "../escape.txt", typeflag: tar.TypeReg, body: "x"},
		{name: "ok.txt", typeflag: tar.TypeReg, body: "fine"},
		{name: "/etc/passwd", typeflag: tar.TypeReg, body: "x"},
		{name: "a/../../b.txt", typeflag: tar.TypeReg, body: "x"},
		{name: "after.txt", typeflag: tar.TypeReg, body: "still read"},
	})

	files, errs := collect(t, data)
	assert.Equal(t, map[string]string{"ok.txt": "fine", "after.txt": "still read"}, files)
	require.Len(t, errs, 3)
	for _, err := range errs {
		assert.True(t, errors.Is(err, ErrInvalidEntry), "got %v", err)
		var entryErr *EntryError
		assert.True(t, errors.As(err, &entryErr))
	}
}

func TestExtractLossyUTF8(t *testing.T) {
	data := buildRaw(t, []rawEntry{
		{name: "bin.txt", typeflag: tar.TypeReg, body: "ok\xffok"},
	})

	var got Entry
	for entry, err := range ExtractBytes(data) {
		require.NoError(t, err)
		got = entry
	}
	assert.Equal(t, "ok\uFFFDok", got.Content)
	assert.Equal(t, []byte("ok\xffok"), got.Raw)
	assert.Equal(t, digest.HashCanonical(got.Raw), got.Digest())
}

func TestExtractEntrySizeLimit(t *testing.T) {
	data := buildRaw(t, []rawEntry{
		{name: "big.txt", typeflag: tar.TypeReg, body: "0123456789"},
		{name: "small.txt", typeflag: tar.TypeReg, body: "01"},
	})

	files, errs := collect(t, data, WithMaxEntrySize(5))
	assert.Equal(t, map[string]string{"small.txt": "01"}, files)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrInvalidEntry)
}

func TestExtractCorruptStream(t *testing.T) {
	_, errs := collect(t, []byte("definitely not gzip"))
	require.Len(t, errs, 1)
	assert.NotErrorIs(t, errs[0], ErrInvalidEntry)
}

func TestExtractStopsEarly(t *testing.T) {
	data, err := Build(map[string][]byte{"a": []byte("1"), "b": []byte("2"), "c": []byte("3")})
	require.NoError(t, err)

	count := 0
	for range ExtractBytes(data) {
		count++
		if count == 2 {
			break
		}
	}
	assert.Equal(t, 2, count)
}

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"a.txt", "a.txt", false},
		{"./a/b.txt", "a/b.txt", false},
		{"a//b/./c.txt", "a/b/c.txt", false},
		{"", "", true},
		{".", "", true},
		{"../a", "", true},
		{"a/../../b", "", true},
		{"a/..", "", true},
		{"/abs", "", true},
		{`\\server\share`, "", true},
		{`C:\windows`, "", true},
		{"nul\x00byte", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := CleanPath(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidEntry)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
