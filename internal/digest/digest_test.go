package digest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Values produced by `git hash-object`
func TestHashMatchesGit(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"empty", "", "e69de29bb2d1d6434b8b29ae775ad8c2e48c5391"},
		{"hello newline", "hello\n", "ce013625030ba8dba906f756967f9e9ca394464a"},
		{"hello", "hello", "b6fc4c620b67d95f953a5c1c1230aaab5db5a1b0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Hash([]byte(tt.content)))
			assert.Equal(t, tt.want, HashString(tt.content))
		})
	}
}

func TestHashDeterministic(t *testing.T) {
	a := Hash([]byte("same content"))
	b := Hash([]byte("same content"))
	assert.Equal(t, a, b)
	assert.Len(t, a, Size)
	assert.NotEqual(t, a, Hash([]byte("same content!")))
}

func TestDecodeReplacesInvalidBytes(t *testing.T) {
	raw := []byte{'a', 0xff, 'b'}
	assert.Equal(t, "a�b", Decode(raw))
	assert.Equal(t, "plain", Decode([]byte("plain")))
}

func TestHashCanonical(t *testing.T) {
	// Valid UTF-8 hashes identically to the raw bytes
	valid := []byte("héllo wörld")
	assert.Equal(t, Hash(valid), HashCanonical(valid))

	// Invalid UTF-8 hashes as its decoded form
	invalid := []byte{'x', 0xc3, 0x28}
	assert.Equal(t, HashString(Decode(invalid)), HashCanonical(invalid))
	assert.NotEqual(t, Hash(invalid), HashCanonical(invalid))
}
