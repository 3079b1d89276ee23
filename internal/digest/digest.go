// Package digest computes content-addressable file digests.
//
// Digests follow the git blob convention, so for valid UTF-8 files they equal
// the output of `git hash-object <file>`:
//
//	sha1("blob " + len(content) + "\x00" + content)
//
// Text entering the system is decoded as UTF-8 with invalid sequences replaced
// by U+FFFD. The digest is always computed over that decoded form (see
// HashCanonical), on the client when collecting local hashes and on the server
// when ingesting an archive, so both sides agree on non-UTF-8 input too.
package digest

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Size is the length of a hex-encoded digest
const Size = 40

// Hash returns the git blob digest of b
func Hash(b []byte) string {
	h := sha1.New()
	h.Write([]byte("blob "))
	h.Write([]byte(strconv.Itoa(len(b))))
	h.Write([]byte{0})
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}

// HashString returns the git blob digest of the UTF-8 bytes of s
func HashString(s string) string {
	return Hash([]byte(s))
}

// Decode converts b to a valid UTF-8 string, replacing invalid sequences
// with the Unicode replacement character
func Decode(b []byte) string {
	out, _, err := transform.Bytes(unicode.UTF8.NewDecoder(), b)
	if err != nil {
		// The UTF-8 decoder replaces rather than fails; keep a stdlib-equivalent result
		// if a transformer error ever surfaces.
		return string([]rune(string(b)))
	}
	return string(out)
}

// Canonical returns the canonical byte form used for hashing
func Canonical(b []byte) []byte {
	return []byte(Decode(b))
}

// HashCanonical hashes the canonical form of b
func HashCanonical(b []byte) string {
	return Hash(Canonical(b))
}
