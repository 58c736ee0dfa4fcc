// Package cryptox computes the content digests stored with offline map
// files. Digests are BLAKE2b-256, hex encoded.
package cryptox

import (
	"encoding/hex"
	"hash"
	"io"

	"golang.org/x/crypto/blake2b"
)

// NewDigest returns an unkeyed BLAKE2b-256 hash.
func NewDigest() hash.Hash {
	// New256 only fails for keys longer than 64 bytes.
	h, _ := blake2b.New256(nil)
	return h
}

// Hex returns the encoded sum of h.
func Hex(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

// Digest reads r to EOF and returns its digest and length.
func Digest(r io.Reader) (string, int64, error) {
	h := NewDigest()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return Hex(h), n, nil
}
