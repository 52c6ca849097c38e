package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// BytesSHA256 returns the hex SHA-256 digest of data.
func BytesSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CacheKey derives a content-addressable key from the raw upload bytes and
// the canonical encoding of every parameter that influences the output.
// A NUL separator keeps (bytes, params) pairs from colliding on concatenation.
func CacheKey(data []byte, params string) string {
	h := sha256.New()
	h.Write(data)
	h.Write([]byte{0})
	h.Write([]byte(params))
	return hex.EncodeToString(h.Sum(nil))
}
