package types

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// NormalizeContent produces the canonical form used for dedupe hashing:
// trimmed, lowercased, with internal whitespace runs collapsed to a single
// space. Every hash site must go through this function so reflowed copies
// of the same text dedupe as equal.
func NormalizeContent(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// ContentHash returns the hex SHA-256 of the normalized content. This is the
// dedupe key on memories and the upsert key on embeddings.
func ContentHash(s string) string {
	sum := sha256.Sum256([]byte(NormalizeContent(s)))
	return hex.EncodeToString(sum[:])
}

// ShortHash returns the first 16 hex characters of the content hash. The
// ingestion feed uses it to skip re-ingesting unchanged files.
func ShortHash(s string) string {
	return ContentHash(s)[:16]
}
