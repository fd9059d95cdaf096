package fingerprint

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// Normalize concatenates the term and definition after cleaning each part.
// It trims whitespace, lowercases, and normalizes line endings so the same
// pair typed with cosmetic differences still collapses to one fingerprint.
func Normalize(term, definition string) string {
	normalizePart := func(part string) string {
		p := strings.ToLower(part)
		p = strings.TrimSpace(p)
		p = strings.ReplaceAll(p, "\r\n", "\n")
		return p
	}

	// Joined with a newline so "a"+"bc" and "ab"+"c" cannot collide.
	return strings.Join([]string{normalizePart(term), normalizePart(definition)}, "\n")
}

// Hash normalizes a term/definition pair and returns its SHA-256 hash as a
// hex string. Used to deduplicate imported items per owner.
func Hash(term, definition string) string {
	hashBytes := sha256.Sum256([]byte(Normalize(term, definition)))
	return fmt.Sprintf("%x", hashBytes)
}
