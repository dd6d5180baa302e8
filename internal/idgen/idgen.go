// Package idgen generates short, URL-safe request ids backed by nanoid.
package idgen

import (
	"fmt"
	"strings"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// DefaultPrefix is prepended to every generated request id.
var DefaultPrefix = "req-"

// Alphabet defines the character set used for the random portion of the ID.
var Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters generated (excluding the prefix).
var Length = 12

// MaxForeignLength bounds request ids accepted from callers.
const MaxForeignLength = 64

// Generate returns a new unique ID using the default prefix.
func Generate() (string, error) {
	return GenerateWithPrefix(DefaultPrefix)
}

// GenerateWithPrefix returns a new unique ID with the given prefix.
func GenerateWithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

// Valid reports whether a caller-supplied request id is safe to echo back and
// log: non-empty, at most MaxForeignLength bytes, and drawn from Alphabet plus
// '-', '_' and '.'.
func Valid(id string) bool {
	if id == "" || len(id) > MaxForeignLength {
		return false
	}
	for _, r := range id {
		if r == '-' || r == '_' || r == '.' {
			continue
		}
		if !strings.ContainsRune(Alphabet, r) {
			return false
		}
	}
	return true
}
