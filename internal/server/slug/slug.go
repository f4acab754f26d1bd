package slug

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
)

var (
	// ErrExhausted is returned when every attempted slug collided. With a
	// 6-hex-char suffix this should never fire in practice; if it does, the
	// store is returning bad existence results or the suffix space needs
	// widening.
	ErrExhausted = errors.New("slug generation attempts exhausted")
)

const (
	// defaultBase is used when title and artist slugify to nothing.
	defaultBase = "song"

	// suffixBytes is the number of random bytes appended as hex (6 hex chars).
	suffixBytes = 3

	maxAttempts = 10
)

// Checker reports whether a slug is already taken. A storage error must
// surface as an error, never as a false "available".
type Checker interface {
	SlugExists(ctx context.Context, slug string) (bool, error)
}

// Generator mints unique, human-readable public slugs.
type Generator struct {
	checker Checker
	random  io.Reader
}

// NewGenerator creates a Generator backed by the given existence checker.
func NewGenerator(checker Checker) *Generator {
	return &Generator{checker: checker, random: rand.Reader}
}

// WithRandom replaces the random source. Used by tests to make suffix
// generation deterministic.
func (g *Generator) WithRandom(r io.Reader) *Generator {
	g.random = r
	return g
}

// Generate derives a readable base from title and artist, appends a random
// hex suffix, and verifies the result against the store. On collision it
// redraws the suffix, up to maxAttempts times.
func (g *Generator) Generate(ctx context.Context, title, artist string) (string, error) {
	base := Slugify(title + " " + artist)
	if base == "" {
		base = defaultBase
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		suffix, err := g.randomSuffix()
		if err != nil {
			return "", fmt.Errorf("failed to generate slug suffix: %w", err)
		}

		candidate := base + "-" + suffix
		exists, err := g.checker.SlugExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("failed to check slug availability: %w", err)
		}
		if !exists {
			return candidate, nil
		}
	}

	return "", ErrExhausted
}

func (g *Generator) randomSuffix() (string, error) {
	buf := make([]byte, suffixBytes)
	if _, err := io.ReadFull(g.random, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Slugify lowercases s, replaces every run of non-alphanumeric characters
// with a single hyphen, and trims leading and trailing hyphens.
func Slugify(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	lastHyphen := true // suppress a leading hyphen
	for _, r := range strings.ToLower(s) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}

	return strings.TrimRight(b.String(), "-")
}

// Token produces a cryptographically secure, URL-safe random string. It is
// the sibling identifier strategy: no readable base and no retry loop, the
// token space alone makes collisions negligible.
func Token(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	result := make([]byte, length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", fmt.Errorf("crypto/rand failure: %w", err)
		}
		result[i] = charset[n.Int64()]
	}
	return string(result), nil
}
