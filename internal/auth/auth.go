// Package auth guards state-changing routes with a shared bearer token.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"strings"
)

var (
	ErrNoAPIKey      = errors.New("no API key provided")
	ErrInvalidAPIKey = errors.New("invalid API key")
)

// Guard validates presented tokens against the configured one. Only the
// token's hash is held in memory.
type Guard struct {
	hash    [sha256.Size]byte
	enabled bool
}

// NewGuard returns a guard for token. An empty token disables checking.
func NewGuard(token string) *Guard {
	token = strings.TrimSpace(token)
	if token == "" {
		return &Guard{}
	}
	return &Guard{hash: hashKey(token), enabled: true}
}

// Enabled reports whether a token is configured.
func (g *Guard) Enabled() bool { return g != nil && g.enabled }

// Validate checks a raw header value. A "Bearer " prefix is accepted.
func (g *Guard) Validate(raw string) error {
	if !g.Enabled() {
		return nil
	}
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Bearer "))
	if raw == "" {
		return ErrNoAPIKey
	}
	got := hashKey(raw)
	if subtle.ConstantTimeCompare(got[:], g.hash[:]) != 1 {
		return ErrInvalidAPIKey
	}
	return nil
}

func hashKey(raw string) [sha256.Size]byte {
	return sha256.Sum256([]byte(raw))
}
