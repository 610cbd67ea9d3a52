// Package idgen provides identifier allocation.
//
// Identifiers are allocated through a Provider so callers that need
// deterministic ids (tests, replay) can swap the source. Entropy failure is
// process-fatal: allocation panics rather than returning an error.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Provider allocates unique identifiers.
type Provider interface {
	Allocate() string
}

// UUIDProvider allocates RFC 4122 version 4 UUIDs.
type UUIDProvider struct{}

// Allocate returns a random v4 UUID string.
func (UUIDProvider) Allocate() string {
	id, err := uuid.NewRandom()
	if err != nil {
		panic("uuid entropy failure: " + err.Error())
	}
	return id.String()
}

// Default is the provider used when none is injected.
var Default Provider = UUIDProvider{}

// Sequence allocates prefix-000001, prefix-000002, ... for deterministic tests.
type Sequence struct {
	prefix string
	n      atomic.Uint64
}

// NewSequence returns a sequence provider using prefix.
func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

func (s *Sequence) Allocate() string {
	return fmt.Sprintf("%s-%06d", s.prefix, s.n.Add(1))
}

// New allocates an id from the default provider.
func New() string {
	return Default.Allocate()
}

// WithPrefix generates a random ID with a prefix (e.g. "esc_", "prop_").
// Result is prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}

// Prefixed wraps a provider so every id carries prefix.
func Prefixed(p Provider, prefix string) Provider {
	return prefixed{p: p, prefix: prefix}
}

type prefixed struct {
	p      Provider
	prefix string
}

func (p prefixed) Allocate() string {
	return p.prefix + p.p.Allocate()
}
