// Package idgen generates identifiers and QR codes for packaging items.
package idgen

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultQRPrefix is used when no prefix is configured.
const DefaultQRPrefix = "PKG"

// Generator produces identifiers for new packaging items. Implementations
// must be safe for concurrent use and must not repeat a value.
type Generator interface {
	NewID() string
	NewQRCode() string
}

// UUIDGenerator derives ids and QR codes from random UUIDs.
type UUIDGenerator struct {
	prefix string
}

// NewUUIDGenerator creates a UUIDGenerator. An empty prefix falls back to
// DefaultQRPrefix.
func NewUUIDGenerator(prefix string) *UUIDGenerator {
	return &UUIDGenerator{prefix: prefixOrDefault(prefix)}
}

// NewID returns a random UUID string.
func (g *UUIDGenerator) NewID() string {
	return uuid.NewString()
}

// NewQRCode returns the prefix followed by 32 upper-case hex characters.
func (g *UUIDGenerator) NewQRCode() string {
	u := uuid.New()
	return g.prefix + "-" + strings.ToUpper(strings.ReplaceAll(u.String(), "-", ""))
}

// SequenceGenerator hands out values from a strictly monotonic counter.
// Ids and QR codes share the counter so every call yields a fresh number.
type SequenceGenerator struct {
	prefix  string
	counter atomic.Uint64
}

// NewSequenceGenerator creates a SequenceGenerator starting at 1.
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	return &SequenceGenerator{prefix: prefixOrDefault(prefix)}
}

// NewID returns the next "pkg-NNNNNNNN" id.
func (g *SequenceGenerator) NewID() string {
	return fmt.Sprintf("pkg-%08d", g.counter.Add(1))
}

// NewQRCode returns the next "<prefix>-NNNNNNNN" code.
func (g *SequenceGenerator) NewQRCode() string {
	return fmt.Sprintf("%s-%08d", g.prefix, g.counter.Add(1))
}

// New returns the generator for the named strategy ("uuid" or "sequence").
func New(strategy, prefix string) (Generator, error) {
	switch strategy {
	case "", "uuid":
		return NewUUIDGenerator(prefix), nil
	case "sequence":
		return NewSequenceGenerator(prefix), nil
	default:
		return nil, fmt.Errorf("unknown id strategy: %s", strategy)
	}
}

func prefixOrDefault(prefix string) string {
	if prefix == "" {
		return DefaultQRPrefix
	}
	return prefix
}
