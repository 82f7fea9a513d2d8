package models

import (
	"fmt"
	"strings"
)

// KeyPrefix namespaces storage keys per record type so attempt logs,
// penalty records and block records never collide in a shared store.
type KeyPrefix string

const (
	KeyPrefixAttempt    KeyPrefix = "att"
	KeyPrefixViolations KeyPrefix = "vio"
	KeyPrefixPenalty    KeyPrefix = "pen"
	KeyPrefixBlock      KeyPrefix = "blk"
)

// Key is a value object for storage key construction. Centralizing the
// format and sanitization prevents user-controlled identifiers containing
// the delimiter from aliasing a neighbouring bucket.
type Key struct {
	prefix     KeyPrefix
	identifier string
	action     Action // empty for block keys
}

// NewAttemptKey names the attempt log for (identifier, action).
func NewAttemptKey(identifier string, action Action) Key {
	return Key{prefix: KeyPrefixAttempt, identifier: sanitizeSegment(identifier), action: action}
}

// NewViolationsKey names the 24h violation tally for (identifier, action).
func NewViolationsKey(identifier string, action Action) Key {
	return Key{prefix: KeyPrefixViolations, identifier: sanitizeSegment(identifier), action: action}
}

// NewPenaltyKey names the active penalty record for (identifier, action).
func NewPenaltyKey(identifier string, action Action) Key {
	return Key{prefix: KeyPrefixPenalty, identifier: sanitizeSegment(identifier), action: action}
}

// NewBlockKey names the block record for an identity. Blocks apply to the
// whole identity, so the key has no action segment.
func NewBlockKey(identifier string) Key {
	return Key{prefix: KeyPrefixBlock, identifier: sanitizeSegment(identifier)}
}

// String renders the key for storage lookup.
func (k Key) String() string {
	if k.action == "" {
		return fmt.Sprintf("%s:%s", k.prefix, k.identifier)
	}
	return fmt.Sprintf("%s:%s:%s", k.prefix, k.identifier, k.action)
}

// sanitizeSegment escapes the key delimiter inside identifiers.
// Escape the escape character first so no two distinct inputs can
// produce the same sanitized output:
//
//	"a:b"  -> "a_cb"
//	"a_b"  -> "a__b"
//	"a_:b" -> "a___cb"
func sanitizeSegment(s string) string {
	s = strings.ReplaceAll(s, "_", "__")
	s = strings.ReplaceAll(s, ":", "_c")
	return s
}
