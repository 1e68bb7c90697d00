// Package idgen provides short, URL-safe unique ID generation backed by nanoid.
package idgen

import (
	nanoid "github.com/matoous/go-nanoid/v2"
)

// Alphabet defines the character set used for the random portion of the ID.
const Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters generated (excluding the prefix).
const Length = 10

// Prefixes for the record families owned by this engine.
const (
	PrefixGrant = "gr-"
	PrefixUsage = "ev-"
)

// NewGrantID returns a new unique tier-grant ID.
func NewGrantID() string {
	return generate(PrefixGrant)
}

// NewUsageID returns a new unique usage-event ID.
func NewUsageID() string {
	return generate(PrefixUsage)
}

// generate panics only on an invalid alphabet or length, both fixed above.
func generate(prefix string) string {
	return prefix + nanoid.MustGenerate(Alphabet, Length)
}
