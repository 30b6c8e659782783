package utils

import (
	"strings"
)

// NormalizeSpace collapses repeated whitespace into a single space.
func NormalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeSeat is the canonical form of a seat identifier.
func NormalizeSeat(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
