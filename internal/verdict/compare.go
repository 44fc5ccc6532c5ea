package verdict

import (
	"slices"
	"strings"
)

// ExactMatch reports byte-for-byte equality.
func ExactMatch(output, expected string) bool {
	return output == expected
}

// WhitespaceEquivalent reports equality once runs of whitespace are collapsed
// and both ends are trimmed.
func WhitespaceEquivalent(output, expected string) bool {
	return slices.Equal(strings.Fields(output), strings.Fields(expected))
}

type Comparison int

const (
	Match Comparison = iota
	PresentationMismatch
	Mismatch
)

// Compare applies ExactMatch and then WhitespaceEquivalent.
func Compare(output, expected string) Comparison {
	switch {
	case ExactMatch(output, expected):
		return Match
	case WhitespaceEquivalent(output, expected):
		return PresentationMismatch
	default:
		return Mismatch
	}
}
