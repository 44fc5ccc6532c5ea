package verdict

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		name     string
		output   string
		expected string
		want     Comparison
	}{
		{"exact", "1 2", "1 2", Match},
		{"double space", "1  2", "1 2", PresentationMismatch},
		{"trailing newline", "1 2\n", "1 2", PresentationMismatch},
		{"tabs and newlines", "1\t2\n3", "1 2 3", PresentationMismatch},
		{"different token", "1 3", "1 2", Mismatch},
		{"missing token", "1", "1 2", Mismatch},
		{"joined tokens", "12", "1 2", Mismatch},
		{"both empty", "", "", Match},
		{"only whitespace", " \n", "", PresentationMismatch},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Compare(tc.output, tc.expected))
		})
	}
}

func TestPredicatesAreIndependent(t *testing.T) {
	assert.False(t, ExactMatch("a  b", "a b"))
	assert.True(t, WhitespaceEquivalent("a  b", "a b"))
	assert.True(t, ExactMatch("a b", "a b"))
	assert.True(t, WhitespaceEquivalent("a b", "a b"))
	assert.False(t, WhitespaceEquivalent("a c", "a b"))
}
