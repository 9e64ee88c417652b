package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeContentTrimsTrailingWhitespaceAndCRLF(t *testing.T) {
	got := normalizeContent("line one\r\nline two  \t\n")
	assert.Equal(t, "line one\nline two", got)
}

func TestNormalizeContentPreservesInteriorBytes(t *testing.T) {
	got := normalizeContent("  leading spaces kept\nmiddle\n")
	assert.Equal(t, "  leading spaces kept\nmiddle", got)
}

func TestContentHashStableAcrossEquivalentLineEndings(t *testing.T) {
	a := contentHash("hello\r\nworld\n")
	b := contentHash("hello\nworld")
	assert.Equal(t, a, b)
}

func TestContentHashDiffersForDifferentContent(t *testing.T) {
	assert.NotEqual(t, contentHash("a"), contentHash("b"))
}

func TestValidTagName(t *testing.T) {
	cases := map[string]bool{
		"database":            true,
		"database:postgresql": true,
		"a:b:c:d:e":           true,
		"Database":            false,
		"database_postgresql": false,
		"database::postgresql": false,
		"":                    false,
		"database-engine:postgresql-variant": true,
	}
	for name, want := range cases {
		assert.Equal(t, want, validTagName(name), "name=%q", name)
	}
}

func TestTagDepth(t *testing.T) {
	assert.Equal(t, 1, tagDepth("database"))
	assert.Equal(t, 2, tagDepth("database:postgresql"))
	assert.Equal(t, 3, tagDepth("a:b:c"))
}

func TestTagAncestors(t *testing.T) {
	assert.Nil(t, tagAncestors("database"))
	assert.Equal(t, []string{"a"}, tagAncestors("a:b"))
	assert.Equal(t, []string{"a", "a:b"}, tagAncestors("a:b:c"))
}
