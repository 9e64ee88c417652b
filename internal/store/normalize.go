package store

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// normalizeContent applies the hashing normalization rule: trim trailing
// whitespace, normalize line endings to \n, preserve all other bytes
// verbatim.
func normalizeContent(content string) string {
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	return strings.TrimRight(normalized, " \t\n\v\f")
}

// contentHash computes the SHA-256 of normalized content, hex-encoded.
func contentHash(content string) string {
	sum := sha256.Sum256([]byte(normalizeContent(content)))
	return hex.EncodeToString(sum[:])
}

var tagNamePattern = regexp.MustCompile(`^[a-z0-9-]+(:[a-z0-9-]+)*$`)

// validTagName reports whether name matches the hierarchical tag pattern.
func validTagName(name string) bool {
	return ValidTagName(name)
}

// ValidTagName reports whether name matches the hierarchical tag pattern
// (lowercase alphanumerics and hyphens per segment, colon-separated).
// Exported so collaborators that must filter candidate tag names before
// ever calling AttachTags (the tag-extraction service, which is required
// to silently drop invalid output rather than error) can reuse the exact
// pattern instead of duplicating it.
func ValidTagName(name string) bool {
	return tagNamePattern.MatchString(name)
}

// tagDepth returns the number of colon-separated segments in a tag name.
func tagDepth(name string) int {
	return TagDepth(name)
}

// tagAncestors returns every proper prefix of a hierarchical tag name, in
// root-to-leaf order, e.g. "a:b:c" -> ["a", "a:b"].
func tagAncestors(name string) []string {
	return TagAncestors(name)
}

// TagDepth returns the number of colon-separated segments in a tag name,
// e.g. TagDepth("a:b:c") == 3. Exported so collaborators outside the store
// package (the retrieval engine's tag-boost specificity weighting) can
// reason about tag hierarchy without re-deriving it.
func TagDepth(name string) int {
	return strings.Count(name, ":") + 1
}

// TagAncestors returns every proper prefix of a hierarchical tag name, in
// root-to-leaf order, e.g. "a:b:c" -> ["a", "a:b"].
func TagAncestors(name string) []string {
	segments := strings.Split(name, ":")
	if len(segments) <= 1 {
		return nil
	}
	ancestors := make([]string, 0, len(segments)-1)
	for i := 1; i < len(segments); i++ {
		ancestors = append(ancestors, strings.Join(segments[:i], ":"))
	}
	return ancestors
}
