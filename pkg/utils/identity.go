package utils

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
)

var (
	schemePattern      = regexp.MustCompile(`^[a-z][a-z0-9+.\-]*://`)
	profileHostPattern = regexp.MustCompile(`^(?:www\.|m\.)?(?:instagram\.com|instagr\.am)/`)
	bareHostPattern    = regexp.MustCompile(`^(?:www\.|m\.)?(?:instagram\.com|instagr\.am)$`)

	ErrInvalidIdentity = errors.New("invalid profile identity")
)

// NormalizeIdentity reduces a handle, @handle or profile URL to the bare lowercase handle.
// Query strings, fragments and any path after the handle are dropped.
// Returns empty string when nothing usable remains. The result is stable under repeated calls.
func NormalizeIdentity(input string) string {
	s := NewTextNormalizer().Normalize(input)
	s = strings.TrimLeftFunc(s, isDecoration)

	// Drop scheme and known profile hosts
	s = schemePattern.ReplaceAllString(s, "")
	s = profileHostPattern.ReplaceAllString(s, "")

	// Query and fragment never belong to the handle
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}

	// Keep the first path segment only
	s = strings.TrimLeftFunc(s, isDecoration)
	if i := strings.IndexFunc(s, func(r rune) bool { return r == '/' || unicode.IsSpace(r) }); i >= 0 {
		s = s[:i]
	}

	// A bare host carries no handle
	if bareHostPattern.MatchString(s) {
		return ""
	}

	return s
}

// ExtractIdentity normalizes the input and rejects it when no handle remains.
func ExtractIdentity(input string) (string, error) {
	identity := NormalizeIdentity(input)
	if identity == "" {
		return "", ErrInvalidIdentity
	}

	return identity, nil
}

// isDecoration reports runes that may prefix a handle without being part of it.
func isDecoration(r rune) bool {
	return r == '@' || r == '/' || unicode.IsSpace(r)
}
