package utils

import (
	"regexp"
	"strings"
)

// MultipleSpaces matches any sequence of whitespace (including newlines).
var MultipleSpaces = regexp.MustCompile(`\s+`)

// CompressAllWhitespace replaces all whitespace sequences (including newlines) with a single space.
// This is useful for cases where you want to completely normalize whitespace.
func CompressAllWhitespace(s string) string {
	return strings.TrimSpace(MultipleSpaces.ReplaceAllString(s, " "))
}

// SplitLines splits every entry on newlines and drops empty lines.
// Used when reading identity lists from files or flags.
func SplitLines(content []string) []string {
	var result []string

	for _, item := range content {
		for line := range strings.SplitSeq(item, "\n") {
			line = strings.TrimSpace(line)
			if line != "" && !strings.HasPrefix(line, "#") {
				result = append(result, line)
			}
		}
	}

	return result
}
