package util

import (
	"strings"
	"unicode/utf8"
)

// Truncate trims surrounding space and cuts s to at most max runes without
// splitting a multi-byte character.
func Truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max]))
}
