package utils

import "unicode/utf8"

// RuneBoundary returns the largest offset no greater than i that starts
// a rune in s. Slicing s at the result never splits a multibyte
// character.
func RuneBoundary(s string, i int) int {
	if i >= len(s) {
		return len(s)
	}
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

// TruncateRunes cuts s to at most n bytes without splitting a rune.
func TruncateRunes(s string, n int) string {
	if n < 0 {
		n = 0
	}
	return s[:RuneBoundary(s, n)]
}
