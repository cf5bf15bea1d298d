package utils

import (
	"crypto/md5"
	"fmt"
	"strings"
)

// HashString returns the hex md5 digest of input, used for cache keys
// and content-derived document IDs.
func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

// HashStrings digests several parts as one key, separated so that
// ("ab","c") and ("a","bc") do not collide.
func HashStrings(parts ...string) string {
	return HashString(strings.Join(parts, "\x00"))
}
