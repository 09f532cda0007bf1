package kv

import (
	"regexp"
	"strings"
)

// globPrefix returns the longest literal prefix of glob before its first
// wildcard character, used to seed an ordered-scan lower bound.
func globPrefix(glob string) string {
	idx := strings.IndexAny(glob, "*?")
	if idx < 0 {
		return glob
	}

	return glob[:idx]
}

// globToRegexp translates a `*`/`?` glob into an anchored regexp.
func globToRegexp(glob string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")

	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}

	b.WriteString("$")

	return regexp.MustCompile(b.String())
}

// upperBound returns an exclusive upper bound string for scanning keys that
// start with prefix: the prefix with its last byte incremented. An empty
// result means "scan to the end" (no upper bound, prefix was empty or all
// 0xff).
func upperBound(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}

	return ""
}
