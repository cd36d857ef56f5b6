package permission

import (
	"regexp"
	"strings"
	"sync"
)

var globCache sync.Map // pattern -> *regexp.Regexp

// matchGlob reports whether value matches the glob pattern. `*` matches any
// run of characters, `?` matches one character, everything else is literal.
// The match is anchored to the full string.
func matchGlob(pattern, value string) bool {
	if pattern == "*" {
		return true
	}

	if cached, ok := globCache.Load(pattern); ok {
		return cached.(*regexp.Regexp).MatchString(value)
	}

	re, err := regexp.Compile(globToRegexp(pattern))
	if err != nil {
		// QuoteMeta makes this unreachable for any input; treat as no match.
		return false
	}
	globCache.Store(pattern, re)
	return re.MatchString(value)
}

func globToRegexp(pattern string) string {
	quoted := regexp.QuoteMeta(pattern)
	quoted = strings.ReplaceAll(quoted, `\*`, `.*`)
	quoted = strings.ReplaceAll(quoted, `\?`, `.`)
	return "^" + quoted + "$"
}
