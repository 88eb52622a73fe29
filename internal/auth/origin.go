package auth

import (
	"regexp"
	"strings"
)

var hostPattern = regexp.MustCompile(`^[\w-]+(\.[\w-]+)*$`)

// NormalizeOrigin reduces an Origin header or a configured origin to a bare
// lower-case host: scheme, "www.", port, path and query are dropped. Values that
// do not look like a host normalize to "".
func NormalizeOrigin(origin string) string {
	o := strings.ToLower(strings.TrimSpace(origin))
	if i := strings.Index(o, "://"); i >= 0 {
		o = o[i+3:]
	}
	if i := strings.IndexAny(o, "/?#"); i >= 0 {
		o = o[:i]
	}
	if i := strings.LastIndex(o, "@"); i >= 0 {
		o = o[i+1:]
	}
	if i := strings.Index(o, ":"); i >= 0 {
		o = o[:i]
	}
	o = strings.TrimPrefix(o, "www.")
	o = strings.TrimSuffix(o, ".")

	if !hostPattern.MatchString(o) {
		return ""
	}
	return o
}

// OriginAllowed reports whether a request origin satisfies a key's restriction.
// An empty restriction allows everything; a restricted key rejects a missing origin.
func OriginAllowed(restriction, requestOrigin string) bool {
	want := NormalizeOrigin(restriction)
	if want == "" {
		return true
	}
	return NormalizeOrigin(requestOrigin) == want
}
