// Package urlnorm canonicalizes URLs so equality and de-duplication across
// the store are stable.
package urlnorm

import (
	"net/url"
	"strings"
)

// Normalize reduces s to its canonical form: scheme forced to https,
// fragment and query stripped, trailing slash on non-root paths removed.
// It never fails — on an unparseable result it returns the best-effort
// string produced before parsing.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '#'); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, '?'); i >= 0 {
		s = s[:i]
	}

	for {
		switch {
		case strings.HasPrefix(s, "http://"):
			s = s[len("http://"):]
		case strings.HasPrefix(s, "https://"):
			s = s[len("https://"):]
		default:
			goto stripped
		}
	}
stripped:
	s = "https://" + s

	u, err := url.Parse(s)
	if err != nil {
		return s
	}

	u.Fragment = ""
	u.RawQuery = ""

	if u.Path == "" {
		u.Path = "/"
	} else if len(u.Path) > 1 && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String()
}

// Equal reports whether two URLs are the same canonical URL.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
