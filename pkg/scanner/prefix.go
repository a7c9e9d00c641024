package scanner

import "strings"

// PrefixFilter decides whether a path is eligible for tracking. Entries are
// path prefixes tried in order; the first match wins. An entry starting with
// "!" rejects instead of accepting. A path matching no entry is accepted, so
// a trailing "!/" entry turns the filter into an allowlist.
//
// Example: {"/opt", "!/usr/sbin/", "/usr/", "!/"} tracks /opt and /usr but
// not /usr/sbin and nothing else.
type PrefixFilter []string

// Accept reports whether path passes the filter.
func (f PrefixFilter) Accept(path string) bool {
	for _, entry := range f {
		if negated, ok := strings.CutPrefix(entry, "!"); ok {
			if strings.HasPrefix(path, negated) {
				return false
			}
			continue
		}
		if strings.HasPrefix(path, entry) {
			return true
		}
	}
	return true
}
