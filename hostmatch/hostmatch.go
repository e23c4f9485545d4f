// Package hostmatch implements the glob-based host allow/ignore list
// matching used to decide which CONNECT targets get TLS-intercepted,
// ported from the teacher's internal/helper.MatchHost.
package hostmatch

import (
	"net"

	"github.com/tidwall/match"
)

// Match reports whether address ("host" or "host:port") matches any of
// patterns. A pattern without a port matches address regardless of its
// port; a pattern with a port requires an exact port match. Host
// comparison supports '*' and '?' globs via tidwall/match, mirroring
// the teacher's wildcard host rules (e.g. "*.example.com").
func Match(address string, patterns []string) bool {
	addrHost, addrPort := splitHostPort(address)

	for _, pattern := range patterns {
		patHost, patPort := splitHostPort(pattern)
		if patPort != "" && patPort != addrPort {
			continue
		}
		if match.Match(addrHost, patHost) {
			return true
		}
	}
	return false
}

func splitHostPort(s string) (host, port string) {
	if h, p, err := net.SplitHostPort(s); err == nil {
		return h, p
	}
	return s, ""
}

// Rule builds a per-host TLS-interception predicate from allow/ignore
// lists, matching the teacher's cmd/go-mitmproxy precedence: an allow
// list, if non-empty, is authoritative; otherwise an ignore list
// excludes matches and everything else is intercepted.
func Rule(ignoreHosts, allowHosts []string) func(host string) bool {
	switch {
	case len(allowHosts) > 0:
		return func(host string) bool { return Match(host, allowHosts) }
	case len(ignoreHosts) > 0:
		return func(host string) bool { return !Match(host, ignoreHosts) }
	default:
		return nil
	}
}
