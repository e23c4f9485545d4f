// Package proxyauth implements the optional proxy-entry authentication
// check (SPEC_FULL.md §4 "Proxy authentication"): a Basic-auth gate on the
// Proxy-Authorization header, checked once per connection before a request
// is dispatched to the PlainHttp or CONNECT path. Off by default.
package proxyauth

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// BasicAuth validates a Proxy-Authorization header against a fixed set of
// user:password credentials, ported from the teacher's cmd/go-mitmproxy
// DefaultBasicAuth.
type BasicAuth struct {
	creds map[string]string
}

// New builds a BasicAuth from a "user:pass|user2:pass2"-formatted string,
// the same format the teacher's -proxy-auth flag accepts. An entry without
// a colon is rejected rather than silently ignored.
func New(spec string) (*BasicAuth, error) {
	auth := &BasicAuth{creds: make(map[string]string)}
	for _, entry := range strings.Split(spec, "|") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("proxyauth: invalid credential entry %q", entry)
		}
		auth.creds[parts[0]] = parts[1]
	}
	if len(auth.creds) == 0 {
		return nil, fmt.Errorf("proxyauth: no credentials in %q", spec)
	}
	return auth, nil
}

// Authenticate reports whether proxyAuthorization — the raw value of a
// Proxy-Authorization header — carries valid Basic credentials.
func (a *BasicAuth) Authenticate(proxyAuthorization string) bool {
	if proxyAuthorization == "" {
		return false
	}
	const prefix = "Basic "
	if !strings.HasPrefix(proxyAuthorization, prefix) {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(proxyAuthorization, prefix))
	if err != nil {
		return false
	}
	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return false
	}
	want, ok := a.creds[user]
	return ok && want == pass
}
