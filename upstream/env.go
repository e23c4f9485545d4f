package upstream

import (
	"net/http"
	"net/url"
)

// ChainFromEnvironment builds a Chain from the HTTP_PROXY/HTTPS_PROXY/
// NO_PROXY environment variables for the given target URL, the same
// convention net/http's default transport honors. Returns a nil Chain
// if no proxy applies to target.
func ChainFromEnvironment(target *url.URL) (*Chain, error) {
	proxyURL, err := http.ProxyFromEnvironment(&http.Request{URL: target})
	if err != nil {
		return nil, err
	}
	if proxyURL == nil {
		return nil, nil
	}
	return &Chain{URL: proxyURL}, nil
}
