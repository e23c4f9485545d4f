// Package cert implements the proxy's certificate authority: generating or
// loading a self-signed root, and minting per-hostname leaf certificates on
// demand for TLS interception (spec.md §4.4).
package cert

import (
	"crypto/tls"
	"crypto/x509"
)

// CA is the certificate-authority capability the TLS interceptor depends
// on. GetCert is expected to be safe for concurrent use and to mint at
// most one certificate per hostname for the lifetime of the process
// (spec.md §8 invariant 4).
type CA interface {
	// GetRootCA returns the CA's own certificate, e.g. for trust-store
	// installation or exposing to a management UI.
	GetRootCA() *x509.Certificate

	// GetCert returns a leaf certificate for hostname, minting and
	// caching one if this is the first request for that host.
	GetCert(hostname string) (*tls.Certificate, error)
}
