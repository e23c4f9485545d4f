// Package tlsintercept performs the dual TLS handshake a CONNECT tunnel
// needs to be observed in cleartext: a server-side handshake toward the
// client using a leaf certificate minted for the tunnel's target host,
// and a client-side handshake toward the origin with SNI set to that
// same host (spec.md §4.2 "TlsTunnel path").
package tlsintercept

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/snitcher/mitmproxy/cert"
	"github.com/snitcher/mitmproxy/internal/perror"
)

// minTLSVersion is the floor spec.md §4.2 requires ("TLS 1.2 and 1.3
// enabled") for both the client-facing and origin-facing handshakes.
const minTLSVersion = tls.VersionTLS12

// Intercept owns the leaf-certificate lookup needed to terminate TLS
// toward the client and re-originate it toward the origin.
type Intercept struct {
	CA cert.CA
}

// New builds an Intercept backed by ca.
func New(ca cert.CA) *Intercept {
	return &Intercept{CA: ca}
}

// ServerTLS wraps rawConn in a server-side tls.Conn presenting a leaf
// certificate for host, and performs the handshake. Client certificates
// are never requested (spec.md §4.2: "client certificate requests
// disabled").
func (i *Intercept) ServerTLS(ctx context.Context, rawConn net.Conn, host string) (*tls.Conn, error) {
	leaf, err := i.CA.GetCert(host)
	if err != nil {
		return nil, perror.NewCertificateError("mint-leaf", host, err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{*leaf},
		MinVersion:   minTLSVersion,
		MaxVersion:   tls.VersionTLS13,
		ClientAuth:   tls.NoClientCert,
	}
	conn := tls.Server(rawConn, cfg)
	if err := conn.HandshakeContext(ctx); err != nil {
		return nil, perror.NewClientError("client-tls-handshake", err)
	}
	return conn, nil
}

// OriginTLS wraps rawConn in a client-side tls.Conn toward the origin,
// with SNI set to host, and performs the handshake. Revocation checks
// (CRL/OCSP) are not performed — spec.md §4.2 step 4 calls this a
// deliberate compatibility decision, since the point of interception is
// full visibility, not validating the origin's identity a second time.
func (i *Intercept) OriginTLS(ctx context.Context, rawConn net.Conn, host string, insecureSkipVerify bool) (*tls.Conn, error) {
	cfg := &tls.Config{
		ServerName:         host,
		MinVersion:         minTLSVersion,
		MaxVersion:         tls.VersionTLS13,
		InsecureSkipVerify: insecureSkipVerify,
	}
	conn := tls.Client(rawConn, cfg)
	if err := conn.HandshakeContext(ctx); err != nil {
		return nil, perror.NewUpstreamError("origin-tls-handshake", host, err)
	}
	return conn, nil
}
