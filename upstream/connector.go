// Package upstream implements the origin connector: given a target host
// and port, resolve and connect to it, optionally chaining through an
// upstream SOCKS5 or HTTP(S) CONNECT proxy.
package upstream

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/snitcher/mitmproxy/internal/perror"
)

var errNoRouteToHost = errors.New("no route to host")

// DefaultConnectTimeout is the per-attempt budget used when a Connector
// is built with timeout <= 0 (spec.md §6: UpstreamConnectTimeout default
// 10s).
const DefaultConnectTimeout = 10 * time.Second

// Connector dials origin servers. Given a configured upstream Chain, it
// dials through the chain instead of directly.
type Connector struct {
	Timeout time.Duration
	Chain   *Chain
	Resolve func(ctx context.Context, host string) ([]net.IP, error)
}

// NewConnector builds a Connector with the given per-attempt timeout
// (DefaultConnectTimeout if timeout <= 0) and an optional proxy chain.
func NewConnector(timeout time.Duration, chain *Chain) *Connector {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	return &Connector{Timeout: timeout, Chain: chain}
}

// Dial connects to host:port. If a Chain is configured, the connection
// is made through it; otherwise host is resolved to its IPv4 addresses
// and each is tried in order within the connector's timeout budget
// (spec.md §4.6).
func (c *Connector) Dial(ctx context.Context, host, port string) (net.Conn, error) {
	addr := net.JoinHostPort(host, port)

	if c.Chain != nil {
		conn, err := c.Chain.Dial(ctx, addr)
		if err != nil {
			return nil, classifyDialErr(host, err)
		}
		return conn, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	ips, err := c.resolveIPv4(ctx, host)
	if err != nil {
		return nil, perror.NewUpstreamError("resolve", host, err)
	}
	if len(ips) == 0 {
		return nil, perror.NewUpstreamError("resolve", host, errNoRouteToHost)
	}

	dialer := &net.Dialer{}
	var lastErr error
	for _, ip := range ips {
		conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(ip.String(), port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, classifyDialErr(host, lastErr)
}

func (c *Connector) resolveIPv4(ctx context.Context, host string) ([]net.IP, error) {
	resolve := c.Resolve
	if resolve == nil {
		resolve = func(ctx context.Context, host string) ([]net.IP, error) {
			return net.DefaultResolver.LookupIP(ctx, "ip4", host)
		}
	}
	return resolve(ctx, host)
}

func classifyDialErr(host string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr, ok := err.(interface{ Timeout() bool }); ok && ctxErr.Timeout() {
		return perror.NewTimeoutError("dial", host, err)
	}
	if err == context.DeadlineExceeded {
		return perror.NewTimeoutError("dial", host, err)
	}
	return perror.NewUpstreamError("dial", host, err)
}
