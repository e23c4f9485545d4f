package upstream

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"net"
	"net/url"
	"time"

	"golang.org/x/net/proxy"

	"github.com/snitcher/mitmproxy/httpmsg"
	"github.com/snitcher/mitmproxy/internal/perror"
)

// Chain describes a single upstream proxy a Connector dials through
// instead of connecting to the origin directly: socks5://, http://, or
// https://.
type Chain struct {
	URL                *url.URL
	InsecureSkipVerify bool
}

// NewChain builds a Chain from a raw proxy URL (e.g. "socks5://user:pass
// @host:1080", "http://host:3128"). An empty rawURL returns a nil Chain,
// nil error — the caller dials directly.
func NewChain(rawURL string) (*Chain, error) {
	if rawURL == "" {
		return nil, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	return &Chain{URL: u}, nil
}

// Dial connects to address ("host:port") through the chain's proxy.
func (c *Chain) Dial(ctx context.Context, address string) (net.Conn, error) {
	switch c.URL.Scheme {
	case "socks5":
		return c.dialSOCKS5(ctx, address)
	case "http", "https":
		return c.dialHTTPConnect(ctx, address)
	default:
		return nil, errors.New("unsupported proxy scheme: " + c.URL.Scheme)
	}
}

// dialSOCKS5 ported from the teacher's internal/helper.GetProxyConn
// SOCKS5 branch, using golang.org/x/net/proxy's dialer.
func (c *Chain) dialSOCKS5(ctx context.Context, address string) (net.Conn, error) {
	auth := &proxy.Auth{}
	if c.URL.User != nil {
		auth.User = c.URL.User.Username()
		auth.Password, _ = c.URL.User.Password()
	}
	dialer, err := proxy.SOCKS5("tcp", c.URL.Host, auth, proxy.Direct)
	if err != nil {
		return nil, err
	}
	dc, ok := dialer.(interface {
		DialContext(ctx context.Context, network, addr string) (net.Conn, error)
	})
	if !ok {
		return nil, errors.New("SOCKS5 dialer does not support DialContext")
	}
	return dc.DialContext(ctx, "tcp", address)
}

// dialHTTPConnect ported from the teacher's internal/helper.GetProxyConn
// HTTP(S)-proxy branch, with the CONNECT request/response framed through
// the httpmsg codec instead of net/http.
func (c *Chain) dialHTTPConnect(ctx context.Context, address string) (net.Conn, error) {
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", c.URL.Host)
	if err != nil {
		return nil, err
	}

	if c.URL.Scheme == "https" {
		tlsConn := tls.Client(conn, &tls.Config{
			ServerName:         c.URL.Hostname(),
			InsecureSkipVerify: c.InsecureSkipVerify,
		})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		conn = tlsConn
	}

	req := &httpmsg.Request{
		Method:  "CONNECT",
		URL:     &url.URL{Host: address},
		Version: "HTTP/1.1",
		Header:  httpmsg.NewHeader(),
	}
	if c.URL.User != nil {
		req.Header.Set("Proxy-Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(c.URL.User.String())))
	}

	connectCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	type result struct {
		resp *httpmsg.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		if err := httpmsg.WriteRequest(conn, req); err != nil {
			done <- result{err: err}
			return
		}
		resp, err := httpmsg.NewParser(conn, httpmsg.DefaultMaxHeaderBytes).ParseResponseNoBody()
		done <- result{resp: resp, err: err}
	}()

	select {
	case <-connectCtx.Done():
		conn.Close()
		<-done
		return nil, connectCtx.Err()
	case r := <-done:
		if r.err != nil {
			conn.Close()
			return nil, r.err
		}
		if r.resp.StatusCode != 200 {
			conn.Close()
			return nil, perror.NewUpstreamError("proxy-connect", address, errors.New(r.resp.Reason))
		}
		return conn, nil
	}
}
