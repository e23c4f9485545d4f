package upstream

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/snitcher/mitmproxy/internal/perror"
)

func TestNewConnectorDefaultsTimeout(t *testing.T) {
	c := NewConnector(0, nil)
	if c.Timeout != DefaultConnectTimeout {
		t.Fatalf("expected default timeout, got %v", c.Timeout)
	}
}

func TestDialConnectsToListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
		close(accepted)
	}()

	host, port, _ := net.SplitHostPort(ln.Addr().String())
	c := NewConnector(time.Second, nil)
	c.Resolve = func(ctx context.Context, h string) ([]net.IP, error) {
		return []net.IP{net.ParseIP(host)}, nil
	}

	conn, err := c.Dial(context.Background(), host, port)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	conn.Close()
	<-accepted
}

func TestDialNoAddressesIsUpstreamError(t *testing.T) {
	c := NewConnector(time.Second, nil)
	c.Resolve = func(ctx context.Context, h string) ([]net.IP, error) {
		return nil, nil
	}

	_, err := c.Dial(context.Background(), "nxdomain.test", "80")
	if err == nil {
		t.Fatal("expected an error when resolution yields no addresses")
	}
	if perror.TypeOf(err) != perror.TypeUpstream {
		t.Fatalf("expected an upstream error, got %v", err)
	}
}

func TestDialResolveFailureIsUpstreamError(t *testing.T) {
	c := NewConnector(time.Second, nil)
	c.Resolve = func(ctx context.Context, h string) ([]net.IP, error) {
		return nil, net.UnknownNetworkError("boom")
	}

	_, err := c.Dial(context.Background(), "nxdomain.test", "80")
	if err == nil {
		t.Fatal("expected resolution failure to surface as an error")
	}
	if perror.TypeOf(err) != perror.TypeUpstream {
		t.Fatalf("expected an upstream error, got %v", err)
	}
}
