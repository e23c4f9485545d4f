package proxy

import (
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/snitcher/mitmproxy/cert"
	"github.com/snitcher/mitmproxy/flow"
	"github.com/snitcher/mitmproxy/internal/logging"
	"github.com/snitcher/mitmproxy/proxyconfig"
)

func mustOrigin(t *testing.T, body string) (ln net.Listener, addr string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				buf := make([]byte, 4096)
				conn.Read(buf)
				io.WriteString(conn, "HTTP/1.1 200 OK\r\nContent-Length: "+strconv.Itoa(len(body))+"\r\n\r\n"+body)
			}()
		}
	}()
	return ln, ln.Addr().String()
}

func clientThroughProxy(proxyAddr string) *http.Client {
	proxyURL, _ := url.Parse("http://" + proxyAddr)
	return &http.Client{
		Transport: &http.Transport{
			Proxy:           http.ProxyURL(proxyURL),
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
		Timeout: 5 * time.Second,
	}
}

func TestProxyPlainHTTPRoundTrip(t *testing.T) {
	ln, originAddr := mustOrigin(t, "hello from origin")
	defer ln.Close()

	p, err := New(Options{Config: proxyconfig.Config{ListenAddress: "127.0.0.1", ListenPort: 0}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	client := clientThroughProxy(p.ListenAddr().String())
	resp, err := client.Get("http://" + originAddr + "/")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "hello from origin" {
		t.Fatalf("unexpected body: %q", body)
	}

	if p.FlowStore().Len() != 1 {
		t.Fatalf("expected 1 recorded flow, got %d", p.FlowStore().Len())
	}
}

func TestProxySubscriberReceivesFlow(t *testing.T) {
	ln, originAddr := mustOrigin(t, "ok")
	defer ln.Close()

	p, err := New(Options{Config: proxyconfig.Config{ListenAddress: "127.0.0.1", ListenPort: 0}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	received := make(chan *flow.Flow, 1)
	p.Subscribe(subscriberFunc(func(f *flow.Flow) { received <- f }))

	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	client := clientThroughProxy(p.ListenAddr().String())
	resp, err := client.Get("http://" + originAddr + "/")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()

	select {
	case f := <-received:
		if f.Request == nil {
			t.Fatal("expected request to be recorded on published flow")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for FlowCaptured event")
	}
}

func TestProxyUsesSuppliedCA(t *testing.T) {
	ca, err := cert.GetOrCreateCA("", "", nil)
	if err != nil {
		t.Fatalf("GetOrCreateCA: %v", err)
	}

	p, err := New(Options{
		Config: proxyconfig.Config{ListenAddress: "127.0.0.1", ListenPort: 0},
		CA:     ca,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	want := ca.GetRootCA()
	got := p.GetRootCertificate()
	if got.SerialNumber.Cmp(want.SerialNumber) != 0 {
		t.Fatal("expected proxy to use the supplied CA, not generate its own")
	}
}

type subscriberFunc func(f *flow.Flow)

func (fn subscriberFunc) FlowCaptured(f *flow.Flow) { fn(f) }

func TestProxyEnableLoggingBuildsDefaultSinkWhenLogUnset(t *testing.T) {
	p, err := New(Options{Config: proxyconfig.Config{ListenAddress: "127.0.0.1", ListenPort: 0, EnableLogging: true}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.log == nil {
		t.Fatal("expected a logger to be built")
	}
	p.log.Info("probe")
}

func TestProxyEnableLoggingIgnoredWhenLogSupplied(t *testing.T) {
	custom := logging.Nop()
	p, err := New(Options{
		Config: proxyconfig.Config{ListenAddress: "127.0.0.1", ListenPort: 0, EnableLogging: true},
		Log:    custom,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.log != custom {
		t.Fatal("expected the supplied Log to take precedence over EnableLogging's default")
	}
}
