package httpmsg

import (
	"bytes"
	"net/url"
	"strings"
	"testing"
)

func TestWriteRequestAbsoluteForm(t *testing.T) {
	u, _ := url.Parse("http://example.test/a?b=1")
	req := &Request{Method: "GET", URL: u, Version: "HTTP/1.1", Header: NewHeader()}
	var buf bytes.Buffer
	if err := WriteRequest(&buf, req); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "GET /a?b=1 HTTP/1.1\r\n") {
		t.Fatalf("unexpected request line: %q", out)
	}
	if !strings.Contains(out, "Host: example.test\r\n") {
		t.Fatalf("expected synthesized Host header, got %q", out)
	}
}

func TestWriteRequestConnect(t *testing.T) {
	u, _ := url.Parse("https://intercept.test:443/")
	req := &Request{Method: "CONNECT", URL: u, Version: "HTTP/1.1", Header: NewHeader()}
	var buf bytes.Buffer
	if err := WriteRequest(&buf, req); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "CONNECT intercept.test:443 HTTP/1.1\r\n") {
		t.Fatalf("unexpected CONNECT request line: %q", buf.String())
	}
}

func TestWriteResponseSynthesizesContentLength(t *testing.T) {
	resp := &Response{StatusCode: 200, Version: "HTTP/1.1", Header: NewHeader(), Body: []byte("hi")}
	var buf bytes.Buffer
	if err := WriteResponse(&buf, resp); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "Content-Length: 2\r\n") {
		t.Fatalf("expected synthesized Content-Length, got %q", out)
	}
	if !strings.Contains(out, "Connection: close\r\n") {
		t.Fatalf("expected synthesized Connection: close, got %q", out)
	}
	if !strings.HasSuffix(out, "hi") {
		t.Fatalf("expected body appended verbatim, got %q", out)
	}
}

func TestWriteResponseRespectsExistingFraming(t *testing.T) {
	h := NewHeader()
	h.Set("Transfer-Encoding", "chunked")
	resp := &Response{StatusCode: 200, Version: "HTTP/1.1", Header: h}
	var buf bytes.Buffer
	if err := WriteResponse(&buf, resp); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "Content-Length") {
		t.Fatalf("should not synthesize Content-Length when chunked framing present: %q", buf.String())
	}
}

func TestRequestResponseRoundTrip(t *testing.T) {
	u, _ := url.Parse("http://example.test/a")
	h := NewHeader()
	h.Add("Host", "example.test")
	h.Add("X-Test", "v1")
	req := &Request{Method: "GET", URL: u, Version: "HTTP/1.1", Header: h}

	var buf bytes.Buffer
	if err := WriteRequest(&buf, req); err != nil {
		t.Fatal(err)
	}

	p := NewParser(&buf, 0)
	parsed, err := p.ParseRequest()
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Method != req.Method || parsed.URL.String() != req.URL.String() {
		t.Fatalf("round trip mismatch: %+v vs %+v", parsed, req)
	}
	if v, _ := parsed.Header.Get("X-Test"); v != "v1" {
		t.Fatalf("expected header to survive round trip, got %q", v)
	}
}
