// Package connhandler implements the per-client connection state
// machine (spec.md §4.2): it distinguishes plain HTTP from
// CONNECT-initiated tunnels, drives the HTTP codec, the TLS
// interceptor, the interceptor pipeline and the origin connector, and
// guarantees exactly one Flow is recorded and published per accepted
// connection, on every exit path, including exceptional ones.
package connhandler

import (
	"context"
	"io"
	"net"

	"github.com/snitcher/mitmproxy/events"
	"github.com/snitcher/mitmproxy/flow"
	"github.com/snitcher/mitmproxy/httpmsg"
	"github.com/snitcher/mitmproxy/interceptor"
	"github.com/snitcher/mitmproxy/internal/logging"
	"github.com/snitcher/mitmproxy/internal/perror"
	"github.com/snitcher/mitmproxy/proxyauth"
	"github.com/snitcher/mitmproxy/tlsintercept"
	"github.com/snitcher/mitmproxy/upstream"
)

// connectEstablished is the exact wire response spec.md §6 specifies for
// a successful CONNECT.
const connectEstablished = "HTTP/1.1 200 Connection Established\r\n\r\n"

// Handler owns every dependency a single client connection needs to be
// driven end to end: codec, TLS interception, the mutation pipeline,
// the origin connector, and where the resulting Flow is recorded and
// announced.
type Handler struct {
	Connector *upstream.Connector
	Intercept *tlsintercept.Intercept
	Pipeline  *interceptor.Pipeline
	Store     *flow.Store
	Bus       *events.Bus
	Log       logging.Logger

	// InterceptHttps selects the TlsTunnel path over OpaqueTunnel for
	// CONNECT requests (spec.md §4.2, §9: driven by configuration, never
	// by a Proxy-Connection header).
	InterceptHttps bool
	// ShouldIntercept, when set, overrides InterceptHttps on a per-host
	// basis (e.g. an allow/ignore host list). Nil means every CONNECT
	// follows InterceptHttps.
	ShouldIntercept func(host string) bool
	// InsecureSkipVerify is passed through to the origin-facing TLS
	// handshake during interception.
	InsecureSkipVerify bool
	// MaxHeaderBytes caps HTTP/1.1 header parsing; <= 0 uses
	// httpmsg.DefaultMaxHeaderBytes.
	MaxHeaderBytes int
	// ProxyAuth, when set, requires every request to carry a valid
	// Proxy-Authorization header before it is dispatched to either the
	// PlainHttp or CONNECT path (SPEC_FULL.md §4 "Proxy authentication").
	// Nil disables the check, matching the teacher's default.
	ProxyAuth *proxyauth.BasicAuth
}

func (h *Handler) logger() logging.Logger {
	if h.Log == nil {
		return logging.Nop()
	}
	return h.Log
}

func (h *Handler) maxHeaderBytes() int {
	if h.MaxHeaderBytes <= 0 {
		return httpmsg.DefaultMaxHeaderBytes
	}
	return h.MaxHeaderBytes
}

// Handle drives one client connection to completion: one Flow is
// created on entry and finalized on every exit path (spec.md §8
// invariant 1), whether that path is a clean response, an error
// response, or an exceptional return.
func (h *Handler) Handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	clientAddr := conn.RemoteAddr().String()
	log := h.logger().With("client", clientAddr)

	parser := httpmsg.NewParser(conn, h.maxHeaderBytes())
	req, err := parser.ParseRequest()
	if err != nil {
		f := flow.New(clientAddr)
		h.respondError(conn, f, err, log)
		h.finalize(f)
		return
	}

	f := flow.New(clientAddr)
	f.Request = req

	// finalize runs exactly once for this connection, here and nowhere
	// else: handlePlainHTTP/handleConnect's tlsTunnel/opaqueTunnel must
	// not also defer it, or a panic unwinding through one of them would
	// finalize twice and double-publish FlowCaptured (spec.md §6:
	// "delivered once per terminal flow").
	defer func() {
		if r := recover(); r != nil {
			log.Error("connection handler panicked", "panic", r)
		}
		h.finalize(f)
	}()

	if h.ProxyAuth != nil {
		proxyAuthz, _ := req.Header.Get("Proxy-Authorization")
		if !h.ProxyAuth.Authenticate(proxyAuthz) {
			h.respondError(conn, f, perror.NewAuthError("proxy-auth"), log)
			return
		}
	}

	if req.Method == "CONNECT" {
		h.handleConnect(ctx, conn, f, log)
		return
	}

	h.handlePlainHTTP(ctx, conn, parser, f, log)
}

// handlePlainHTTP implements spec.md §4.2's "PlainHttp path": one
// origin connection, one request, one response, then close.
func (h *Handler) handlePlainHTTP(ctx context.Context, clientConn net.Conn, parser *httpmsg.Parser, f *flow.Flow, log logging.Logger) {
	req := f.Request
	if err := parser.ReadRequestBody(req); err != nil {
		h.respondError(clientConn, f, err, log)
		return
	}
	if !req.Header.Has("Host") {
		h.respondError(clientConn, f, perror.NewProtocolError("plain-http", "missing Host header", nil), log)
		return
	}

	host, port := hostPort(req.URL.Hostname(), req.URL.Port(), "80")

	originConn, err := h.Connector.Dial(ctx, host, port)
	if err != nil {
		h.respondError(clientConn, f, err, log)
		return
	}
	defer originConn.Close()

	out := h.Pipeline.ApplyRequest(req, f)
	if err := httpmsg.WriteRequest(originConn, out); err != nil {
		h.respondError(clientConn, f, perror.NewUpstreamError("write-request", host, err), log)
		return
	}

	originParser := httpmsg.NewParser(originConn, h.maxHeaderBytes())
	resp, err := originParser.ParseResponse()
	if err != nil {
		h.respondError(clientConn, f, err, log)
		return
	}

	respOut := h.Pipeline.ApplyResponse(resp, f)
	f.Response = respOut

	if err := httpmsg.WriteResponse(clientConn, respOut); err != nil {
		log.Debug("write response to client failed", "error", err)
	}
}

// handleConnect implements spec.md §4.2's CONNECT dispatch: authority
// parsing, then TlsTunnel or OpaqueTunnel depending on configuration,
// never on a client-supplied header (spec.md §9).
func (h *Handler) handleConnect(ctx context.Context, clientConn net.Conn, f *flow.Flow, log logging.Logger) {
	host, port := hostPort(f.Request.URL.Hostname(), f.Request.URL.Port(), "443")
	log = log.With("host", host)

	intercept := h.InterceptHttps
	if h.ShouldIntercept != nil {
		intercept = h.ShouldIntercept(net.JoinHostPort(host, port))
	}

	if intercept {
		h.tlsTunnel(ctx, clientConn, f, host, port, log)
		return
	}
	h.opaqueTunnel(ctx, clientConn, f, host, port, log)
}

// tlsTunnel implements spec.md §4.2's "TlsTunnel path" in the order the
// design notes commit to: request, apply, forward, parse, apply, emit —
// never two parallel byte pumps alongside a parsed request (spec.md §9
// flags that combination, observed in the source, as the bug to avoid).
func (h *Handler) tlsTunnel(ctx context.Context, clientConn net.Conn, f *flow.Flow, host, port string, log logging.Logger) {
	if _, err := io.WriteString(clientConn, connectEstablished); err != nil {
		log.Debug("write connection-established failed", "error", err)
		return
	}

	clientTLS, err := h.Intercept.ServerTLS(ctx, clientConn, host)
	if err != nil {
		log.Error("client tls handshake failed", "error", err)
		return
	}
	defer clientTLS.Close()

	originRaw, err := h.Connector.Dial(ctx, host, port)
	if err != nil {
		log.Error("origin dial failed", "error", err)
		return
	}
	defer originRaw.Close()

	originTLS, err := h.Intercept.OriginTLS(ctx, originRaw, host, h.InsecureSkipVerify)
	if err != nil {
		log.Error("origin tls handshake failed", "error", err)
		return
	}
	defer originTLS.Close()

	parser := httpmsg.NewParser(clientTLS, h.maxHeaderBytes())
	req, err := parser.ParseRequest()
	if err != nil {
		log.Debug("parse intercepted request failed", "error", err)
		return
	}
	if err := parser.ReadRequestBody(req); err != nil {
		log.Debug("read intercepted request body failed", "error", err)
		return
	}
	f.Request = req

	out := h.Pipeline.ApplyRequest(req, f)
	if err := httpmsg.WriteRequest(originTLS, out); err != nil {
		log.Error("forward intercepted request failed", "error", err)
		return
	}

	originParser := httpmsg.NewParser(originTLS, h.maxHeaderBytes())
	resp, err := originParser.ParseResponse()
	if err != nil {
		log.Error("parse intercepted response failed", "error", err)
		return
	}

	respOut := h.Pipeline.ApplyResponse(resp, f)
	f.Response = respOut

	if err := httpmsg.WriteResponse(clientTLS, respOut); err != nil {
		log.Debug("emit intercepted response failed", "error", err)
	}
}

// opaqueTunnel implements spec.md §4.2's "OpaqueTunnel path": two
// concurrent byte pumps, no framing, no interception. The flow records
// only the CONNECT target and is Completed as soon as either side
// closes (spec.md §8: "Opaque-tunnel mode never records decrypted
// bytes").
func (h *Handler) opaqueTunnel(ctx context.Context, clientConn net.Conn, f *flow.Flow, host, port string, log logging.Logger) {
	originConn, err := h.Connector.Dial(ctx, host, port)
	if err != nil {
		h.respondError(clientConn, f, err, log)
		return
	}
	defer originConn.Close()

	if _, err := io.WriteString(clientConn, connectEstablished); err != nil {
		log.Debug("write connection-established failed", "error", err)
		return
	}

	f.Response = &httpmsg.Response{
		StatusCode: 200,
		Reason:     "Connection Established",
		Version:    "HTTP/1.1",
		Header:     httpmsg.NewHeader(),
	}

	pump(ctx, log, clientConn, originConn)
}

// pump copies bytes bidirectionally between client and origin until
// either direction closes or errors, ported from the teacher's
// proxy.transfer helper (proxy/helper.go): two goroutines, one per
// direction, the first to finish closes both ends so the other
// unblocks.
func pump(ctx context.Context, log logging.Logger, client, origin net.Conn) {
	done := make(chan struct{})
	errCh := make(chan error, 2)

	go func() {
		_, err := io.Copy(origin, client)
		origin.Close()
		errCh <- err
	}()
	go func() {
		_, err := io.Copy(client, origin)
		client.Close()
		errCh <- err
	}()

	go func() {
		select {
		case <-ctx.Done():
			client.Close()
			origin.Close()
		case <-done:
		}
	}()

	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && !perror.IsNormalDisconnect(err) {
			log.Debug("tunnel copy ended", "error", err)
		}
	}
	close(done)
}

// finalize stamps duration/status, stores the flow, and publishes
// FlowCaptured, unconditionally (spec.md §4.2: "This MUST be executed
// on all exit paths, including exceptional ones").
func (h *Handler) finalize(f *flow.Flow) {
	f.Finish()
	if h.Store != nil {
		h.Store.Store(f)
	}
	if h.Bus != nil {
		h.Bus.Publish(f.Clone())
	}
}

// respondError classifies err per spec.md §7's taxonomy and, where the
// taxonomy calls for a client-visible response, writes a minimal one.
// ClientError and errors with no mapped status get no response — the
// client either already has a socket close coming or never will. The
// error response is not recorded as f.Response, so the flow finalizes
// as Failed.
func (h *Handler) respondError(clientConn net.Conn, f *flow.Flow, err error, log logging.Logger) {
	if perror.IsNormalDisconnect(err) {
		log.Debug("handler exit", "error", err)
	} else {
		log.Error("handler exit", "error", err, "op", opOf(err))
	}

	code := perror.StatusCode(err)
	if code == 0 {
		return
	}

	resp := &httpmsg.Response{
		StatusCode: code,
		Version:    "HTTP/1.1",
		Header:     httpmsg.NewHeader(),
		Body:       []byte(err.Error() + "\n"),
	}
	resp.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if code == 407 {
		resp.Reason = "Proxy Authentication Required"
		resp.Header.Set("Proxy-Authenticate", `Basic realm="snitcher"`)
	}
	if writeErr := httpmsg.WriteResponse(clientConn, resp); writeErr != nil {
		log.Debug("write error response failed", "error", writeErr)
	}
}

func opOf(err error) string {
	if e, ok := err.(*perror.Error); ok {
		return e.Op
	}
	return ""
}

// hostPort falls back to defaultPort when port is empty. host is
// expected to already be bracket-stripped, as url.URL.Hostname()
// returns it.
func hostPort(host, port, defaultPort string) (string, string) {
	if port == "" {
		port = defaultPort
	}
	return host, port
}
