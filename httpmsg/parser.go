package httpmsg

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/snitcher/mitmproxy/internal/perror"
)

// DefaultMaxHeaderBytes is the per-connection cap on header bytes spec.md
// §4.3 recommends. Exceeding it fails parsing with a ParseError
// ("headers-too-large").
const DefaultMaxHeaderBytes = 64 * 1024

// Parser reads HTTP/1.1 messages off a buffered reader.
type Parser struct {
	r              *bufio.Reader
	maxHeaderBytes int
}

// NewParser wraps r. maxHeaderBytes <= 0 uses DefaultMaxHeaderBytes.
func NewParser(r io.Reader, maxHeaderBytes int) *Parser {
	if maxHeaderBytes <= 0 {
		maxHeaderBytes = DefaultMaxHeaderBytes
	}
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Parser{r: br, maxHeaderBytes: maxHeaderBytes}
}

// Reader exposes the underlying buffered reader, e.g. so a caller can Peek
// bytes before deciding whether to parse at all (TLS-record sniffing).
func (p *Parser) Reader() *bufio.Reader { return p.r }

// budgetReader tracks how many header bytes have been consumed across a
// single message parse and fails once the cap is exceeded.
type budgetReader struct {
	r     *bufio.Reader
	limit int
	used  int
}

// readLine reads one CRLF- or LF-terminated line, trimming the line ending,
// while enforcing the header byte budget.
func (b *budgetReader) readLine() (string, error) {
	line, err := b.r.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	b.used += len(line)
	if b.used > b.limit {
		return "", perror.NewParseError("read-headers", "headers too large", nil)
	}
	line = strings.TrimRight(line, "\r\n")
	return line, nil
}

// ParseRequest reads one HTTP/1.1 request (request line + headers; body is
// read separately, see ReadRequestBody).
func (p *Parser) ParseRequest() (*Request, error) {
	br := &budgetReader{r: p.r, limit: p.maxHeaderBytes}

	line, err := br.readLine()
	if err != nil {
		return nil, perror.NewParseError("parse-request-line", "failed to read request line", err)
	}
	method, target, version, err := splitRequestLine(line)
	if err != nil {
		return nil, err
	}
	method = strings.ToUpper(method)

	header, err := parseHeaderLines(br)
	if err != nil {
		return nil, err
	}

	req := &Request{Method: method, Version: version, Header: header}

	switch {
	case method == "CONNECT":
		host, port, ok := splitAuthority(target)
		if !ok {
			return nil, perror.NewParseError("parse-request-target", "CONNECT target is not host:port", nil)
		}
		req.URL = &url.URL{Scheme: "https", Host: host + ":" + port, Path: "/"}
	case strings.HasPrefix(target, "/"):
		hostHeader, hasHost := header.Get("Host")
		if !hasHost {
			return nil, perror.NewProtocolError("parse-request-target", "missing Host header for origin-form target", nil)
		}
		u, err := url.Parse("http://" + hostHeader + target)
		if err != nil {
			return nil, perror.NewParseError("parse-request-target", "invalid origin-form target", err)
		}
		req.URL = u
	default:
		u, err := url.Parse(target)
		if err != nil {
			return nil, perror.NewParseError("parse-request-target", "invalid absolute-form target", err)
		}
		req.URL = u
	}

	if method != "CONNECT" && !header.Has("Host") {
		if req.URL.Host != "" {
			header.Set("Host", req.URL.Host)
		} else {
			return nil, perror.NewProtocolError("parse-request", "missing Host header", nil)
		}
	}

	return req, nil
}

// ReadRequestBody reads the request body according to Content-Length or
// chunked Transfer-Encoding, if either is present. A request with neither
// framing header is treated as bodiless, matching spec.md §4.3 ("parsing a
// request body is not performed ... when a Content-Length is present it is
// read; when Transfer-Encoding: chunked is present the chunked decoder is
// reused").
func (p *Parser) ReadRequestBody(req *Request) error {
	body, err := p.readFramedBody(req.Header, false)
	if err != nil {
		return err
	}
	req.Body = body
	return nil
}

// ParseResponse reads one HTTP/1.1 response, including its body. Body
// reading is mandatory per spec.md §4.3: Content-Length, then chunked, then
// read-until-close.
func (p *Parser) ParseResponse() (*Response, error) {
	br := &budgetReader{r: p.r, limit: p.maxHeaderBytes}

	line, err := br.readLine()
	if err != nil {
		return nil, perror.NewParseError("parse-status-line", "failed to read status line", err)
	}
	version, status, reason, err := splitStatusLine(line)
	if err != nil {
		return nil, err
	}

	header, err := parseHeaderLines(br)
	if err != nil {
		return nil, err
	}

	resp := &Response{StatusCode: status, Reason: reason, Version: version, Header: header}

	body, err := p.readFramedBody(header, true)
	if err != nil {
		return nil, err
	}
	resp.Body = body
	return resp, nil
}

// ParseResponseNoBody reads a response's status line and headers only,
// without attempting to frame a body. Use this for responses that are
// defined to never carry one regardless of framing headers — a CONNECT
// tunnel's "200 Connection Established" chief among them, where reading
// until EOF would block forever on a connection that's about to be
// reused for raw bytes.
func (p *Parser) ParseResponseNoBody() (*Response, error) {
	br := &budgetReader{r: p.r, limit: p.maxHeaderBytes}

	line, err := br.readLine()
	if err != nil {
		return nil, perror.NewParseError("parse-status-line", "failed to read status line", err)
	}
	version, status, reason, err := splitStatusLine(line)
	if err != nil {
		return nil, err
	}

	header, err := parseHeaderLines(br)
	if err != nil {
		return nil, err
	}

	return &Response{StatusCode: status, Reason: reason, Version: version, Header: header}, nil
}

// readFramedBody implements the three body-framing rules shared by request
// and response parsing. readUntilClose only applies to responses (spec.md
// §4.3 rule 3); a request with neither Content-Length nor chunked framing
// has no body.
func (p *Parser) readFramedBody(header *Header, readUntilClose bool) ([]byte, error) {
	if cl, ok := header.Get("Content-Length"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || n < 0 {
			return nil, perror.NewParseError("parse-content-length", "invalid Content-Length", err)
		}
		buf := make([]byte, n)
		read, err := io.ReadFull(p.r, buf)
		if err != nil {
			// Partial body: accept what we got, per spec.md §4.3 rule 1.
			return buf[:read], nil
		}
		return buf, nil
	}

	if isChunked(header) {
		return p.readChunkedBody()
	}

	if !readUntilClose {
		return nil, nil
	}

	return io.ReadAll(p.r)
}

func isChunked(header *Header) bool {
	te, ok := header.Get("Transfer-Encoding")
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(te), "chunked")
}

// readChunkedBody decodes a chunked transfer body: each chunk is a hex size
// line (optionally followed by ;extensions), that many bytes, then CRLF; a
// zero-size chunk ends the body; trailing headers are consumed and
// discarded.
func (p *Parser) readChunkedBody() ([]byte, error) {
	var out bytes.Buffer
	budget := &budgetReader{r: p.r, limit: DefaultMaxHeaderBytes}

	for {
		sizeLine, err := budget.readLine()
		if err != nil {
			return nil, perror.NewParseError("parse-chunk-size", "failed to read chunk size", err)
		}
		sizeLine = strings.TrimSpace(sizeLine)
		if idx := strings.IndexByte(sizeLine, ';'); idx >= 0 {
			sizeLine = sizeLine[:idx]
		}
		size, err := strconv.ParseUint(strings.TrimSpace(sizeLine), 16, 64)
		if err != nil {
			return nil, perror.NewParseError("parse-chunk-size", "invalid chunk size", err)
		}
		if size == 0 {
			break
		}
		chunk := make([]byte, size)
		if _, err := io.ReadFull(p.r, chunk); err != nil {
			return nil, perror.NewParseError("read-chunk", "short chunk body", err)
		}
		out.Write(chunk)

		// Consume the trailing CRLF after the chunk data.
		if _, err := budget.readLine(); err != nil {
			return nil, perror.NewParseError("read-chunk", "missing chunk trailer CRLF", err)
		}
	}

	// Trailing headers (possibly none), terminated by a blank line.
	for {
		line, err := budget.readLine()
		if err != nil {
			return nil, perror.NewParseError("parse-chunk-trailer", "failed to read trailer", err)
		}
		if line == "" {
			break
		}
	}

	return out.Bytes(), nil
}

func parseHeaderLines(br *budgetReader) (*Header, error) {
	header := NewHeader()
	for {
		line, err := br.readLine()
		if err != nil {
			return nil, perror.NewParseError("parse-headers", "failed to read header line", err)
		}
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, perror.NewParseError("parse-headers", fmt.Sprintf("malformed header line %q", line), nil)
		}
		header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return header, nil
}

func splitRequestLine(line string) (method, target, version string, err error) {
	parts := strings.Split(line, " ")
	if len(parts) != 3 {
		return "", "", "", perror.NewParseError("parse-request-line", fmt.Sprintf("expected 3 tokens, got %d", len(parts)), nil)
	}
	return parts[0], parts[1], parts[2], nil
}

func splitStatusLine(line string) (version string, status int, reason string, err error) {
	first, rest, ok := strings.Cut(line, " ")
	if !ok {
		return "", 0, "", perror.NewParseError("parse-status-line", "missing status code", nil)
	}
	statusStr, reasonPart, _ := strings.Cut(rest, " ")
	code, convErr := strconv.Atoi(statusStr)
	if convErr != nil || code < 100 || code > 599 {
		return "", 0, "", perror.NewParseError("parse-status-line", fmt.Sprintf("invalid status code %q", statusStr), convErr)
	}
	return first, code, reasonPart, nil
}

// splitAuthority splits a CONNECT target of the form host:port. IPv6 hosts
// in bracket notation are supported.
func splitAuthority(target string) (host, port string, ok bool) {
	if strings.HasPrefix(target, "[") {
		idx := strings.Index(target, "]:")
		if idx < 0 {
			return "", "", false
		}
		return target[:idx+1], target[idx+2:], true
	}
	idx := strings.LastIndexByte(target, ':')
	if idx < 0 {
		return "", "", false
	}
	return target[:idx], target[idx+1:], true
}
