package httpmsg

import (
	"encoding/json"
	"net/url"
)

// Request is a parsed HTTP/1.1 request message. Per spec.md §3, after
// parsing a non-CONNECT request always carries a resolved absolute URL:
// origin-form targets are completed from the Host header, CONNECT
// authority-form targets become a synthetic https://host:port/ URL.
type Request struct {
	Method  string
	URL     *url.URL
	Version string
	Header  *Header
	Body    []byte
}

// Clone returns a deep copy of the request, suitable for handing to the
// interceptor pipeline so that interceptors cannot mutate the flow's
// original recording.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	var u *url.URL
	if r.URL != nil {
		cp := *r.URL
		u = &cp
	}
	body := make([]byte, len(r.Body))
	copy(body, r.Body)
	return &Request{
		Method:  r.Method,
		URL:     u,
		Version: r.Version,
		Header:  r.Header.Clone(),
		Body:    body,
	}
}

// Host returns the request's target host:port, using the URL's authority
// if present and falling back to the Host header.
func (r *Request) Host() string {
	if r.URL != nil && r.URL.Host != "" {
		return r.URL.Host
	}
	if h, ok := r.Header.Get("Host"); ok {
		return h
	}
	return ""
}

// requestWire is Request's on-disk shape: the URL is stored as a string
// since url.URL doesn't round-trip cleanly through encoding/json (it
// carries an unexported *Userinfo).
type requestWire struct {
	Method  string  `json:"method"`
	URL     string  `json:"url"`
	Version string  `json:"version"`
	Header  *Header `json:"header"`
	Body    []byte  `json:"body,omitempty"`
}

func (r *Request) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	wire := requestWire{Method: r.Method, Version: r.Version, Header: r.Header, Body: r.Body}
	if r.URL != nil {
		wire.URL = r.URL.String()
	}
	return json.Marshal(wire)
}

func (r *Request) UnmarshalJSON(data []byte) error {
	var wire requestWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	u, err := url.Parse(wire.URL)
	if err != nil {
		return err
	}
	r.Method = wire.Method
	r.URL = u
	r.Version = wire.Version
	r.Header = wire.Header
	r.Body = wire.Body
	return nil
}

// Response is a parsed HTTP/1.1 response message.
type Response struct {
	StatusCode int
	Reason     string
	Version    string
	Header     *Header
	Body       []byte
}

// Clone returns a deep copy of the response.
func (resp *Response) Clone() *Response {
	if resp == nil {
		return nil
	}
	body := make([]byte, len(resp.Body))
	copy(body, resp.Body)
	return &Response{
		StatusCode: resp.StatusCode,
		Reason:     resp.Reason,
		Version:    resp.Version,
		Header:     resp.Header.Clone(),
		Body:       body,
	}
}
