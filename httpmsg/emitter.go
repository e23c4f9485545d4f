package httpmsg

import (
	"fmt"
	"io"
	"strconv"
)

// WriteRequest serializes req to w as wire bytes. If Host is absent it is
// synthesized from the URL; for CONNECT the target is host:port, otherwise
// it is the URL's path-and-query (spec.md §4.3).
func WriteRequest(w io.Writer, req *Request) error {
	target := req.URL.Path
	if req.URL.RawQuery != "" {
		target += "?" + req.URL.RawQuery
	}
	if req.Method == "CONNECT" {
		target = req.URL.Host
	} else if target == "" {
		target = "/"
	}

	if !req.Header.Has("Host") && req.Method != "CONNECT" {
		req.Header.Set("Host", req.URL.Host)
	}

	if _, err := fmt.Fprintf(w, "%s %s %s\r\n", req.Method, target, req.Version); err != nil {
		return err
	}
	if err := writeHeaders(w, req.Header); err != nil {
		return err
	}
	if len(req.Body) > 0 {
		if _, err := w.Write(req.Body); err != nil {
			return err
		}
	}
	return nil
}

// WriteResponse serializes resp to w. Content-Length is synthesized when
// body is non-empty and neither Content-Length nor chunked
// Transfer-Encoding is present; Connection: close is added when absent
// (spec.md §3, §4.3).
func WriteResponse(w io.Writer, resp *Response) error {
	if len(resp.Body) > 0 && !resp.Header.Has("Content-Length") && !isChunked(resp.Header) {
		resp.Header.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	}
	if !resp.Header.Has("Connection") {
		resp.Header.Set("Connection", "close")
	}

	reason := resp.Reason
	if reason == "" {
		reason = defaultReason(resp.StatusCode)
	}

	if _, err := fmt.Fprintf(w, "%s %d %s\r\n", resp.Version, resp.StatusCode, reason); err != nil {
		return err
	}
	if err := writeHeaders(w, resp.Header); err != nil {
		return err
	}
	if len(resp.Body) > 0 {
		if _, err := w.Write(resp.Body); err != nil {
			return err
		}
	}
	return nil
}

func writeHeaders(w io.Writer, header *Header) error {
	for _, f := range header.Fields() {
		if _, err := fmt.Fprintf(w, "%s: %s\r\n", f.Name, f.Value); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

func defaultReason(code int) string {
	switch code {
	case 200:
		return "OK"
	case 204:
		return "No Content"
	case 400:
		return "Bad Request"
	case 404:
		return "Not Found"
	case 502:
		return "Bad Gateway"
	default:
		return "Unknown"
	}
}
