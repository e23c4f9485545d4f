package interceptor

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"

	"github.com/snitcher/mitmproxy/flow"
	"github.com/snitcher/mitmproxy/httpmsg"
)

// decodeBody inflates body according to the Content-Encoding header
// value, mirroring the teacher's Request.DecodedBody/
// Response.ReplaceToDecodedBody contract: identity and an absent/empty
// header pass the body through unchanged, gzip/deflate/br/zstd are
// inflated, and anything else is an error.
func decodeBody(encoding string, body []byte) ([]byte, error) {
	switch encoding {
	case "", "identity":
		return body, nil
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case "deflate":
		r := flate.NewReader(bytes.NewReader(body))
		defer r.Close()
		return io.ReadAll(r)
	case "br":
		return io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
	case "zstd":
		r, err := zstd.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("unsupported content-encoding %q", encoding)
	}
}

// BodyDecoder is a response interceptor that replaces a compressed body
// with its decoded form and drops the encoding headers, so that
// downstream interceptors and the flow recording see plaintext. On
// decode failure the response is left untouched — including its
// Content-Encoding header — rather than handed downstream half
// transformed.
type BodyDecoder struct {
	Prio int
}

func (d *BodyDecoder) Name() string  { return "body-decoder" }
func (d *BodyDecoder) Priority() int { return d.Prio }

func (d *BodyDecoder) Response(resp *httpmsg.Response, f *flow.Flow) (*httpmsg.Response, error) {
	encoding, _ := resp.Header.Get("Content-Encoding")
	if encoding == "" || encoding == "identity" {
		return resp, nil
	}

	decoded, err := decodeBody(encoding, resp.Body)
	if err != nil {
		return resp, nil
	}

	resp.Body = decoded
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Transfer-Encoding")
	resp.Header.Set("Content-Length", fmt.Sprintf("%d", len(decoded)))
	return resp, nil
}
