package perror

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	e := NewUpstreamError("dial-origin", "example.test:443", errors.New("connection refused"))
	msg := e.Error()
	if want := "[upstream] dial-origin example.test:443: connection refused"; msg != want {
		t.Fatalf("got %q want %q", msg, want)
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("boom")
	e := NewInternalError("op", cause)
	if !errors.Is(e, cause) {
		t.Fatalf("expected errors.Is to find wrapped cause")
	}
}

func TestTypeOfWrapped(t *testing.T) {
	e := NewParseError("parse-request", "bad request line", nil)
	wrapped := fmt.Errorf("handling connection: %w", e)
	if TypeOf(wrapped) != TypeParse {
		t.Fatalf("expected TypeParse, got %v", TypeOf(wrapped))
	}
}

func TestTypeOfPlainError(t *testing.T) {
	if TypeOf(errors.New("plain")) != TypeInternal {
		t.Fatalf("expected plain errors to classify as internal")
	}
}

func TestStatusCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{NewParseError("p", "m", nil), 400},
		{NewProtocolError("p", "m", nil), 400},
		{NewUpstreamError("p", "h", nil), 502},
		{NewTimeoutError("p", "h", nil), 502},
		{NewCertificateError("p", "h", nil), 502},
		{NewClientError("p", nil), 0},
		{NewInternalError("p", nil), 0},
		{NewAuthError("p"), 407},
	}
	for _, c := range cases {
		if got := StatusCode(c.err); got != c.want {
			t.Fatalf("StatusCode(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestIsNormalDisconnect(t *testing.T) {
	if !IsNormalDisconnect(errors.New("read: connection reset by peer")) {
		t.Fatal("expected reset to be classified as normal")
	}
	if IsNormalDisconnect(errors.New("totally unexpected failure")) {
		t.Fatal("expected unrelated error to not be classified as normal")
	}
	if IsNormalDisconnect(nil) {
		t.Fatal("nil should not be a normal disconnect")
	}
}
