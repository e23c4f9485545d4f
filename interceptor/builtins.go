package interceptor

import (
	"github.com/snitcher/mitmproxy/flow"
	"github.com/snitcher/mitmproxy/httpmsg"
	"github.com/snitcher/mitmproxy/internal/logging"
)

// HeaderInjector adds a fixed set of headers to every request, only when
// the header isn't already present (spec.md §4.5: "adds headers when
// absent").
type HeaderInjector struct {
	Prio    int
	Headers map[string]string
}

func (h *HeaderInjector) Name() string  { return "header-injector" }
func (h *HeaderInjector) Priority() int { return h.Prio }

func (h *HeaderInjector) Request(req *httpmsg.Request, f *flow.Flow) (*httpmsg.Request, error) {
	for name, value := range h.Headers {
		if !req.Header.Has(name) {
			req.Header.Set(name, value)
		}
	}
	return req, nil
}

// UserAgentRewriter replaces the User-Agent header only if one is
// already present (spec.md §4.5: "replaces only if present").
type UserAgentRewriter struct {
	Prio      int
	UserAgent string
}

func (u *UserAgentRewriter) Name() string  { return "user-agent-rewriter" }
func (u *UserAgentRewriter) Priority() int { return u.Prio }

func (u *UserAgentRewriter) Request(req *httpmsg.Request, f *flow.Flow) (*httpmsg.Request, error) {
	if req.Header.Has("User-Agent") {
		req.Header.Set("User-Agent", u.UserAgent)
	}
	return req, nil
}

// StatusRemap substitutes a response's status code according to a fixed
// table (spec.md §4.5).
type StatusRemap struct {
	Prio  int
	Table map[int]int
}

func (s *StatusRemap) Name() string  { return "status-remap" }
func (s *StatusRemap) Priority() int { return s.Prio }

func (s *StatusRemap) Response(resp *httpmsg.Response, f *flow.Flow) (*httpmsg.Response, error) {
	if replacement, ok := s.Table[resp.StatusCode]; ok {
		resp.StatusCode = replacement
	}
	return resp, nil
}

// ResponseLogger records every response that passes through it. Unlike
// the teacher's version, it never clears a caller-visible error field —
// interceptor handlers here are non-destructive toward caller-visible
// state (spec.md §9: a response-logger observed nulling out a captured
// error is treated as a bug, not a feature, in this design).
type ResponseLogger struct {
	Prio int
	Log  logging.Logger
}

func (r *ResponseLogger) Name() string  { return "response-logger" }
func (r *ResponseLogger) Priority() int { return r.Prio }

func (r *ResponseLogger) Response(resp *httpmsg.Response, f *flow.Flow) (*httpmsg.Response, error) {
	log := r.Log
	if log == nil {
		log = logging.Nop()
	}
	client := ""
	if f != nil {
		client = f.ClientEndpoint
	}
	log.Info("response", "status", resp.StatusCode, "bytes", len(resp.Body), "client", client)
	return resp, nil
}
