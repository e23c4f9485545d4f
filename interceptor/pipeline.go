// Package interceptor implements the request/response mutation pipeline:
// two ordered sequences of stages, applied strictly sequentially, with
// per-stage failures isolated so one bad interceptor can't corrupt the
// rest of the chain.
package interceptor

import (
	"sort"

	"github.com/snitcher/mitmproxy/flow"
	"github.com/snitcher/mitmproxy/httpmsg"
	"github.com/snitcher/mitmproxy/internal/logging"
)

// RequestInterceptor mutates a request on its way to the origin. f is the
// owning Flow, passed as read-only context (spec.md §3: "The flow object
// is passed as read-only context; interceptors may mutate only the
// message they receive") — stages must not write through f.
type RequestInterceptor interface {
	Name() string
	Priority() int
	Request(req *httpmsg.Request, f *flow.Flow) (*httpmsg.Request, error)
}

// ResponseInterceptor mutates a response on its way to the client, with
// the same read-only Flow context as RequestInterceptor.
type ResponseInterceptor interface {
	Name() string
	Priority() int
	Response(resp *httpmsg.Response, f *flow.Flow) (*httpmsg.Response, error)
}

// Pipeline holds both ordered sequences. Construction sorts each
// ascending by Priority; equal priorities keep the order they were
// passed in, since sort.SliceStable is used.
type Pipeline struct {
	requests  []RequestInterceptor
	responses []ResponseInterceptor
	log       logging.Logger
}

// New builds a Pipeline from the given stages, sorted ascending by
// Priority with ties broken by insertion order (spec.md §5: "ties are
// broken by insertion order"). log may be nil, in which case
// logging.Nop() is used.
func New(log logging.Logger, requests []RequestInterceptor, responses []ResponseInterceptor) *Pipeline {
	if log == nil {
		log = logging.Nop()
	}

	reqs := append([]RequestInterceptor(nil), requests...)
	sort.SliceStable(reqs, func(i, j int) bool { return reqs[i].Priority() < reqs[j].Priority() })

	resps := append([]ResponseInterceptor(nil), responses...)
	sort.SliceStable(resps, func(i, j int) bool { return resps[i].Priority() < resps[j].Priority() })

	return &Pipeline{requests: reqs, responses: resps, log: log}
}

// ApplyRequest runs req through every request interceptor in order. Each
// stage receives its own clone of the message: a stage that returns an
// error, or panics, is logged and skipped, and the chain continues with
// the input that stage was given — never a half-applied mutation, since
// the stage mutated only its own clone (spec.md §4.5: "the chain
// continues with the input observed by the failing stage ... do not
// partially transform either"). f is threaded through as read-only
// context for stages that want it.
func (p *Pipeline) ApplyRequest(req *httpmsg.Request, f *flow.Flow) *httpmsg.Request {
	for _, stage := range p.requests {
		req = p.runRequestStage(stage, req, f)
	}
	return req
}

func (p *Pipeline) runRequestStage(stage RequestInterceptor, req *httpmsg.Request, f *flow.Flow) (out *httpmsg.Request) {
	out = req
	in := req.Clone()
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("request interceptor panicked", "interceptor", stage.Name(), "panic", r)
			out = req
		}
	}()

	next, err := stage.Request(in, f)
	if err != nil {
		p.log.Error("request interceptor failed", "interceptor", stage.Name(), "error", err)
		return req
	}
	return next
}

// ApplyResponse runs resp through every response interceptor in order,
// with the same per-stage clone-and-isolate treatment as ApplyRequest.
func (p *Pipeline) ApplyResponse(resp *httpmsg.Response, f *flow.Flow) *httpmsg.Response {
	for _, stage := range p.responses {
		resp = p.runResponseStage(stage, resp, f)
	}
	return resp
}

func (p *Pipeline) runResponseStage(stage ResponseInterceptor, resp *httpmsg.Response, f *flow.Flow) (out *httpmsg.Response) {
	out = resp
	in := resp.Clone()
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("response interceptor panicked", "interceptor", stage.Name(), "panic", r)
			out = resp
		}
	}()

	next, err := stage.Response(in, f)
	if err != nil {
		p.log.Error("response interceptor failed", "interceptor", stage.Name(), "error", err)
		return resp
	}
	return next
}
