package interceptor

import (
	"errors"
	"testing"

	"github.com/snitcher/mitmproxy/flow"
	"github.com/snitcher/mitmproxy/httpmsg"
)

type orderRecorder struct {
	name string
	prio int
	log  *[]string
}

func (o *orderRecorder) Name() string  { return o.name }
func (o *orderRecorder) Priority() int { return o.prio }
func (o *orderRecorder) Request(req *httpmsg.Request, f *flow.Flow) (*httpmsg.Request, error) {
	*o.log = append(*o.log, o.name)
	return req, nil
}

// mutatingRecorder sets a header on the message it's handed and records
// its name, so tests can tell whether a later failing/panicking stage's
// own mutation leaked past it.
type mutatingRecorder struct {
	name string
	prio int
	log  *[]string
}

func (m *mutatingRecorder) Name() string  { return m.name }
func (m *mutatingRecorder) Priority() int { return m.prio }
func (m *mutatingRecorder) Request(req *httpmsg.Request, f *flow.Flow) (*httpmsg.Request, error) {
	*m.log = append(*m.log, m.name)
	req.Header.Set("X-Mutated", m.name)
	return nil, errors.New("boom after mutating")
}

type panickingMutator struct{ name string }

func (p *panickingMutator) Name() string  { return p.name }
func (p *panickingMutator) Priority() int { return 0 }
func (p *panickingMutator) Request(req *httpmsg.Request, f *flow.Flow) (*httpmsg.Request, error) {
	req.Header.Set("X-Mutated", p.name)
	panic("unexpected")
}

type failingInterceptor struct{}

func (failingInterceptor) Name() string  { return "failing" }
func (failingInterceptor) Priority() int { return 0 }
func (failingInterceptor) Request(req *httpmsg.Request, f *flow.Flow) (*httpmsg.Request, error) {
	return nil, errors.New("boom")
}

type panickingInterceptor struct{}

func (panickingInterceptor) Name() string  { return "panicking" }
func (panickingInterceptor) Priority() int { return 0 }
func (panickingInterceptor) Request(req *httpmsg.Request, f *flow.Flow) (*httpmsg.Request, error) {
	panic("unexpected")
}

func newTestRequest() *httpmsg.Request {
	h := httpmsg.NewHeader()
	return &httpmsg.Request{Method: "GET", Header: h}
}

func TestPipelineOrdersByPriorityThenInsertion(t *testing.T) {
	var order []string
	a := &orderRecorder{name: "a", prio: 5, log: &order}
	b := &orderRecorder{name: "b", prio: 1, log: &order}
	c := &orderRecorder{name: "c", prio: 1, log: &order}

	p := New(nil, []RequestInterceptor{a, b, c}, nil)
	p.ApplyRequest(newTestRequest(), nil)

	want := []string{"b", "c", "a"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}

func TestPipelineContinuesAfterFailingStage(t *testing.T) {
	var order []string
	after := &orderRecorder{name: "after", prio: 1, log: &order}

	p := New(nil, []RequestInterceptor{failingInterceptor{}, after}, nil)
	req := newTestRequest()
	out := p.ApplyRequest(req, nil)

	if out.Header.Has("X-Mutated") {
		t.Fatal("expected failing stage's input to survive unchanged")
	}
	if len(order) != 1 || order[0] != "after" {
		t.Fatalf("expected chain to continue after failure, got %v", order)
	}
}

func TestPipelineIsolatesPanickingStage(t *testing.T) {
	var order []string
	after := &orderRecorder{name: "after", prio: 1, log: &order}

	p := New(nil, []RequestInterceptor{panickingInterceptor{}, after}, nil)
	req := newTestRequest()
	out := p.ApplyRequest(req, nil)

	if out == nil {
		t.Fatal("expected a request to still come out the other end")
	}
	if len(order) != 1 {
		t.Fatalf("expected chain to continue after panic, got %v", order)
	}
}

// TestPipelineDoesNotLeakMutationFromFailingStage covers the case the
// checks above don't: a stage that mutates its message
// and then fails. Since each stage now runs against its own clone, the
// mutation must never reach the request the next stage (or the caller)
// sees.
func TestPipelineDoesNotLeakMutationFromFailingStage(t *testing.T) {
	var order []string
	mutator := &mutatingRecorder{name: "mutator", prio: 0, log: &order}
	after := &orderRecorder{name: "after", prio: 1, log: &order}

	p := New(nil, []RequestInterceptor{mutator, after}, nil)
	req := newTestRequest()
	out := p.ApplyRequest(req, nil)

	if out.Header.Has("X-Mutated") {
		t.Fatal("expected mutation from failing stage not to leak into pipeline output")
	}
	if req.Header.Has("X-Mutated") {
		t.Fatal("expected mutation from failing stage not to leak into the original request")
	}
	if len(order) != 2 || order[0] != "mutator" || order[1] != "after" {
		t.Fatalf("expected chain to continue after failure, got %v", order)
	}
}

// TestPipelineDoesNotLeakMutationFromPanickingStage is the panic
// counterpart: a stage that mutates its clone and then panics must not
// leave that mutation visible either.
func TestPipelineDoesNotLeakMutationFromPanickingStage(t *testing.T) {
	var order []string
	after := &orderRecorder{name: "after", prio: 1, log: &order}

	p := New(nil, []RequestInterceptor{&panickingMutator{name: "panicker"}, after}, nil)
	req := newTestRequest()
	out := p.ApplyRequest(req, nil)

	if out.Header.Has("X-Mutated") {
		t.Fatal("expected mutation from panicking stage not to leak into pipeline output")
	}
	if req.Header.Has("X-Mutated") {
		t.Fatal("expected mutation from panicking stage not to leak into the original request")
	}
	if len(order) != 1 || order[0] != "after" {
		t.Fatalf("expected chain to continue after panic, got %v", order)
	}
}

func TestHeaderInjectorSkipsExisting(t *testing.T) {
	req := newTestRequest()
	req.Header.Set("X-Existing", "orig")

	inj := &HeaderInjector{Headers: map[string]string{"X-Existing": "new", "X-New": "added"}}
	out, err := inj.Request(req, nil)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if v, _ := out.Header.Get("X-Existing"); v != "orig" {
		t.Fatalf("expected existing header preserved, got %q", v)
	}
	if v, _ := out.Header.Get("X-New"); v != "added" {
		t.Fatalf("expected new header injected, got %q", v)
	}
}

func TestUserAgentRewriterOnlyIfPresent(t *testing.T) {
	req := newTestRequest()
	rewriter := &UserAgentRewriter{UserAgent: "snitcher/1.0"}

	out, _ := rewriter.Request(req, nil)
	if out.Header.Has("User-Agent") {
		t.Fatal("expected no User-Agent to be injected when absent")
	}

	req.Header.Set("User-Agent", "curl/8.0")
	out, _ = rewriter.Request(req, nil)
	if v, _ := out.Header.Get("User-Agent"); v != "snitcher/1.0" {
		t.Fatalf("expected rewrite when present, got %q", v)
	}
}

func TestStatusRemap(t *testing.T) {
	remap := &StatusRemap{Table: map[int]int{418: 200}}
	resp := &httpmsg.Response{StatusCode: 418}
	out, _ := remap.Response(resp, nil)
	if out.StatusCode != 200 {
		t.Fatalf("expected remapped status 200, got %d", out.StatusCode)
	}

	resp2 := &httpmsg.Response{StatusCode: 404}
	out2, _ := remap.Response(resp2, nil)
	if out2.StatusCode != 404 {
		t.Fatalf("expected untouched status 404, got %d", out2.StatusCode)
	}
}
