package acceptor

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"
)

type countingHandler struct {
	mu    sync.Mutex
	count int
	done  chan struct{}
}

func (h *countingHandler) Handle(ctx context.Context, conn net.Conn) {
	h.mu.Lock()
	h.count++
	h.mu.Unlock()
	buf := make([]byte, 1)
	conn.Read(buf)
	if h.done != nil {
		h.done <- struct{}{}
	}
}

func TestAcceptorHandlesConnections(t *testing.T) {
	h := &countingHandler{done: make(chan struct{}, 1)}
	a := &Acceptor{Addr: "127.0.0.1:0", Handler: h}

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop()

	conn, err := net.Dial("tcp", a.ListenAddr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte{0}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case <-h.done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for handler to run")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count != 1 {
		t.Fatalf("expected 1 handled connection, got %d", h.count)
	}
}

func TestAcceptorStartTwiceFails(t *testing.T) {
	a := &Acceptor{Addr: "127.0.0.1:0", Handler: &countingHandler{}}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop()

	if err := a.Start(context.Background()); err != ErrAlreadyRunning {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestAcceptorBindFailure(t *testing.T) {
	blocker := &Acceptor{Addr: "127.0.0.1:0", Handler: &countingHandler{}}
	if err := blocker.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer blocker.Stop()

	dup := &Acceptor{Addr: blocker.ListenAddr().String(), Handler: &countingHandler{}}
	err := dup.Start(context.Background())
	if err == nil {
		t.Fatal("expected bind failure on an already-bound address")
	}
	if _, ok := err.(*BindError); !ok {
		t.Fatalf("expected *BindError, got %T: %v", err, err)
	}
}

func TestAcceptorStopWaitsForHandlers(t *testing.T) {
	release := make(chan struct{})
	blockingHandler := connHandlerFunc(func(ctx context.Context, conn net.Conn) {
		<-ctx.Done()
		close(release)
	})
	a := &Acceptor{Addr: "127.0.0.1:0", Handler: blockingHandler}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	conn, err := net.Dial("tcp", a.ListenAddr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		a.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after handler observed cancellation")
	}

	select {
	case <-release:
	default:
		t.Fatal("expected handler to have observed cancellation before Stop returned")
	}
}

type connHandlerFunc func(ctx context.Context, conn net.Conn)

func (f connHandlerFunc) Handle(ctx context.Context, conn net.Conn) { f(ctx, conn) }
