package events

import (
	"sync"
	"testing"
	"time"

	"github.com/snitcher/mitmproxy/flow"
)

func TestBusDeliversToAllSubscribers(t *testing.T) {
	b := New(4, nil)
	stop := make(chan struct{})
	defer close(stop)
	go b.Run(stop)

	var mu sync.Mutex
	var gotA, gotB int

	b.Subscribe(SubscriberFunc(func(f *flow.Flow) { mu.Lock(); gotA++; mu.Unlock() }))
	b.Subscribe(SubscriberFunc(func(f *flow.Flow) { mu.Lock(); gotB++; mu.Unlock() }))

	b.Publish(flow.New("client:1"))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := gotA == 1 && gotB == 1
		mu.Unlock()
		if done {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected both subscribers to receive the event, got gotA=%d gotB=%d", gotA, gotB)
}

func TestBusIsolatesPanickingSubscriber(t *testing.T) {
	b := New(4, nil)
	stop := make(chan struct{})
	defer close(stop)
	go b.Run(stop)

	var mu sync.Mutex
	var gotSecond bool

	b.Subscribe(SubscriberFunc(func(f *flow.Flow) { panic("boom") }))
	b.Subscribe(SubscriberFunc(func(f *flow.Flow) { mu.Lock(); gotSecond = true; mu.Unlock() }))

	b.Publish(flow.New("client:1"))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := gotSecond
		mu.Unlock()
		if done {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("expected second subscriber to still receive the event after the first panicked")
}
