// Package events implements flow-event fan-out: a single FlowCaptured
// notification delivered once per terminal Flow to every subscriber,
// replacing the cyclic handler→server back-reference the teacher wires
// addon notification through with plain message passing (spec.md §9:
// "Replace with message passing: handlers push FlowCaptured onto a
// multi-producer channel read by the acceptor's event-publish loop,
// which fans out to subscribers").
package events

import (
	"sync"

	"github.com/snitcher/mitmproxy/flow"
	"github.com/snitcher/mitmproxy/internal/logging"
)

// Subscriber receives a FlowCaptured notification for every terminal
// flow. Implementations must not block for long — the bus's Run
// goroutine delivers to every subscriber synchronously, one at a time,
// isolating panics.
type Subscriber interface {
	FlowCaptured(f *flow.Flow)
}

// SubscriberFunc adapts a plain function to Subscriber.
type SubscriberFunc func(f *flow.Flow)

func (fn SubscriberFunc) FlowCaptured(f *flow.Flow) { fn(f) }

// Bus fans a bounded stream of finalized flows out to every registered
// subscriber. Producers call Publish (non-blocking, buffered); a single
// goroutine started by Run drains the queue and delivers to
// subscribers in registration order.
type Bus struct {
	log   logging.Logger
	queue chan *flow.Flow

	mu   sync.RWMutex
	subs []Subscriber
}

// DefaultQueueSize bounds how many finalized-but-undelivered flows the
// bus holds before Publish starts blocking the caller.
const DefaultQueueSize = 256

// New builds a Bus with the given queue size (DefaultQueueSize if
// size <= 0). log may be nil, in which case logging.Nop() is used.
func New(size int, log logging.Logger) *Bus {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Bus{log: log, queue: make(chan *flow.Flow, size)}
}

// Subscribe registers sub to receive every future FlowCaptured event.
func (b *Bus) Subscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, sub)
}

// Publish enqueues f for delivery. It blocks only if the queue is full,
// which a handler should never encounter under normal load given the
// queue's size relative to concurrent connections.
func (b *Bus) Publish(f *flow.Flow) {
	b.queue <- f
}

// Run drains the queue and delivers each flow to every subscriber until
// stop is closed. Call it once, in its own goroutine (proxy.Start does
// so).
func (b *Bus) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case f := <-b.queue:
			b.deliver(f)
		}
	}
}

// deliver fans f out to every subscriber, isolating one subscriber's
// panic so the rest still receive the event (spec.md §6: "subscribers
// that throw are isolated and the next subscriber still receives the
// event").
func (b *Bus) deliver(f *flow.Flow) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs...)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.deliverOne(sub, f)
	}
}

func (b *Bus) deliverOne(sub Subscriber, f *flow.Flow) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("flow subscriber panicked", "panic", r)
		}
	}()
	sub.FlowCaptured(f)
}
