package rx

import (
	"errors"
	"sync"
)

// ErrAlreadySubscribed is delivered to a second Subscriber of a QueueProcessor.
var ErrAlreadySubscribed = errors.New("rx: processor already has a subscriber")

// QueueProcessor is both a Subscriber and a Publisher. Values and the
// terminal signal it receives before a Subscriber attaches are queued
// and replayed, in order, once one does. It accepts a single Subscriber.
type QueueProcessor[T any] struct {
	mu          sync.Mutex
	queue       []T
	done        bool  // terminal signal received
	err         error // terminal error, if any
	delivered   bool  // terminal signal passed on
	draining    bool
	cancelled   bool
	async       bool
	sub         Subscriber[T]
	upstream    Subscription
	onSubscribe func()
	onCancel    func()
}

// NewQueueProcessor returns an empty QueueProcessor. If onSubscribe is
// not nil it is called once, after the first Subscriber has attached
// and received its Subscription.
func NewQueueProcessor[T any](onSubscribe func()) *QueueProcessor[T] {
	return &QueueProcessor[T]{onSubscribe: onSubscribe}
}

// NewAsyncQueueProcessor is like NewQueueProcessor, but values and the
// terminal signal received after the Subscriber attaches are delivered
// on a separate goroutine. OnNext, OnError and OnComplete never wait
// for the Subscriber.
func NewAsyncQueueProcessor[T any](onSubscribe func()) *QueueProcessor[T] {
	return &QueueProcessor[T]{onSubscribe: onSubscribe, async: true}
}

// OnCancel sets a function to call when the downstream Subscriber cancels.
func (p *QueueProcessor[T]) OnCancel(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCancel = fn
}

// OnSubscribe implements Subscriber. It records the upstream Subscription
// so that Request and Cancel can be passed on.
func (p *QueueProcessor[T]) OnSubscribe(s Subscription) {
	p.mu.Lock()
	p.upstream = s
	cancelled := p.cancelled
	p.mu.Unlock()
	if cancelled && s != nil {
		s.Cancel()
	}
}

// OnNext implements Subscriber.
func (p *QueueProcessor[T]) OnNext(v T) {
	p.mu.Lock()
	if p.done || p.cancelled {
		p.mu.Unlock()
		return
	}
	p.queue = append(p.queue, v)
	p.mu.Unlock()
	p.signal()
}

// OnError implements Subscriber.
func (p *QueueProcessor[T]) OnError(err error) {
	p.terminate(err)
}

// OnComplete implements Subscriber.
func (p *QueueProcessor[T]) OnComplete() {
	p.terminate(nil)
}

func (p *QueueProcessor[T]) terminate(err error) {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return
	}
	p.done = true
	p.err = err
	p.mu.Unlock()
	p.signal()
}

// signal delivers what is pending, in the calling goroutine unless the
// processor is async.
func (p *QueueProcessor[T]) signal() {
	if !p.async {
		p.drain()
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.draining || p.sub == nil {
		return
	}
	p.draining = true
	go func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.drainLocked()
	}()
}

// Subscribe implements Publisher.
func (p *QueueProcessor[T]) Subscribe(s Subscriber[T]) {
	p.mu.Lock()
	if p.sub != nil {
		p.mu.Unlock()
		s.OnSubscribe(NoopSubscription)
		s.OnError(ErrAlreadySubscribed)
		return
	}
	p.sub = s
	hook := p.onSubscribe
	p.onSubscribe = nil
	p.draining = true
	p.mu.Unlock()

	s.OnSubscribe(processorSubscription[T]{p})

	p.mu.Lock()
	p.draining = false
	p.mu.Unlock()

	if hook != nil {
		hook()
	}
	p.drain()
}

// Buffered returns the number of queued values.
func (p *QueueProcessor[T]) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// drain delivers queued values and the terminal signal. Only one
// goroutine drains at a time, so values are delivered in order.
func (p *QueueProcessor[T]) drain() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.draining || p.sub == nil {
		return
	}
	p.draining = true
	p.drainLocked()
}

// drainLocked is called with draining set and p.mu held, and clears draining.
func (p *QueueProcessor[T]) drainLocked() {
	for !p.cancelled {
		if len(p.queue) > 0 {
			v := p.queue[0]
			var zero T
			p.queue[0] = zero
			p.queue = p.queue[1:]
			p.mu.Unlock()
			p.sub.OnNext(v)
			p.mu.Lock()
			continue
		}
		if p.done && !p.delivered {
			p.delivered = true
			err := p.err
			p.mu.Unlock()
			if err != nil {
				p.sub.OnError(err)
			} else {
				p.sub.OnComplete()
			}
			p.mu.Lock()
		}
		break
	}
	p.draining = false
}

func (p *QueueProcessor[T]) request(n int64) {
	p.mu.Lock()
	up := p.upstream
	p.mu.Unlock()
	if up != nil {
		up.Request(n)
	}
}

func (p *QueueProcessor[T]) cancel() {
	p.mu.Lock()
	if p.cancelled {
		p.mu.Unlock()
		return
	}
	p.cancelled = true
	p.queue = nil
	up := p.upstream
	fn := p.onCancel
	p.mu.Unlock()
	if up != nil {
		up.Cancel()
	}
	if fn != nil {
		fn()
	}
}

type processorSubscription[T any] struct {
	p *QueueProcessor[T]
}

func (ps processorSubscription[T]) Request(n int64) { ps.p.request(n) }
func (ps processorSubscription[T]) Cancel()         { ps.p.cancel() }
