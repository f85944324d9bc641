// Package rx provides the minimal reactive streams contract used to carry
// multi-value results: Publisher, Subscriber and Subscription.
//
// Subscription.Request is advisory. Publishers in this package push
// values as fast as they are produced.
package rx

import (
	"sync"
)

// Subscription links a Subscriber to a Publisher.
type Subscription interface {
	// Request signals demand for n more values.
	Request(n int64)
	// Cancel asks the Publisher to stop sending values.
	Cancel()
}

// Subscriber receives zero or more values followed by exactly one of
// OnError or OnComplete.
type Subscriber[T any] interface {
	OnSubscribe(s Subscription)
	OnNext(v T)
	OnError(err error)
	OnComplete()
}

// Publisher produces values for each Subscriber that subscribes to it.
type Publisher[T any] interface {
	Subscribe(s Subscriber[T])
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc[T any] func(s Subscriber[T])

// Subscribe implements Publisher.
func (fn PublisherFunc[T]) Subscribe(s Subscriber[T]) { fn(s) }

// Funcs adapts optional callbacks to the Subscriber interface.
type Funcs[T any] struct {
	Subscribe func(Subscription)
	Next      func(T)
	Error     func(error)
	Complete  func()
}

// OnSubscribe implements Subscriber.
func (f Funcs[T]) OnSubscribe(s Subscription) {
	if f.Subscribe != nil {
		f.Subscribe(s)
	}
}

// OnNext implements Subscriber.
func (f Funcs[T]) OnNext(v T) {
	if f.Next != nil {
		f.Next(v)
	}
}

// OnError implements Subscriber.
func (f Funcs[T]) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

// OnComplete implements Subscriber.
func (f Funcs[T]) OnComplete() {
	if f.Complete != nil {
		f.Complete()
	}
}

// NoopSubscription ignores requests and cancellation.
var NoopSubscription Subscription = noopSubscription{}

type noopSubscription struct{}

func (noopSubscription) Request(int64) {}
func (noopSubscription) Cancel()       {}

// CancelFunc adapts a function to a Subscription that ignores Request.
type CancelFunc func()

// Request implements Subscription.
func (CancelFunc) Request(int64) {}

// Cancel implements Subscription.
func (fn CancelFunc) Cancel() { fn() }

// safeSubscriber enforces the terminal signal contract.
type safeSubscriber[T any] struct {
	mu   sync.Mutex
	sub  Subscriber[T]
	done bool
}

// Safe wraps s so that it sees at most one terminal signal and no
// values after it.
func Safe[T any](s Subscriber[T]) Subscriber[T] {
	if ss, ok := s.(*safeSubscriber[T]); ok {
		return ss
	}
	return &safeSubscriber[T]{sub: s}
}

func (ss *safeSubscriber[T]) isDone() bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.done
}

func (ss *safeSubscriber[T]) terminate() bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.done {
		return false
	}
	ss.done = true
	return true
}

func (ss *safeSubscriber[T]) OnSubscribe(s Subscription) {
	ss.sub.OnSubscribe(s)
}

func (ss *safeSubscriber[T]) OnNext(v T) {
	if !ss.isDone() {
		ss.sub.OnNext(v)
	}
}

func (ss *safeSubscriber[T]) OnError(err error) {
	if ss.terminate() {
		ss.sub.OnError(err)
	}
}

func (ss *safeSubscriber[T]) OnComplete() {
	if ss.terminate() {
		ss.sub.OnComplete()
	}
}
