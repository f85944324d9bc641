package rx

import (
	"context"
	"iter"
	"sync/atomic"
)

// Just returns a Publisher emitting vs and then completing.
func Just[T any](vs ...T) Publisher[T] {
	return FromSeq2(func(yield func(T, error) bool) {
		for _, v := range vs {
			if !yield(v, nil) {
				return
			}
		}
	})
}

// Error returns a Publisher that fails immediately with err.
func Error[T any](err error) Publisher[T] {
	return PublisherFunc[T](func(s Subscriber[T]) {
		s.OnSubscribe(NoopSubscription)
		s.OnError(err)
	})
}

// Empty returns a Publisher that completes immediately.
func Empty[T any]() Publisher[T] {
	return PublisherFunc[T](func(s Subscriber[T]) {
		s.OnSubscribe(NoopSubscription)
		s.OnComplete()
	})
}

// FromSeq returns a Publisher emitting each value of seq on the
// subscribing goroutine.
func FromSeq[T any](seq iter.Seq[T]) Publisher[T] {
	return FromSeq2(func(yield func(T, error) bool) {
		for v := range seq {
			if !yield(v, nil) {
				return
			}
		}
	})
}

// FromSeq2 returns a Publisher emitting each value of seq on the
// subscribing goroutine. The first non-nil error terminates the stream.
func FromSeq2[T any](seq iter.Seq2[T, error]) Publisher[T] {
	return PublisherFunc[T](func(s Subscriber[T]) {
		var cancelled atomic.Bool
		s.OnSubscribe(CancelFunc(func() { cancelled.Store(true) }))
		for v, err := range seq {
			if cancelled.Load() {
				return
			}
			if err != nil {
				s.OnError(err)
				return
			}
			s.OnNext(v)
		}
		if !cancelled.Load() {
			s.OnComplete()
		}
	})
}

// FromChan returns a Publisher emitting values received on ch until it
// is closed or ctx is done.
func FromChan[T any](ctx context.Context, ch <-chan T) Publisher[T] {
	return PublisherFunc[T](func(s Subscriber[T]) {
		subCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		s.OnSubscribe(CancelFunc(cancel))
		for {
			select {
			case <-subCtx.Done():
				if err := ctx.Err(); err != nil {
					s.OnError(err)
				}
				return
			case v, ok := <-ch:
				if !ok {
					s.OnComplete()
					return
				}
				s.OnNext(v)
			}
		}
	})
}

type item[T any] struct {
	v   T
	err error
}

// ToSeq subscribes to pub and returns its values as an iterator. At most
// capacity values are buffered. Breaking out of the loop or ctx being
// done cancels the subscription. A terminal error is yielded last.
func ToSeq[T any](ctx context.Context, pub Publisher[T], capacity int) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		ch := make(chan item[T], capacity)
		subCh := make(chan Subscription, 1)
		go pub.Subscribe(Safe[T](Funcs[T]{
			Subscribe: func(s Subscription) {
				subCh <- s
				if ctx.Err() != nil {
					s.Cancel()
					return
				}
				s.Request(int64(max(capacity, 1)))
			},
			Next: func(v T) {
				select {
				case ch <- item[T]{v: v}:
				case <-ctx.Done():
				}
			},
			Error: func(err error) {
				select {
				case ch <- item[T]{err: err}:
				case <-ctx.Done():
				}
				close(ch)
			},
			Complete: func() { close(ch) },
		}))
		var sub Subscription
		defer func() {
			cancel()
			if sub == nil {
				select {
				case sub = <-subCh:
				default:
				}
			}
			if sub != nil {
				sub.Cancel()
			}
		}()
		for {
			select {
			case s := <-subCh:
				sub = s
			case it, ok := <-ch:
				if !ok {
					sub = nil
					return
				}
				if !yield(it.v, it.err) || it.err != nil {
					return
				}
				if sub != nil {
					sub.Request(1)
				}
			case <-ctx.Done():
				var zero T
				yield(zero, ctx.Err())
				return
			}
		}
	}
}

// Collect gathers every value of pub into a slice. It returns the
// values received so far together with any terminal error.
func Collect[T any](ctx context.Context, pub Publisher[T]) (vs []T, err error) {
	for v, e := range ToSeq(ctx, pub, 16) {
		if e != nil {
			return vs, e
		}
		vs = append(vs, v)
	}
	return
}

// Map returns a Publisher emitting fn applied to each value of pub.
// An error from fn cancels pub and terminates the stream with that error.
func Map[T, U any](pub Publisher[T], fn func(T) (U, error)) Publisher[U] {
	return PublisherFunc[U](func(s Subscriber[U]) {
		var sub Subscription
		var failed bool
		pub.Subscribe(Funcs[T]{
			Subscribe: func(ss Subscription) {
				sub = ss
				s.OnSubscribe(ss)
			},
			Next: func(v T) {
				if failed {
					return
				}
				u, err := fn(v)
				if err != nil {
					failed = true
					sub.Cancel()
					s.OnError(err)
					return
				}
				s.OnNext(u)
			},
			Error: func(err error) {
				if !failed {
					s.OnError(err)
				}
			},
			Complete: func() {
				if !failed {
					s.OnComplete()
				}
			},
		})
	})
}
