package rsocket

import (
	"context"

	"github.com/linkdata/rsocket/rx"
	"github.com/pkg/errors"
)

var _ RSocket = (*Conn)(nil)

// FireAndForget sends p to the peer without expecting a response.
func (c *Conn) FireAndForget(ctx context.Context, p Payload) error {
	c.mu.Lock()
	if c.isClosed() {
		c.mu.Unlock()
		return errors.WithStack(serverClosedError{})
	}
	sid := c.nextStreamIDLocked()
	c.mu.Unlock()
	return c.writeFrameCtx(ctx, NewRequestFNFFrame(sid, p))
}

// MetadataPush sends the metadata of p to the peer on stream 0.
func (c *Conn) MetadataPush(ctx context.Context, p Payload) error {
	return c.writeFrameCtx(ctx, NewMetadataPushFrame(p.Metadata))
}

type response struct {
	p   Payload
	err error
}

// cancelStream forgets sid and tells the peer to stop, if sid was live.
func (c *Conn) cancelStream(sid uint32) bool {
	if c.removeSender(sid) != nil {
		_ = c.writeFrame(NewCancelFrame(sid))
		return true
	}
	return false
}

// RequestResponse sends p and waits for the single response.
// If ctx is done first, the request is cancelled and ctx.Err() returned.
// If the Conn closes, the error is a CONNECTION_CLOSE *Error.
func (c *Conn) RequestResponse(ctx context.Context, p Payload) (Payload, error) {
	resCh := make(chan response, 1)
	var got Payload
	sub := rx.Safe[Payload](rx.Funcs[Payload]{
		Next:     func(v Payload) { got = v },
		Error:    func(err error) { resCh <- response{err: err} },
		Complete: func() { resCh <- response{p: got} },
	})
	sid, err := c.addSender(&sender{sub: sub})
	if err != nil {
		return Payload{}, err
	}
	if err = c.writeFrameCtx(ctx, NewRequestResponseFrame(sid, p)); err != nil {
		c.removeSender(sid)
		return Payload{}, err
	}
	select {
	case res := <-resCh:
		return res.p, res.err
	case <-ctx.Done():
		c.cancelStream(sid)
		return Payload{}, ctx.Err()
	}
}

// startStream registers proc as the receiver of a new stream and sends
// the frame built by request. Cancelling proc or ctx cancels the stream.
func (c *Conn) startStream(ctx context.Context, proc *rx.QueueProcessor[Payload], request func(sid uint32) error) (sid uint32, ok bool) {
	if err := ctx.Err(); err != nil {
		proc.OnError(err)
		return
	}
	s := &sender{sub: proc}
	var err error
	if sid, err = c.addSender(s); err != nil {
		proc.OnError(err)
		return
	}
	stop := context.AfterFunc(ctx, func() {
		if c.cancelStream(sid) {
			proc.OnError(ctx.Err())
		}
	})
	c.mu.Lock()
	s.stop = stop
	c.mu.Unlock()
	proc.OnCancel(func() {
		c.cancelStream(sid)
		// stops the outbound side of a channel
		c.releaseStream(sid)
	})
	if err = request(sid); err != nil {
		if c.removeSender(sid) != nil {
			proc.OnError(err)
		}
		return
	}
	return sid, true
}

// RequestStream sends p when the returned Publisher is subscribed to,
// and publishes the responses.
func (c *Conn) RequestStream(ctx context.Context, p Payload) rx.Publisher[Payload] {
	var proc *rx.QueueProcessor[Payload]
	proc = rx.NewAsyncQueueProcessor[Payload](func() {
		c.startStream(ctx, proc, func(sid uint32) error {
			return c.writeFrameCtx(ctx, NewRequestStreamFrame(sid, MaxRequestN, p))
		})
	})
	return proc
}

// RequestChannel subscribes to in when the returned Publisher is
// subscribed to. The first value of in opens the channel and the rest
// are sent as PAYLOAD frames. The responses are published.
func (c *Conn) RequestChannel(ctx context.Context, in rx.Publisher[Payload]) rx.Publisher[Payload] {
	var proc *rx.QueueProcessor[Payload]
	proc = rx.NewAsyncQueueProcessor[Payload](func() {
		outCtx, outCancel := context.WithCancel(ctx)
		sid, ok := c.startStream(ctx, proc, func(sid uint32) error {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.cancels[sid] = outCancel
			return nil
		})
		if !ok {
			outCancel()
			return
		}
		go c.sendChannel(outCtx, sid, proc, in)
	})
	return proc
}

// sendChannel forwards the values of in on the channel sid.
func (c *Conn) sendChannel(ctx context.Context, sid uint32, proc *rx.QueueProcessor[Payload], in rx.Publisher[Payload]) {
	defer c.releaseStream(sid)
	var first = true
	var stop func() bool
	done := make(chan struct{})
	in.Subscribe(rx.Safe[Payload](rx.Funcs[Payload]{
		Subscribe: func(s rx.Subscription) {
			stop = context.AfterFunc(ctx, func() {
				s.Cancel()
				close(done)
			})
			s.Request(MaxRequestN)
		},
		Next: func(p Payload) {
			var f Frame
			if first {
				first = false
				f = NewRequestChannelFrame(sid, false, MaxRequestN, p)
			} else {
				f = NewPayloadFrame(sid, false, p)
			}
			if err := c.writeFrameCtx(ctx, f); err != nil && ctx.Err() == nil {
				if c.cancelStream(sid) {
					proc.OnError(err)
				}
				c.releaseStream(sid)
			}
		},
		Error: func(err error) {
			stopped := stop != nil && stop()
			if stopped {
				defer close(done)
			}
			if ctx.Err() != nil {
				return
			}
			if first {
				// nothing was sent, so the peer knows nothing of sid
				if c.removeSender(sid) != nil {
					proc.OnError(err)
				}
				return
			}
			_ = c.writeStreamError(sid, err)
		},
		Complete: func() {
			stopped := stop != nil && stop()
			if stopped {
				defer close(done)
			}
			if ctx.Err() != nil {
				return
			}
			if first {
				first = false
				_ = c.writeFrameCtx(ctx, NewRequestChannelFrame(sid, true, MaxRequestN, Payload{}))
				return
			}
			_ = c.writeFrameCtx(ctx, NewPayloadFrame(sid, true, Payload{}))
		},
	}))
	<-done
}
