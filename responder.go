package rsocket

import (
	"context"
	"fmt"

	"github.com/linkdata/rsocket/rx"
	"github.com/rs/zerolog/log"
)

// errNoResponder answers requests on a Conn without a responder.
var errNoResponder = NewError(ErrorCodeRejected, "no responder")

// errStreamCancelled ends the inbound side of a channel the peer cancelled.
var errStreamCancelled = NewError(ErrorCodeCanceled, "stream cancelled")

// recoverHandler turns a panic in a responder into an error.
func recoverHandler(c *Conn, sid uint32, err *error) {
	if r := recover(); r != nil {
		log.Error().Str("conn", c.String()).Uint32("stream", sid).Interface("panic", r).Msg("responder panic")
		*err = NewError(ErrorCodeApplicationError, fmt.Sprint(r))
	}
}

func (c *Conn) serveMetadataPush(f *MetadataPushFrame) {
	rs := c.getResponder()
	if rs == nil {
		return
	}
	go func() {
		var err error
		defer func() {
			recoverHandler(c, 0, &err)
			if err != nil {
				log.Debug().Str("conn", c.String()).Err(err).Msg("metadata push")
			}
		}()
		err = rs.MetadataPush(c.ctx, f.Payload)
	}()
}

func (c *Conn) serveFireAndForget(f *RequestFNFFrame) {
	rs := c.getResponder()
	if rs == nil {
		return
	}
	go func() {
		var err error
		defer func() {
			recoverHandler(c, f.StreamID, &err)
			if err != nil {
				log.Debug().Str("conn", c.String()).Uint32("stream", f.StreamID).Err(err).Msg("fire and forget")
			}
		}()
		err = rs.FireAndForget(c.ctx, f.Payload)
	}()
}

// writeStreamError sends err as an ERROR frame on sid.
func (c *Conn) writeStreamError(sid uint32, err error) error {
	e := ToError(err)
	return c.writeFrame(NewErrorFrame(sid, e.Code, e.Message))
}

func (c *Conn) serveRequestResponse(f *RequestResponseFrame) error {
	sid := f.StreamID
	rs := c.getResponder()
	if rs == nil {
		return c.writeStreamError(sid, errNoResponder)
	}
	ctx, err := c.streamContext(sid)
	if err != nil {
		return err
	}
	go func() {
		defer c.releaseStream(sid)
		var p Payload
		var err error
		func() {
			defer recoverHandler(c, sid, &err)
			p, err = rs.RequestResponse(ctx, f.Payload)
		}()
		if ctx.Err() != nil {
			// cancelled by the peer or the Conn closed
			return
		}
		if err == nil {
			err = c.writeFrameCtx(ctx, NewPayloadFrame(sid, true, p))
		}
		if err != nil && ctx.Err() == nil {
			_ = c.writeStreamError(sid, err)
		}
	}()
	return nil
}

func (c *Conn) serveRequestStream(f *RequestStreamFrame) error {
	sid := f.StreamID
	rs := c.getResponder()
	if rs == nil {
		return c.writeStreamError(sid, errNoResponder)
	}
	ctx, err := c.streamContext(sid)
	if err != nil {
		return err
	}
	go c.serveStream(ctx, sid, func() rx.Publisher[Payload] {
		return rs.RequestStream(ctx, f.Payload)
	})
	return nil
}

func (c *Conn) serveRequestChannel(f *RequestChannelFrame) error {
	sid := f.StreamID
	rs := c.getResponder()
	if rs == nil {
		return c.writeStreamError(sid, errNoResponder)
	}
	ctx, err := c.streamContext(sid)
	if err != nil {
		return err
	}

	inbound := rx.NewAsyncQueueProcessor[Payload](nil)
	inbound.OnNext(f.Payload)
	if f.Complete() {
		inbound.OnComplete()
	} else {
		c.mu.Lock()
		c.receivers[sid] = inbound
		c.mu.Unlock()
		inbound.OnCancel(func() {
			if c.removeReceiver(sid) != nil {
				_ = c.writeFrame(NewCancelFrame(sid))
			}
		})
	}

	go c.serveStream(ctx, sid, func() rx.Publisher[Payload] {
		return rs.RequestChannel(ctx, inbound)
	})
	return nil
}

// serveStream subscribes to the publisher returned by open and sends
// its values on sid until it terminates or ctx is cancelled.
func (c *Conn) serveStream(ctx context.Context, sid uint32, open func() rx.Publisher[Payload]) {
	var pub rx.Publisher[Payload]
	var err error
	func() {
		defer recoverHandler(c, sid, &err)
		pub = open()
	}()
	if err == nil && pub == nil {
		err = NewError(ErrorCodeApplicationError, "nil publisher")
	}
	if err != nil {
		defer c.releaseStream(sid)
		_ = c.writeStreamError(sid, err)
		return
	}

	var stop func() bool
	pub.Subscribe(rx.Safe[Payload](rx.Funcs[Payload]{
		Subscribe: func(s rx.Subscription) {
			stop = context.AfterFunc(ctx, s.Cancel)
			s.Request(MaxRequestN)
		},
		Next: func(p Payload) {
			if ctx.Err() != nil {
				return
			}
			if err := c.writeFrameCtx(ctx, NewPayloadFrame(sid, false, p)); err != nil && ctx.Err() == nil {
				_ = c.writeStreamError(sid, err)
				c.releaseStream(sid)
			}
		},
		Error: func(err error) {
			if stop != nil {
				stop()
			}
			if ctx.Err() == nil {
				_ = c.writeStreamError(sid, err)
			}
			c.releaseStream(sid)
		},
		Complete: func() {
			if stop != nil {
				stop()
			}
			if ctx.Err() == nil {
				_ = c.writeFrameCtx(ctx, NewPayloadFrame(sid, true, Payload{}))
			}
			c.releaseStream(sid)
		},
	}))
}
