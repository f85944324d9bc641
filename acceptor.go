package rsocket

import (
	"context"

	"github.com/linkdata/rsocket/rx"
)

// SocketAcceptor decides whether to accept a connection after its SETUP
// frame has been received. It returns the responder that will answer
// the peer's requests, or an error or nil RSocket to refuse it.
// sendingSocket can be used to make requests to the peer.
type SocketAcceptor interface {
	Accept(setup SetupPayload, sendingSocket RSocket) (RSocket, error)
}

// AcceptorFunc adapts a function to the SocketAcceptor interface.
type AcceptorFunc func(setup SetupPayload, sendingSocket RSocket) (RSocket, error)

// Accept implements SocketAcceptor.
func (fn AcceptorFunc) Accept(setup SetupPayload, sendingSocket RSocket) (RSocket, error) {
	return fn(setup, sendingSocket)
}

// StaticAcceptor returns a SocketAcceptor that accepts every connection with rs.
func StaticAcceptor(rs RSocket) SocketAcceptor {
	return AcceptorFunc(func(SetupPayload, RSocket) (RSocket, error) { return rs, nil })
}

type requestResponseFunc struct {
	UnimplementedRSocket
	fn func(context.Context, Payload) (Payload, error)
}

func (h requestResponseFunc) RequestResponse(ctx context.Context, p Payload) (Payload, error) {
	return h.fn(ctx, p)
}

// ForRequestResponse returns a responder handling only request/response.
func ForRequestResponse(fn func(context.Context, Payload) (Payload, error)) RSocket {
	return requestResponseFunc{fn: fn}
}

type fireAndForgetFunc struct {
	UnimplementedRSocket
	fn func(context.Context, Payload)
}

func (h fireAndForgetFunc) FireAndForget(ctx context.Context, p Payload) error {
	h.fn(ctx, p)
	return nil
}

// ForFireAndForget returns a responder handling only fire-and-forget.
func ForFireAndForget(fn func(context.Context, Payload)) RSocket {
	return fireAndForgetFunc{fn: fn}
}

type requestStreamFunc struct {
	UnimplementedRSocket
	fn func(context.Context, Payload) rx.Publisher[Payload]
}

func (h requestStreamFunc) RequestStream(ctx context.Context, p Payload) rx.Publisher[Payload] {
	return h.fn(ctx, p)
}

// ForRequestStream returns a responder handling only request/stream.
func ForRequestStream(fn func(context.Context, Payload) rx.Publisher[Payload]) RSocket {
	return requestStreamFunc{fn: fn}
}

type requestChannelFunc struct {
	UnimplementedRSocket
	fn func(context.Context, rx.Publisher[Payload]) rx.Publisher[Payload]
}

func (h requestChannelFunc) RequestChannel(ctx context.Context, in rx.Publisher[Payload]) rx.Publisher[Payload] {
	return h.fn(ctx, in)
}

// ForRequestChannel returns a responder handling only request/channel.
func ForRequestChannel(fn func(context.Context, rx.Publisher[Payload]) rx.Publisher[Payload]) RSocket {
	return requestChannelFunc{fn: fn}
}
