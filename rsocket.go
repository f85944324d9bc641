// Package rsocket implements the RSocket binary multiplexed RPC protocol.
package rsocket

import (
	"context"
	"time"

	"github.com/linkdata/rsocket/rx"
)

const (
	// MajorVersion is the protocol major version sent in SETUP frames.
	MajorVersion = 1
	// MinorVersion is the protocol minor version sent in SETUP frames.
	MinorVersion = 0
	// FrameHeaderSize is the number of bytes in a frame header, including the length field.
	FrameHeaderSize = 9
	// FrameLengthSize is the number of bytes in the frame length field.
	FrameLengthSize = 3
	// FrameMaxLength is the largest frame length value representable on the wire.
	FrameMaxLength = 0xFFFFFF
	// MaxStreamID is the highest stream id allowed.
	MaxStreamID = 0x7FFFFFFF
	// MaxRequestN is the initial request count sent with stream and channel requests.
	MaxRequestN = 0x7FFFFFFF
	// DefaultKeepAlive is how often a client sends KEEPALIVE frames.
	DefaultKeepAlive = time.Second * 20
	// DefaultMaxLifetime is how long a server waits for any frame before giving up.
	DefaultMaxLifetime = time.Second * 90
	// DefaultDataMimeType is the data MIME type a Connector announces.
	DefaultDataMimeType = "application/json"
	// DefaultMetadataMimeType is the metadata MIME type a Connector announces.
	DefaultMetadataMimeType = "message/x.rsocket.composite-metadata.v0"
	// DefaultListenAddr is the address a Server listens on if none is given.
	DefaultListenAddr = "tcp://:7878"
)

// RSocket is the set of interactions a peer can initiate. A requester
// calls these methods to send requests and a responder implements them
// to answer requests.
type RSocket interface {
	// FireAndForget sends a request that has no response.
	FireAndForget(ctx context.Context, p Payload) error
	// MetadataPush sends connection level metadata.
	MetadataPush(ctx context.Context, p Payload) error
	// RequestResponse sends a request and waits for a single response.
	RequestResponse(ctx context.Context, p Payload) (Payload, error)
	// RequestStream sends a request and returns the stream of responses.
	RequestStream(ctx context.Context, p Payload) rx.Publisher[Payload]
	// RequestChannel sends a stream of requests and returns the stream of responses.
	// The first value of in is sent together with the request.
	RequestChannel(ctx context.Context, in rx.Publisher[Payload]) rx.Publisher[Payload]
}

// ErrNotImplemented is returned by UnimplementedRSocket.
var ErrNotImplemented = NewError(ErrorCodeApplicationError, "Not implemented")

// UnimplementedRSocket can be embedded to provide default responses for
// interactions a responder does not handle.
type UnimplementedRSocket struct{}

func (UnimplementedRSocket) FireAndForget(context.Context, Payload) error { return nil }

func (UnimplementedRSocket) MetadataPush(context.Context, Payload) error { return nil }

func (UnimplementedRSocket) RequestResponse(context.Context, Payload) (Payload, error) {
	return Payload{}, ErrNotImplemented
}

func (UnimplementedRSocket) RequestStream(context.Context, Payload) rx.Publisher[Payload] {
	return rx.Error[Payload](ErrNotImplemented)
}

func (UnimplementedRSocket) RequestChannel(context.Context, rx.Publisher[Payload]) rx.Publisher[Payload] {
	return rx.Error[Payload](ErrNotImplemented)
}
