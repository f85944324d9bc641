package rsocket

import (
	"fmt"

	"github.com/pkg/errors"
)

// Frame is a decoded or ready to send protocol frame.
type Frame interface {
	// Header returns the frame header. The Length field is set when
	// the frame is decoded or encoded.
	Header() *FrameHeader
	// Encode returns the wire representation of the frame. A frame
	// longer than FrameMaxLength can't be represented, see EncodeFrame.
	Encode() []byte
	encodeTo(bc *ByteCursor)
}

// Header implements Frame.
func (fh *FrameHeader) Header() *FrameHeader {
	return fh
}

func encodeFrame(f Frame) []byte {
	bc := NewByteCursor(FrameHeaderSize + 32)
	f.encodeTo(bc)
	return bc.Bytes()
}

// EncodeFrame returns the wire representation of f, or ErrFrameTooLarge
// if it does not fit in a frame.
func EncodeFrame(f Frame) ([]byte, error) {
	bc := NewByteCursor(FrameHeaderSize + 32)
	f.encodeTo(bc)
	if err := checkFrameSize(bc); err != nil {
		return nil, err
	}
	return bc.Bytes(), nil
}

// checkFrameSize fails if the frame encoded in bc is too long for
// its length field.
func checkFrameSize(bc *ByteCursor) error {
	if len(bc.Bytes())-FrameLengthSize > FrameMaxLength {
		return errors.WithStack(ErrFrameTooLarge)
	}
	return nil
}

func encodeWith(bc *ByteCursor, fh *FrameHeader, body func()) {
	writeFrameHeader(bc, fh.StreamID, fh.Type, fh.Metadata, fh.Flags)
	if body != nil {
		body()
	}
	backfillFrameLength(bc)
	fh.Length = uint32(len(bc.Bytes()) - FrameLengthSize)
}

// SetupFrame is sent by the client as the first frame on a connection.
type SetupFrame struct {
	FrameHeader
	Version          Version
	KeepAlive        uint32 // milliseconds
	MaxLifetime      uint32 // milliseconds
	ResumeToken      []byte
	MetadataMimeType string
	DataMimeType     string
	Payload          Payload
}

// Resume returns true if the resume flag is set.
func (f *SetupFrame) Resume() bool { return f.Flags.Has(FlagResume) }

// Lease returns true if the lease flag is set.
func (f *SetupFrame) Lease() bool { return f.Flags.Has(FlagLease) }

func (f *SetupFrame) encodeTo(bc *ByteCursor) {
	f.Type = FrameTypeSetup
	f.StreamID = 0
	f.Metadata = f.Payload.Metadata != nil
	if f.ResumeToken != nil {
		f.Flags |= FlagResume
	} else {
		f.Flags &^= FlagResume
	}
	encodeWith(bc, &f.FrameHeader, func() {
		bc.WriteUint16(f.Version.Major)
		bc.WriteUint16(f.Version.Minor)
		bc.WriteUint32(f.KeepAlive)
		bc.WriteUint32(f.MaxLifetime)
		if f.ResumeToken != nil {
			bc.WriteUint16(uint16(len(f.ResumeToken)))
			bc.WriteBytes(f.ResumeToken)
		}
		bc.WriteUint8(uint8(len(f.MetadataMimeType)))
		bc.WriteString(f.MetadataMimeType)
		bc.WriteUint8(uint8(len(f.DataMimeType)))
		bc.WriteString(f.DataMimeType)
		writePayload(bc, f.Payload)
	})
}

// Encode implements Frame.
func (f *SetupFrame) Encode() []byte { return encodeFrame(f) }

// LeaseFrame grants the peer a number of requests for a period of time.
type LeaseFrame struct {
	FrameHeader
	TimeToLive       uint32 // milliseconds
	NumberOfRequests uint32
	Meta             []byte
}

func (f *LeaseFrame) encodeTo(bc *ByteCursor) {
	f.Type = FrameTypeLease
	f.StreamID = 0
	f.Metadata = f.Meta != nil
	encodeWith(bc, &f.FrameHeader, func() {
		bc.WriteUint32(f.TimeToLive)
		bc.WriteUint32(f.NumberOfRequests)
		bc.WriteBytes(f.Meta)
	})
}

// Encode implements Frame.
func (f *LeaseFrame) Encode() []byte { return encodeFrame(f) }

// KeepAliveFrame is sent periodically to signal liveness.
type KeepAliveFrame struct {
	FrameHeader
	LastPosition uint64
	Payload      Payload
}

// NewKeepAliveFrame returns a KEEPALIVE frame.
func NewKeepAliveFrame(respond bool, lastPosition uint64) *KeepAliveFrame {
	f := &KeepAliveFrame{LastPosition: lastPosition}
	if respond {
		f.Flags = FlagRespond
	}
	return f
}

// Respond returns true if the peer wants an echo.
func (f *KeepAliveFrame) Respond() bool { return f.Flags.Has(FlagRespond) }

func (f *KeepAliveFrame) encodeTo(bc *ByteCursor) {
	f.Type = FrameTypeKeepAlive
	f.StreamID = 0
	f.Metadata = f.Payload.Metadata != nil
	encodeWith(bc, &f.FrameHeader, func() {
		bc.WriteUint64(f.LastPosition)
		writePayload(bc, f.Payload)
	})
}

// Encode implements Frame.
func (f *KeepAliveFrame) Encode() []byte { return encodeFrame(f) }

// RequestResponseFrame requests a single response.
type RequestResponseFrame struct {
	FrameHeader
	Payload Payload
}

// NewRequestResponseFrame returns a REQUEST_RESPONSE frame.
func NewRequestResponseFrame(streamID uint32, p Payload) *RequestResponseFrame {
	return &RequestResponseFrame{FrameHeader: FrameHeader{StreamID: streamID}, Payload: p}
}

func (f *RequestResponseFrame) encodeTo(bc *ByteCursor) {
	f.Type = FrameTypeRequestResponse
	f.Metadata = f.Payload.Metadata != nil
	encodeWith(bc, &f.FrameHeader, func() { writePayload(bc, f.Payload) })
}

// Encode implements Frame.
func (f *RequestResponseFrame) Encode() []byte { return encodeFrame(f) }

// RequestFNFFrame is a one-way request.
type RequestFNFFrame struct {
	FrameHeader
	Payload Payload
}

// NewRequestFNFFrame returns a REQUEST_FNF frame.
func NewRequestFNFFrame(streamID uint32, p Payload) *RequestFNFFrame {
	return &RequestFNFFrame{FrameHeader: FrameHeader{StreamID: streamID}, Payload: p}
}

func (f *RequestFNFFrame) encodeTo(bc *ByteCursor) {
	f.Type = FrameTypeRequestFNF
	f.Metadata = f.Payload.Metadata != nil
	encodeWith(bc, &f.FrameHeader, func() { writePayload(bc, f.Payload) })
}

// Encode implements Frame.
func (f *RequestFNFFrame) Encode() []byte { return encodeFrame(f) }

// RequestStreamFrame requests a finite or infinite stream of responses.
type RequestStreamFrame struct {
	FrameHeader
	InitialRequestN uint32
	Payload         Payload
}

// NewRequestStreamFrame returns a REQUEST_STREAM frame.
func NewRequestStreamFrame(streamID, initialRequestN uint32, p Payload) *RequestStreamFrame {
	return &RequestStreamFrame{FrameHeader: FrameHeader{StreamID: streamID}, InitialRequestN: initialRequestN, Payload: p}
}

func (f *RequestStreamFrame) encodeTo(bc *ByteCursor) {
	f.Type = FrameTypeRequestStream
	f.Metadata = f.Payload.Metadata != nil
	encodeWith(bc, &f.FrameHeader, func() {
		bc.WriteUint32(f.InitialRequestN)
		writePayload(bc, f.Payload)
	})
}

// Encode implements Frame.
func (f *RequestStreamFrame) Encode() []byte { return encodeFrame(f) }

// RequestChannelFrame opens a bidirectional stream.
type RequestChannelFrame struct {
	FrameHeader
	InitialRequestN uint32
	Payload         Payload
}

// NewRequestChannelFrame returns a REQUEST_CHANNEL frame.
func NewRequestChannelFrame(streamID uint32, complete bool, initialRequestN uint32, p Payload) *RequestChannelFrame {
	f := &RequestChannelFrame{FrameHeader: FrameHeader{StreamID: streamID}, InitialRequestN: initialRequestN, Payload: p}
	if complete {
		f.Flags = FlagComplete
	}
	return f
}

// Complete returns true if the requester will send nothing more.
func (f *RequestChannelFrame) Complete() bool { return f.Flags.Has(FlagComplete) }

func (f *RequestChannelFrame) encodeTo(bc *ByteCursor) {
	f.Type = FrameTypeRequestChannel
	f.Metadata = f.Payload.Metadata != nil
	encodeWith(bc, &f.FrameHeader, func() {
		bc.WriteUint32(f.InitialRequestN)
		writePayload(bc, f.Payload)
	})
}

// Encode implements Frame.
func (f *RequestChannelFrame) Encode() []byte { return encodeFrame(f) }

// RequestNFrame requests more items on a stream.
type RequestNFrame struct {
	FrameHeader
	RequestN uint32
}

// NewRequestNFrame returns a REQUEST_N frame.
func NewRequestNFrame(streamID, n uint32) *RequestNFrame {
	return &RequestNFrame{FrameHeader: FrameHeader{StreamID: streamID}, RequestN: n}
}

func (f *RequestNFrame) encodeTo(bc *ByteCursor) {
	f.Type = FrameTypeRequestN
	f.Metadata = false
	encodeWith(bc, &f.FrameHeader, func() { bc.WriteUint32(f.RequestN) })
}

// Encode implements Frame.
func (f *RequestNFrame) Encode() []byte { return encodeFrame(f) }

// CancelFrame cancels an outstanding request.
type CancelFrame struct {
	FrameHeader
}

// NewCancelFrame returns a CANCEL frame.
func NewCancelFrame(streamID uint32) *CancelFrame {
	return &CancelFrame{FrameHeader: FrameHeader{StreamID: streamID}}
}

func (f *CancelFrame) encodeTo(bc *ByteCursor) {
	f.Type = FrameTypeCancel
	f.Metadata = false
	encodeWith(bc, &f.FrameHeader, nil)
}

// Encode implements Frame.
func (f *CancelFrame) Encode() []byte { return encodeFrame(f) }

// PayloadFrame carries a response value, a completion, or both.
type PayloadFrame struct {
	FrameHeader
	Payload Payload
}

// NewPayloadFrame returns a PAYLOAD frame. If complete is false,
// the next flag is set.
func NewPayloadFrame(streamID uint32, complete bool, p Payload) *PayloadFrame {
	f := &PayloadFrame{FrameHeader: FrameHeader{StreamID: streamID}, Payload: p}
	if complete {
		f.Flags = FlagComplete
	} else {
		f.Flags = FlagNext
	}
	return f
}

// Complete returns true if the frame ends the stream.
func (f *PayloadFrame) Complete() bool { return f.Flags.Has(FlagComplete) }

// Next returns true if the frame carries a value.
func (f *PayloadFrame) Next() bool { return f.Flags.Has(FlagNext) }

func (f *PayloadFrame) encodeTo(bc *ByteCursor) {
	f.Type = FrameTypePayload
	f.Metadata = f.Payload.Metadata != nil
	encodeWith(bc, &f.FrameHeader, func() { writePayload(bc, f.Payload) })
}

// Encode implements Frame.
func (f *PayloadFrame) Encode() []byte { return encodeFrame(f) }

// ErrorFrame reports a stream or connection error.
type ErrorFrame struct {
	FrameHeader
	Code    ErrorCode
	Message string
}

// NewErrorFrame returns an ERROR frame.
func NewErrorFrame(streamID uint32, code ErrorCode, message string) *ErrorFrame {
	return &ErrorFrame{FrameHeader: FrameHeader{StreamID: streamID}, Code: code, Message: message}
}

// Err returns the frame contents as an *Error.
func (f *ErrorFrame) Err() *Error {
	return NewError(f.Code, f.Message)
}

func (f *ErrorFrame) encodeTo(bc *ByteCursor) {
	f.Type = FrameTypeError
	f.Metadata = false
	encodeWith(bc, &f.FrameHeader, func() {
		bc.WriteUint32(uint32(f.Code))
		bc.WriteString(f.Message)
	})
}

// Encode implements Frame.
func (f *ErrorFrame) Encode() []byte { return encodeFrame(f) }

// MetadataPushFrame carries connection level metadata. The frame body
// is the raw metadata, without a length prefix.
type MetadataPushFrame struct {
	FrameHeader
	Payload Payload
}

// NewMetadataPushFrame returns a METADATA_PUSH frame for metadata.
func NewMetadataPushFrame(metadata []byte) *MetadataPushFrame {
	return &MetadataPushFrame{Payload: Payload{Metadata: metadata}}
}

func (f *MetadataPushFrame) encodeTo(bc *ByteCursor) {
	f.Type = FrameTypeMetadataPush
	f.StreamID = 0
	f.Metadata = true
	encodeWith(bc, &f.FrameHeader, func() { bc.WriteBytes(f.Payload.Metadata) })
}

// Encode implements Frame.
func (f *MetadataPushFrame) Encode() []byte { return encodeFrame(f) }

func frameString(f Frame) string {
	switch f := f.(type) {
	case *ErrorFrame:
		return fmt.Sprintf("%v %v %q", f.Header(), f.Code, f.Message)
	case *PayloadFrame:
		return fmt.Sprintf("%v %v", f.Header(), f.Payload)
	}
	return f.Header().String()
}
