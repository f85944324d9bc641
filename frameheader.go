// frameheader.go

// A frame header consists of nine bytes. The first three bytes hold the
// frame length, which counts every byte following the length field. The
// next four bytes hold the stream id, where zero means the frame applies
// to the connection as a whole. The type byte carries the six-bit frame
// type shifted left by two, with the lowest bit signalling that the
// payload carries metadata. The last byte holds the type dependent flags.

package rsocket

import (
	"fmt"
	"strings"
)

// FrameType enumerates the frame types.
type FrameType byte

const (
	FrameTypeReserved        FrameType = 0x00
	FrameTypeSetup           FrameType = 0x01
	FrameTypeLease           FrameType = 0x02
	FrameTypeKeepAlive       FrameType = 0x03
	FrameTypeRequestResponse FrameType = 0x04
	FrameTypeRequestFNF      FrameType = 0x05
	FrameTypeRequestStream   FrameType = 0x06
	FrameTypeRequestChannel  FrameType = 0x07
	FrameTypeRequestN        FrameType = 0x08
	FrameTypeCancel          FrameType = 0x09
	FrameTypePayload         FrameType = 0x0A
	FrameTypeError           FrameType = 0x0B
	FrameTypeMetadataPush    FrameType = 0x0C
	FrameTypeResume          FrameType = 0x0D
	FrameTypeResumeOK        FrameType = 0x0E
	FrameTypeExt             FrameType = 0x3F
)

var frameTypeTexts = map[FrameType]string{
	FrameTypeReserved:        "RESERVED",
	FrameTypeSetup:           "SETUP",
	FrameTypeLease:           "LEASE",
	FrameTypeKeepAlive:       "KEEPALIVE",
	FrameTypeRequestResponse: "REQUEST_RESPONSE",
	FrameTypeRequestFNF:      "REQUEST_FNF",
	FrameTypeRequestStream:   "REQUEST_STREAM",
	FrameTypeRequestChannel:  "REQUEST_CHANNEL",
	FrameTypeRequestN:        "REQUEST_N",
	FrameTypeCancel:          "CANCEL",
	FrameTypePayload:         "PAYLOAD",
	FrameTypeError:           "ERROR",
	FrameTypeMetadataPush:    "METADATA_PUSH",
	FrameTypeResume:          "RESUME",
	FrameTypeResumeOK:        "RESUME_OK",
	FrameTypeExt:             "EXT",
}

func (ft FrameType) String() string {
	if s, ok := frameTypeTexts[ft]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN_%02x", byte(ft))
}

// FrameFlag enumerates the bits of the frame header flags byte.
// Their meaning depends on the frame type.
type FrameFlag byte

const (
	// FlagResume on a SETUP frame means the client supplies a resume token.
	FlagResume FrameFlag = 0x80
	// FlagLease on a SETUP frame means the client honors LEASE.
	FlagLease FrameFlag = 0x40
	// FlagRespond on a KEEPALIVE frame requests an echo.
	FlagRespond FrameFlag = 0x80
	// FlagComplete on PAYLOAD and REQUEST_CHANNEL frames ends the stream.
	FlagComplete FrameFlag = 0x40
	// FlagNext on a PAYLOAD frame means it carries a value.
	FlagNext FrameFlag = 0x20

	frameMetadataBit = 0x01
)

// Has returns true if all bits in f2 are set in f.
func (f FrameFlag) Has(f2 FrameFlag) bool {
	return f&f2 == f2
}

// FrameHeader is the decoded fixed part of a frame.
type FrameHeader struct {
	Length   uint32 // bytes following the length field
	StreamID uint32
	Type     FrameType
	Metadata bool // payload carries metadata
	Flags    FrameFlag
}

func (fh *FrameHeader) String() string {
	var sb strings.Builder
	if fh.Metadata {
		sb.WriteByte('M')
	} else {
		sb.WriteByte('.')
	}
	for _, f := range []FrameFlag{0x80, 0x40, 0x20} {
		if fh.Flags.Has(f) {
			sb.WriteByte('F')
		} else {
			sb.WriteByte('.')
		}
	}
	return fmt.Sprintf("[FrameHeader [ID %08x] %s %s %d (%d)]", fh.StreamID, fh.Type, sb.String(), fh.Length, fh.Size())
}

// Size returns the total encoded size of the frame, including the
// length field.
func (fh *FrameHeader) Size() int {
	return int(fh.Length) + FrameLengthSize
}

// BodySize returns the number of bytes following the header.
func (fh *FrameHeader) BodySize() int {
	return fh.Size() - FrameHeaderSize
}

func readFrameHeader(bc *ByteCursor) (fh FrameHeader, err error) {
	var typeByte, flags uint8
	if fh.Length, err = bc.ReadUint24(); err == nil {
		if fh.StreamID, err = bc.ReadUint32(); err == nil {
			if typeByte, err = bc.ReadUint8(); err == nil {
				if flags, err = bc.ReadUint8(); err == nil {
					fh.Type = FrameType(typeByte >> 2)
					fh.Metadata = typeByte&frameMetadataBit != 0
					fh.Flags = FrameFlag(flags)
				}
			}
		}
	}
	return
}

// writeFrameHeader writes a header with a zero length placeholder.
func writeFrameHeader(bc *ByteCursor, streamID uint32, ft FrameType, metadata bool, flags FrameFlag) {
	bc.WriteUint24(0)
	bc.WriteUint32(streamID)
	typeByte := byte(ft) << 2
	if metadata {
		typeByte |= frameMetadataBit
	}
	bc.WriteUint8(typeByte)
	bc.WriteUint8(byte(flags))
}

// backfillFrameLength overwrites the length placeholder.
func backfillFrameLength(bc *ByteCursor) {
	n := len(bc.Bytes()) - FrameLengthSize
	bc.ResetWriterIndex()
	bc.WriteUint24(uint32(n))
}
