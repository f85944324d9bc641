package rsocket

import (
	"fmt"
	"io"
	"iter"

	"github.com/pkg/errors"
)

// FrameParser decodes the frames contained in a byte chunk.
type FrameParser struct {
	chunk []byte
	bc    *ByteCursor
}

// NewFrameParser returns a FrameParser for chunk, which must hold
// zero or more complete length-prefixed frames.
func NewFrameParser(chunk []byte) *FrameParser {
	return &FrameParser{chunk: chunk, bc: WrapByteCursor(chunk)}
}

func (fp *FrameParser) String() string {
	return fmt.Sprintf("[FrameParser %d/%d]", fp.bc.ReaderIndex(), len(fp.chunk))
}

// Reset restarts parsing at the start of the chunk.
func (fp *FrameParser) Reset() {
	fp.bc = WrapByteCursor(fp.chunk)
}

// Next returns the next frame in the chunk, or io.EOF when none remain.
// Frames of unknown or unimplemented types are skipped.
func (fp *FrameParser) Next() (Frame, error) {
	for fp.bc.IsReadable() {
		start := fp.bc.ReaderIndex()
		fh, err := readFrameHeader(fp.bc)
		if err != nil {
			return nil, err
		}
		if fh.Size() < FrameHeaderSize {
			return nil, errors.Wrapf(ProtocolError{}, "frame length %d too short", fh.Length)
		}
		end := start + fh.Size()
		if end > len(fp.chunk) {
			return nil, errors.Wrapf(io.ErrUnexpectedEOF, "frame %v truncated", &fh)
		}
		// the body decoder can't read past the end of this frame
		body := WrapByteCursor(fp.chunk[:end])
		body.rd = fp.bc.ReaderIndex()
		f, err := decodeFrameBody(body, fh, end)
		if err != nil {
			return nil, err
		}
		// position exactly at the next frame regardless of what the body decoder consumed
		fp.bc.rd = end
		if f != nil {
			return f, nil
		}
	}
	return nil, io.EOF
}

// Frames returns the remaining frames as a sequence. Iteration stops
// after the first error.
func (fp *FrameParser) Frames() iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		for {
			f, err := fp.Next()
			if err == io.EOF {
				return
			}
			if !yield(f, err) || err != nil {
				return
			}
		}
	}
}

// ParseFrames decodes all frames in chunk.
func ParseFrames(chunk []byte) (frames []Frame, err error) {
	for f, ferr := range NewFrameParser(chunk).Frames() {
		if ferr != nil {
			return frames, ferr
		}
		frames = append(frames, f)
	}
	return
}

// ParseFrame decodes a single frame.
func ParseFrame(b []byte) (Frame, error) {
	f, err := NewFrameParser(b).Next()
	if err == io.EOF {
		err = errors.Wrap(ProtocolError{}, "no frame")
	}
	return f, err
}

// ReadFrame reads one length-prefixed frame from r. The returned
// slice includes the length field.
func ReadFrame(r io.Reader) (b []byte, err error) {
	var lb [FrameLengthSize]byte
	if _, err = io.ReadFull(r, lb[:]); err != nil {
		return nil, err
	}
	n := int(lb[0])<<16 | int(lb[1])<<8 | int(lb[2])
	if n < FrameHeaderSize-FrameLengthSize {
		return nil, errors.Wrapf(ProtocolError{}, "frame length %d too short", n)
	}
	b = make([]byte, FrameLengthSize+n)
	copy(b, lb[:])
	if _, err = io.ReadFull(r, b[FrameLengthSize:]); err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return
}

func decodeFrameBody(bc *ByteCursor, fh FrameHeader, end int) (f Frame, err error) {
	switch fh.Type {
	case FrameTypeSetup:
		sf := &SetupFrame{FrameHeader: fh}
		if sf.Version.Major, err = bc.ReadUint16(); err != nil {
			return
		}
		if sf.Version.Minor, err = bc.ReadUint16(); err != nil {
			return
		}
		if sf.KeepAlive, err = bc.ReadUint32(); err != nil {
			return
		}
		if sf.MaxLifetime, err = bc.ReadUint32(); err != nil {
			return
		}
		if sf.Resume() {
			var n uint16
			if n, err = bc.ReadUint16(); err != nil {
				return
			}
			if sf.ResumeToken, err = bc.ReadBytes(int(n)); err != nil {
				return
			}
		}
		if sf.MetadataMimeType, err = readShortString(bc); err != nil {
			return
		}
		if sf.DataMimeType, err = readShortString(bc); err != nil {
			return
		}
		sf.Payload, err = readPayload(bc, fh.Metadata, end)
		f = sf
	case FrameTypeLease:
		lf := &LeaseFrame{FrameHeader: fh}
		if lf.TimeToLive, err = bc.ReadUint32(); err != nil {
			return
		}
		if lf.NumberOfRequests, err = bc.ReadUint32(); err != nil {
			return
		}
		if n := end - bc.ReaderIndex(); fh.Metadata && n > 0 {
			lf.Meta, err = bc.ReadBytes(n)
		}
		f = lf
	case FrameTypeKeepAlive:
		kf := &KeepAliveFrame{FrameHeader: fh}
		if kf.LastPosition, err = bc.ReadUint64(); err != nil {
			return
		}
		kf.Payload, err = readPayload(bc, fh.Metadata, end)
		f = kf
	case FrameTypeRequestResponse:
		rf := &RequestResponseFrame{FrameHeader: fh}
		rf.Payload, err = readPayload(bc, fh.Metadata, end)
		f = rf
	case FrameTypeRequestFNF:
		rf := &RequestFNFFrame{FrameHeader: fh}
		rf.Payload, err = readPayload(bc, fh.Metadata, end)
		f = rf
	case FrameTypeRequestStream:
		rf := &RequestStreamFrame{FrameHeader: fh}
		if rf.InitialRequestN, err = bc.ReadUint32(); err != nil {
			return
		}
		rf.Payload, err = readPayload(bc, fh.Metadata, end)
		f = rf
	case FrameTypeRequestChannel:
		rf := &RequestChannelFrame{FrameHeader: fh}
		if rf.InitialRequestN, err = bc.ReadUint32(); err != nil {
			return
		}
		rf.Payload, err = readPayload(bc, fh.Metadata, end)
		f = rf
	case FrameTypeRequestN:
		rf := &RequestNFrame{FrameHeader: fh}
		rf.RequestN, err = bc.ReadUint32()
		f = rf
	case FrameTypeCancel:
		f = &CancelFrame{FrameHeader: fh}
	case FrameTypePayload:
		pf := &PayloadFrame{FrameHeader: fh}
		pf.Payload, err = readPayload(bc, fh.Metadata, end)
		f = pf
	case FrameTypeError:
		ef := &ErrorFrame{FrameHeader: fh}
		var code uint32
		if code, err = bc.ReadUint32(); err != nil {
			return
		}
		ef.Code = ErrorCode(code)
		ef.Message, err = bc.ReadString(end - bc.ReaderIndex())
		f = ef
	case FrameTypeMetadataPush:
		mf := &MetadataPushFrame{FrameHeader: fh}
		if n := end - bc.ReaderIndex(); n > 0 {
			mf.Payload.Metadata, err = bc.ReadBytes(n)
		}
		f = mf
	}
	if err != nil {
		f = nil
		if errors.Cause(err) == io.ErrUnexpectedEOF {
			err = errors.Wrapf(ProtocolError{}, "%v body too short", &fh)
		} else {
			err = errors.Wrapf(err, "decoding %v", &fh)
		}
	}
	return
}

func readShortString(bc *ByteCursor) (s string, err error) {
	var n uint8
	if n, err = bc.ReadUint8(); err == nil {
		s, err = bc.ReadString(int(n))
	}
	return
}
