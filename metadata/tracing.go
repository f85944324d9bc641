package metadata

import (
	"encoding/binary"

	"github.com/linkdata/rsocket"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/trace"
)

// Zipkin tracing flags.
const (
	ZipkinFlagParent      = 0x01 // ParentID is present
	ZipkinFlagTraceIDHigh = 0x02 // TraceIDHigh is present
	ZipkinFlagSampled     = 0x04
)

// ZipkinTracingMetadata carries Zipkin B3 style trace ids.
type ZipkinTracingMetadata struct {
	Flags       uint8
	TraceIDHigh uint64
	TraceID     uint64
	SpanID      uint64
	ParentID    uint64
}

func (zm ZipkinTracingMetadata) MimeType() string { return MessageTracingZipkin }

// Encode writes the flags and ids. The presence flags are derived
// from the non-zero ids.
func (zm ZipkinTracingMetadata) Encode() ([]byte, error) {
	flags := zm.Flags &^ (ZipkinFlagParent | ZipkinFlagTraceIDHigh)
	if zm.TraceIDHigh != 0 {
		flags |= ZipkinFlagTraceIDHigh
	}
	if zm.ParentID != 0 {
		flags |= ZipkinFlagParent
	}
	bc := rsocket.NewByteCursor(33)
	bc.WriteUint8(flags)
	if zm.TraceIDHigh != 0 {
		bc.WriteUint64(zm.TraceIDHigh)
	}
	bc.WriteUint64(zm.TraceID)
	bc.WriteUint64(zm.SpanID)
	if zm.ParentID != 0 {
		bc.WriteUint64(zm.ParentID)
	}
	return bc.Bytes(), nil
}

// ParseZipkinTracingMetadata decodes tracing content.
func ParseZipkinTracingMetadata(content []byte) (zm ZipkinTracingMetadata, err error) {
	bc := rsocket.WrapByteCursor(content)
	if zm.Flags, err = bc.ReadUint8(); err == nil {
		if zm.Flags&ZipkinFlagTraceIDHigh != 0 {
			zm.TraceIDHigh, err = bc.ReadUint64()
		}
		if err == nil {
			if zm.TraceID, err = bc.ReadUint64(); err == nil {
				if zm.SpanID, err = bc.ReadUint64(); err == nil && zm.Flags&ZipkinFlagParent != 0 {
					zm.ParentID, err = bc.ReadUint64()
				}
			}
		}
	}
	if err != nil {
		err = errors.Wrap(ErrMalformed, err.Error())
	}
	return
}

// SpanContext returns the remote span context described by zm.
func (zm ZipkinTracingMetadata) SpanContext() trace.SpanContext {
	var tid trace.TraceID
	var sid trace.SpanID
	binary.BigEndian.PutUint64(tid[:8], zm.TraceIDHigh)
	binary.BigEndian.PutUint64(tid[8:], zm.TraceID)
	binary.BigEndian.PutUint64(sid[:], zm.SpanID)
	var flags trace.TraceFlags
	if zm.Flags&ZipkinFlagSampled != 0 {
		flags = trace.FlagsSampled
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     sid,
		TraceFlags: flags,
		Remote:     true,
	})
}

// ZipkinFromSpanContext returns tracing metadata for sc with the given parent span id.
func ZipkinFromSpanContext(sc trace.SpanContext, parentID uint64) ZipkinTracingMetadata {
	tid := sc.TraceID()
	sid := sc.SpanID()
	zm := ZipkinTracingMetadata{
		TraceIDHigh: binary.BigEndian.Uint64(tid[:8]),
		TraceID:     binary.BigEndian.Uint64(tid[8:]),
		SpanID:      binary.BigEndian.Uint64(sid[:]),
		ParentID:    parentID,
	}
	if sc.IsSampled() {
		zm.Flags |= ZipkinFlagSampled
	}
	return zm
}
