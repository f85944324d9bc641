package rsocket

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Payload is the unit of application data carried by request and
// PAYLOAD frames. A nil Data or Metadata means the part is absent,
// which is not the same as present and empty.
//
// A Payload must not be modified once it has been handed to a Conn.
type Payload struct {
	Data     []byte
	Metadata []byte
}

// NewPayload returns a Payload with the given data and metadata.
func NewPayload(data, metadata []byte) Payload {
	return Payload{Data: data, Metadata: metadata}
}

// PayloadFromText returns a Payload from UTF-8 strings.
// An empty string leaves that part absent.
func PayloadFromText(data, metadata string) (p Payload) {
	if data != "" {
		p.Data = []byte(data)
	}
	if metadata != "" {
		p.Metadata = []byte(metadata)
	}
	return
}

// HasData returns true if the data part is present.
func (p Payload) HasData() bool { return p.Data != nil }

// HasMetadata returns true if the metadata part is present.
func (p Payload) HasMetadata() bool { return p.Metadata != nil }

// DataUTF8 returns the data as a string.
func (p Payload) DataUTF8() string { return string(p.Data) }

// MetadataUTF8 returns the metadata as a string.
func (p Payload) MetadataUTF8() string { return string(p.Metadata) }

// Clone returns a deep copy of p that preserves absence.
func (p Payload) Clone() (c Payload) {
	if p.Data != nil {
		c.Data = append([]byte{}, p.Data...)
	}
	if p.Metadata != nil {
		c.Metadata = append([]byte{}, p.Metadata...)
	}
	return
}

func (p Payload) String() string {
	return fmt.Sprintf("[Payload data=%d metadata=%d]", len(p.Data), len(p.Metadata))
}

func writePayload(bc *ByteCursor, p Payload) {
	if p.Metadata != nil {
		bc.WriteUint24(uint32(len(p.Metadata)))
		bc.WriteBytes(p.Metadata)
	}
	if p.Data != nil {
		bc.WriteBytes(p.Data)
	}
}

// readPayload reads the payload region that ends at offset end.
func readPayload(bc *ByteCursor, metadata bool, end int) (p Payload, err error) {
	if metadata {
		var n uint32
		if n, err = bc.ReadUint24(); err != nil {
			return
		}
		if int(n) > end-bc.ReaderIndex() {
			err = errors.Wrapf(ProtocolError{}, "metadata length %d exceeds frame", n)
			return
		}
		if n > 0 {
			if p.Metadata, err = bc.ReadBytes(int(n)); err != nil {
				return
			}
		}
	}
	if n := end - bc.ReaderIndex(); n > 0 {
		p.Data, err = bc.ReadBytes(n)
	}
	return
}

// Version is a protocol version number pair.
type Version struct {
	Major uint16
	Minor uint16
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// SetupPayload is the Payload of a SETUP frame together with the
// session parameters negotiated by it.
type SetupPayload struct {
	Payload
	Version          Version
	KeepAlive        time.Duration
	MaxLifetime      time.Duration
	MetadataMimeType string
	DataMimeType     string
	Flags            FrameFlag
	ResumeToken      []byte
}

// NewSetupPayload returns a SetupPayload with the default session parameters.
func NewSetupPayload() SetupPayload {
	return SetupPayload{
		Version:          Version{MajorVersion, MinorVersion},
		KeepAlive:        DefaultKeepAlive,
		MaxLifetime:      DefaultMaxLifetime,
		MetadataMimeType: DefaultMetadataMimeType,
		DataMimeType:     DefaultDataMimeType,
	}
}

// Frame returns the SETUP frame announcing sp.
func (sp SetupPayload) Frame() *SetupFrame {
	flags := sp.Flags
	if sp.ResumeToken != nil {
		flags |= FlagResume
	}
	version := sp.Version
	if version == (Version{}) {
		version = Version{MajorVersion, MinorVersion}
	}
	return &SetupFrame{
		FrameHeader:      FrameHeader{Type: FrameTypeSetup, Flags: flags},
		Version:          version,
		KeepAlive:        uint32(sp.KeepAlive / time.Millisecond),
		MaxLifetime:      uint32(sp.MaxLifetime / time.Millisecond),
		ResumeToken:      sp.ResumeToken,
		MetadataMimeType: sp.MetadataMimeType,
		DataMimeType:     sp.DataMimeType,
		Payload:          sp.Payload,
	}
}

// SetupPayloadFromFrame returns the session parameters carried by f.
func SetupPayloadFromFrame(f *SetupFrame) SetupPayload {
	return SetupPayload{
		Payload:          f.Payload,
		Version:          f.Version,
		KeepAlive:        time.Duration(f.KeepAlive) * time.Millisecond,
		MaxLifetime:      time.Duration(f.MaxLifetime) * time.Millisecond,
		MetadataMimeType: f.MetadataMimeType,
		DataMimeType:     f.DataMimeType,
		Flags:            f.Flags,
		ResumeToken:      f.ResumeToken,
	}
}
