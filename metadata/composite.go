package metadata

import (
	"iter"

	"github.com/linkdata/rsocket"
	"github.com/pkg/errors"
)

const (
	wellKnownFlag    = 0x80
	maxContentLength = 0xFFFFFF
	maxMimeLength    = 0x7F
)

// ErrMalformed is the cause of errors decoding metadata.
var ErrMalformed = errors.New("malformed metadata")

// MetadataEntry is one entry of a CompositeMetadata. Entries encoded
// with a well-known id have ID >= 0, explicit entries have ID Unparseable.ID.
type MetadataEntry struct {
	MimeType string
	ID       int8
	Content  []byte
}

// WellKnown returns true if the entry was encoded with a well-known id.
func (e MetadataEntry) WellKnown() bool {
	return e.ID >= 0
}

// Entry is a typed metadata entry that can be added to a CompositeMetadata.
type Entry interface {
	MimeType() string
	Encode() ([]byte, error)
}

// CompositeMetadata is an ordered list of metadata entries in their
// wire encoding. It must not be added to after FindEntry has been called.
type CompositeMetadata struct {
	bc    *rsocket.ByteCursor
	index map[string]MetadataEntry
}

// NewCompositeMetadata returns an empty CompositeMetadata.
func NewCompositeMetadata() *CompositeMetadata {
	return &CompositeMetadata{bc: rsocket.NewByteCursor(64)}
}

// ParseCompositeMetadata wraps b, checking that it decodes.
func ParseCompositeMetadata(b []byte) (*CompositeMetadata, error) {
	cm := &CompositeMetadata{bc: rsocket.WrapByteCursor(b)}
	if err := cm.Iterate(func(MetadataEntry) bool { return true }); err != nil {
		return nil, err
	}
	return cm, nil
}

// FromEntries returns a CompositeMetadata holding the given entries.
func FromEntries(entries ...Entry) (*CompositeMetadata, error) {
	cm := NewCompositeMetadata()
	for _, e := range entries {
		if err := cm.Add(e); err != nil {
			return nil, err
		}
	}
	return cm, nil
}

// AddWellKnown appends content tagged with a well-known id.
func (cm *CompositeMetadata) AddWellKnown(id int8, content []byte) error {
	if id < 0 {
		return errors.Errorf("metadata: well-known id %d out of range", id)
	}
	if len(content) > maxContentLength {
		return errors.Errorf("metadata: content length %d too long", len(content))
	}
	cm.bc.WriteUint8(wellKnownFlag | uint8(id))
	cm.bc.WriteUint24(uint32(len(content)))
	cm.bc.WriteBytes(content)
	return nil
}

// AddExplicit appends content tagged with mimeType. Well-known types
// are written using their id.
func (cm *CompositeMetadata) AddExplicit(mimeType string, content []byte) error {
	if wk := MimeTypeByName(mimeType); wk.ID >= 0 {
		return cm.AddWellKnown(wk.ID, content)
	}
	if len(mimeType) == 0 || len(mimeType) > maxMimeLength {
		return errors.Errorf("metadata: mime type %q length out of range", mimeType)
	}
	if len(content) > maxContentLength {
		return errors.Errorf("metadata: content length %d too long", len(content))
	}
	cm.bc.WriteUint8(uint8(len(mimeType)))
	cm.bc.WriteString(mimeType)
	cm.bc.WriteUint24(uint32(len(content)))
	cm.bc.WriteBytes(content)
	return nil
}

// Add encodes e and appends it.
func (cm *CompositeMetadata) Add(e Entry) error {
	content, err := e.Encode()
	if err != nil {
		return err
	}
	return cm.AddExplicit(e.MimeType(), content)
}

// Bytes returns the encoded metadata.
func (cm *CompositeMetadata) Bytes() []byte {
	return cm.bc.Bytes()
}

// Payload returns a Payload with data and cm as metadata.
func (cm *CompositeMetadata) Payload(data []byte) rsocket.Payload {
	return rsocket.NewPayload(data, cm.Bytes())
}

func readEntry(bc *rsocket.ByteCursor) (e MetadataEntry, err error) {
	var tag uint8
	if tag, err = bc.ReadUint8(); err != nil {
		return
	}
	if tag&wellKnownFlag != 0 {
		e.ID = int8(tag &^ wellKnownFlag)
		if wk := MimeTypeByID(e.ID); wk != UnknownReserved {
			e.MimeType = wk.Name
		}
	} else {
		if tag == 0 {
			return e, errors.Wrap(ErrMalformed, "zero length mime type")
		}
		e.ID = Unparseable.ID
		if e.MimeType, err = bc.ReadString(int(tag)); err != nil {
			return
		}
	}
	var n uint32
	if n, err = bc.ReadUint24(); err == nil {
		e.Content, err = bc.ReadBytes(int(n))
	}
	return
}

// All returns the entries in order. Iteration stops after the first
// error and may be repeated.
func (cm *CompositeMetadata) All() iter.Seq2[MetadataEntry, error] {
	return func(yield func(MetadataEntry, error) bool) {
		bc := rsocket.WrapByteCursor(cm.bc.Bytes())
		for bc.IsReadable() {
			e, err := readEntry(bc)
			if err != nil {
				if errors.Cause(err) != ErrMalformed {
					err = errors.Wrap(ErrMalformed, err.Error())
				}
				yield(e, err)
				return
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

// Iterate calls fn for each entry until it returns false.
func (cm *CompositeMetadata) Iterate(fn func(MetadataEntry) bool) error {
	for e, err := range cm.All() {
		if err != nil {
			return err
		}
		if !fn(e) {
			break
		}
	}
	return nil
}

// Entries returns all entries.
func (cm *CompositeMetadata) Entries() (entries []MetadataEntry, err error) {
	err = cm.Iterate(func(e MetadataEntry) bool {
		entries = append(entries, e)
		return true
	})
	return
}

// FindEntry returns the first entry with the given MIME type.
func (cm *CompositeMetadata) FindEntry(mimeType string) (MetadataEntry, bool) {
	if cm.index == nil {
		cm.index = make(map[string]MetadataEntry)
		_ = cm.Iterate(func(e MetadataEntry) bool {
			if _, ok := cm.index[e.MimeType]; !ok {
				cm.index[e.MimeType] = e
			}
			return true
		})
	}
	e, ok := cm.index[mimeType]
	return e, ok
}
