// Package metadata encodes and decodes composite metadata, the
// self-describing list of typed entries carried in payload metadata
// for routing, authentication and tracing.
package metadata

import (
	"sync"

	"github.com/pkg/errors"
)

// WellKnownMimeType is a MIME type with a reserved 7-bit id.
type WellKnownMimeType struct {
	ID   int8
	Name string
}

func (wk WellKnownMimeType) String() string {
	return wk.Name
}

var (
	// Unparseable is returned for names and ids that cannot be well-known.
	Unparseable = WellKnownMimeType{-2, "UNPARSEABLE_MIME_TYPE_DO_NOT_USE"}
	// UnknownReserved is returned for ids in range that have no assigned name.
	UnknownReserved = WellKnownMimeType{-1, "UNKNOWN_YET_RESERVED_DO_NOT_USE"}
)

// MIME types of the reserved metadata extensions.
const (
	MessageMimeType          = "message/x.rsocket.mime-type.v0"
	MessageAcceptMimeTypes   = "message/x.rsocket.accept-mime-types.v0"
	MessageAuthentication    = "message/x.rsocket.authentication.v0"
	MessageTracingZipkin     = "message/x.rsocket.tracing-zipkin.v0"
	MessageRouting           = "message/x.rsocket.routing.v0"
	MessageCompositeMetadata = "message/x.rsocket.composite-metadata.v0"
)

var staticMimeTypes = [...]WellKnownMimeType{
	{0x00, "application/avro"},
	{0x01, "application/cbor"},
	{0x02, "application/graphql"},
	{0x03, "application/gzip"},
	{0x04, "application/javascript"},
	{0x05, "application/json"},
	{0x06, "application/octet-stream"},
	{0x07, "application/pdf"},
	{0x08, "application/vnd.apache.thrift.binary"},
	{0x09, "application/vnd.google.protobuf"},
	{0x0A, "application/xml"},
	{0x0B, "application/zip"},
	{0x0C, "audio/aac"},
	{0x0D, "audio/mp3"},
	{0x0E, "audio/mp4"},
	{0x0F, "audio/mpeg3"},
	{0x10, "audio/mpeg"},
	{0x11, "audio/ogg"},
	{0x12, "audio/opus"},
	{0x13, "audio/vorbis"},
	{0x14, "image/bmp"},
	{0x15, "image/gif"},
	{0x16, "image/heic-sequence"},
	{0x17, "image/heic"},
	{0x18, "image/heif-sequence"},
	{0x19, "image/heif"},
	{0x1A, "image/jpeg"},
	{0x1B, "image/png"},
	{0x1C, "image/tiff"},
	{0x1D, "multipart/mixed"},
	{0x1E, "text/css"},
	{0x1F, "text/csv"},
	{0x20, "text/html"},
	{0x21, "text/plain"},
	{0x22, "text/xml"},
	{0x23, "video/H264"},
	{0x24, "video/H265"},
	{0x25, "video/VP8"},
	{0x26, "application/x-hessian"},
	{0x27, "application/x-java-object"},
	{0x28, "application/cloudevents+json"},
	{0x7A, MessageMimeType},
	{0x7B, MessageAcceptMimeTypes},
	{0x7C, MessageAuthentication},
	{0x7D, MessageTracingZipkin},
	{0x7E, MessageRouting},
	{0x7F, MessageCompositeMetadata},
}

// the static table is never modified after init
var (
	staticByID   [128]WellKnownMimeType
	staticByName = make(map[string]WellKnownMimeType, len(staticMimeTypes))
)

var registered struct {
	mu     sync.RWMutex
	byID   map[int8]WellKnownMimeType
	byName map[string]WellKnownMimeType
}

func init() {
	for i := range staticByID {
		staticByID[i] = UnknownReserved
	}
	for _, wk := range staticMimeTypes {
		staticByID[wk.ID] = wk
		staticByName[wk.Name] = wk
	}
	registered.byID = make(map[int8]WellKnownMimeType)
	registered.byName = make(map[string]WellKnownMimeType)
}

// MimeTypeByID returns the MIME type with the given id. Ids outside
// 0..127 give Unparseable and unassigned ids give UnknownReserved.
func MimeTypeByID(id int8) WellKnownMimeType {
	if id < 0 {
		return Unparseable
	}
	if wk := staticByID[id]; wk != UnknownReserved {
		return wk
	}
	registered.mu.RLock()
	defer registered.mu.RUnlock()
	if wk, ok := registered.byID[id]; ok {
		return wk
	}
	return UnknownReserved
}

// MimeTypeByName returns the well-known MIME type for name, or
// Unparseable if there is none.
func MimeTypeByName(name string) WellKnownMimeType {
	if wk, ok := staticByName[name]; ok {
		return wk
	}
	registered.mu.RLock()
	defer registered.mu.RUnlock()
	if wk, ok := registered.byName[name]; ok {
		return wk
	}
	return Unparseable
}

// IsWellKnown returns true if name has a well-known id.
func IsWellKnown(name string) bool {
	return MimeTypeByName(name).ID >= 0
}

// RegisterMimeType assigns id to name. Neither may already be in use.
func RegisterMimeType(id int8, name string) error {
	if id < 0 {
		return errors.Errorf("metadata: mime type id %d out of range", id)
	}
	if name == "" || name == Unparseable.Name || name == UnknownReserved.Name {
		return errors.Errorf("metadata: invalid mime type name %q", name)
	}
	registered.mu.Lock()
	defer registered.mu.Unlock()
	if _, ok := staticByName[name]; ok {
		return errors.Errorf("metadata: mime type %q already registered", name)
	}
	if _, ok := registered.byName[name]; ok {
		return errors.Errorf("metadata: mime type %q already registered", name)
	}
	if staticByID[id] != UnknownReserved {
		return errors.Errorf("metadata: mime type id 0x%02x already registered", id)
	}
	if _, ok := registered.byID[id]; ok {
		return errors.Errorf("metadata: mime type id 0x%02x already registered", id)
	}
	wk := WellKnownMimeType{ID: id, Name: name}
	registered.byID[id] = wk
	registered.byName[name] = wk
	return nil
}
