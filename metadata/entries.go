package metadata

import (
	"github.com/linkdata/rsocket"
	"github.com/pkg/errors"
)

// TaggingMetadata is a list of short strings.
type TaggingMetadata struct {
	Mime string
	Tags []string
}

func (tm TaggingMetadata) MimeType() string { return tm.Mime }

// Encode writes each tag prefixed by its 8-bit length.
func (tm TaggingMetadata) Encode() ([]byte, error) {
	return encodeTags(tm.Tags)
}

func encodeTags(tags []string) ([]byte, error) {
	bc := rsocket.NewByteCursor(len(tags) * 16)
	for _, tag := range tags {
		if len(tag) > 0xFF {
			return nil, errors.Errorf("metadata: tag length %d too long", len(tag))
		}
		bc.WriteUint8(uint8(len(tag)))
		bc.WriteString(tag)
	}
	return bc.Bytes(), nil
}

func decodeTags(content []byte) (tags []string, err error) {
	bc := rsocket.WrapByteCursor(content)
	for bc.IsReadable() {
		var n uint8
		var tag string
		if n, err = bc.ReadUint8(); err == nil {
			tag, err = bc.ReadString(int(n))
		}
		if err != nil {
			return nil, errors.Wrap(ErrMalformed, err.Error())
		}
		tags = append(tags, tag)
	}
	return
}

// ParseTaggingMetadata decodes tagging content.
func ParseTaggingMetadata(mimeType string, content []byte) (tm TaggingMetadata, err error) {
	tm.Mime = mimeType
	tm.Tags, err = decodeTags(content)
	return
}

// RoutingMetadata names the route of a request. The key is the first
// tag and any further tags follow it.
type RoutingMetadata struct {
	Key   string
	Extra []string
}

// Routing returns RoutingMetadata for key.
func Routing(key string, extra ...string) RoutingMetadata {
	return RoutingMetadata{Key: key, Extra: extra}
}

func (rm RoutingMetadata) MimeType() string { return MessageRouting }

func (rm RoutingMetadata) Encode() ([]byte, error) {
	return encodeTags(append([]string{rm.Key}, rm.Extra...))
}

// ParseRoutingMetadata decodes routing content.
func ParseRoutingMetadata(content []byte) (rm RoutingMetadata, err error) {
	var tags []string
	if tags, err = decodeTags(content); err == nil && len(tags) > 0 {
		rm.Key = tags[0]
		if len(tags) > 1 {
			rm.Extra = tags[1:]
		}
	}
	return
}

// AuthType is a well-known authentication type.
type AuthType int8

const (
	AuthSimple AuthType = 0x00
	AuthBearer AuthType = 0x01
)

// AuthMetadata carries credentials. Simple authentication uses Username
// and Password, other types carry Payload. A non-empty CustomType is
// encoded explicitly instead of Type.
type AuthMetadata struct {
	Type       AuthType
	CustomType string
	Username   string
	Password   string
	Payload    []byte
}

// SimpleAuth returns simple authentication metadata.
func SimpleAuth(username, password string) AuthMetadata {
	return AuthMetadata{Type: AuthSimple, Username: username, Password: password}
}

// BearerAuth returns bearer token authentication metadata.
func BearerAuth(token string) AuthMetadata {
	return AuthMetadata{Type: AuthBearer, Payload: []byte(token)}
}

func (am AuthMetadata) MimeType() string { return MessageAuthentication }

// Token returns the bearer token.
func (am AuthMetadata) Token() string { return string(am.Payload) }

func (am AuthMetadata) Encode() ([]byte, error) {
	bc := rsocket.NewByteCursor(32)
	if am.CustomType != "" {
		if len(am.CustomType) > maxMimeLength {
			return nil, errors.Errorf("metadata: auth type %q too long", am.CustomType)
		}
		bc.WriteUint8(uint8(len(am.CustomType)))
		bc.WriteString(am.CustomType)
		bc.WriteBytes(am.Payload)
		return bc.Bytes(), nil
	}
	if am.Type < 0 {
		return nil, errors.Errorf("metadata: auth type %d out of range", am.Type)
	}
	bc.WriteUint8(wellKnownFlag | uint8(am.Type))
	if am.Type == AuthSimple {
		if len(am.Username) > maxContentLength {
			return nil, errors.Errorf("metadata: username length %d too long", len(am.Username))
		}
		bc.WriteUint24(uint32(len(am.Username)))
		bc.WriteString(am.Username)
		bc.WriteString(am.Password)
	} else {
		bc.WriteBytes(am.Payload)
	}
	return bc.Bytes(), nil
}

// ParseAuthMetadata decodes authentication content.
func ParseAuthMetadata(content []byte) (am AuthMetadata, err error) {
	bc := rsocket.WrapByteCursor(content)
	var tag uint8
	if tag, err = bc.ReadUint8(); err != nil {
		return am, errors.Wrap(ErrMalformed, "empty auth metadata")
	}
	if tag&wellKnownFlag == 0 {
		if am.CustomType, err = bc.ReadString(int(tag)); err != nil {
			return am, errors.Wrap(ErrMalformed, err.Error())
		}
	} else {
		am.Type = AuthType(tag &^ wellKnownFlag)
		if am.Type == AuthSimple {
			var n uint32
			if n, err = bc.ReadUint24(); err == nil {
				if am.Username, err = bc.ReadString(int(n)); err == nil {
					am.Password, err = bc.ReadString(bc.Len())
				}
			}
			if err != nil {
				err = errors.Wrap(ErrMalformed, err.Error())
			}
			return
		}
	}
	if bc.Len() > 0 {
		am.Payload, err = bc.ReadBytes(bc.Len())
	}
	return
}

func encodeMimeList(mimeTypes []string) ([]byte, error) {
	bc := rsocket.NewByteCursor(len(mimeTypes) * 8)
	for _, mt := range mimeTypes {
		if wk := MimeTypeByName(mt); wk.ID >= 0 {
			bc.WriteUint8(wellKnownFlag | uint8(wk.ID))
			continue
		}
		if len(mt) == 0 || len(mt) > maxMimeLength {
			return nil, errors.Errorf("metadata: mime type %q length out of range", mt)
		}
		bc.WriteUint8(uint8(len(mt)))
		bc.WriteString(mt)
	}
	return bc.Bytes(), nil
}

func decodeMimeList(content []byte) (mimeTypes []string, err error) {
	bc := rsocket.WrapByteCursor(content)
	for bc.IsReadable() {
		var tag uint8
		if tag, err = bc.ReadUint8(); err != nil {
			break
		}
		if tag&wellKnownFlag != 0 {
			wk := MimeTypeByID(int8(tag &^ wellKnownFlag))
			if wk == UnknownReserved {
				return nil, errors.Wrapf(ErrMalformed, "unknown mime type id 0x%02x", tag&^wellKnownFlag)
			}
			mimeTypes = append(mimeTypes, wk.Name)
			continue
		}
		var mt string
		if mt, err = bc.ReadString(int(tag)); err != nil {
			break
		}
		mimeTypes = append(mimeTypes, mt)
	}
	if err != nil {
		err = errors.Wrap(ErrMalformed, err.Error())
	}
	return
}

// MimeTypeMetadata declares the MIME type of the payload data.
type MimeTypeMetadata struct {
	DataMimeType string
}

func (mm MimeTypeMetadata) MimeType() string { return MessageMimeType }

func (mm MimeTypeMetadata) Encode() ([]byte, error) {
	return encodeMimeList([]string{mm.DataMimeType})
}

// ParseMimeTypeMetadata decodes data MIME type content.
func ParseMimeTypeMetadata(content []byte) (mm MimeTypeMetadata, err error) {
	var mts []string
	if mts, err = decodeMimeList(content); err == nil {
		if len(mts) != 1 {
			return mm, errors.Wrapf(ErrMalformed, "%d mime types", len(mts))
		}
		mm.DataMimeType = mts[0]
	}
	return
}

// AcceptMimeTypesMetadata lists the data MIME types a requester accepts.
type AcceptMimeTypesMetadata struct {
	MimeTypes []string
}

func (am AcceptMimeTypesMetadata) MimeType() string { return MessageAcceptMimeTypes }

func (am AcceptMimeTypesMetadata) Encode() ([]byte, error) {
	return encodeMimeList(am.MimeTypes)
}

// ParseAcceptMimeTypesMetadata decodes accepted MIME types content.
func ParseAcceptMimeTypesMetadata(content []byte) (am AcceptMimeTypesMetadata, err error) {
	am.MimeTypes, err = decodeMimeList(content)
	return
}
