package metadata

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"
)

func Test_MimeType_Lookup(t *testing.T) {
	assert.Equal(t, WellKnownMimeType{0x05, "application/json"}, MimeTypeByName("application/json"))
	assert.Equal(t, "message/x.rsocket.routing.v0", MimeTypeByID(0x7E).Name)
	assert.Equal(t, UnknownReserved, MimeTypeByID(0x50))
	assert.Equal(t, Unparseable, MimeTypeByID(-1))
	assert.Equal(t, Unparseable, MimeTypeByName("application/x-unknown"))
	assert.Equal(t, Unparseable, MimeTypeByName(UnknownReserved.Name))
	assert.True(t, IsWellKnown(MessageCompositeMetadata))
	assert.False(t, IsWellKnown("text/x-unknown"))
	assert.Equal(t, "text/plain", MimeTypeByID(0x21).String())
}

func Test_MimeType_Register(t *testing.T) {
	assert.Error(t, RegisterMimeType(0x05, "application/x-dup-id"))
	assert.Error(t, RegisterMimeType(0x60, "application/json"))
	assert.Error(t, RegisterMimeType(-3, "application/x-negative"))
	assert.Error(t, RegisterMimeType(0x61, ""))

	assert.NoError(t, RegisterMimeType(0x60, "application/x-registered"))
	assert.Error(t, RegisterMimeType(0x60, "application/x-other"))
	assert.Error(t, RegisterMimeType(0x62, "application/x-registered"))
	assert.Equal(t, WellKnownMimeType{0x60, "application/x-registered"}, MimeTypeByID(0x60))
	assert.True(t, IsWellKnown("application/x-registered"))

	cm := NewCompositeMetadata()
	assert.NoError(t, cm.AddExplicit("application/x-registered", []byte{1}))
	assert.Equal(t, []byte{0x80 | 0x60, 0, 0, 1, 1}, cm.Bytes())
}

func Test_CompositeMetadata_Encoding(t *testing.T) {
	cm := NewCompositeMetadata()
	assert.NoError(t, cm.AddWellKnown(0x05, []byte("{}")))
	assert.NoError(t, cm.AddExplicit("text/x-ab", []byte("c")))
	assert.Equal(t, []byte{
		0x85, 0, 0, 2, '{', '}',
		9, 't', 'e', 'x', 't', '/', 'x', '-', 'a', 'b', 0, 0, 1, 'c',
	}, cm.Bytes())

	// explicit well-known types are normalized
	cm = NewCompositeMetadata()
	assert.NoError(t, cm.AddExplicit("application/json", nil))
	assert.Equal(t, []byte{0x85, 0, 0, 0}, cm.Bytes())

	assert.Error(t, cm.AddWellKnown(-1, nil))
	assert.Error(t, cm.AddExplicit("", nil))
	assert.Error(t, cm.AddExplicit(string(make([]byte, 128)), nil))
}

func Test_CompositeMetadata_Iterate(t *testing.T) {
	cm := NewCompositeMetadata()
	assert.NoError(t, cm.AddExplicit("text/x-first", []byte("1")))
	assert.NoError(t, cm.AddWellKnown(0x21, []byte("2")))
	assert.NoError(t, cm.AddExplicit("text/x-first", []byte("3")))

	parsed, err := ParseCompositeMetadata(cm.Bytes())
	assert.NoError(t, err)
	for range 2 {
		entries, err := parsed.Entries()
		assert.NoError(t, err)
		if assert.Len(t, entries, 3) {
			assert.Equal(t, MetadataEntry{"text/x-first", -2, []byte("1")}, entries[0])
			assert.Equal(t, MetadataEntry{"text/plain", 0x21, []byte("2")}, entries[1])
			assert.Equal(t, "3", string(entries[2].Content))
			assert.False(t, entries[0].WellKnown())
			assert.True(t, entries[1].WellKnown())
		}
	}

	e, ok := parsed.FindEntry("text/x-first")
	assert.True(t, ok)
	assert.Equal(t, "1", string(e.Content))
	_, ok = parsed.FindEntry("text/html")
	assert.False(t, ok)

	n := 0
	assert.NoError(t, parsed.Iterate(func(MetadataEntry) bool { n++; return false }))
	assert.Equal(t, 1, n)
}

func Test_CompositeMetadata_ExplicitSameLength(t *testing.T) {
	// same length as "text/html" but not registered
	cm := NewCompositeMetadata()
	assert.NoError(t, cm.AddExplicit("text/htmx", []byte("x")))
	entries, err := cm.Entries()
	assert.NoError(t, err)
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "text/htmx", entries[0].MimeType)
		assert.False(t, entries[0].WellKnown())
	}
}

func Test_CompositeMetadata_Malformed(t *testing.T) {
	for _, b := range [][]byte{
		{0x85, 0, 0, 5, 1},
		{0x85, 0},
		{4, 't', 'e'},
		{0},
	} {
		_, err := ParseCompositeMetadata(b)
		assert.Equal(t, ErrMalformed, errors.Cause(err), "%x", b)
	}
	cm, err := ParseCompositeMetadata(nil)
	assert.NoError(t, err)
	entries, err := cm.Entries()
	assert.NoError(t, err)
	assert.Empty(t, entries)
}

func Test_CompositeMetadata_UnknownReserved(t *testing.T) {
	cm, err := ParseCompositeMetadata([]byte{0x80 | 0x70, 0, 0, 1, 'z'})
	assert.NoError(t, err)
	entries, err := cm.Entries()
	assert.NoError(t, err)
	if assert.Len(t, entries, 1) {
		assert.Equal(t, int8(0x70), entries[0].ID)
		assert.Equal(t, "", entries[0].MimeType)
	}
}

func Test_RoutingMetadata(t *testing.T) {
	b, err := Routing("UserService.findById", "v1").Encode()
	assert.NoError(t, err)
	assert.Equal(t, byte(20), b[0])
	rm, err := ParseRoutingMetadata(b)
	assert.NoError(t, err)
	assert.Equal(t, "UserService.findById", rm.Key)
	assert.Equal(t, []string{"v1"}, rm.Extra)

	cm, err := FromEntries(Routing("a.b"))
	assert.NoError(t, err)
	assert.Equal(t, []byte{0xFE, 0, 0, 4, 3, 'a', '.', 'b'}, cm.Bytes())

	_, err = ParseRoutingMetadata([]byte{5, 'a'})
	assert.Equal(t, ErrMalformed, errors.Cause(err))
	_, err = Routing(string(make([]byte, 256))).Encode()
	assert.Error(t, err)
}

func Test_TaggingMetadata(t *testing.T) {
	tm := TaggingMetadata{Mime: "text/x-tags", Tags: []string{"x", "", "yz"}}
	b, err := tm.Encode()
	assert.NoError(t, err)
	assert.Equal(t, []byte{1, 'x', 0, 2, 'y', 'z'}, b)
	tm2, err := ParseTaggingMetadata("text/x-tags", b)
	assert.NoError(t, err)
	assert.Equal(t, tm, tm2)
}

func Test_AuthMetadata(t *testing.T) {
	b, err := SimpleAuth("user", "pass").Encode()
	assert.NoError(t, err)
	assert.Equal(t, []byte{0x80, 0, 0, 4, 'u', 's', 'e', 'r', 'p', 'a', 's', 's'}, b)
	am, err := ParseAuthMetadata(b)
	assert.NoError(t, err)
	assert.Equal(t, AuthSimple, am.Type)
	assert.Equal(t, "user", am.Username)
	assert.Equal(t, "pass", am.Password)

	b, err = BearerAuth("tok").Encode()
	assert.NoError(t, err)
	assert.Equal(t, []byte{0x81, 't', 'o', 'k'}, b)
	am, err = ParseAuthMetadata(b)
	assert.NoError(t, err)
	assert.Equal(t, AuthBearer, am.Type)
	assert.Equal(t, "tok", am.Token())

	b, err = AuthMetadata{CustomType: "x-key", Payload: []byte{9}}.Encode()
	assert.NoError(t, err)
	am, err = ParseAuthMetadata(b)
	assert.NoError(t, err)
	assert.Equal(t, "x-key", am.CustomType)
	assert.Equal(t, []byte{9}, am.Payload)

	_, err = ParseAuthMetadata(nil)
	assert.Error(t, err)
	_, err = ParseAuthMetadata([]byte{0x80, 0, 0, 9, 'u'})
	assert.Equal(t, ErrMalformed, errors.Cause(err))
}

func Test_MimeTypeMetadata(t *testing.T) {
	b, err := MimeTypeMetadata{DataMimeType: "application/json"}.Encode()
	assert.NoError(t, err)
	assert.Equal(t, []byte{0x85}, b)
	mm, err := ParseMimeTypeMetadata(b)
	assert.NoError(t, err)
	assert.Equal(t, "application/json", mm.DataMimeType)

	b, err = AcceptMimeTypesMetadata{MimeTypes: []string{"text/plain", "text/x-custom"}}.Encode()
	assert.NoError(t, err)
	assert.Equal(t, byte(0xA1), b[0])
	acc, err := ParseAcceptMimeTypesMetadata(b)
	assert.NoError(t, err)
	assert.Equal(t, []string{"text/plain", "text/x-custom"}, acc.MimeTypes)

	_, err = ParseMimeTypeMetadata(nil)
	assert.Error(t, err)
	_, err = ParseAcceptMimeTypesMetadata([]byte{0x80 | 0x50})
	assert.Equal(t, ErrMalformed, errors.Cause(err))
}

func Test_ZipkinTracingMetadata(t *testing.T) {
	zm := ZipkinTracingMetadata{Flags: ZipkinFlagSampled, TraceIDHigh: 1, TraceID: 2, SpanID: 3, ParentID: 4}
	b, err := zm.Encode()
	assert.NoError(t, err)
	assert.Len(t, b, 33)
	assert.Equal(t, byte(ZipkinFlagSampled|ZipkinFlagParent|ZipkinFlagTraceIDHigh), b[0])
	zm2, err := ParseZipkinTracingMetadata(b)
	assert.NoError(t, err)
	assert.Equal(t, uint64(1), zm2.TraceIDHigh)
	assert.Equal(t, uint64(4), zm2.ParentID)

	b, err = ZipkinTracingMetadata{TraceID: 7, SpanID: 8}.Encode()
	assert.NoError(t, err)
	assert.Len(t, b, 17)
	_, err = ParseZipkinTracingMetadata(b[:10])
	assert.Equal(t, ErrMalformed, errors.Cause(err))

	sc := zm.SpanContext()
	assert.True(t, sc.IsValid())
	assert.True(t, sc.IsRemote())
	assert.True(t, sc.IsSampled())
	assert.Equal(t, trace.TraceID{0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 2}, sc.TraceID())
	assert.Equal(t, trace.SpanID{0, 0, 0, 0, 0, 0, 0, 3}, sc.SpanID())

	back := ZipkinFromSpanContext(sc, 4)
	back.Flags |= ZipkinFlagParent | ZipkinFlagTraceIDHigh
	assert.Equal(t, zm2, back)
}
