package rsocket

import (
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func Test_ByteCursor_RoundTrip(t *testing.T) {
	bc := NewByteCursor(0)
	bc.WriteUint8(0x01)
	bc.WriteUint16(0x0203)
	bc.WriteUint24(0x040506)
	bc.WriteUint32(0x0708090a)
	bc.WriteUint64(0x0b0c0d0e0f101112)
	bc.WriteString("hi")
	bc.WriteBytes([]byte{0xff})
	assert.Equal(t, 1+2+3+4+8+2+1, len(bc.Bytes()))
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}, bc.Bytes()[:6])

	rd := WrapByteCursor(bc.Bytes())
	u8, err := rd.ReadUint8()
	assert.NoError(t, err)
	assert.Equal(t, uint8(0x01), u8)
	u16, _ := rd.ReadUint16()
	assert.Equal(t, uint16(0x0203), u16)
	u24, _ := rd.ReadUint24()
	assert.Equal(t, uint32(0x040506), u24)
	u32, _ := rd.ReadUint32()
	assert.Equal(t, uint32(0x0708090a), u32)
	u64, _ := rd.ReadUint64()
	assert.Equal(t, uint64(0x0b0c0d0e0f101112), u64)
	s, _ := rd.ReadString(2)
	assert.Equal(t, "hi", s)
	assert.True(t, rd.IsReadable())
	b, _ := rd.ReadBytes(1)
	assert.Equal(t, []byte{0xff}, b)
	assert.False(t, rd.IsReadable())
}

func Test_ByteCursor_ShortRead(t *testing.T) {
	rd := WrapByteCursor([]byte{1, 2, 3})
	_, err := rd.ReadUint32()
	assert.Equal(t, io.ErrUnexpectedEOF, errors.Cause(err))
	assert.Equal(t, 0, rd.ReaderIndex())
	v, err := rd.ReadUint24()
	assert.NoError(t, err)
	assert.Equal(t, uint32(0x010203), v)
	_, err = rd.ReadUint8()
	assert.Equal(t, io.ErrUnexpectedEOF, errors.Cause(err))
	assert.Error(t, rd.Skip(1))
	_, err = rd.ReadBytes(-1)
	assert.Error(t, err)
}

func Test_ByteCursor_ResetWriterIndex(t *testing.T) {
	bc := NewByteCursor(4)
	bc.WriteUint24(0)
	bc.WriteString("abcd")
	assert.Equal(t, 7, bc.WriterIndex())
	bc.ResetWriterIndex()
	bc.WriteUint24(uint32(len(bc.Bytes()) - 3))
	assert.Equal(t, 3, bc.WriterIndex())
	assert.Equal(t, []byte{0, 0, 4, 'a', 'b', 'c', 'd'}, bc.Bytes())
}

func Test_ByteCursor_IsWritable(t *testing.T) {
	bc := NewByteCursor(2)
	assert.True(t, bc.IsWritable())
	bc.WriteUint16(1)
	assert.False(t, bc.IsWritable())
	bc.WriteUint8(2)
	assert.Equal(t, 3, len(bc.Bytes()))
	bc.Reset()
	assert.Equal(t, 0, bc.Len())
	assert.True(t, bc.IsWritable())
}
