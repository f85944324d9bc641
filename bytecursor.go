package rsocket

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// ByteCursor is a growable byte buffer with independent read and write
// positions. All multi-byte integers are big-endian.
type ByteCursor struct {
	buf []byte
	rd  int
	wr  int
}

// NewByteCursor returns an empty ByteCursor with the given initial capacity.
func NewByteCursor(capacity int) *ByteCursor {
	return &ByteCursor{buf: make([]byte, 0, capacity)}
}

// WrapByteCursor returns a ByteCursor for reading b. The writer is
// positioned at the end of b.
func WrapByteCursor(b []byte) *ByteCursor {
	return &ByteCursor{buf: b, wr: len(b)}
}

func (bc *ByteCursor) String() string {
	b := bc.buf[bc.rd:]
	if len(b) > 32 {
		return fmt.Sprintf("[ByteCursor %d/%d %s...]", bc.rd, len(bc.buf), hex.EncodeToString(b[:32]))
	}
	return fmt.Sprintf("[ByteCursor %d/%d %s]", bc.rd, len(bc.buf), hex.EncodeToString(b))
}

// Reset empties the cursor, keeping the allocated memory.
func (bc *ByteCursor) Reset() {
	bc.buf = bc.buf[:0]
	bc.rd = 0
	bc.wr = 0
}

// Bytes returns the written extent of the buffer.
func (bc *ByteCursor) Bytes() []byte {
	return bc.buf
}

// Len returns the number of unread bytes.
func (bc *ByteCursor) Len() int {
	return len(bc.buf) - bc.rd
}

// ReaderIndex returns the read position.
func (bc *ByteCursor) ReaderIndex() int {
	return bc.rd
}

// WriterIndex returns the write position.
func (bc *ByteCursor) WriterIndex() int {
	return bc.wr
}

// IsReadable returns true if there are unread bytes.
func (bc *ByteCursor) IsReadable() bool {
	return bc.rd < len(bc.buf)
}

// IsWritable returns true if a write would not need to grow the buffer.
func (bc *ByteCursor) IsWritable() bool {
	return bc.wr < cap(bc.buf)
}

// ResetWriterIndex moves the writer back to the start of the buffer.
// Subsequent writes overwrite existing bytes until they pass the
// end of the written extent.
func (bc *ByteCursor) ResetWriterIndex() {
	bc.wr = 0
}

func (bc *ByteCursor) need(n int) error {
	if n < 0 || len(bc.buf)-bc.rd < n {
		return errors.WithStack(io.ErrUnexpectedEOF)
	}
	return nil
}

// ReadUint8 reads one byte.
func (bc *ByteCursor) ReadUint8() (v uint8, err error) {
	if err = bc.need(1); err == nil {
		v = bc.buf[bc.rd]
		bc.rd++
	}
	return
}

// ReadUint16 reads a 16-bit integer.
func (bc *ByteCursor) ReadUint16() (v uint16, err error) {
	if err = bc.need(2); err == nil {
		b := bc.buf[bc.rd:]
		v = uint16(b[0])<<8 | uint16(b[1])
		bc.rd += 2
	}
	return
}

// ReadUint24 reads a 24-bit integer.
func (bc *ByteCursor) ReadUint24() (v uint32, err error) {
	if err = bc.need(3); err == nil {
		b := bc.buf[bc.rd:]
		v = uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
		bc.rd += 3
	}
	return
}

// ReadUint32 reads a 32-bit integer.
func (bc *ByteCursor) ReadUint32() (v uint32, err error) {
	if err = bc.need(4); err == nil {
		b := bc.buf[bc.rd:]
		v = uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
		bc.rd += 4
	}
	return
}

// ReadUint64 reads a 64-bit integer.
func (bc *ByteCursor) ReadUint64() (v uint64, err error) {
	if err = bc.need(8); err == nil {
		b := bc.buf[bc.rd:]
		for i := 0; i < 8; i++ {
			v = v<<8 | uint64(b[i])
		}
		bc.rd += 8
	}
	return
}

// ReadBytes returns the next n bytes. The returned slice is a copy.
func (bc *ByteCursor) ReadBytes(n int) (b []byte, err error) {
	if err = bc.need(n); err == nil {
		b = make([]byte, n)
		copy(b, bc.buf[bc.rd:])
		bc.rd += n
	}
	return
}

// ReadString reads n bytes as a string.
func (bc *ByteCursor) ReadString(n int) (s string, err error) {
	if err = bc.need(n); err == nil {
		s = string(bc.buf[bc.rd : bc.rd+n])
		bc.rd += n
	}
	return
}

// Skip advances the read position by n bytes.
func (bc *ByteCursor) Skip(n int) (err error) {
	if err = bc.need(n); err == nil {
		bc.rd += n
	}
	return
}

func (bc *ByteCursor) grow(n int) []byte {
	end := bc.wr + n
	if end > len(bc.buf) {
		if end > cap(bc.buf) {
			nb := make([]byte, len(bc.buf), 2*cap(bc.buf)+n)
			copy(nb, bc.buf)
			bc.buf = nb
		}
		bc.buf = bc.buf[:end]
	}
	b := bc.buf[bc.wr:end]
	bc.wr = end
	return b
}

// WriteUint8 writes one byte.
func (bc *ByteCursor) WriteUint8(v uint8) {
	bc.grow(1)[0] = v
}

// WriteUint16 writes a 16-bit integer.
func (bc *ByteCursor) WriteUint16(v uint16) {
	b := bc.grow(2)
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

// WriteUint24 writes the low 24 bits of v.
func (bc *ByteCursor) WriteUint24(v uint32) {
	b := bc.grow(3)
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

// WriteUint32 writes a 32-bit integer.
func (bc *ByteCursor) WriteUint32(v uint32) {
	b := bc.grow(4)
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

// WriteUint64 writes a 64-bit integer.
func (bc *ByteCursor) WriteUint64(v uint64) {
	b := bc.grow(8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

// WriteBytes writes p as-is.
func (bc *ByteCursor) WriteBytes(p []byte) {
	copy(bc.grow(len(p)), p)
}

// WriteString writes s as-is.
func (bc *ByteCursor) WriteString(s string) {
	copy(bc.grow(len(s)), s)
}
