// Package wire implements the tag-length-value binary codec used for
// every structured record crossing the request and command endpoints
// (MasterRequest, MasterResponse, WorkerCommand, Frame, Array — see §6
// of the design document).
//
// Each record is a flat sequence of fields terminated by tagEnd. Every
// field is (tag byte, kind byte, value); the kind byte lets a reader
// skip a field it doesn't recognize without knowing its Go type ahead
// of time, so a newer peer can add optional fields without breaking an
// older one — the same forward-compatibility the teacher's ion-encoded
// records get from carrying a symbol table alongside the data.
package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Buffer is an append-only byte builder for encoding records.
type Buffer struct {
	buf []byte
}

func (b *Buffer) Reset() { b.buf = b.buf[:0] }

func (b *Buffer) Bytes() []byte { return b.buf }

func (b *Buffer) grow(n int) []byte {
	l := len(b.buf)
	if cap(b.buf)-l < n {
		nb := make([]byte, l, 2*(l+n)+64)
		copy(nb, b.buf)
		b.buf = nb
	}
	b.buf = b.buf[:l+n]
	return b.buf[l : l+n]
}

func (b *Buffer) field(tag, kind byte) {
	dst := b.grow(2)
	dst[0], dst[1] = tag, kind
}

// End writes the terminating tag that closes a record.
func (b *Buffer) End() {
	b.grow(1)[0] = tagEnd
}

func (b *Buffer) WriteBool(tag byte, v bool) {
	b.field(tag, kindBool)
	if v {
		b.grow(1)[0] = 1
	} else {
		b.grow(1)[0] = 0
	}
}

func (b *Buffer) WriteUint32(tag byte, v uint32) {
	b.field(tag, kindUint32)
	binary.LittleEndian.PutUint32(b.grow(4), v)
}

func (b *Buffer) WriteInt64(tag byte, v int64) {
	b.field(tag, kindInt64)
	binary.LittleEndian.PutUint64(b.grow(8), uint64(v))
}

func (b *Buffer) WriteUint64(tag byte, v uint64) {
	b.field(tag, kindUint64)
	binary.LittleEndian.PutUint64(b.grow(8), v)
}

func (b *Buffer) WriteFloat64(tag byte, v float64) {
	b.field(tag, kindFloat64)
	binary.LittleEndian.PutUint64(b.grow(8), math.Float64bits(v))
}

// WriteBytes writes a length-prefixed byte string.
func (b *Buffer) WriteBytes(tag byte, p []byte) {
	b.field(tag, kindBytes)
	binary.LittleEndian.PutUint32(b.grow(4), uint32(len(p)))
	copy(b.grow(len(p)), p)
}

// WriteString writes a length-prefixed UTF-8 string.
func (b *Buffer) WriteString(tag byte, s string) {
	b.WriteBytes(tag, []byte(s))
}

// WriteRaw writes a sub-record (the encoded bytes of a nested value,
// such as an Array) tagged so a reader that doesn't understand it can
// still skip over it.
func (b *Buffer) WriteRaw(tag byte, encoded []byte) {
	b.WriteBytes(tag, encoded)
}

// Reader decodes a record previously written with Buffer, tolerating
// trailing or interleaved unknown tags.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

var ErrShortBuffer = fmt.Errorf("wire: short buffer")

func (r *Reader) need(n int) ([]byte, error) {
	if len(r.buf)-r.pos < n {
		return nil, ErrShortBuffer
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// Field reads the next field's tag and kind, or (tagEnd, 0) if the
// record is exhausted.
func (r *Reader) Field() (tag, kind byte, err error) {
	b, err := r.need(1)
	if err != nil {
		return 0, 0, err
	}
	if b[0] == tagEnd {
		return tagEnd, 0, nil
	}
	k, err := r.need(1)
	if err != nil {
		return 0, 0, err
	}
	return b[0], k[0], nil
}

func (r *Reader) ReadBool() (bool, error) {
	b, err := r.need(1)
	if err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.need(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) ReadInt64() (int64, error) {
	b, err := r.need(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.need(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *Reader) ReadFloat64() (float64, error) {
	u, err := r.ReadUint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(u), nil
}

func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	return r.need(int(n))
}

func (r *Reader) ReadString() (string, error) {
	b, err := r.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Skip discards the value belonging to a field tag this reader doesn't
// recognize, using only the self-describing kind byte.
func (r *Reader) Skip(kind byte) error {
	switch kind {
	case kindBool:
		_, err := r.need(1)
		return err
	case kindUint32:
		_, err := r.need(4)
		return err
	case kindUint64, kindInt64, kindFloat64:
		_, err := r.need(8)
		return err
	case kindBytes:
		_, err := r.ReadBytes()
		return err
	default:
		return fmt.Errorf("wire: cannot skip field of unknown kind %d", kind)
	}
}

const tagEnd = 0xff

// value kinds: the self-describing part of each field that lets Skip
// discard a field without the caller needing to know its Go type.
const (
	kindBool = iota + 1
	kindUint32
	kindUint64
	kindInt64
	kindFloat64
	kindBytes
)
