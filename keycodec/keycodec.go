// Package keycodec binds typed fields into memcmp-ordered byte keys. A key
// is the tuple
// (table_tag uint64) || fields…, where every uint64 field is a fixed-width
// 8-byte big-endian integer and every string field is that same 8-byte
// length prefix followed by raw UTF-8 bytes. Two processes encoding the
// same logical tuple always produce byte-identical keys. Unlike
// LEB128/varint, whose continuation-bit groups are emitted least-significant
// first and so do not compare correctly byte-by-byte across values of
// different magnitude (300 encodes to a lower byte string than 200),
// comparing two encoded uint64 fields byte-by-byte always agrees with
// comparing the integers themselves. NextID's seek-to-last depends on this.
package keycodec

import (
	"encoding/binary"
	"errors"
)

// ErrShortBuffer is returned when a key is truncated mid-field.
var ErrShortBuffer = errors.New("keycodec: short buffer")

// uint64Width is the fixed width, in bytes, of an encoded uint64 field.
const uint64Width = 8

// Builder assembles a key one field at a time, in schema order.
type Builder struct {
	buf []byte
}

// NewBuilder starts an empty builder, for encoding tuples that are not
// table keys (e.g. a stored value that reuses this same fixed-width/length-
// prefixed-string tuple codec).
func NewBuilder() *Builder {
	return &Builder{buf: make([]byte, 0, 32)}
}

// NewKey starts a key for the given table tag.
func NewKey(tableTag uint64) *Builder {
	return NewBuilder().Uint64(tableTag)
}

// Uint64 appends a fixed-width 8-byte big-endian field.
func (b *Builder) Uint64(v uint64) *Builder {
	var tmp [uint64Width]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
	return b
}

// String appends an 8-byte big-endian length prefix followed by raw UTF-8 bytes.
func (b *Builder) String(s string) *Builder {
	return b.Uint64(uint64(len(s))).appendRaw(s)
}

func (b *Builder) appendRaw(s string) *Builder {
	b.buf = append(b.buf, s...)
	return b
}

// Bytes returns the encoded key. The builder must not be reused after this call.
func (b *Builder) Bytes() []byte {
	return b.buf
}

// Reader decodes fields out of an encoded key in the order they were written.
type Reader struct {
	buf []byte
}

// NewReader wraps an encoded key for field-by-field decoding, starting at
// the table tag.
func NewReader(key []byte) *Reader {
	return &Reader{buf: key}
}

// Uint64 decodes the next fixed-width 8-byte big-endian field.
func (r *Reader) Uint64() (uint64, error) {
	if len(r.buf) < uint64Width {
		return 0, ErrShortBuffer
	}
	v := binary.BigEndian.Uint64(r.buf[:uint64Width])
	r.buf = r.buf[uint64Width:]
	return v, nil
}

// String decodes the next length-prefixed string field.
func (r *Reader) String() (string, error) {
	l, err := r.Uint64()
	if err != nil {
		return "", err
	}
	if uint64(len(r.buf)) < l {
		return "", ErrShortBuffer
	}
	s := string(r.buf[:l])
	r.buf = r.buf[l:]
	return s, nil
}

// Remaining reports whether any undecoded bytes remain.
func (r *Reader) Remaining() int {
	return len(r.buf)
}

// TableTag decodes a key's leading table tag without disturbing a fresh
// Reader's position for the rest of its fields; callers typically use this
// once, on their own Reader instance, to dispatch on table before decoding
// the rest of the tuple.
func TableTag(key []byte) (uint64, error) {
	return NewReader(key).Uint64()
}

// Prefix returns the encoded bytes for a table tag alone, usable as a
// cursor prefix over every key in that table.
func Prefix(tableTag uint64) []byte {
	return NewKey(tableTag).Bytes()
}
