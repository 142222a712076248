// Package molecule implements the canonical, deterministic binary
// encoding used to derive every digest in the chain core (tx_hash,
// script_hash, transactions_root, ...). It follows the fixed/dynamic
// vector layout rules of CKB's molecule format: fixed-size fields are
// written in place; variable-length fields (byte vectors, vectors of
// vectors) are written as a little-endian u32 length prefix followed by
// their elements.
package molecule

import (
	"encoding/binary"

	"github.com/cellnetio/cellchaind/externalapi"
)

// Builder accumulates a canonical encoding.
type Builder struct {
	buf []byte
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Bytes returns the accumulated encoding.
func (b *Builder) Bytes() []byte {
	return b.buf
}

// Byte appends a single byte.
func (b *Builder) Byte(v byte) *Builder {
	b.buf = append(b.buf, v)
	return b
}

// Uint32 appends a little-endian u32.
func (b *Builder) Uint32(v uint32) *Builder {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
	return b
}

// Uint64 appends a little-endian u64.
func (b *Builder) Uint64(v uint64) *Builder {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
	return b
}

// Fixed appends raw fixed-size bytes unchanged (e.g. a Byte32 or nonce).
func (b *Builder) Fixed(v []byte) *Builder {
	b.buf = append(b.buf, v...)
	return b
}

// Byte32 appends a Byte32 digest.
func (b *Builder) Byte32(v externalapi.Byte32) *Builder {
	b.buf = append(b.buf, v[:]...)
	return b
}

// ByteVec appends a variable-length byte vector as a u32 length prefix
// followed by its contents.
func (b *Builder) ByteVec(v []byte) *Builder {
	b.Uint32(uint32(len(v)))
	b.buf = append(b.buf, v...)
	return b
}

// Vec appends count, then invokes write(i) for i in [0, count) to encode
// each element of a vector of dynamic-size items.
func (b *Builder) Vec(count int, write func(i int)) *Builder {
	b.Uint32(uint32(count))
	for i := 0; i < count; i++ {
		write(i)
	}
	return b
}

// Option appends the encoded value when present and nothing when
// absent; no presence tag is written, so a reader must learn presence
// from context.
func (b *Builder) Option(present bool, write func()) *Builder {
	if !present {
		return b
	}
	write()
	return b
}
