package molecule

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/cellnetio/cellchaind/externalapi"
)

// Reader consumes a canonical encoding produced by Builder, mirroring
// it primitive for primitive so every Encode* function in this package
// has a symmetric Decode* counterpart.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for sequential decoding.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

func (r *Reader) take(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, errors.Errorf("molecule: short read: need %d bytes, have %d", n, r.Remaining())
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// Byte reads a single byte.
func (r *Reader) Byte() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Uint32 reads a little-endian u32.
func (r *Reader) Uint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Uint64 reads a little-endian u64.
func (r *Reader) Uint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Fixed reads exactly n raw bytes.
func (r *Reader) Fixed(n int) ([]byte, error) {
	b, err := r.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// Byte32 reads a 32-byte digest.
func (r *Reader) Byte32() (externalapi.Byte32, error) {
	b, err := r.take(externalapi.Byte32Size)
	if err != nil {
		return externalapi.Byte32{}, err
	}
	h, _ := externalapi.Byte32FromSlice(b)
	return h, nil
}

// ByteVec reads a u32-length-prefixed byte vector.
func (r *Reader) ByteVec() ([]byte, error) {
	n, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	return r.Fixed(int(n))
}

// Vec reads a u32 element count, then invokes read(i) for each element.
func (r *Reader) Vec(read func(i int) error) (int, error) {
	n, err := r.Uint32()
	if err != nil {
		return 0, err
	}
	for i := 0; i < int(n); i++ {
		if err := read(i); err != nil {
			return 0, err
		}
	}
	return int(n), nil
}

// Option reports the value present, and invokes read, whenever any
// bytes remain; it reads no presence tag.
func (r *Reader) Option(read func() error) (bool, error) {
	if r.Remaining() == 0 {
		return false, nil
	}
	// Options in this codec are distinguished by the caller knowing
	// whether a value is present from context (molecule's Option is a
	// zero-or-one-element table, not a self-describing tag), so callers
	// that need decode support pass an explicit presence flag instead;
	// this method exists for symmetry with Builder.Option and is used
	// only where the presence is unambiguous from remaining length.
	return true, read()
}
