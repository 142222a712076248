// Package digest provides the canonical hash primitives used throughout
// the chain core: a single 256-bit digest function and the merkle root
// construction built on top of it.
package digest

import (
	"github.com/cellnetio/cellchaind/externalapi"
	"golang.org/x/crypto/blake2b"
)

// personalization is mixed into every digest so this chain's hashes
// never collide with blake2b used elsewhere in the same address space.
var personalization = []byte("ckb-default-hash")

// Sum256 returns the 256-bit personalized blake2b digest of data.
func Sum256(data []byte) externalapi.Byte32 {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err) // blake2b.New256 with a nil key never errors
	}
	h.Write(personalization)
	h.Write(data)
	sum := h.Sum(nil)
	b, _ := externalapi.Byte32FromSlice(sum)
	return b
}

// Writer accumulates bytes for a single digest computation, mirroring
// the hashes.HashWriter so serialization code can stream
// fields into a hash without building an intermediate buffer.
type Writer struct {
	h   blake2bHash
	err error
}

type blake2bHash interface {
	Write(p []byte) (int, error)
	Sum(b []byte) []byte
}

// NewWriter returns a fresh Writer.
func NewWriter() *Writer {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err)
	}
	h.Write(personalization)
	return &Writer{h: h}
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	return w.h.Write(p)
}

// Finalize returns the accumulated digest.
func (w *Writer) Finalize() externalapi.Byte32 {
	sum := w.h.Sum(nil)
	b, _ := externalapi.Byte32FromSlice(sum)
	return b
}

// MerkleRoot computes the root of a complete binary merkle tree over the
// given leaves: pairs are combined left||right, an unpaired last leaf at
// any level is duplicated against itself, mirroring the
// merkle.merkleRoot construction. Returns the zero digest for an empty
// input.
func MerkleRoot(leaves []externalapi.Byte32) externalapi.Byte32 {
	if len(leaves) == 0 {
		return externalapi.Byte32{}
	}
	level := make([]externalapi.Byte32, len(leaves))
	copy(level, leaves)
	for len(level) > 1 {
		next := make([]externalapi.Byte32, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, combine(left, right))
		}
		level = next
	}
	return level[0]
}

func combine(left, right externalapi.Byte32) externalapi.Byte32 {
	w := NewWriter()
	w.Write(left[:])
	w.Write(right[:])
	return w.Finalize()
}
