package externalapi

import "fmt"

// EpochNumberWithFraction packs an epoch number together with a
// within-epoch position (index/length), as used by header.EpochPacked
// and by since/maturity comparisons that need fractional-epoch
// precision.
type EpochNumberWithFraction struct {
	Number uint64
	Index  uint64
	Length uint64
}

// Pack encodes the triple as CKB's 64-bit epoch_packed value:
// bits 0-23 number, 24-39 index, 40-55 length, 56-63 a block-number-index
// flag unused here (always 0).
func (e EpochNumberWithFraction) Pack() uint64 {
	return e.Number&0xffffff | (e.Index&0xffff)<<24 | (e.Length&0xffff)<<40
}

// UnpackEpochNumberWithFraction decodes a packed epoch value.
func UnpackEpochNumberWithFraction(packed uint64) EpochNumberWithFraction {
	return EpochNumberWithFraction{
		Number: packed & 0xffffff,
		Index:  (packed >> 24) & 0xffff,
		Length: (packed >> 40) & 0xffff,
	}
}

// IsValid reports whether the fraction is well formed: length must be
// positive and index must fall strictly within it.
func (e EpochNumberWithFraction) IsValid() bool {
	return e.Length > 0 && e.Index < e.Length
}

// fraction returns index/length as a pair usable for cross-multiplied
// comparison without floating point.
func (e EpochNumberWithFraction) fraction() (num, den uint64) {
	if e.Length == 0 {
		return 0, 1
	}
	return e.Index, e.Length
}

// Compare orders two epoch-with-fraction values: first by Number, then
// by the fractional position Index/Length.
func (e EpochNumberWithFraction) Compare(other EpochNumberWithFraction) int {
	if e.Number != other.Number {
		if e.Number < other.Number {
			return -1
		}
		return 1
	}
	an, ad := e.fraction()
	bn, bd := other.fraction()
	left := an * bd
	right := bn * ad
	switch {
	case left < right:
		return -1
	case left > right:
		return 1
	default:
		return 0
	}
}

// Sub returns e - other as a (possibly fractional) epoch delta, used by
// relative-since and relative-maturity checks. Returned as a rational
// number scaled by a common denominator suitable for comparison against
// another EpochNumberWithFraction via Compare semantics.
func (e EpochNumberWithFraction) Sub(other EpochNumberWithFraction) EpochNumberWithFraction {
	// Bring both fractions over the common denominator ad*bd before
	// subtracting, so neither operand's length is favoured.
	an, ad := e.fraction()
	bn, bd := other.fraction()
	number := int64(e.Number) - int64(other.Number)
	// cross to common denominator ad*bd; diffNum/  (ad*bd) is the
	// fractional remainder, and only reduces to diffNum/bd when ad
	// divides evenly into it, which isn't true in general.
	diffNum := int64(an*bd) - int64(bn*ad)
	if diffNum < 0 {
		// borrow one whole epoch unit
		number--
		diffNum += int64(ad * bd)
	}
	return EpochNumberWithFraction{
		Number: uint64(number),
		Index:  uint64(diffNum),
		Length: ad * bd,
	}
}

func (e EpochNumberWithFraction) String() string {
	return fmt.Sprintf("%d(%d/%d)", e.Number, e.Index, e.Length)
}

// DaoState is the four accumulator fields of the NervosDAO, threaded
// through the header's Dao field and recomputed on every block.
//
// See SPEC_FULL.md's "DAO field semantics" decision: C is cumulative issued
// capacity, AR is the accumulated interest rate (fixed point, scaled by
// 1e16), S is cumulative occupied capacity, U is cumulative
// withdraw-able capacity.
type DaoState struct {
	C  uint64
	AR uint64
	S  uint64
	U  uint64
}
