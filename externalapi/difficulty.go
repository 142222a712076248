package externalapi

import "math/big"

// Difficulty is cumulative proof-of-work difficulty, the sole
// fork-choice metric. It wraps big.Int because per-block targets easily
// exceed 64 bits once summed across a long chain.
type Difficulty struct {
	v *big.Int
}

// NewDifficulty wraps n as a Difficulty.
func NewDifficulty(n *big.Int) Difficulty {
	if n == nil {
		return Difficulty{v: new(big.Int)}
	}
	return Difficulty{v: new(big.Int).Set(n)}
}

// ZeroDifficulty returns the additive identity.
func ZeroDifficulty() Difficulty {
	return Difficulty{v: new(big.Int)}
}

// Int returns the underlying big.Int. Callers must not mutate it.
func (d Difficulty) Int() *big.Int {
	if d.v == nil {
		return new(big.Int)
	}
	return d.v
}

// Add returns d + other.
func (d Difficulty) Add(other Difficulty) Difficulty {
	return NewDifficulty(new(big.Int).Add(d.Int(), other.Int()))
}

// Cmp compares d to other: -1, 0, or 1.
func (d Difficulty) Cmp(other Difficulty) int {
	return d.Int().Cmp(other.Int())
}

// Clone returns a copy of d.
func (d Difficulty) Clone() Difficulty {
	return NewDifficulty(d.Int())
}

func (d Difficulty) String() string {
	return d.Int().String()
}

// CompactTargetToTarget expands a compact-encoded target (the classic
// "nBits" representation: a 1-byte exponent and 3-byte mantissa) into
// its full 256-bit value, used both to check PoW and to derive the
// per-block difficulty contribution (2^256 / (target+1)).
func CompactTargetToTarget(compact uint32) *big.Int {
	exponent := compact >> 24
	mantissa := new(big.Int).SetUint64(uint64(compact & 0x00ffffff))
	if exponent <= 3 {
		return mantissa.Rsh(mantissa, uint(8*(3-exponent)))
	}
	return mantissa.Lsh(mantissa, uint(8*(exponent-3)))
}

// DifficultyFromCompactTarget returns the per-block work contributed by
// a header with the given compact target: floor(2^256 / (target + 1)).
func DifficultyFromCompactTarget(compact uint32) Difficulty {
	target := CompactTargetToTarget(compact)
	one := big.NewInt(1)
	denom := new(big.Int).Add(target, one)
	if denom.Sign() == 0 {
		return ZeroDifficulty()
	}
	maxTarget := new(big.Int).Lsh(one, 256)
	return NewDifficulty(new(big.Int).Div(maxTarget, denom))
}
