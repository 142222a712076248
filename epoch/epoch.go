// Package epoch detects epoch boundaries and computes the next
// epoch's (length, compact_target, base_block_reward, remainder_reward)
// from the just-finished epoch's observed duration, observed orphan
// rate, and previous difficulty. It is grounded on
// difficultymanager (domain/consensus/processes/difficultymanager),
// generalized from blue-work/hashrate windowed estimation (GHOSTDAG-
// specific, no analogue in a linear chain) to CKB's orphan-rate and
// epoch-duration target retarget, and bounded by the same
// minimum/maximum-epoch-length and maximum-difficulty-change-ratio
// style clamps that hashrate.go applies with big.Int arithmetic.
package epoch

import (
	"math/big"

	"github.com/cellnetio/cellchaind/externalapi"
)

// minEpochLengthFactor and maxEpochLengthFactor bound how far the next
// epoch's length may drift from the previous epoch's length in one
// retarget, expressed as a fraction of that previous length.
const (
	minEpochLengthFactorNum = 1
	minEpochLengthFactorDen = 10
	maxEpochLengthFactorNum = 10
	maxEpochLengthFactorDen = 1
)

// maxDifficultyChangeRatioNum/Den bounds how far the next epoch's target
// may move from the previous one in a single retarget (a factor-of-2
// clamp either direction, matching common PoW retarget practice).
const (
	maxDifficultyChangeRatioNum = 2
	maxDifficultyChangeRatioDen = 1
)

// ObservedEpoch is everything the retarget formula needs about the
// epoch that just finished.
type ObservedEpoch struct {
	Ext                *externalapi.EpochExt
	StartTimestampMs   uint64
	EndTimestampMs     uint64
	UnclesCount        uint64
	BlocksCount        uint64 // length of the epoch, i.e. Ext.Length
}

// IsLastBlockInEpoch reports whether blockNumber is the last block of
// the epoch described by ext: the boundary at which the next epoch's
// parameters must be derived.
func IsLastBlockInEpoch(ext *externalapi.EpochExt, blockNumber uint64) bool {
	return ext.IsLastBlockInEpoch(blockNumber)
}

// Cache memoizes a computed next-EpochExt by the hash of the last block
// of the epoch that produced it: the computation is pure, so
// recomputing it for the same boundary (e.g. while replaying during a
// reorg that revisits the same epoch boundary) is wasted work.
type Cache struct {
	entries map[externalapi.Byte32]*externalapi.EpochExt
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[externalapi.Byte32]*externalapi.EpochExt)}
}

// Get returns a cached next-epoch computation for lastBlockHash, if any.
func (c *Cache) Get(lastBlockHash externalapi.Byte32) (*externalapi.EpochExt, bool) {
	e, ok := c.entries[lastBlockHash]
	return e, ok
}

// Put stores a computation result for lastBlockHash.
func (c *Cache) Put(lastBlockHash externalapi.Byte32, next *externalapi.EpochExt) {
	c.entries[lastBlockHash] = next
}

// NextEpochExt computes the epoch that begins immediately after the
// observed one: the next epoch's length, compact
// target, and reward schedule are derived from the observed epoch's
// actual duration vs. consensus.EpochDurationTargetMs, the observed
// orphan rate vs. consensus.OrphanRateTarget, and the previous epoch's
// difficulty, each clamped to the bounds consensus fixes.
func NextEpochExt(observed ObservedEpoch, consensus *externalapi.Consensus) *externalapi.EpochExt {
	prev := observed.Ext

	duration := observed.EndTimestampMs - observed.StartTimestampMs
	if duration == 0 {
		duration = 1
	}

	// Target length adjustment: scale the previous length by the ratio
	// of actual to target duration, so an epoch that ran long is
	// followed by a longer one (and, below, a proportionally looser
	// target) and an epoch that ran short by a shorter one.
	targetDuration := consensus.EpochDurationTargetMs
	if targetDuration == 0 {
		targetDuration = 1
	}
	targetLength := new(big.Int).SetUint64(prev.Length)
	targetLength.Mul(targetLength, new(big.Int).SetUint64(duration))
	targetLength.Div(targetLength, new(big.Int).SetUint64(targetDuration))

	// Orphan-rate adjustment: if the observed orphan rate undershoots
	// the target, blocks are coming in slower than ideal relative to
	// propagation delay, so lengthen the epoch (lower difficulty
	// pressure); if it overshoots, shorten it. Applied multiplicatively
	// against the duration-adjusted length, using the Rational's exact
	// numerator/denominator to avoid floating point.
	observedOrphanNum := new(big.Int).SetUint64(observed.UnclesCount)
	observedOrphanDen := new(big.Int).SetUint64(observed.BlocksCount)
	if observedOrphanDen.Sign() == 0 {
		observedOrphanDen = big.NewInt(1)
	}
	targetOrphanNum := new(big.Int).SetUint64(consensus.OrphanRateTarget.Numer)
	targetOrphanDen := new(big.Int).SetUint64(consensus.OrphanRateTarget.Denom)
	if targetOrphanDen.Sign() == 0 {
		targetOrphanDen = big.NewInt(1)
	}

	adjustedLength := new(big.Int).Set(targetLength)
	if targetOrphanNum.Sign() > 0 {
		// adjustedLength *= (targetOrphanRate / observedOrphanRate)
		num := new(big.Int).Mul(targetOrphanNum, observedOrphanDen)
		den := new(big.Int).Mul(targetOrphanDen, observedOrphanNum)
		if den.Sign() > 0 && num.Sign() > 0 {
			adjustedLength.Mul(adjustedLength, num)
			adjustedLength.Div(adjustedLength, den)
		}
	}

	nextLength := clampEpochLength(adjustedLength, prev.Length, consensus.EpochDurationTargetMs)

	// Difficulty retarget: next target scales in proportion to the length
	// change (a longer epoch at the same hashrate implies blocks came
	// slower than wanted, so loosen the target; a shorter epoch implies
	// the target should tighten), clamped to a bounded change ratio.
	prevTarget := externalapi.CompactTargetToTarget(prev.CompactTarget)
	nextTarget := new(big.Int).Mul(prevTarget, new(big.Int).SetUint64(nextLength))
	nextTarget.Div(nextTarget, new(big.Int).SetUint64(prev.Length))
	nextTarget = clampTarget(nextTarget, prevTarget)

	baseReward, remainder := splitEpochReward(consensus.InitialPrimaryEpochReward, nextLength)

	return &externalapi.EpochExt{
		Number:                  prev.Number + 1,
		BaseBlockReward:         baseReward,
		RemainderReward:         remainder,
		PreviousEpochHashInPrev: prev.PreviousEpochHashInPrev,
		StartNumber:             prev.StartNumber + prev.Length,
		Length:                  nextLength,
		CompactTarget:           compactFromTarget(nextTarget),
	}
}

// clampEpochLength bounds a computed length to [prevLength/10,
// prevLength*10] and to at least 1 block.
func clampEpochLength(computed *big.Int, prevLength uint64, _ uint64) uint64 {
	min := new(big.Int).SetUint64(prevLength)
	min.Mul(min, big.NewInt(minEpochLengthFactorNum))
	min.Div(min, big.NewInt(minEpochLengthFactorDen))
	max := new(big.Int).SetUint64(prevLength)
	max.Mul(max, big.NewInt(maxEpochLengthFactorNum))
	max.Div(max, big.NewInt(maxEpochLengthFactorDen))

	if computed.Cmp(min) < 0 {
		computed = min
	}
	if computed.Cmp(max) > 0 {
		computed = max
	}
	if computed.Sign() <= 0 {
		return 1
	}
	return computed.Uint64()
}

// clampTarget bounds the next target to within a factor of
// maxDifficultyChangeRatio of the previous target, in either direction.
func clampTarget(next, prev *big.Int) *big.Int {
	upper := new(big.Int).Mul(prev, big.NewInt(maxDifficultyChangeRatioNum))
	upper.Div(upper, big.NewInt(maxDifficultyChangeRatioDen))
	lower := new(big.Int).Mul(prev, big.NewInt(maxDifficultyChangeRatioDen))
	lower.Div(lower, big.NewInt(maxDifficultyChangeRatioNum))

	if next.Cmp(upper) > 0 {
		return upper
	}
	if next.Cmp(lower) < 0 {
		return lower
	}
	return next
}

// compactFromTarget re-encodes a 256-bit target back into the 1-byte
// exponent / 3-byte mantissa compact form.
func compactFromTarget(target *big.Int) uint32 {
	bytesLen := (target.BitLen() + 7) / 8
	if bytesLen == 0 {
		return 0
	}
	mantissaBig := new(big.Int).Set(target)
	exponent := bytesLen
	if exponent > 3 {
		mantissaBig.Rsh(mantissaBig, uint(8*(exponent-3)))
	} else if exponent < 3 {
		mantissaBig.Lsh(mantissaBig, uint(8*(3-exponent)))
	}
	mantissa := uint32(mantissaBig.Uint64() & 0x00ffffff)
	return uint32(exponent)<<24 | mantissa
}

// splitEpochReward divides the epoch subsidy evenly over length blocks:
// the sum of per-block base rewards equals the epoch subsidy modulo the
// remainder, which is paid in the next epoch's first block.
func splitEpochReward(epochReward, length uint64) (base, remainder uint64) {
	if length == 0 {
		return 0, epochReward
	}
	return epochReward / length, epochReward % length
}
