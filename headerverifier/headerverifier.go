// Package headerverifier runs a candidate header and block body through
// the structural and contextual checks: version, PoW,
// number, timestamp, epoch, compact target, merkle roots, extra hash,
// and the DAO accumulator. It is grounded on
// blockdag/validate.go (checkBlockHeaderContext, checkBlockSanity,
// CalcBlockSubsidy) for the split between structural ("non-contextual")
// and parent-dependent ("contextual") checks, and on
// domain/consensus/processes/difficultymanager for the epoch/target
// cross-check shape (this repo's sibling package epoch owns the
// retarget computation; this package only compares a candidate header
// against it).
package headerverifier

import (
	"sort"

	"github.com/cellnetio/cellchaind/externalapi"
	"github.com/cellnetio/cellchaind/internal/hashing"
	"github.com/cellnetio/cellchaind/ruleerrors"
)

// ProofOfWorkVerifier is the external collaborator that checks a
// header's nonce against its compact target -- the PoW function is a
// pluggable consensus parameter here, matching the delegation to an
// external ecc/crypto package for parts that are "somebody else's
// contract."
type ProofOfWorkVerifier interface {
	// Verify reports whether powHash (the digest of the header
	// excluding its nonce) combined with nonce satisfies compactTarget.
	Verify(powHash externalapi.Byte32, nonce [16]byte, compactTarget uint32) bool
}

// ParentContext carries everything about the candidate's parent and
// governing epoch that a contextual check needs.
type ParentContext struct {
	Parent              *externalapi.Header
	AncestorTimestamps  []uint64 // the last up-to-MedianTimeBlockCount ancestor timestamps, most recent last
	Epoch               *externalapi.EpochExt
	WallClockNowMs      uint64
	ExtensionHardforkOn bool
}

// BodyDigests carries the digests recomputed from a candidate block's
// body, compared against the values its header declares.
type BodyDigests struct {
	TransactionsRoot externalapi.Byte32
	ProposalsHash    externalapi.Byte32
	ExtraHash        externalapi.Byte32
	Dao              externalapi.DaoState
}

// VerifyNonContextual checks everything derivable from the header and
// body alone, with no reference to a parent: version, merkle roots,
// extra hash, and (via pow) proof of work.
func VerifyNonContextual(h *externalapi.Header, body BodyDigests, consensus *externalapi.Consensus, pow ProofOfWorkVerifier) error {
	if h.Version != consensus.BlockVersion {
		return ruleerrors.Errorf(ruleerrors.CategoryHeader, ruleerrors.ErrHeaderVersion,
			"header version %d does not match consensus version %d", h.Version, consensus.BlockVersion)
	}

	powHash := hashing.PowHash(h)
	if !pow.Verify(powHash, h.Nonce, h.CompactTarget) {
		return ruleerrors.New(ruleerrors.CategoryHeader, ruleerrors.ErrHeaderPow, "proof of work does not satisfy compact target")
	}

	if h.TransactionsRoot != body.TransactionsRoot {
		return ruleerrors.Errorf(ruleerrors.CategoryHeader, ruleerrors.ErrHeaderMerkleRoot,
			"transactions_root %s does not match recomputed %s", h.TransactionsRoot, body.TransactionsRoot)
	}
	if h.ProposalsHash != body.ProposalsHash {
		return ruleerrors.Errorf(ruleerrors.CategoryHeader, ruleerrors.ErrHeaderMerkleRoot,
			"proposals_hash %s does not match recomputed %s", h.ProposalsHash, body.ProposalsHash)
	}
	if h.ExtraHash != body.ExtraHash {
		return ruleerrors.Errorf(ruleerrors.CategoryHeader, ruleerrors.ErrHeaderExtraHash,
			"extra_hash %s does not match recomputed %s", h.ExtraHash, body.ExtraHash)
	}
	if h.Dao != body.Dao {
		return ruleerrors.New(ruleerrors.CategoryBlock, ruleerrors.ErrBlockInvalidDAO, "dao field does not match recomputed accumulator state")
	}
	return nil
}

// VerifyContextual checks everything that requires the parent and
// governing epoch: number sequencing, timestamp bounds, and the epoch
// and difficulty-target match.
func VerifyContextual(h *externalapi.Header, ctx ParentContext) error {
	if h.Number != ctx.Parent.Number+1 {
		return ruleerrors.Errorf(ruleerrors.CategoryHeader, ruleerrors.ErrHeaderNumber,
			"header number %d does not follow parent number %d", h.Number, ctx.Parent.Number)
	}

	medianMs := medianTimestamp(ctx.AncestorTimestamps)
	if h.TimestampMs <= medianMs {
		return ruleerrors.Errorf(ruleerrors.CategoryHeader, ruleerrors.ErrHeaderTimestampTooOld,
			"timestamp %d not after median-of-ancestors %d", h.TimestampMs, medianMs)
	}
	if h.TimestampMs > ctx.WallClockNowMs+externalapi.DefaultAllowedFutureBlockTimeMs {
		return ruleerrors.Errorf(ruleerrors.CategoryHeader, ruleerrors.ErrHeaderTimestampTooNew,
			"timestamp %d too far in the future of wall clock %d", h.TimestampMs, ctx.WallClockNowMs)
	}

	wantPacked := ctx.Epoch.NumberWithFraction(h.Number).Pack()
	if h.EpochPacked != wantPacked {
		return ruleerrors.Errorf(ruleerrors.CategoryHeader, ruleerrors.ErrHeaderEpoch,
			"epoch_packed %#x does not match expected %#x for this height", h.EpochPacked, wantPacked)
	}
	if h.CompactTarget != ctx.Epoch.CompactTarget {
		return ruleerrors.Errorf(ruleerrors.CategoryHeader, ruleerrors.ErrHeaderDifficultyTarget,
			"compact_target %#x does not match epoch target %#x", h.CompactTarget, ctx.Epoch.CompactTarget)
	}
	return nil
}

// VerifyExtension checks a block's extension bytes against the
// activation boundary: pre-hardfork, any non-empty extension is
// UnknownFields; post-hardfork, length must be in [1, MaxExtensionBytes].
func VerifyExtension(extension []byte, extensionHardforkOn bool, maxExtensionBytes int) error {
	if !extensionHardforkOn {
		if len(extension) > 0 {
			return ruleerrors.New(ruleerrors.CategoryHeader, ruleerrors.ErrHeaderUnknownFields,
				"block extension present before its activating hardfork")
		}
		return nil
	}
	if len(extension) == 0 {
		return ruleerrors.New(ruleerrors.CategoryHeader, ruleerrors.ErrHeaderEmptyBlockExtension,
			"block extension present but empty")
	}
	if len(extension) > maxExtensionBytes {
		return ruleerrors.Errorf(ruleerrors.CategoryHeader, ruleerrors.ErrHeaderExceededMaximumBlockExtensionBytes,
			"block extension length %d exceeds maximum %d", len(extension), maxExtensionBytes)
	}
	return nil
}

// medianTimestamp returns the median of up to
// DefaultMedianTimeBlockCount ancestor timestamps, the
// median-of-last-37-ancestor-timestamps rule.
func medianTimestamp(timestamps []uint64) uint64 {
	if len(timestamps) == 0 {
		return 0
	}
	sorted := append([]uint64(nil), timestamps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[len(sorted)/2]
}
