// Package txverifier runs a transaction through the ten fixed-order
// sub-verifiers . Grounded on the
// transactionvalidator package for the "composed rules invoked by a
// fixed driver" shape, and on blockdag/validate.go
// (CheckTransactionSanity, CheckTransactionInputsAndCalulateFee,
// validateCoinbaseMaturity, SequenceLockActive) for concrete per-rule
// logic this generalizes from satoshi amounts and blue scores to cell
// capacities and epoch-with-fraction maturity.
package txverifier

import (
	"github.com/cellnetio/cellchaind/externalapi"
	"github.com/cellnetio/cellchaind/internal/molecule"
	"github.com/cellnetio/cellchaind/resolver"
	"github.com/cellnetio/cellchaind/ruleerrors"
)

// since field layout: top 3 bits select metric and relativity.
const (
	sinceFlagRelative    = uint64(1) << 63
	sinceMetricMask      = uint64(0x60000000_00000000)
	sinceMetricBlock     = uint64(0x00000000_00000000)
	sinceMetricEpoch     = uint64(0x20000000_00000000)
	sinceMetricTime      = uint64(0x40000000_00000000)
	sinceValueMask       = uint64(0x00FFFFFF_FFFFFFFF)
)

// Context carries everything a transaction's verification needs beyond
// the transaction and its resolved cells.
type Context struct {
	Consensus *externalapi.Consensus

	// TipEpoch is the epoch of the block the transaction is being
	// verified for inclusion in (or the pool tip, for pool entry).
	TipEpoch externalapi.EpochNumberWithFraction
	// TipNumber is the block number of that same block.
	TipNumber uint64
	// TipMedianTimeMs is tip's governing median-of-ancestors time, used
	// for the median-time since metric's absolute form.
	TipMedianTimeMs uint64

	// SinceRelativeUsesCommitTime selects the post-hardfork behavior
	// where relative time-since counts from the producing block's
	// commit time rather than its header timestamp.
	SinceRelativeUsesCommitTime bool
	// SinceFractionValidity gates the epoch-fraction since's
	// index<length && length>0 requirement.
	SinceFractionValidity bool
	// ScriptMultipleMatchesAllowed permits identical-image cell-dep
	// matches after the relevant hardfork (not used directly here; the
	// caller passes it to scriptverifier when building script groups).
	ScriptMultipleMatchesAllowed bool

	// MinFeeRate is the pool-entry-only minimum fee rate, in shannons
	// per byte. Zero disables FeeRateVerifier (consensus verification
	// never runs it).
	MinFeeRate uint64
}

// ProducerInfo is the contextual information about the block that
// produced a resolved input cell, needed by maturity/since checks.
type ProducerInfo struct {
	BlockNumber     uint64
	BlockEpoch      externalapi.EpochNumberWithFraction
	HeaderTimestamp uint64
	CommitTimestamp uint64
	IsCellbase      bool
}

// ProducerLookup resolves the producer info for a resolved input's
// originating transaction.
type ProducerLookup func(meta *externalapi.CellMeta) (ProducerInfo, error)

// Verify runs every sub-verifier in spec order over rt, returning the
// first failure. fee is meaningful only on success.
func Verify(rt *resolver.ResolvedTransaction, ctx Context, producer ProducerLookup) (fee uint64, err error) {
	tx := rt.Transaction
	isCellbase := tx.IsCellbase(ctx.TipNumber)

	if err := verifyVersion(tx, ctx.Consensus); err != nil {
		return 0, err
	}
	if err := verifySize(tx, ctx.Consensus); err != nil {
		return 0, err
	}
	if err := verifyEmpty(tx); err != nil {
		return 0, err
	}
	if !isCellbase {
		if err := verifyMaturity(rt, ctx, producer); err != nil {
			return 0, err
		}
		if err := verifySince(rt, ctx, producer); err != nil {
			return 0, err
		}
	}
	fee, err = verifyCapacity(rt, isCellbase)
	if err != nil {
		return 0, err
	}
	if err := verifyDuplicateDeps(tx); err != nil {
		return 0, err
	}
	if err := verifyOutputsData(tx); err != nil {
		return 0, err
	}
	// ScriptVerifier (sub-verifier 9) lives in package scriptverifier:
	// it needs a VM collaborator this package has no business depending
	// on. The chain service runs it after Verify returns, so the
	// fee-rate check below runs before any script does.
	if ctx.MinFeeRate > 0 {
		if err := verifyFeeRate(tx, fee, ctx.MinFeeRate); err != nil {
			return 0, err
		}
	}
	return fee, nil
}

func verifyVersion(tx *externalapi.Transaction, consensus *externalapi.Consensus) error {
	if tx.Version != consensus.TxVersion {
		return ruleerrors.Errorf(ruleerrors.CategoryTransaction, ruleerrors.ErrTxMismatchedVersion,
			"transaction version %d does not match consensus version %d", tx.Version, consensus.TxVersion)
	}
	return nil
}

func verifySize(tx *externalapi.Transaction, consensus *externalapi.Consensus) error {
	b := molecule.NewBuilder()
	molecule.Transaction(b, tx)
	size := uint64(len(b.Bytes()))
	if size > consensus.MaxBlockBytes {
		return ruleerrors.Errorf(ruleerrors.CategoryTransaction, ruleerrors.ErrTxExceededMaximumBytes,
			"serialized transaction size %d exceeds limit %d", size, consensus.MaxBlockBytes)
	}
	return nil
}

func verifyEmpty(tx *externalapi.Transaction) error {
	if len(tx.Inputs) == 0 {
		return ruleerrors.New(ruleerrors.CategoryTransaction, ruleerrors.ErrTxEmpty, "transaction has no inputs")
	}
	if len(tx.Outputs) == 0 {
		return ruleerrors.New(ruleerrors.CategoryTransaction, ruleerrors.ErrTxEmpty, "transaction has no outputs")
	}
	return nil
}

func verifyMaturity(rt *resolver.ResolvedTransaction, ctx Context, producer ProducerLookup) error {
	for _, meta := range rt.ResolvedInputs {
		info, err := producer(meta)
		if err != nil {
			return err
		}
		if !info.IsCellbase {
			continue
		}
		elapsed := ctx.TipEpoch.Sub(info.BlockEpoch)
		if elapsed.Compare(ctx.Consensus.CellbaseMaturity) < 0 {
			return ruleerrors.Errorf(ruleerrors.CategoryTransaction, ruleerrors.ErrTxCellbaseImmaturity,
				"cellbase output %s not yet mature: elapsed %s < required %s",
				meta.OutPoint, elapsed, ctx.Consensus.CellbaseMaturity)
		}
	}
	return nil
}

func verifySince(rt *resolver.ResolvedTransaction, ctx Context, producer ProducerLookup) error {
	for i, in := range rt.Transaction.Inputs {
		if in.Since == 0 {
			continue
		}
		if i >= len(rt.ResolvedInputs) {
			continue
		}
		meta := rt.ResolvedInputs[i]
		info, err := producer(meta)
		if err != nil {
			return err
		}
		if err := checkSince(in.Since, ctx, info); err != nil {
			return err
		}
	}
	return nil
}

func checkSince(since uint64, ctx Context, producer ProducerInfo) error {
	relative := since&sinceFlagRelative != 0
	metric := since & sinceMetricMask
	value := since & sinceValueMask

	switch metric {
	case sinceMetricBlock:
		if relative {
			return requireAtLeast(ctx.TipNumber, producer.BlockNumber+value, "block number")
		}
		return requireAtLeast(ctx.TipNumber, value, "block number")

	case sinceMetricEpoch:
		packed := externalapi.UnpackEpochNumberWithFraction(value)
		if ctx.SinceFractionValidity {
			if packed.Length == 0 || packed.Index >= packed.Length {
				return ruleerrors.New(ruleerrors.CategoryTransaction, ruleerrors.ErrTxInvalidSince,
					"since epoch fraction requires index < length and length > 0")
			}
		}
		if relative {
			sum := addEpochFractions(producer.BlockEpoch, packed)
			if ctx.TipEpoch.Compare(sum) < 0 {
				return ruleerrors.Errorf(ruleerrors.CategoryTransaction, ruleerrors.ErrTxInvalidSince,
					"since not reached: tip epoch %s < required %s", ctx.TipEpoch, sum)
			}
			return nil
		}
		if ctx.TipEpoch.Compare(packed) < 0 {
			return ruleerrors.Errorf(ruleerrors.CategoryTransaction, ruleerrors.ErrTxInvalidSince,
				"since not reached: tip epoch %s < required %s", ctx.TipEpoch, packed)
		}
		return nil

	case sinceMetricTime:
		base := producer.HeaderTimestamp
		if ctx.SinceRelativeUsesCommitTime {
			base = producer.CommitTimestamp
		}
		requiredMs := value * 1000
		if relative {
			return requireAtLeast(ctx.TipMedianTimeMs, base+requiredMs, "median time")
		}
		return requireAtLeast(ctx.TipMedianTimeMs, requiredMs, "median time")

	default:
		return ruleerrors.New(ruleerrors.CategoryTransaction, ruleerrors.ErrTxInvalidSince,
			"since field uses an unrecognized metric code")
	}
}

func addEpochFractions(base, delta externalapi.EpochNumberWithFraction) externalapi.EpochNumberWithFraction {
	// Adding two epoch-with-fraction values: normalize to base's
	// length, since relative-since deltas are always expressed in the
	// producer epoch's own fraction length.
	length := base.Length
	if length == 0 {
		length = 1
	}
	totalIndex := base.Index + delta.Index
	number := base.Number + delta.Number + totalIndex/length
	index := totalIndex % length
	return externalapi.EpochNumberWithFraction{Number: number, Index: index, Length: length}
}

func requireAtLeast(have, want uint64, what string) error {
	if have < want {
		return ruleerrors.Errorf(ruleerrors.CategoryTransaction, ruleerrors.ErrTxInvalidSince,
			"since not reached: %s %d < required %d", what, have, want)
	}
	return nil
}

func verifyCapacity(rt *resolver.ResolvedTransaction, isCellbase bool) (uint64, error) {
	var totalIn uint64
	if !isCellbase {
		for _, meta := range rt.ResolvedInputs {
			next := totalIn + meta.Output.Capacity
			if next < totalIn {
				return 0, ruleerrors.New(ruleerrors.CategoryTransaction, ruleerrors.ErrTxCapacityOverflow,
					"sum of input capacities overflows")
			}
			totalIn = next
		}
	}

	var totalOut uint64
	for i, out := range rt.Transaction.Outputs {
		occupied := out.OccupiedCapacity(len(rt.Transaction.OutputsData[i]))
		if out.Capacity < occupied {
			return 0, ruleerrors.Errorf(ruleerrors.CategoryTransaction, ruleerrors.ErrTxInsufficientCellCapacity,
				"output %d capacity %d below occupied capacity %d", i, out.Capacity, occupied)
		}
		next := totalOut + out.Capacity
		if next < totalOut {
			return 0, ruleerrors.New(ruleerrors.CategoryTransaction, ruleerrors.ErrTxCapacityOverflow,
				"sum of output capacities overflows")
		}
		totalOut = next
	}

	if isCellbase {
		return 0, nil
	}

	if totalIn < totalOut {
		return 0, ruleerrors.Errorf(ruleerrors.CategoryTransaction, ruleerrors.ErrTxOutputsSumOverflow,
			"total output capacity %d exceeds total input capacity %d", totalOut, totalIn)
	}
	return totalIn - totalOut, nil
}

func verifyDuplicateDeps(tx *externalapi.Transaction) error {
	seen := make(map[externalapi.OutPoint]struct{}, len(tx.CellDeps))
	for _, dep := range tx.CellDeps {
		if _, dup := seen[dep.OutPoint]; dup {
			return ruleerrors.Errorf(ruleerrors.CategoryTransaction, ruleerrors.ErrTxDuplicateDeps,
				"duplicate cell dep %s", dep.OutPoint)
		}
		seen[dep.OutPoint] = struct{}{}
	}
	return nil
}

// verifyOutputsData checks the outputs/outputs_data length match. This
// model's CellOutput carries no separate declared data_hash field (it is
// derived, not stored, becoming part of CellMeta only once a cell is
// attached) so there is nothing else to compare here; every CellMeta's
// DataHash is recomputed fresh from outputs_data via
// hashing.CellOutputDataHash at attach time, which makes a stale
// declared hash impossible by construction.
func verifyOutputsData(tx *externalapi.Transaction) error {
	if len(tx.Outputs) != len(tx.OutputsData) {
		return ruleerrors.Errorf(ruleerrors.CategoryTransaction, ruleerrors.ErrTxOutputsDataLengthMismatch,
			"outputs length %d does not match outputs_data length %d", len(tx.Outputs), len(tx.OutputsData))
	}
	return nil
}

func verifyFeeRate(tx *externalapi.Transaction, fee uint64, minFeeRate uint64) error {
	b := molecule.NewBuilder()
	molecule.Transaction(b, tx)
	size := uint64(len(b.Bytes()))
	if size == 0 {
		return nil
	}
	if fee/size < minFeeRate {
		return ruleerrors.Errorf(ruleerrors.CategoryTransaction, ruleerrors.ErrTxFeeRateTooLow,
			"fee rate %d below minimum %d", fee/size, minFeeRate)
	}
	return nil
}
