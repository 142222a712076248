package chain

import (
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/cellnetio/cellchaind/cellset"
	"github.com/cellnetio/cellchaind/externalapi"
	"github.com/cellnetio/cellchaind/headerverifier"
	"github.com/cellnetio/cellchaind/internal/hashing"
	"github.com/cellnetio/cellchaind/proposal"
	"github.com/cellnetio/cellchaind/resolver"
	"github.com/cellnetio/cellchaind/ruleerrors"
	"github.com/cellnetio/cellchaind/scriptverifier"
	"github.com/cellnetio/cellchaind/txverifier"
)

// nowMs is the wall-clock reading contextual verification compares a
// header's timestamp against; a var (not a direct time.Now() call) so
// tests can stub it.
var nowMs = func() uint64 { return uint64(time.Now().UnixMilli()) }

// contextualVerify runs the full contextual verification pass against a
// candidate block whose parent is already known: epoch governance,
// header context, extension bounds, the proposal window, every
// transaction's resolution and sub-verifier chain, script execution,
// cellbase reward, DAO recomputation, and uncle bounds. On success it
// returns the BlockExt to persist and the live cell set as it would
// read immediately after this block attaches.
func (s *Service) contextualVerify(block *externalapi.Block, blockHash externalapi.Byte32, flags SwitchFlags) (*externalapi.BlockExt, *cellset.Set, error) {
	parent, err := s.headerByHash(block.Header.ParentHash)
	if err != nil {
		return nil, nil, err
	}
	parentExt, err := getBlockExt(s.db, parent.hash)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loading parent block-ext")
	}
	if parentExt.Verified == externalapi.VerifiedInvalid {
		return nil, nil, ruleerrors.New(ruleerrors.CategoryBlock, ruleerrors.ErrBlockTransactions,
			"parent block was previously marked invalid")
	}

	currentEpoch, err := s.epochGoverning(parent.hash, parent.header)
	if err != nil {
		return nil, nil, err
	}
	governEpoch := currentEpoch
	if !flags.Has(DisableEpoch) && currentEpoch.IsLastBlockInEpoch(parent.header.Number) {
		governEpoch, err = s.nextEpoch(currentEpoch, parent.hash)
		if err != nil {
			return nil, nil, err
		}
	}

	ancestorTimestamps, err := s.ancestorTimestamps(parent.hash, externalapi.DefaultMedianTimeBlockCount)
	if err != nil {
		return nil, nil, err
	}

	extensionOn := s.consensus.Hardfork.BlockExtension(governEpoch.Number)
	hctx := headerverifier.ParentContext{
		Parent:              parent.header,
		AncestorTimestamps:  ancestorTimestamps,
		Epoch:               governEpoch,
		WallClockNowMs:      nowMs(),
		ExtensionHardforkOn: extensionOn,
	}
	if err := headerverifier.VerifyContextual(&block.Header, hctx); err != nil {
		return nil, nil, err
	}
	if !flags.Has(DisableExtension) {
		if err := headerverifier.VerifyExtension(block.Extension, extensionOn, s.consensus.MaxExtensionBytes); err != nil {
			return nil, nil, err
		}
	}
	if !flags.Has(DisableUncles) {
		if err := s.verifyUncles(block, parent.header); err != nil {
			return nil, nil, err
		}
	}

	if err := verifyNoDuplicateProposals(block.Proposals); err != nil {
		return nil, nil, err
	}

	var proposalSet map[externalapi.ProposalShortID]struct{}
	if !flags.Has(DisableTwoPhaseCommit) {
		proposalSet, err = s.proposalWindowSetFor(block.Header.Number, parent.hash)
		if err != nil {
			return nil, nil, err
		}
	}

	workingCells, err := s.cellSetAtParent(parent.hash)
	if err != nil {
		return nil, nil, err
	}
	view := &candidateView{cells: workingCells, db: s.db}
	seen := resolver.NewSeenInputs()
	resolveOpts := resolver.Options{HeaderDepsImmatureHardforkActive: s.consensus.Hardfork.HeaderDepsImmature(governEpoch.Number)}

	txCtx := txverifier.Context{
		Consensus:                    s.consensus,
		TipEpoch:                     governEpoch.NumberWithFraction(block.Header.Number),
		TipNumber:                    block.Header.Number,
		TipMedianTimeMs:              medianOfTimestamps(ancestorTimestamps),
		SinceRelativeUsesCommitTime:  s.consensus.Hardfork.SinceRelativeUsesCommitTime(governEpoch.Number),
		SinceFractionValidity:        s.consensus.Hardfork.SinceFractionValidity(governEpoch.Number),
		ScriptMultipleMatchesAllowed: s.consensus.Hardfork.AllowSameDataMultiMatch(governEpoch.Number),
	}
	producer := s.producerLookup()

	txsFees := make([]uint64, len(block.Transactions))
	var totalFees uint64
	var occupiedDelta int64
	var cycleBudget uint64
	blockEpochFraction := governEpoch.NumberWithFraction(block.Header.Number)

	for txIndex := range block.Transactions {
		tx := &block.Transactions[txIndex]
		isCellbase := tx.IsCellbase(block.Header.Number)

		if !isCellbase && !flags.Has(DisableTwoPhaseCommit) {
			shortID := externalapi.NewProposalShortID(hashing.TxHash(tx))
			if !proposal.CheckCommit(shortID, proposalSet) {
				return nil, nil, ruleerrors.WrapTransactionError(txIndex, ruleerrors.New(
					ruleerrors.CategoryBlock, ruleerrors.ErrBlockCommit,
					"transaction committed outside its proposal window"))
			}
		}

		rt, err := resolver.Resolve(tx, view, seen, resolveOpts)
		if err != nil {
			return nil, nil, ruleerrors.WrapTransactionError(txIndex, err)
		}

		fee, err := txverifier.Verify(rt, txCtx, producer)
		if err != nil {
			return nil, nil, ruleerrors.WrapTransactionError(txIndex, err)
		}

		if !isCellbase && !flags.Has(DisableScript) {
			groups := scriptverifier.BuildGroups(rt, view.GetCellData, txCtx.ScriptMultipleMatchesAllowed)
			if err := s.scriptVerifier.VerifyGroups(groups, &cycleBudget); err != nil {
				return nil, nil, ruleerrors.WrapTransactionError(txIndex, err)
			}
		}

		txsFees[txIndex] = fee
		if !isCellbase {
			totalFees += fee
			for _, meta := range rt.ResolvedInputs {
				occupiedDelta -= int64(meta.Output.OccupiedCapacity(int(meta.DataLen)))
				workingCells.Remove(meta.OutPoint)
			}
		}

		txHash := hashing.TxHash(tx)
		for i, out := range tx.Outputs {
			op := externalapi.OutPoint{TxHash: txHash, Index: uint32(i)}
			meta := &externalapi.CellMeta{
				OutPoint: op,
				Output:   out.Clone(),
				DataHash: hashing.CellOutputDataHash(tx.OutputsData[i]),
				DataLen:  uint64(len(tx.OutputsData[i])),
				TransactionInfo: &externalapi.TransactionInfo{
					BlockNumber: block.Header.Number,
					BlockEpoch:  blockEpochFraction,
					TxIndex:     uint32(txIndex),
					BlockHash:   blockHash,
				},
			}
			occupiedDelta += int64(meta.Output.OccupiedCapacity(int(meta.DataLen)))
			workingCells.Add(op, meta)
		}
	}

	if !flags.Has(DisableReward) {
		if err := s.verifyCellbaseReward(block, governEpoch, totalFees); err != nil {
			return nil, nil, err
		}
	}

	issuance := governEpoch.BaseBlockReward + totalFees
	if governEpoch.IsLastBlockInEpoch(block.Header.Number) {
		issuance += governEpoch.RemainderReward
	}
	nextDao := block.Header.Dao
	if !flags.Has(DisableDAOHeader) {
		nextDao = headerverifier.NextDaoState(parent.header.Dao, issuance, occupiedDelta)
	}

	unclesHash := hashing.UnclesHash(block.Uncles)
	body := headerverifier.BodyDigests{
		TransactionsRoot: hashing.TransactionsRoot(block.Transactions),
		ProposalsHash:    hashing.ProposalsHash(block.Proposals),
		ExtraHash:        hashing.ExtraHash(unclesHash, block.Extension),
		Dao:              nextDao,
	}
	if err := headerverifier.VerifyNonContextual(&block.Header, body, s.consensus, s.pow); err != nil {
		return nil, nil, err
	}

	totalDifficulty := parentExt.TotalDifficulty.Add(externalapi.DifficultyFromCompactTarget(block.Header.CompactTarget))
	ext := &externalapi.BlockExt{
		ReceivedAtMs:     nowMs(),
		TotalDifficulty:  totalDifficulty,
		TotalUnclesCount: parentExt.TotalUnclesCount + uint64(len(block.Uncles)),
		Verified:         externalapi.VerifiedOK,
		TxsFees:          txsFees,
	}
	return ext, workingCells, nil
}

// medianOfTimestamps mirrors headerverifier's own median-of-ancestors
// rule so the same figure feeds txverifier's median-time since checks.
func medianOfTimestamps(timestamps []uint64) uint64 {
	if len(timestamps) == 0 {
		return 0
	}
	sorted := append([]uint64(nil), timestamps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[len(sorted)/2]
}

// verifyNoDuplicateProposals rejects a block that proposes the same
// short id twice.
func verifyNoDuplicateProposals(proposals []externalapi.ProposalShortID) error {
	seen := make(map[externalapi.ProposalShortID]struct{}, len(proposals))
	for _, id := range proposals {
		if _, dup := seen[id]; dup {
			return ruleerrors.New(ruleerrors.CategoryBlock, ruleerrors.ErrBlockDuplicatedProposals,
				"duplicate proposal id within one block")
		}
		seen[id] = struct{}{}
	}
	return nil
}

// verifyUncles bounds a block's declared uncles: at most MaxUnclesNum,
// each strictly older than the block itself and no more than
// MaxUnclesAge blocks behind it.
func (s *Service) verifyUncles(block *externalapi.Block, parent *externalapi.Header) error {
	if uint64(len(block.Uncles)) > s.consensus.MaxUnclesNum {
		return ruleerrors.Errorf(ruleerrors.CategoryBlock, ruleerrors.ErrBlockUncles,
			"block declares %d uncles, exceeding the maximum %d", len(block.Uncles), s.consensus.MaxUnclesNum)
	}
	for _, u := range block.Uncles {
		if u.Header.Number >= block.Header.Number {
			return ruleerrors.New(ruleerrors.CategoryBlock, ruleerrors.ErrBlockUncles,
				"uncle is not older than the including block")
		}
		if block.Header.Number-u.Header.Number > s.consensus.MaxUnclesAge {
			return ruleerrors.New(ruleerrors.CategoryBlock, ruleerrors.ErrBlockUncles,
				"uncle is older than the maximum allowed age")
		}
	}
	return nil
}

// verifyCellbaseReward checks that the cellbase transaction's total
// output capacity does not exceed what this block is entitled to
// issue: its share of the epoch's base block reward (plus any
// end-of-epoch remainder) plus the fees collected from every other
// transaction in the block. Only this amount ceiling is checked: the
// paid-to lock script and any reward-delay target are not checked.
func (s *Service) verifyCellbaseReward(block *externalapi.Block, governEpoch *externalapi.EpochExt, totalFees uint64) error {
	if len(block.Transactions) == 0 {
		return nil
	}
	cellbase := &block.Transactions[0]
	entitlement := governEpoch.BaseBlockReward + totalFees
	if governEpoch.IsLastBlockInEpoch(block.Header.Number) {
		entitlement += governEpoch.RemainderReward
	}
	var paid uint64
	for _, out := range cellbase.Outputs {
		next := paid + out.Capacity
		if next < paid {
			return ruleerrors.New(ruleerrors.CategoryCellbase, ruleerrors.ErrCellbaseInvalidRewardAmount,
				"cellbase output capacity overflows")
		}
		paid = next
	}
	if paid > entitlement {
		return ruleerrors.Errorf(ruleerrors.CategoryCellbase, ruleerrors.ErrCellbaseInvalidRewardAmount,
			"cellbase pays %d, exceeding entitlement %d", paid, entitlement)
	}
	return nil
}

// producerLookup adapts the store to txverifier.ProducerLookup.
func (s *Service) producerLookup() txverifier.ProducerLookup {
	db := s.db
	return func(meta *externalapi.CellMeta) (txverifier.ProducerInfo, error) {
		if meta.TransactionInfo == nil {
			return txverifier.ProducerInfo{}, errors.Errorf("cell %s has no producing-transaction info", meta.OutPoint)
		}
		header, err := getHeader(db, meta.TransactionInfo.BlockHash)
		if err != nil {
			return txverifier.ProducerInfo{}, errors.Wrapf(err, "producing block %s", meta.TransactionInfo.BlockHash)
		}
		// CommitTimestamp is the producing block's own past-median-time,
		// not its raw (miner-chosen) header timestamp: RFC0038 switches
		// relative time-since to this value precisely because the raw
		// header timestamp is the one field a block producer can nudge
		// within the allowed future-time slack.
		producerAncestorTimestamps, err := s.ancestorTimestamps(meta.TransactionInfo.BlockHash, externalapi.DefaultMedianTimeBlockCount)
		if err != nil {
			return txverifier.ProducerInfo{}, errors.Wrapf(err, "producing block %s ancestor timestamps", meta.TransactionInfo.BlockHash)
		}
		return txverifier.ProducerInfo{
			BlockNumber:     meta.TransactionInfo.BlockNumber,
			BlockEpoch:      meta.TransactionInfo.BlockEpoch,
			HeaderTimestamp: header.TimestampMs,
			CommitTimestamp: medianOfTimestamps(producerAncestorTimestamps),
			IsCellbase:      meta.IsCellbase(),
		}, nil
	}
}
