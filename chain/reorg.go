package chain

import (
	"github.com/pkg/errors"

	"github.com/cellnetio/cellchaind/cellset"
	"github.com/cellnetio/cellchaind/externalapi"
	"github.com/cellnetio/cellchaind/proposal"
	"github.com/cellnetio/cellchaind/store"
)

// extendTip commits block directly on top of the current tip: the fast
// path through the store-side/reorganize split when the candidate's
// parent already is the tip, so no detach/attach walk is needed.
func (s *Service) extendTip(block *externalapi.Block, hash externalapi.Byte32, ext *externalapi.BlockExt, workingCells *cellset.Set) error {
	txn, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer txn.RollbackUnlessClosed()

	parentHeader, err := getHeader(txn, block.Header.ParentHash)
	if err != nil {
		return err
	}
	governEpoch, err := s.commitEpochBoundary(txn, block.Header.ParentHash, parentHeader, hash)
	if err != nil {
		return err
	}
	if err := putIndex(txn, block.Header.Number, hash); err != nil {
		return err
	}
	if err := putTipHeader(txn, hash); err != nil {
		return err
	}
	if err := applyBlockCellsToStore(txn, block, block.Header.Number, block.Header.Epoch(), hash); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return err
	}

	s.mu.Lock()
	s.cells = workingCells
	s.currentTip = hash
	s.mu.Unlock()
	proposals := s.rebuildProposalWindow(block.Header.Number + 1)

	snapshot := s.publishNewTip(&block.Header, ext, governEpoch, proposals)
	s.publish(ChainEvent{
		Kind:     EventNewTip,
		Attached: []*externalapi.Block{block},
		Snapshot: snapshot,
	})
	return nil
}

// reorganize switches the canonical chain from the current tip onto
// block: detach the current tip's suffix back to the common ancestor
// (newest first), then attach every
// block of the candidate's own branch forward from there (oldest
// first, ending with block itself). Each detach/attach step commits in
// its own transaction rather than one all-encompassing transaction --
// a deliberate simplification recorded in DESIGN.md, since this writer
// is single-threaded and crash-recovery mid-reorg is not a modeled
// concern here.
func (s *Service) reorganize(block *externalapi.Block, hash externalapi.Byte32, ext *externalapi.BlockExt, workingCells *cellset.Set) error {
	oldTip := s.tipHash()
	plan, err := s.computeReorgPlan(oldTip, hash)
	if err != nil {
		return err
	}

	var detached, attached []*externalapi.Block

	for _, dh := range plan.detach {
		blk, err := getBlock(s.db, dh)
		if err != nil {
			return err
		}
		if err := s.detachOne(blk, dh); err != nil {
			return err
		}
		detached = append(detached, blk)
	}

	ancestorHeader, err := s.headerByHash(plan.ancestor)
	if err != nil {
		return err
	}
	prevHash, prevHeader := plan.ancestor, ancestorHeader.header

	for _, ah := range plan.attach {
		var blk *externalapi.Block
		if ah == hash {
			blk = block
		} else {
			blk, err = getBlock(s.db, ah)
			if err != nil {
				return err
			}
		}
		if _, err = s.attachOne(blk, ah, prevHash, prevHeader); err != nil {
			return err
		}
		attached = append(attached, blk)
		prevHash, prevHeader = ah, &blk.Header
	}

	s.mu.Lock()
	s.cells = workingCells
	s.currentTip = hash
	s.mu.Unlock()
	proposals := s.rebuildProposalWindow(block.Header.Number + 1)

	governEpoch, err := s.epochGoverning(hash, &block.Header)
	if err != nil {
		return err
	}
	snapshot := s.publishNewTip(&block.Header, ext, governEpoch, proposals)
	s.publish(ChainEvent{
		Kind:                EventChainReorg,
		Detached:            detached,
		Attached:            attached,
		DetachedProposalIDs: detachedProposalSet(detached),
		Snapshot:            snapshot,
	})
	return nil
}

// detachOne removes one block from the canonical chain's durable
// state: its height index entry and the cells it contributed, undone
// in the live cell-set column via undoBlockCellsFromStore. It never
// deletes the block's own header/body/ext, since a later reorg may
// re-attach it and the published ChainEvent still needs to name it.
func (s *Service) detachOne(blk *externalapi.Block, hash externalapi.Byte32) error {
	txn, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer txn.RollbackUnlessClosed()
	if err := deleteIndex(txn, blk.Header.Number, hash); err != nil {
		return err
	}
	if err := undoBlockCellsFromStore(txn, blk); err != nil {
		return err
	}
	return txn.Commit()
}

// attachOne commits one block of the candidate's own branch onto the
// chain being reorganized onto, including the epoch-boundary bookkeeping
// a fresh tip extension would also need.
func (s *Service) attachOne(blk *externalapi.Block, hash, parentHash externalapi.Byte32, parentHeader *externalapi.Header) (*externalapi.EpochExt, error) {
	txn, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer txn.RollbackUnlessClosed()

	governEpoch, err := s.commitEpochBoundary(txn, parentHash, parentHeader, hash)
	if err != nil {
		return nil, err
	}
	if err := putIndex(txn, blk.Header.Number, hash); err != nil {
		return nil, err
	}
	if err := applyBlockCellsToStore(txn, blk, blk.Header.Number, blk.Header.Epoch(), hash); err != nil {
		return nil, err
	}
	if err := txn.Commit(); err != nil {
		return nil, err
	}
	return governEpoch, nil
}

// commitEpochBoundary writes the epoch bookkeeping for a block newly
// committed at newBlockHash whose parent is (parentHash, parentHeader):
// if the parent was the last block of its epoch, this block starts the
// next one (computed via nextEpoch and recorded under its own hash);
// otherwise the governing epoch is unchanged.
func (s *Service) commitEpochBoundary(txn store.Transaction, parentHash externalapi.Byte32, parentHeader *externalapi.Header, newBlockHash externalapi.Byte32) (*externalapi.EpochExt, error) {
	parentEpoch, err := s.epochGoverning(parentHash, parentHeader)
	if err != nil {
		return nil, err
	}
	if parentEpoch.IsLastBlockInEpoch(parentHeader.Number) {
		next, err := s.nextEpoch(parentEpoch, parentHash)
		if err != nil {
			return nil, err
		}
		if err := putEpochByHash(txn, newBlockHash, next); err != nil {
			return nil, err
		}
		if err := putCurrentEpoch(txn, next); err != nil {
			return nil, err
		}
		return next, nil
	}
	if err := putCurrentEpoch(txn, parentEpoch); err != nil {
		return nil, err
	}
	return parentEpoch, nil
}

// rebuildProposalWindow recomputes s.proposalWindow from scratch for a
// block about to be produced at nextBlockNumber against the new tip --
// simpler and less error-prone than threading incremental Attach/Detach
// calls through a multi-block reorg, at the cost of an ancestor scan
// per tip change. proposalWindowSetFor is the same mechanism
// contextual verification already uses for arbitrary candidates. It
// returns the set it computed so publishNewTip, called for the same
// (nextBlockNumber, tip) pair right after, doesn't repeat the scan.
func (s *Service) rebuildProposalWindow(nextBlockNumber uint64) map[externalapi.ProposalShortID]struct{} {
	set, err := s.proposalWindowSetFor(nextBlockNumber, s.tipHash())
	if err != nil {
		s.log.Warnf("rebuilding proposal window: %s", err)
		return nil
	}
	ids := make([]externalapi.ProposalShortID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	window := proposal.NewWindow()
	window.Attach(ids, nil)
	s.mu.Lock()
	s.proposalWindow = window
	s.mu.Unlock()
	return set
}

// publishNewTip builds and stores the Snapshot for the new tip and
// returns it for inclusion in the ChainEvent. proposals is the set
// rebuildProposalWindow already computed for this same tip change.
func (s *Service) publishNewTip(tip *externalapi.Header, ext *externalapi.BlockExt, governEpoch *externalapi.EpochExt, proposals map[externalapi.ProposalShortID]struct{}) *externalapi.Snapshot {
	snapshot := s.buildSnapshot(tip.Clone(), ext, governEpoch, proposals)
	s.snapshot.Store(snapshot)
	return snapshot
}

// Truncate rewinds the tip back to targetHash, which must be an
// ancestor of the current tip -- an administrative rollback / test
// harness operation. Unlike a normal reorganize it never attaches
// anything: the candidate being switched to is strictly behind the
// current tip.
func (s *Service) Truncate(targetHash externalapi.Byte32) error {
	done := make(chan error, 1)
	job := blockJob{done: done, truncateTarget: &targetHash}
	select {
	case s.submissions <- job:
	case <-s.quit:
		return errors.New("chain service is shutting down")
	}
	select {
	case err := <-done:
		return err
	case <-s.quit:
		return errors.New("chain service is shutting down")
	}
}

// truncateTo performs the actual rewind; invoked by the writer
// goroutine so it never races an in-flight processBlock call.
func (s *Service) truncateTo(targetHash externalapi.Byte32) error {
	currentTip := s.tipHash()
	if targetHash == currentTip {
		return nil
	}

	target, err := s.headerByHash(targetHash)
	if err != nil {
		return err
	}
	cur, err := s.headerByHash(currentTip)
	if err != nil {
		return err
	}
	var detached []*externalapi.Block
	for cur.hash != targetHash {
		if cur.header.Number <= target.header.Number {
			return errors.Errorf("truncate target %s is not an ancestor of the current tip", targetHash)
		}
		blk, err := getBlock(s.db, cur.hash)
		if err != nil {
			return err
		}
		if err := s.detachOne(blk, cur.hash); err != nil {
			return err
		}
		detached = append(detached, blk)
		if cur, err = s.parentOf(cur); err != nil {
			return err
		}
	}

	txn, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer txn.RollbackUnlessClosed()
	if err := putTipHeader(txn, targetHash); err != nil {
		return err
	}
	governEpoch, err := s.epochGoverning(targetHash, target.header)
	if err != nil {
		return err
	}
	if err := putCurrentEpoch(txn, governEpoch); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return err
	}

	cells, err := s.cellSetAtParent(targetHash)
	if err != nil {
		return err
	}
	ext, err := getBlockExt(s.db, targetHash)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.cells = cells
	s.currentTip = targetHash
	s.mu.Unlock()
	proposals := s.rebuildProposalWindow(target.header.Number + 1)
	snapshot := s.publishNewTip(target.header, ext, governEpoch, proposals)
	s.publish(ChainEvent{
		Kind:                EventChainReorg,
		Detached:            detached,
		DetachedProposalIDs: detachedProposalSet(detached),
		Snapshot:            snapshot,
	})
	return nil
}

func detachedProposalSet(detached []*externalapi.Block) map[externalapi.ProposalShortID]struct{} {
	set := make(map[externalapi.ProposalShortID]struct{})
	for _, blk := range detached {
		for _, id := range blk.Proposals {
			set[id] = struct{}{}
		}
	}
	return set
}
