package chain

import (
	"github.com/pkg/errors"

	"github.com/cellnetio/cellchaind/cellset"
	"github.com/cellnetio/cellchaind/epoch"
	"github.com/cellnetio/cellchaind/externalapi"
)

// hashedHeader pairs a header with its own hash, carried together while
// walking ancestors so the walk never has to recompute a digest it
// already knows.
type hashedHeader struct {
	hash   externalapi.Byte32
	header *externalapi.Header
}

func (s *Service) headerByHash(hash externalapi.Byte32) (*hashedHeader, error) {
	if hash == s.genesisHash && s.genesisHeader != nil {
		return &hashedHeader{hash: hash, header: s.genesisHeader}, nil
	}
	h, err := getHeader(s.db, hash)
	if err != nil {
		return nil, errors.Wrapf(err, "header %s not found", hash)
	}
	return &hashedHeader{hash: hash, header: h}, nil
}

func (s *Service) parentOf(hh *hashedHeader) (*hashedHeader, error) {
	return s.headerByHash(hh.header.ParentHash)
}

// commonAncestor finds the highest header reachable from both a and b
// by walking parent pointers: walk the lower of the two down to the
// higher's level, then walk both in lockstep until hashes match.
func (s *Service) commonAncestor(a, b externalapi.Byte32) (*hashedHeader, error) {
	ha, err := s.headerByHash(a)
	if err != nil {
		return nil, err
	}
	hb, err := s.headerByHash(b)
	if err != nil {
		return nil, err
	}
	for ha.header.Number > hb.header.Number {
		if ha, err = s.parentOf(ha); err != nil {
			return nil, err
		}
	}
	for hb.header.Number > ha.header.Number {
		if hb, err = s.parentOf(hb); err != nil {
			return nil, err
		}
	}
	for ha.hash != hb.hash {
		if ha, err = s.parentOf(ha); err != nil {
			return nil, err
		}
		if hb, err = s.parentOf(hb); err != nil {
			return nil, err
		}
	}
	return ha, nil
}

// reorgPlan is the detach/attach suffix computed between the current
// tip and a new candidate tip: detach (deepest/newest first) and
// attach (oldest first), around a shared ancestor.
type reorgPlan struct {
	ancestor externalapi.Byte32
	detach   []externalapi.Byte32 // current tip down to ancestor, newest first
	attach   []externalapi.Byte32 // ancestor up to the candidate, oldest first
}

func (s *Service) computeReorgPlan(currentTip, candidate externalapi.Byte32) (*reorgPlan, error) {
	ancestor, err := s.commonAncestor(currentTip, candidate)
	if err != nil {
		return nil, err
	}

	var detach []externalapi.Byte32
	cur, err := s.headerByHash(currentTip)
	if err != nil {
		return nil, err
	}
	for cur.hash != ancestor.hash {
		detach = append(detach, cur.hash)
		if cur, err = s.parentOf(cur); err != nil {
			return nil, err
		}
	}

	var attachRev []externalapi.Byte32
	cand, err := s.headerByHash(candidate)
	if err != nil {
		return nil, err
	}
	for cand.hash != ancestor.hash {
		attachRev = append(attachRev, cand.hash)
		if cand, err = s.parentOf(cand); err != nil {
			return nil, err
		}
	}
	attach := make([]externalapi.Byte32, len(attachRev))
	for i, h := range attachRev {
		attach[len(attachRev)-1-i] = h
	}

	return &reorgPlan{ancestor: ancestor.hash, detach: detach, attach: attach}, nil
}

// cellSetAtParent reconstructs the live cell set as of the block named
// by parentHash: the base every candidate child's contextual
// verification runs against. When parentHash is the current tip this
// is just the live set; otherwise it is derived by detaching back to
// the common ancestor and re-attaching forward along the candidate's
// own branch, exactly the computation Reorganize performs, run here
// without committing so verification can run ahead of fork-choice.
func (s *Service) cellSetAtParent(parentHash externalapi.Byte32) (*cellset.Set, error) {
	tipHash := s.tipHash()
	if parentHash == tipHash {
		return s.cells.Clone(), nil
	}

	plan, err := s.computeReorgPlan(tipHash, parentHash)
	if err != nil {
		return nil, err
	}

	working := s.cells.Clone()
	lookup := producingTransactionLookup(s.db)
	for _, hash := range plan.detach {
		blk, err := getBlock(s.db, hash)
		if err != nil {
			return nil, err
		}
		if err := working.DetachBlockCell(blk, lookup); err != nil {
			return nil, err
		}
	}
	for _, hash := range plan.attach {
		blk, err := getBlock(s.db, hash)
		if err != nil {
			return nil, err
		}
		if err := working.AttachBlockCell(blk, blk.Header.Number, blk.Header.Epoch(), hash); err != nil {
			return nil, err
		}
	}
	return working, nil
}

// proposalWindowSetFor rebuilds the rolling proposal set needed for a
// block at blockNumber whose parent is parentHash: the
// union of proposal ids carried by every block at height in
// [blockNumber - farthest, blockNumber - closest]. Computed by direct
// scan rather than incremental bookkeeping so it is correct for any
// candidate branch, not only the canonical chain (whose own
// proposal.Window is also rebuilt from this scan after every tip
// change, by rebuildProposalWindow).
func (s *Service) proposalWindowSetFor(blockNumber uint64, parentHash externalapi.Byte32) (map[externalapi.ProposalShortID]struct{}, error) {
	window := s.consensus.ProposalWindow
	set := make(map[externalapi.ProposalShortID]struct{})
	if blockNumber <= window.Closest {
		return set, nil
	}
	lowNumber := uint64(0)
	if blockNumber > window.Farthest {
		lowNumber = blockNumber - window.Farthest
	}
	highNumber := blockNumber - window.Closest

	cur, err := s.headerByHash(parentHash)
	if err != nil {
		return nil, err
	}
	for cur.header.Number >= lowNumber {
		if cur.header.Number <= highNumber {
			blk, err := getBlock(s.db, cur.hash)
			if err != nil {
				return nil, err
			}
			for _, id := range blk.Proposals {
				set[id] = struct{}{}
			}
		}
		if cur.header.Number == 0 {
			break
		}
		if cur, err = s.parentOf(cur); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// fallingOutProposals returns the proposals of the block leaving the
// canonical window's far edge when a block at blockNumber attaches, or
// nil if no such block exists yet.
func (s *Service) fallingOutProposals(blockNumber uint64) ([]externalapi.ProposalShortID, error) {
	height, ok := fallingOutHeight(blockNumber, s.consensus.ProposalWindow)
	if !ok {
		return nil, nil
	}
	hash, ok := getHashByNumber(s.db, height)
	if !ok {
		return nil, nil
	}
	blk, err := getBlock(s.db, hash)
	if err != nil {
		return nil, err
	}
	return blk.Proposals, nil
}

func fallingOutHeight(blockNumber uint64, window externalapi.ProposalWindow) (uint64, bool) {
	if blockNumber < window.Farthest+1 {
		return 0, false
	}
	return blockNumber - window.Farthest - 1, true
}

// epochGoverning returns the EpochExt that governs the block identified
// by hash/header: the epoch whose StartNumber..StartNumber+Length-1
// range contains header.Number, recovered via the hash of that epoch's
// first block.
func (s *Service) epochGoverning(hash externalapi.Byte32, header *externalapi.Header) (*externalapi.EpochExt, error) {
	fraction := header.Epoch()
	startNumber := header.Number - fraction.Index
	if startNumber == header.Number {
		if hash == s.genesisHash {
			return getEpochByHash(s.db, s.genesisHash)
		}
	}
	startHash, ok := getHashByNumber(s.db, startNumber)
	if !ok {
		return nil, errors.Errorf("no indexed block at epoch-start height %d", startNumber)
	}
	return getEpochByHash(s.db, startHash)
}

// nextEpoch computes (and caches) the epoch that begins immediately
// after current, whose last block is lastBlockHash.
func (s *Service) nextEpoch(current *externalapi.EpochExt, lastBlockHash externalapi.Byte32) (*externalapi.EpochExt, error) {
	if cached, ok := s.epochCache.Get(lastBlockHash); ok {
		return cached, nil
	}
	startHash, ok := getHashByNumber(s.db, current.StartNumber)
	if !ok {
		return nil, errors.Errorf("no indexed block at epoch-start height %d", current.StartNumber)
	}
	startHeader, err := s.headerByHash(startHash)
	if err != nil {
		return nil, err
	}
	lastHeader, err := s.headerByHash(lastBlockHash)
	if err != nil {
		return nil, err
	}

	var unclesCount uint64
	cur := lastHeader
	for {
		blk, err := getBlock(s.db, cur.hash)
		if err != nil {
			return nil, err
		}
		unclesCount += uint64(len(blk.Uncles))
		if cur.hash == startHeader.hash {
			break
		}
		if cur, err = s.parentOf(cur); err != nil {
			return nil, err
		}
	}

	observed := epoch.ObservedEpoch{
		Ext:              current,
		StartTimestampMs: startHeader.header.TimestampMs,
		EndTimestampMs:   lastHeader.header.TimestampMs,
		UnclesCount:      unclesCount,
		BlocksCount:      current.Length,
	}
	next := epoch.NextEpochExt(observed, s.consensus)
	s.epochCache.Put(lastBlockHash, next)
	return next, nil
}

// ancestorTimestamps collects up to count timestamps walking back from
// hash (inclusive), most-recent-last, for the median-time-past check.
func (s *Service) ancestorTimestamps(hash externalapi.Byte32, count int) ([]uint64, error) {
	timestamps := make([]uint64, 0, count)
	cur, err := s.headerByHash(hash)
	if err != nil {
		return nil, err
	}
	for i := 0; i < count; i++ {
		timestamps = append(timestamps, cur.header.TimestampMs)
		if cur.header.Number == 0 {
			break
		}
		if cur, err = s.parentOf(cur); err != nil {
			return nil, err
		}
	}
	for i, j := 0, len(timestamps)-1; i < j; i, j = i+1, j-1 {
		timestamps[i], timestamps[j] = timestamps[j], timestamps[i]
	}
	return timestamps, nil
}

// totalDifficultyAt returns the cumulative difficulty stored for hash's
// block-ext.
func (s *Service) totalDifficultyAt(hash externalapi.Byte32) (externalapi.Difficulty, error) {
	if hash == s.genesisHash {
		return s.genesisDifficulty, nil
	}
	ext, err := getBlockExt(s.db, hash)
	if err != nil {
		return externalapi.ZeroDifficulty(), err
	}
	return ext.TotalDifficulty, nil
}
