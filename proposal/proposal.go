// Package proposal maintains the rolling proposal_window_set used to
// enforce a two-phase commit rule: a transaction may only be committed
// at height H if its short id was proposed at some height in
// [H - farthest, H - closest]. daglabs-btcd has no propose/commit phase
// separation, so this package is grounded on the surrounding idiom --
// plain map-backed sets mutated in place by attach/detach, matching
// cellset's shape -- rather than on a single corresponding file.
package proposal

import "github.com/cellnetio/cellchaind/externalapi"

// Window tracks the union of proposal short ids across the blocks
// currently inside the commit window.
type Window struct {
	// counts maps a short id to the number of blocks in the current
	// window that proposed it, since the same id could in principle be
	// proposed by more than one block within the window.
	counts map[externalapi.ProposalShortID]int
}

// NewWindow returns an empty Window.
func NewWindow() *Window {
	return &Window{counts: make(map[externalapi.ProposalShortID]int)}
}

// Contains reports whether id is inside the current window.
func (w *Window) Contains(id externalapi.ProposalShortID) bool {
	return w.counts[id] > 0
}

// Snapshot returns the current window's membership as a plain set, to
// be consulted by a single candidate block's commit check without
// Window's mutation methods being exposed.
func (w *Window) Snapshot() map[externalapi.ProposalShortID]struct{} {
	out := make(map[externalapi.ProposalShortID]struct{}, len(w.counts))
	for id, n := range w.counts {
		if n > 0 {
			out[id] = struct{}{}
		}
	}
	return out
}

func (w *Window) add(ids []externalapi.ProposalShortID) {
	for _, id := range ids {
		w.counts[id]++
	}
}

func (w *Window) drop(ids []externalapi.ProposalShortID) {
	for _, id := range ids {
		if w.counts[id] <= 1 {
			delete(w.counts, id)
			continue
		}
		w.counts[id]--
	}
}

// Attach advances the window for a block newly attached at blockNumber:
// the proposals of the block falling out of the window's far edge are
// dropped, and newBlockProposals are added. fallingOutProposals should
// be the Proposals of the block at height blockNumber - farthest - 1,
// or nil if no such block exists yet (chain shorter than the window).
func (w *Window) Attach(newBlockProposals []externalapi.ProposalShortID, fallingOutProposals []externalapi.ProposalShortID) {
	if fallingOutProposals != nil {
		w.drop(fallingOutProposals)
	}
	w.add(newBlockProposals)
}

// Detach is the exact inverse of Attach, used when unwinding a block
// during a reorg.
func (w *Window) Detach(detachedBlockProposals []externalapi.ProposalShortID, reenteringProposals []externalapi.ProposalShortID) {
	w.drop(detachedBlockProposals)
	if reenteringProposals != nil {
		w.add(reenteringProposals)
	}
}

// FallingOutHeight returns the height of the block whose proposals
// leave the window when a block at blockNumber is attached, per
// : H - farthest - 1. Returns false if that height would
// be before genesis.
func FallingOutHeight(blockNumber uint64, window externalapi.ProposalWindow) (uint64, bool) {
	if blockNumber < window.Farthest+1 {
		return 0, false
	}
	return blockNumber - window.Farthest - 1, true
}

// CheckCommit reports whether short_id(t) = s is committable at height
// H given the window snapshot for H: s must appear in the proposal set
// of some block at height h' with H - farthest <= h' <= H - closest.
// Since the snapshot already only contains ids within that range, this
// is just membership.
func CheckCommit(id externalapi.ProposalShortID, windowSnapshot map[externalapi.ProposalShortID]struct{}) bool {
	_, ok := windowSnapshot[id]
	return ok
}
