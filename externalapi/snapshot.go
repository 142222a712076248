package externalapi

// Snapshot is an immutable read view of the chain at a fixed tip: all
// consumers (transaction pool, indexer, RPC tip queries) observe state
// changes only by being handed a new Snapshot, never by mutating one in
// place.
type Snapshot struct {
	TipHeader    *Header
	TipExt       *BlockExt
	CurrentEpoch *EpochExt

	// CellGetter resolves a live cell by out-point against this
	// snapshot's view of the cell set. Assigned by the chain service;
	// nil only in zero-value/test snapshots that don't need resolution.
	CellGetter func(OutPoint) (*CellMeta, bool)

	// HeaderGetter resolves a confirmed header by hash, used for
	// header-dep resolution and ancestor walks.
	HeaderGetter func(Byte32) (*Header, bool)

	// BlockNumberToHash resolves the canonical hash at a given height
	// on the chain this snapshot belongs to.
	BlockNumberToHash func(uint64) (Byte32, bool)

	// ProposalWindowSet is the rolling union of proposal short ids
	// across the current proposal window, used by the two-phase commit
	// check.
	ProposalWindowSet map[ProposalShortID]struct{}
}

// TipNumber returns the height of the snapshot's tip, or 0 if there is
// no tip header.
func (s *Snapshot) TipNumber() uint64 {
	if s == nil || s.TipHeader == nil {
		return 0
	}
	return s.TipHeader.Number
}

// TipHash returns the hash of the snapshot's tip header, computed with
// the given hasher.
func (s *Snapshot) TipHash(hasher HeaderHasher) Byte32 {
	if s == nil || s.TipHeader == nil {
		return Byte32{}
	}
	return hasher.HeaderHash(s.TipHeader)
}

// GetCell looks up a live cell in this snapshot, with a defensive nil
// check so an incomplete test snapshot returns "not found" rather than
// panicking.
func (s *Snapshot) GetCell(op OutPoint) (*CellMeta, bool) {
	if s == nil || s.CellGetter == nil {
		return nil, false
	}
	return s.CellGetter(op)
}

// GetHeader looks up a confirmed header by hash in this snapshot.
func (s *Snapshot) GetHeader(hash Byte32) (*Header, bool) {
	if s == nil || s.HeaderGetter == nil {
		return nil, false
	}
	return s.HeaderGetter(hash)
}

// OrphanEntry is a parent-unknown block awaiting its parent, together
// with the time it was received and an optional completion callback
// invoked once it is either accepted or rejected.
type OrphanEntry struct {
	Block          *Block
	ReceivedAtMs   uint64
	VerifyCallback func(accepted bool, err error)
}
