package chain

import (
	"github.com/cellnetio/cellchaind/cellset"
	"github.com/cellnetio/cellchaind/externalapi"
	"github.com/cellnetio/cellchaind/store"
)

// candidateView is the resolver.View a candidate block's transactions
// resolve against: live cells come from an in-memory cellset.Set (the
// tip's, or a side branch's reconstructed via cellSetAtParent), headers
// and cell data come straight from the store.
type candidateView struct {
	cells *cellset.Set
	db    store.DataAccessor
}

func (v *candidateView) GetCell(op externalapi.OutPoint) (*externalapi.CellMeta, bool) {
	return v.cells.Get(op)
}

func (v *candidateView) GetHeader(hash externalapi.Byte32) (*externalapi.Header, bool) {
	h, err := getHeader(v.db, hash)
	if err != nil {
		return nil, false
	}
	return h, true
}

func (v *candidateView) GetCellData(op externalapi.OutPoint) ([]byte, bool) {
	meta, ok := v.cells.Get(op)
	if !ok {
		return nil, false
	}
	raw, err := getCellOutputData(v.db, op, meta)
	if err != nil {
		return nil, false
	}
	return raw, true
}

// getCellOutputData recovers the raw data payload of a cell by reading
// back the stored body of the block that produced it: CellMeta only
// carries the data's digest and length, not the bytes themselves, so
// the callers that need the actual bytes (dep-group expansion and
// script program loading) go by way of that block.
func getCellOutputData(db store.DataAccessor, op externalapi.OutPoint, meta *externalapi.CellMeta) ([]byte, error) {
	if meta.TransactionInfo == nil {
		return nil, store.ErrNotFound
	}
	blk, err := getBlock(db, meta.TransactionInfo.BlockHash)
	if err != nil {
		return nil, err
	}
	txIndex := int(meta.TransactionInfo.TxIndex)
	if txIndex < 0 || txIndex >= len(blk.Transactions) {
		return nil, store.ErrNotFound
	}
	tx := &blk.Transactions[txIndex]
	if int(op.Index) >= len(tx.OutputsData) {
		return nil, store.ErrNotFound
	}
	return tx.OutputsData[op.Index], nil
}

// buildSnapshot assembles the immutable read view published to
// subscribers after every tip change.
func (s *Service) buildSnapshot(tip *externalapi.Header, ext *externalapi.BlockExt, currentEpoch *externalapi.EpochExt, proposals map[externalapi.ProposalShortID]struct{}) *externalapi.Snapshot {
	db := s.db
	cells := s.cells
	return &externalapi.Snapshot{
		TipHeader:    tip,
		TipExt:       ext,
		CurrentEpoch: currentEpoch,
		CellGetter: func(op externalapi.OutPoint) (*externalapi.CellMeta, bool) {
			return cells.Get(op)
		},
		HeaderGetter: func(hash externalapi.Byte32) (*externalapi.Header, bool) {
			h, err := getHeader(db, hash)
			if err != nil {
				return nil, false
			}
			return h, true
		},
		BlockNumberToHash: func(number uint64) (externalapi.Byte32, bool) {
			return getHashByNumber(db, number)
		},
		ProposalWindowSet: proposals,
	}
}
