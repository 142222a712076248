// Package cellset maintains the live cell index: the
// Map<OutPoint, CellMeta> of every unspent output, and the
// attach_block_cell/detach_block_cell primitives a block's acceptance
// or removal applies to it. It is grounded on
// utxoCollection/UTXOSet machinery in blockdag/utxoset.go, generalized
// from an unspent-output set with blue-score bookkeeping to a
// cell-model index keyed the same way but carrying CellMeta and with
// no blue score or multiset: fork choice here is cumulative difficulty
// (externalapi.Difficulty), not GHOSTDAG, so those fields have no home.
package cellset

import (
	"github.com/pkg/errors"

	"github.com/cellnetio/cellchaind/externalapi"
	"github.com/cellnetio/cellchaind/internal/hashing"
	"github.com/cellnetio/cellchaind/store"
)

// Set is the live cell index: every OutPoint with an unspent CellMeta.
type Set struct {
	cells map[externalapi.OutPoint]*externalapi.CellMeta
}

// New returns an empty Set.
func New() *Set {
	return &Set{cells: make(map[externalapi.OutPoint]*externalapi.CellMeta)}
}

// Get returns the live CellMeta for op, if any.
func (s *Set) Get(op externalapi.OutPoint) (*externalapi.CellMeta, bool) {
	m, ok := s.cells[op]
	return m, ok
}

// Add inserts or overwrites the entry for op.
func (s *Set) Add(op externalapi.OutPoint, meta *externalapi.CellMeta) {
	s.cells[op] = meta
}

// Remove deletes the entry for op, if present.
func (s *Set) Remove(op externalapi.OutPoint) {
	delete(s.cells, op)
}

// Len returns the number of live cells.
func (s *Set) Len() int {
	return len(s.cells)
}

// Clone returns a deep-enough copy: a new map referencing the same
// CellMeta pointers, since CellMeta entries are never mutated in place.
func (s *Set) Clone() *Set {
	clone := &Set{cells: make(map[externalapi.OutPoint]*externalapi.CellMeta, len(s.cells))}
	for op, meta := range s.cells {
		clone.cells[op] = meta
	}
	return clone
}

// ProducingTransactionLookup resolves the CellMeta a previously-attached
// transaction produced at a given output index, used by detach_block_cell
// to reinstate consumed inputs that aren't in the block being detached.
type ProducingTransactionLookup func(txHash externalapi.Byte32, index uint32) (*externalapi.CellMeta, error)

// AttachBlockCell applies block's transactions to s in order: for each
// transaction, every previous_output it spends (other than the
// cellbase's null input) is removed, then every one of its outputs is
// inserted. In-block spends resolve against entries inserted earlier in
// the same call, matching the transaction order within the block.
func (s *Set) AttachBlockCell(block *externalapi.Block, blockNumber uint64, blockEpoch externalapi.EpochNumberWithFraction, blockHash externalapi.Byte32) error {
	for txIndex := range block.Transactions {
		tx := &block.Transactions[txIndex]
		isCellbase := tx.IsCellbase(blockNumber)
		if !isCellbase {
			for _, in := range tx.Inputs {
				if _, ok := s.cells[in.PreviousOutput]; !ok {
					return errors.Errorf("attach_block_cell: outpoint %s not live", in.PreviousOutput)
				}
				delete(s.cells, in.PreviousOutput)
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
					BlockNumber: blockNumber,
					BlockEpoch:  blockEpoch,
					TxIndex:     uint32(txIndex),
					BlockHash:   blockHash,
				},
			}
			s.cells[op] = meta
		}
	}
	return nil
}

// DetachBlockCell is the exact inverse of AttachBlockCell: every output
// the block created is removed, and every input it consumed is
// reinstated by asking lookup to recompute the producing transaction's
// CellMeta (from the store, since it may no longer live in s).
func (s *Set) DetachBlockCell(block *externalapi.Block, lookup ProducingTransactionLookup) error {
	for txIndex := len(block.Transactions) - 1; txIndex >= 0; txIndex-- {
		tx := &block.Transactions[txIndex]
		txHash := hashing.TxHash(tx)

		for i := range tx.Outputs {
			delete(s.cells, externalapi.OutPoint{TxHash: txHash, Index: uint32(i)})
		}

		isCellbase := txIndex == 0
		if isCellbase {
			continue
		}
		for i := len(tx.Inputs) - 1; i >= 0; i-- {
			op := tx.Inputs[i].PreviousOutput
			meta, err := lookup(op.TxHash, op.Index)
			if err != nil {
				return errors.Wrapf(err, "detach_block_cell: reinstating outpoint %s", op)
			}
			s.cells[op] = meta
		}
	}
	return nil
}

// Persist writes every live cell in s under the given store transaction,
// keyed by its canonical out-point encoding; used when a Set built
// in-memory (e.g. genesis) needs to be committed to durable storage.
func Persist(txn store.DataAccessor, prefix []byte, s *Set, encodeKey func(externalapi.OutPoint) []byte, encodeValue func(*externalapi.CellMeta) []byte) error {
	for op, meta := range s.cells {
		key := append(append([]byte{}, prefix...), encodeKey(op)...)
		if err := txn.Put(key, encodeValue(meta)); err != nil {
			return err
		}
	}
	return nil
}
