package chain

import (
	"github.com/pkg/errors"

	"github.com/cellnetio/cellchaind/externalapi"
	"github.com/cellnetio/cellchaind/internal/hashing"
	"github.com/cellnetio/cellchaind/internal/molecule"
	"github.com/cellnetio/cellchaind/store"
)

// putHeader persists a header under the block-header column, keyed by
// its hash.
func putHeader(w store.DataAccessor, hash externalapi.Byte32, h *externalapi.Header) error {
	b := molecule.NewBuilder()
	molecule.Header(b, h)
	return w.Put(keyed(columnHeader, hash[:]), b.Bytes())
}

func getHeader(r store.DataAccessor, hash externalapi.Byte32) (*externalapi.Header, error) {
	raw, err := r.Get(keyed(columnHeader, hash[:]))
	if err != nil {
		return nil, err
	}
	return molecule.DecodeHeader(molecule.NewReader(raw))
}

// putBlockBody persists the non-header parts of a block (uncles,
// transactions, proposals, extension) under the block-body column.
func putBlockBody(w store.DataAccessor, hash externalapi.Byte32, blk *externalapi.Block) error {
	b := molecule.NewBuilder()
	molecule.EncodeBlock(b, blk)
	return w.Put(keyed(columnBody, hash[:]), b.Bytes())
}

func getBlock(r store.DataAccessor, hash externalapi.Byte32) (*externalapi.Block, error) {
	raw, err := r.Get(keyed(columnBody, hash[:]))
	if err != nil {
		return nil, err
	}
	return molecule.DecodeBlock(molecule.NewReader(raw))
}

func putBlockExt(w store.DataAccessor, hash externalapi.Byte32, ext *externalapi.BlockExt) error {
	b := molecule.NewBuilder()
	molecule.EncodeBlockExt(b, ext)
	return w.Put(keyed(columnExt, hash[:]), b.Bytes())
}

func getBlockExt(r store.DataAccessor, hash externalapi.Byte32) (*externalapi.BlockExt, error) {
	raw, err := r.Get(keyed(columnExt, hash[:]))
	if err != nil {
		return nil, err
	}
	return molecule.DecodeBlockExt(molecule.NewReader(raw))
}

func putIndex(w store.DataAccessor, number uint64, hash externalapi.Byte32) error {
	if err := w.Put(keyed(columnIndexNum, beUint64(number)), hash[:]); err != nil {
		return err
	}
	return w.Put(keyed(columnIndexHash, hash[:]), beUint64(number))
}

func deleteIndex(w store.DataAccessor, number uint64, hash externalapi.Byte32) error {
	if err := w.Delete(keyed(columnIndexNum, beUint64(number))); err != nil {
		return err
	}
	return w.Delete(keyed(columnIndexHash, hash[:]))
}

func getHashByNumber(r store.DataAccessor, number uint64) (externalapi.Byte32, bool) {
	raw, err := r.Get(keyed(columnIndexNum, beUint64(number)))
	if err != nil {
		return externalapi.Byte32{}, false
	}
	h, ok := externalapi.Byte32FromSlice(raw)
	return h, ok
}

func putTipHeader(w store.DataAccessor, hash externalapi.Byte32) error {
	return w.Put(metaKeyTipHeader, hash[:])
}

func getTipHash(r store.DataAccessor) (externalapi.Byte32, bool) {
	raw, err := r.Get(metaKeyTipHeader)
	if err != nil {
		return externalapi.Byte32{}, false
	}
	h, ok := externalapi.Byte32FromSlice(raw)
	return h, ok
}

func putCurrentEpoch(w store.DataAccessor, e *externalapi.EpochExt) error {
	b := molecule.NewBuilder()
	molecule.EncodeEpochExt(b, e)
	return w.Put(metaKeyCurrentEpoch, b.Bytes())
}

func getCurrentEpoch(r store.DataAccessor) (*externalapi.EpochExt, error) {
	raw, err := r.Get(metaKeyCurrentEpoch)
	if err != nil {
		return nil, err
	}
	return molecule.DecodeEpochExt(molecule.NewReader(raw))
}

// putEpochByHash records the EpochExt that governs the epoch starting
// at startBlockHash, so a later block can recover the epoch parameters
// of any ancestor epoch by way of that epoch's first block's hash.
func putEpochByHash(w store.DataAccessor, startBlockHash externalapi.Byte32, e *externalapi.EpochExt) error {
	b := molecule.NewBuilder()
	molecule.EncodeEpochExt(b, e)
	return w.Put(keyed(columnEpochByHash, startBlockHash[:]), b.Bytes())
}

func getEpochByHash(r store.DataAccessor, startBlockHash externalapi.Byte32) (*externalapi.EpochExt, error) {
	raw, err := r.Get(keyed(columnEpochByHash, startBlockHash[:]))
	if err != nil {
		return nil, err
	}
	return molecule.DecodeEpochExt(molecule.NewReader(raw))
}

func putCellMeta(w store.DataAccessor, op externalapi.OutPoint, m *externalapi.CellMeta) error {
	b := molecule.NewBuilder()
	molecule.EncodeCellMeta(b, m)
	key := outPointKey(op)
	return w.Put(key, b.Bytes())
}

func deleteCellMeta(w store.DataAccessor, op externalapi.OutPoint) error {
	return w.Delete(outPointKey(op))
}

func getCellMeta(r store.DataAccessor, op externalapi.OutPoint) (*externalapi.CellMeta, error) {
	raw, err := r.Get(outPointKey(op))
	if err != nil {
		return nil, err
	}
	return molecule.DecodeCellMeta(molecule.NewReader(raw))
}

func outPointKey(op externalapi.OutPoint) []byte {
	b := molecule.NewBuilder()
	molecule.OutPoint(b, op)
	return keyed(columnCellSet, b.Bytes())
}

// producingTransactionLookup resolves a detached block's producing
// transaction output by reading it from the store's permanent
// per-output archive (txOutputKey), the collaborator
// cellset.DetachBlockCell needs to reinstate cells that are no longer
// present in-memory.
func producingTransactionLookup(r store.DataAccessor) func(txHash externalapi.Byte32, index uint32) (*externalapi.CellMeta, error) {
	return func(txHash externalapi.Byte32, index uint32) (*externalapi.CellMeta, error) {
		op := externalapi.OutPoint{TxHash: txHash, Index: index}
		raw, err := r.Get(txOutputKey(op))
		if err != nil {
			return nil, errors.Wrapf(err, "producing output %s not found", op)
		}
		return molecule.DecodeCellMeta(molecule.NewReader(raw))
	}
}

// txOutputKey addresses the permanent (never-deleted) archive of every
// output a block ever created, keyed by out-point -- unlike the
// cell-set column, this one is not pruned when a cell is spent, since
// detach_block_cell needs to reinstate exactly this historical value.
func txOutputKey(op externalapi.OutPoint) []byte {
	b := molecule.NewBuilder()
	molecule.OutPoint(b, op)
	return keyed([]byte("TXB"), b.Bytes())
}

// applyBlockCellsToStore mirrors cellset.Set.AttachBlockCell's effect
// onto the durable cell-set column plus the permanent output archive,
// so a restart can reload the live set from disk and a later detach
// can reinstate what this attach consumed.
func applyBlockCellsToStore(w store.DataAccessor, block *externalapi.Block, blockNumber uint64, blockEpoch externalapi.EpochNumberWithFraction, blockHash externalapi.Byte32) error {
	for txIndex := range block.Transactions {
		tx := &block.Transactions[txIndex]
		isCellbase := tx.IsCellbase(blockNumber)
		if !isCellbase {
			for _, in := range tx.Inputs {
				if err := deleteCellMeta(w, in.PreviousOutput); err != nil {
					return err
				}
			}
		}
		if err := indexTxOutputs(w, blockNumber, blockEpoch, blockHash, txIndex, tx); err != nil {
			return err
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
			if err := putCellMeta(w, op, meta); err != nil {
				return err
			}
		}
	}
	return nil
}

// undoBlockCellsFromStore is the exact inverse of
// applyBlockCellsToStore, used while detaching a block during a reorg:
// every output it created is removed from the live cell-set column and
// every input it consumed is reinstated from the permanent archive.
func undoBlockCellsFromStore(w store.DataAccessor, block *externalapi.Block) error {
	lookup := producingTransactionLookup(w)
	for txIndex := len(block.Transactions) - 1; txIndex >= 0; txIndex-- {
		tx := &block.Transactions[txIndex]
		txHash := hashing.TxHash(tx)
		for i := range tx.Outputs {
			if err := deleteCellMeta(w, externalapi.OutPoint{TxHash: txHash, Index: uint32(i)}); err != nil {
				return err
			}
		}
		if txIndex == 0 {
			continue
		}
		for i := len(tx.Inputs) - 1; i >= 0; i-- {
			op := tx.Inputs[i].PreviousOutput
			meta, err := lookup(op.TxHash, op.Index)
			if err != nil {
				return err
			}
			if err := putCellMeta(w, op, meta); err != nil {
				return err
			}
		}
	}
	return nil
}

// indexTxOutputs records, for every output a newly-attached transaction
// creates, enough to reconstruct its CellMeta later during a detach
// even after the cell itself has been spent and removed from the live
// cell-set index.
func indexTxOutputs(w store.DataAccessor, blockNumber uint64, blockEpoch externalapi.EpochNumberWithFraction, blockHash externalapi.Byte32, txIndex int, tx *externalapi.Transaction) error {
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
		b := molecule.NewBuilder()
		molecule.EncodeCellMeta(b, meta)
		if err := w.Put(txOutputKey(op), b.Bytes()); err != nil {
			return err
		}
	}
	return nil
}
