package externalapi

// CellOutput is one output of a transaction: a capacity commitment plus
// the scripts that govern spending it and (optionally) re-validating its
// type on every transaction that touches it.
type CellOutput struct {
	Capacity uint64
	Lock     *Script
	Type     *Script
}

// OccupiedCapacity returns the minimum capacity this output must carry:
// the serialized size of the output plus the length of its accompanying
// data, expressed in base units (the "shannon per byte" rule).
func (o *CellOutput) OccupiedCapacity(dataLen int) uint64 {
	return uint64(o.serializedSize()+dataLen) * ShannonsPerByte
}

// ShannonsPerByte is the number of base units (shannons) that one byte of
// occupied on-chain storage costs.
const ShannonsPerByte = 100_000_000

// serializedSize approximates the canonical encoded size of the output
// for the occupied-capacity rule: 8 bytes capacity, plus each script's
// fixed header (32-byte code hash, 1-byte hash type) and variable args.
func (o *CellOutput) serializedSize() int {
	size := 8 // capacity
	size += scriptSize(o.Lock)
	if o.Type != nil {
		size += scriptSize(o.Type)
	} else {
		size += 1 // empty Option<Script> tag
	}
	return size
}

func scriptSize(s *Script) int {
	if s == nil {
		return 1
	}
	return 1 + Byte32Size + 1 + len(s.Args)
}

// Clone returns a deep copy of o.
func (o *CellOutput) Clone() *CellOutput {
	if o == nil {
		return nil
	}
	return &CellOutput{
		Capacity: o.Capacity,
		Lock:     o.Lock.Clone(),
		Type:     o.Type.Clone(),
	}
}

// TransactionInfo records where a cell was confirmed, present on a
// CellMeta iff the cell has been committed in a block.
type TransactionInfo struct {
	BlockNumber uint64
	BlockEpoch  EpochNumberWithFraction
	TxIndex     uint32
	BlockHash   Byte32
}

// CellMeta is a resolved cell: an out-point together with the output it
// names, its data's digest and length, and (if confirmed) the block that
// committed it.
type CellMeta struct {
	OutPoint        OutPoint
	Output          *CellOutput
	DataHash        Byte32
	DataLen         uint64
	TransactionInfo *TransactionInfo
}

// IsCellbase reports whether the cell was created by a cellbase
// transaction: one occupying the first slot of the block that
// committed it.
func (m *CellMeta) IsCellbase() bool {
	return m.TransactionInfo != nil && m.TransactionInfo.TxIndex == 0
}

// Clone returns a deep copy of m.
func (m *CellMeta) Clone() *CellMeta {
	if m == nil {
		return nil
	}
	clone := &CellMeta{
		OutPoint: m.OutPoint,
		Output:   m.Output.Clone(),
		DataHash: m.DataHash,
		DataLen:  m.DataLen,
	}
	if m.TransactionInfo != nil {
		info := *m.TransactionInfo
		clone.TransactionInfo = &info
	}
	return clone
}
