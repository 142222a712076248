package externalapi

// ProposalShortIDLen is the fixed length of a ProposalShortId: a prefix
// of a transaction's hash used in the two-phase commit rule.
const ProposalShortIDLen = 10

// ProposalShortID is a fixed 10-byte prefix of a transaction's hash.
type ProposalShortID [ProposalShortIDLen]byte

// NewProposalShortID derives the short id of txHash.
func NewProposalShortID(txHash Byte32) ProposalShortID {
	var id ProposalShortID
	copy(id[:], txHash[:ProposalShortIDLen])
	return id
}

// Transaction is a CKB-model transaction: it spends cells named by
// Inputs, references read-only cells via CellDeps and HeaderDeps, and
// creates the cells described by Outputs/OutputsData.
type Transaction struct {
	Version     uint32
	CellDeps    []CellDep
	HeaderDeps  []Byte32
	Inputs      []CellInput
	Outputs     []CellOutput
	OutputsData [][]byte
	Witnesses   [][]byte
}

// IsCellbase reports whether tx is a cellbase: exactly one input, whose
// previous-output is null and whose since equals blockNumber.
func (tx *Transaction) IsCellbase(blockNumber uint64) bool {
	if len(tx.Inputs) != 1 {
		return false
	}
	in := tx.Inputs[0]
	return in.PreviousOutput.IsNull() && in.Since == blockNumber
}

// LooksLikeCellbase reports whether tx has the input shape of a
// cellbase, independent of which block it is supposed to belong to. Used
// by non-contextual checks that run before the containing block's number
// is otherwise consulted.
func (tx *Transaction) LooksLikeCellbase() bool {
	if len(tx.Inputs) != 1 {
		return false
	}
	return tx.Inputs[0].PreviousOutput.IsNull()
}

// Clone returns a deep copy of tx.
func (tx *Transaction) Clone() *Transaction {
	if tx == nil {
		return nil
	}
	clone := &Transaction{
		Version:    tx.Version,
		CellDeps:   append([]CellDep(nil), tx.CellDeps...),
		HeaderDeps: CloneByte32s(tx.HeaderDeps),
		Inputs:     append([]CellInput(nil), tx.Inputs...),
		Outputs:    make([]CellOutput, len(tx.Outputs)),
	}
	for i := range tx.Outputs {
		clone.Outputs[i] = *tx.Outputs[i].Clone()
	}
	clone.OutputsData = make([][]byte, len(tx.OutputsData))
	for i, d := range tx.OutputsData {
		clone.OutputsData[i] = append([]byte(nil), d...)
	}
	clone.Witnesses = make([][]byte, len(tx.Witnesses))
	for i, w := range tx.Witnesses {
		clone.Witnesses[i] = append([]byte(nil), w...)
	}
	return clone
}
