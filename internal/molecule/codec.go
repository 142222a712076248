package molecule

import "github.com/cellnetio/cellchaind/externalapi"

// Script encodes a script's canonical form: the form whose digest is
// the script's identity (script_hash).
func Script(b *Builder, s *externalapi.Script) {
	if s == nil {
		b.Byte32(externalapi.Byte32{}).Byte(0).ByteVec(nil)
		return
	}
	b.Byte32(s.CodeHash).Byte(byte(s.HashType)).ByteVec(s.Args)
}

// OptionScript encodes an Option<Script>.
func OptionScript(b *Builder, s *externalapi.Script) {
	b.Option(s != nil, func() { Script(b, s) })
}

// OutPoint encodes an out-point.
func OutPoint(b *Builder, op externalapi.OutPoint) {
	b.Byte32(op.TxHash).Uint32(op.Index)
}

// CellInput encodes a cell input.
func CellInput(b *Builder, in externalapi.CellInput) {
	b.Uint64(in.Since)
	OutPoint(b, in.PreviousOutput)
}

// CellDep encodes a cell dep.
func CellDep(b *Builder, d externalapi.CellDep) {
	OutPoint(b, d.OutPoint)
	b.Byte(byte(d.DepType))
}

// CellOutput encodes a cell output.
func CellOutput(b *Builder, o *externalapi.CellOutput) {
	b.Uint64(o.Capacity)
	Script(b, o.Lock)
	OptionScript(b, o.Type)
}

// RawTransaction encodes the part of a transaction whose digest is
// tx_hash: everything except witnesses.
func RawTransaction(b *Builder, tx *externalapi.Transaction) {
	b.Uint32(tx.Version)
	b.Vec(len(tx.CellDeps), func(i int) { CellDep(b, tx.CellDeps[i]) })
	b.Vec(len(tx.HeaderDeps), func(i int) { b.Byte32(tx.HeaderDeps[i]) })
	b.Vec(len(tx.Inputs), func(i int) { CellInput(b, tx.Inputs[i]) })
	b.Vec(len(tx.Outputs), func(i int) { CellOutput(b, &tx.Outputs[i]) })
	b.Vec(len(tx.OutputsData), func(i int) { b.ByteVec(tx.OutputsData[i]) })
}

// Transaction encodes the full transaction including witnesses, whose
// digest is tx_witness_hash.
func Transaction(b *Builder, tx *externalapi.Transaction) {
	RawTransaction(b, tx)
	b.Vec(len(tx.Witnesses), func(i int) { b.ByteVec(tx.Witnesses[i]) })
}

// HeaderExcludingNonce encodes every header field except the nonce, the
// payload whose digest is the proof-of-work hash.
func HeaderExcludingNonce(b *Builder, h *externalapi.Header) {
	b.Uint32(h.Version)
	b.Byte32(h.ParentHash)
	b.Uint64(h.TimestampMs)
	b.Uint64(h.Number)
	b.Uint32(h.CompactTarget)
	b.Uint64(h.EpochPacked)
	b.Byte32(h.TransactionsRoot)
	b.Byte32(h.ProposalsHash)
	b.Byte32(h.ExtraHash)
	b.Uint64(h.Dao.C)
	b.Uint64(h.Dao.AR)
	b.Uint64(h.Dao.S)
	b.Uint64(h.Dao.U)
}

// Header encodes the full header, including the nonce, the payload
// whose digest identifies the block (block_hash).
func Header(b *Builder, h *externalapi.Header) {
	HeaderExcludingNonce(b, h)
	b.Fixed(h.Nonce[:])
}

// UncleHeader encodes an uncle: its header plus the proposal ids it
// carried.
func UncleHeader(b *Builder, u *externalapi.UncleHeader) {
	Header(b, &u.Header)
	b.Vec(len(u.ProposalIDs), func(i int) { b.Fixed(u.ProposalIDs[i][:]) })
}
