package molecule

import (
	"math/big"

	"github.com/cellnetio/cellchaind/externalapi"
)

func bigIntFromBytes(b []byte) *big.Int {
	return new(big.Int).SetBytes(b)
}

// This file adds Decode counterparts (and, where the hash-codec's plain
// Vec would be ambiguous to decode, framed Encode/Decode pairs) for
// every domain value the store persists: the round-trip law
// ("serialize(deserialize(bytes)) == bytes") applies to headers,
// blocks, cell-meta, block-ext, and epoch-ext, none of which the
// hash-only codec.go needs to decode (a digest is one-way). Framing is
// only needed where an element's own encoded length is variable and it
// sits inside a vector: CellOutput (variable Script.Args), Transaction,
// and UncleHeader.

func framedVec(b *Builder, count int, write func(*Builder, int)) {
	b.Uint32(uint32(count))
	for i := 0; i < count; i++ {
		sub := NewBuilder()
		write(sub, i)
		b.ByteVec(sub.Bytes())
	}
}

func framedVecRead(r *Reader, read func(*Reader, int) error) (int, error) {
	n, err := r.Uint32()
	if err != nil {
		return 0, err
	}
	for i := 0; i < int(n); i++ {
		raw, err := r.ByteVec()
		if err != nil {
			return 0, err
		}
		if err := read(NewReader(raw), i); err != nil {
			return 0, err
		}
	}
	return int(n), nil
}

// DecodeScript is the inverse of Script.
func DecodeScript(r *Reader) (*externalapi.Script, error) {
	codeHash, err := r.Byte32()
	if err != nil {
		return nil, err
	}
	ht, err := r.Byte()
	if err != nil {
		return nil, err
	}
	args, err := r.ByteVec()
	if err != nil {
		return nil, err
	}
	return &externalapi.Script{CodeHash: codeHash, HashType: externalapi.HashType(ht), Args: args}, nil
}

// EncodeOptionScript writes a tagged Option<Script>: a 1-byte presence
// flag followed by the script's encoding if present. This differs from
// the hash-codec's untagged OptionScript (which relies on an Option
// always being the structurally-last field to be unambiguous); a
// stored CellOutput's Type is not guaranteed to be last in every future
// caller, so it is framed explicitly here.
func EncodeOptionScript(b *Builder, s *externalapi.Script) {
	if s == nil {
		b.Byte(0)
		return
	}
	b.Byte(1)
	Script(b, s)
}

// DecodeOptionScript is the inverse of EncodeOptionScript.
func DecodeOptionScript(r *Reader) (*externalapi.Script, error) {
	tag, err := r.Byte()
	if err != nil {
		return nil, err
	}
	if tag == 0 {
		return nil, nil
	}
	return DecodeScript(r)
}

// DecodeOutPoint is the inverse of OutPoint.
func DecodeOutPoint(r *Reader) (externalapi.OutPoint, error) {
	hash, err := r.Byte32()
	if err != nil {
		return externalapi.OutPoint{}, err
	}
	index, err := r.Uint32()
	if err != nil {
		return externalapi.OutPoint{}, err
	}
	return externalapi.OutPoint{TxHash: hash, Index: index}, nil
}

// DecodeCellInput is the inverse of CellInput.
func DecodeCellInput(r *Reader) (externalapi.CellInput, error) {
	since, err := r.Uint64()
	if err != nil {
		return externalapi.CellInput{}, err
	}
	op, err := DecodeOutPoint(r)
	if err != nil {
		return externalapi.CellInput{}, err
	}
	return externalapi.CellInput{PreviousOutput: op, Since: since}, nil
}

// DecodeCellDep is the inverse of CellDep.
func DecodeCellDep(r *Reader) (externalapi.CellDep, error) {
	op, err := DecodeOutPoint(r)
	if err != nil {
		return externalapi.CellDep{}, err
	}
	dt, err := r.Byte()
	if err != nil {
		return externalapi.CellDep{}, err
	}
	return externalapi.CellDep{OutPoint: op, DepType: externalapi.CellDepType(dt)}, nil
}

// EncodeCellOutput writes a CellOutput using the tagged Option<Script>
// form, for standalone (non-hash-digest) storage use.
func EncodeCellOutput(b *Builder, o *externalapi.CellOutput) {
	b.Uint64(o.Capacity)
	Script(b, o.Lock)
	EncodeOptionScript(b, o.Type)
}

// DecodeCellOutput is the inverse of EncodeCellOutput.
func DecodeCellOutput(r *Reader) (*externalapi.CellOutput, error) {
	capacity, err := r.Uint64()
	if err != nil {
		return nil, err
	}
	lock, err := DecodeScript(r)
	if err != nil {
		return nil, err
	}
	typ, err := DecodeOptionScript(r)
	if err != nil {
		return nil, err
	}
	return &externalapi.CellOutput{Capacity: capacity, Lock: lock, Type: typ}, nil
}

// EncodeTransaction writes a transaction in a fully self-describing
// form (framed Outputs vector) suitable for storage and decoding,
// distinct from RawTransaction/Transaction in codec.go which exist only
// to be hashed.
func EncodeTransaction(b *Builder, tx *externalapi.Transaction) {
	b.Uint32(tx.Version)
	b.Vec(len(tx.CellDeps), func(i int) { CellDep(b, tx.CellDeps[i]) })
	b.Vec(len(tx.HeaderDeps), func(i int) { b.Byte32(tx.HeaderDeps[i]) })
	b.Vec(len(tx.Inputs), func(i int) { CellInput(b, tx.Inputs[i]) })
	framedVec(b, len(tx.Outputs), func(sub *Builder, i int) { EncodeCellOutput(sub, &tx.Outputs[i]) })
	b.Vec(len(tx.OutputsData), func(i int) { b.ByteVec(tx.OutputsData[i]) })
	b.Vec(len(tx.Witnesses), func(i int) { b.ByteVec(tx.Witnesses[i]) })
}

// DecodeTransaction is the inverse of EncodeTransaction.
func DecodeTransaction(r *Reader) (*externalapi.Transaction, error) {
	version, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	tx := &externalapi.Transaction{Version: version}
	if _, err := r.Vec(func(i int) error {
		d, err := DecodeCellDep(r)
		if err != nil {
			return err
		}
		tx.CellDeps = append(tx.CellDeps, d)
		return nil
	}); err != nil {
		return nil, err
	}
	if _, err := r.Vec(func(i int) error {
		h, err := r.Byte32()
		if err != nil {
			return err
		}
		tx.HeaderDeps = append(tx.HeaderDeps, h)
		return nil
	}); err != nil {
		return nil, err
	}
	if _, err := r.Vec(func(i int) error {
		in, err := DecodeCellInput(r)
		if err != nil {
			return err
		}
		tx.Inputs = append(tx.Inputs, in)
		return nil
	}); err != nil {
		return nil, err
	}
	if _, err := framedVecRead(r, func(sub *Reader, i int) error {
		out, err := DecodeCellOutput(sub)
		if err != nil {
			return err
		}
		tx.Outputs = append(tx.Outputs, *out)
		return nil
	}); err != nil {
		return nil, err
	}
	if _, err := r.Vec(func(i int) error {
		d, err := r.ByteVec()
		if err != nil {
			return err
		}
		tx.OutputsData = append(tx.OutputsData, d)
		return nil
	}); err != nil {
		return nil, err
	}
	if _, err := r.Vec(func(i int) error {
		w, err := r.ByteVec()
		if err != nil {
			return err
		}
		tx.Witnesses = append(tx.Witnesses, w)
		return nil
	}); err != nil {
		return nil, err
	}
	return tx, nil
}

// DecodeHeader is the inverse of Header. Headers have no dynamic
// fields, so the hash-codec's Header/HeaderExcludingNonce encoding is
// already unambiguous to decode.
func DecodeHeader(r *Reader) (*externalapi.Header, error) {
	h := &externalapi.Header{}
	var err error
	if h.Version, err = r.Uint32(); err != nil {
		return nil, err
	}
	if h.ParentHash, err = r.Byte32(); err != nil {
		return nil, err
	}
	if h.TimestampMs, err = r.Uint64(); err != nil {
		return nil, err
	}
	if h.Number, err = r.Uint64(); err != nil {
		return nil, err
	}
	if h.CompactTarget, err = r.Uint32(); err != nil {
		return nil, err
	}
	if h.EpochPacked, err = r.Uint64(); err != nil {
		return nil, err
	}
	if h.TransactionsRoot, err = r.Byte32(); err != nil {
		return nil, err
	}
	if h.ProposalsHash, err = r.Byte32(); err != nil {
		return nil, err
	}
	if h.ExtraHash, err = r.Byte32(); err != nil {
		return nil, err
	}
	if h.Dao.C, err = r.Uint64(); err != nil {
		return nil, err
	}
	if h.Dao.AR, err = r.Uint64(); err != nil {
		return nil, err
	}
	if h.Dao.S, err = r.Uint64(); err != nil {
		return nil, err
	}
	if h.Dao.U, err = r.Uint64(); err != nil {
		return nil, err
	}
	nonce, err := r.Fixed(16)
	if err != nil {
		return nil, err
	}
	copy(h.Nonce[:], nonce)
	return h, nil
}

// DecodeUncleHeader is the inverse of UncleHeader.
func DecodeUncleHeader(r *Reader) (*externalapi.UncleHeader, error) {
	h, err := DecodeHeader(r)
	if err != nil {
		return nil, err
	}
	u := &externalapi.UncleHeader{Header: *h}
	if _, err := r.Vec(func(i int) error {
		raw, err := r.Fixed(externalapi.ProposalShortIDLen)
		if err != nil {
			return err
		}
		var id externalapi.ProposalShortID
		copy(id[:], raw)
		u.ProposalIDs = append(u.ProposalIDs, id)
		return nil
	}); err != nil {
		return nil, err
	}
	return u, nil
}

// EncodeBlock writes a full block (header, uncles, transactions,
// proposals, extension) in framed form suitable for durable storage.
func EncodeBlock(b *Builder, blk *externalapi.Block) {
	Header(b, &blk.Header)
	framedVec(b, len(blk.Uncles), func(sub *Builder, i int) { UncleHeader(sub, &blk.Uncles[i]) })
	framedVec(b, len(blk.Transactions), func(sub *Builder, i int) { EncodeTransaction(sub, &blk.Transactions[i]) })
	b.Vec(len(blk.Proposals), func(i int) { b.Fixed(blk.Proposals[i][:]) })
	b.ByteVec(blk.Extension)
}

// DecodeBlock is the inverse of EncodeBlock.
func DecodeBlock(r *Reader) (*externalapi.Block, error) {
	h, err := DecodeHeader(r)
	if err != nil {
		return nil, err
	}
	blk := &externalapi.Block{Header: *h}
	if _, err := framedVecRead(r, func(sub *Reader, i int) error {
		u, err := DecodeUncleHeader(sub)
		if err != nil {
			return err
		}
		blk.Uncles = append(blk.Uncles, *u)
		return nil
	}); err != nil {
		return nil, err
	}
	if _, err := framedVecRead(r, func(sub *Reader, i int) error {
		tx, err := DecodeTransaction(sub)
		if err != nil {
			return err
		}
		blk.Transactions = append(blk.Transactions, *tx)
		return nil
	}); err != nil {
		return nil, err
	}
	if _, err := r.Vec(func(i int) error {
		raw, err := r.Fixed(externalapi.ProposalShortIDLen)
		if err != nil {
			return err
		}
		var id externalapi.ProposalShortID
		copy(id[:], raw)
		blk.Proposals = append(blk.Proposals, id)
		return nil
	}); err != nil {
		return nil, err
	}
	ext, err := r.ByteVec()
	if err != nil {
		return nil, err
	}
	if len(ext) > 0 {
		blk.Extension = ext
	}
	return blk, nil
}

// EncodeCellMeta writes a CellMeta for the cell-set column.
func EncodeCellMeta(b *Builder, m *externalapi.CellMeta) {
	OutPoint(b, m.OutPoint)
	EncodeCellOutput(b, m.Output)
	b.Byte32(m.DataHash)
	b.Uint64(m.DataLen)
	if m.TransactionInfo == nil {
		b.Byte(0)
		return
	}
	b.Byte(1)
	b.Uint64(m.TransactionInfo.BlockNumber)
	b.Uint64(m.TransactionInfo.BlockEpoch.Pack())
	b.Uint32(m.TransactionInfo.TxIndex)
	b.Byte32(m.TransactionInfo.BlockHash)
}

// DecodeCellMeta is the inverse of EncodeCellMeta.
func DecodeCellMeta(r *Reader) (*externalapi.CellMeta, error) {
	op, err := DecodeOutPoint(r)
	if err != nil {
		return nil, err
	}
	out, err := DecodeCellOutput(r)
	if err != nil {
		return nil, err
	}
	dataHash, err := r.Byte32()
	if err != nil {
		return nil, err
	}
	dataLen, err := r.Uint64()
	if err != nil {
		return nil, err
	}
	m := &externalapi.CellMeta{OutPoint: op, Output: out, DataHash: dataHash, DataLen: dataLen}
	tag, err := r.Byte()
	if err != nil {
		return nil, err
	}
	if tag == 0 {
		return m, nil
	}
	blockNumber, err := r.Uint64()
	if err != nil {
		return nil, err
	}
	epochPacked, err := r.Uint64()
	if err != nil {
		return nil, err
	}
	txIndex, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	blockHash, err := r.Byte32()
	if err != nil {
		return nil, err
	}
	m.TransactionInfo = &externalapi.TransactionInfo{
		BlockNumber: blockNumber,
		BlockEpoch:  externalapi.UnpackEpochNumberWithFraction(epochPacked),
		TxIndex:     txIndex,
		BlockHash:   blockHash,
	}
	return m, nil
}

// EncodeBlockExt writes a BlockExt for the block-ext column.
func EncodeBlockExt(b *Builder, e *externalapi.BlockExt) {
	b.Uint64(e.ReceivedAtMs)
	diff := e.TotalDifficulty.Int().Bytes()
	b.ByteVec(diff)
	b.Uint64(e.TotalUnclesCount)
	b.Byte(byte(e.Verified))
	b.Vec(len(e.TxsFees), func(i int) { b.Uint64(e.TxsFees[i]) })
}

// DecodeBlockExt is the inverse of EncodeBlockExt.
func DecodeBlockExt(r *Reader) (*externalapi.BlockExt, error) {
	receivedAt, err := r.Uint64()
	if err != nil {
		return nil, err
	}
	diffBytes, err := r.ByteVec()
	if err != nil {
		return nil, err
	}
	totalUncles, err := r.Uint64()
	if err != nil {
		return nil, err
	}
	verified, err := r.Byte()
	if err != nil {
		return nil, err
	}
	e := &externalapi.BlockExt{
		ReceivedAtMs:     receivedAt,
		TotalDifficulty:  externalapi.NewDifficulty(bigIntFromBytes(diffBytes)),
		TotalUnclesCount: totalUncles,
		Verified:         externalapi.VerifiedStatus(verified),
	}
	if _, err := r.Vec(func(i int) error {
		fee, err := r.Uint64()
		if err != nil {
			return err
		}
		e.TxsFees = append(e.TxsFees, fee)
		return nil
	}); err != nil {
		return nil, err
	}
	return e, nil
}

// EncodeEpochExt writes an EpochExt for the epoch-ext-by-hash column.
func EncodeEpochExt(b *Builder, e *externalapi.EpochExt) {
	b.Uint64(e.Number)
	b.Uint64(e.BaseBlockReward)
	b.Uint64(e.RemainderReward)
	b.Byte32(e.PreviousEpochHashInPrev)
	b.Uint64(e.StartNumber)
	b.Uint64(e.Length)
	b.Uint32(e.CompactTarget)
}

// DecodeEpochExt is the inverse of EncodeEpochExt.
func DecodeEpochExt(r *Reader) (*externalapi.EpochExt, error) {
	e := &externalapi.EpochExt{}
	var err error
	if e.Number, err = r.Uint64(); err != nil {
		return nil, err
	}
	if e.BaseBlockReward, err = r.Uint64(); err != nil {
		return nil, err
	}
	if e.RemainderReward, err = r.Uint64(); err != nil {
		return nil, err
	}
	if e.PreviousEpochHashInPrev, err = r.Byte32(); err != nil {
		return nil, err
	}
	if e.StartNumber, err = r.Uint64(); err != nil {
		return nil, err
	}
	if e.Length, err = r.Uint64(); err != nil {
		return nil, err
	}
	if e.CompactTarget, err = r.Uint32(); err != nil {
		return nil, err
	}
	return e, nil
}
