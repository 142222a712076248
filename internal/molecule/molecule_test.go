package molecule

import (
	"math/big"
	"reflect"
	"testing"

	"github.com/cellnetio/cellchaind/externalapi"
)

func sampleTransaction() *externalapi.Transaction {
	return &externalapi.Transaction{
		Version: 1,
		CellDeps: []externalapi.CellDep{
			{OutPoint: externalapi.OutPoint{TxHash: externalapi.Byte32{1}, Index: 0}, DepType: externalapi.CellDepTypeCode},
		},
		HeaderDeps: []externalapi.Byte32{{2}},
		Inputs: []externalapi.CellInput{
			{PreviousOutput: externalapi.OutPoint{TxHash: externalapi.Byte32{3}, Index: 1}, Since: 42},
		},
		Outputs: []externalapi.CellOutput{
			{
				Capacity: 1000,
				Lock:     &externalapi.Script{CodeHash: externalapi.Byte32{4}, HashType: externalapi.HashTypeType, Args: []byte{9, 9}},
				Type:     nil,
			},
		},
		OutputsData: [][]byte{{0xde, 0xad}},
		Witnesses:   [][]byte{{0x01}},
	}
}

func TestTransactionRoundTrip(t *testing.T) {
	tx := sampleTransaction()
	b := NewBuilder()
	EncodeTransaction(b, tx)

	got, err := DecodeTransaction(NewReader(b.Bytes()))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !reflect.DeepEqual(got, tx) {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got, tx)
	}
}

func sampleHeader() *externalapi.Header {
	return &externalapi.Header{
		Version:          1,
		ParentHash:       externalapi.Byte32{1},
		TimestampMs:      123456789,
		Number:           10,
		CompactTarget:    0x1d00ffff,
		EpochPacked:      externalapi.EpochNumberWithFraction{Number: 1, Index: 2, Length: 1800}.Pack(),
		TransactionsRoot: externalapi.Byte32{2},
		ProposalsHash:    externalapi.Byte32{3},
		ExtraHash:        externalapi.Byte32{4},
		Dao:              externalapi.DaoState{C: 1, AR: 2, S: 3, U: 4},
		Nonce:            [16]byte{1, 2, 3},
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	h := sampleHeader()
	b := NewBuilder()
	Header(b, h)

	got, err := DecodeHeader(NewReader(b.Bytes()))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !reflect.DeepEqual(got, h) {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got, h)
	}
}

func TestHeaderExcludingNonceOmitsNonce(t *testing.T) {
	h1 := sampleHeader()
	h2 := sampleHeader()
	h2.Nonce = [16]byte{9, 9, 9}

	b1 := NewBuilder()
	HeaderExcludingNonce(b1, h1)
	b2 := NewBuilder()
	HeaderExcludingNonce(b2, h2)

	if !reflect.DeepEqual(b1.Bytes(), b2.Bytes()) {
		t.Fatal("HeaderExcludingNonce should produce identical bytes regardless of nonce")
	}
}

func sampleBlock() *externalapi.Block {
	return &externalapi.Block{
		Header: *sampleHeader(),
		Uncles: []externalapi.UncleHeader{
			{Header: *sampleHeader(), ProposalIDs: []externalapi.ProposalShortID{{1, 2, 3}}},
		},
		Transactions: []externalapi.Transaction{*sampleTransaction()},
		Proposals:    []externalapi.ProposalShortID{{9}},
		Extension:    []byte{0xaa, 0xbb},
	}
}

func TestBlockRoundTrip(t *testing.T) {
	blk := sampleBlock()
	b := NewBuilder()
	EncodeBlock(b, blk)

	got, err := DecodeBlock(NewReader(b.Bytes()))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !reflect.DeepEqual(got, blk) {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got, blk)
	}
}

func TestCellMetaRoundTrip(t *testing.T) {
	m := &externalapi.CellMeta{
		OutPoint: externalapi.OutPoint{TxHash: externalapi.Byte32{1}, Index: 2},
		Output: &externalapi.CellOutput{
			Capacity: 500,
			Lock:     &externalapi.Script{CodeHash: externalapi.Byte32{2}, HashType: externalapi.HashTypeData},
		},
		DataHash: externalapi.Byte32{3},
		DataLen:  7,
		TransactionInfo: &externalapi.TransactionInfo{
			BlockNumber: 100,
			BlockEpoch:  externalapi.EpochNumberWithFraction{Number: 1, Index: 0, Length: 10},
			TxIndex:     0,
			BlockHash:   externalapi.Byte32{4},
		},
	}
	b := NewBuilder()
	EncodeCellMeta(b, m)

	got, err := DecodeCellMeta(NewReader(b.Bytes()))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !reflect.DeepEqual(got, m) {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got, m)
	}
}

func TestCellMetaRoundTripNoTransactionInfo(t *testing.T) {
	m := &externalapi.CellMeta{
		OutPoint: externalapi.OutPoint{TxHash: externalapi.Byte32{1}, Index: 0},
		Output:   &externalapi.CellOutput{Capacity: 1, Lock: &externalapi.Script{}},
		DataHash: externalapi.Byte32{},
		DataLen:  0,
	}
	b := NewBuilder()
	EncodeCellMeta(b, m)

	got, err := DecodeCellMeta(NewReader(b.Bytes()))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got.TransactionInfo != nil {
		t.Fatal("expected nil TransactionInfo to round trip as nil")
	}
}

func TestBlockExtRoundTrip(t *testing.T) {
	e := &externalapi.BlockExt{
		ReceivedAtMs:     1000,
		TotalDifficulty:  externalapi.NewDifficulty(big.NewInt(123456789)),
		TotalUnclesCount: 2,
		Verified:         externalapi.VerifiedOK,
		TxsFees:          []uint64{1, 2, 3},
	}
	b := NewBuilder()
	EncodeBlockExt(b, e)

	got, err := DecodeBlockExt(NewReader(b.Bytes()))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got.ReceivedAtMs != e.ReceivedAtMs || got.TotalUnclesCount != e.TotalUnclesCount || got.Verified != e.Verified {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, e)
	}
	if got.TotalDifficulty.Cmp(e.TotalDifficulty) != 0 {
		t.Fatalf("difficulty mismatch: got %s, want %s", got.TotalDifficulty, e.TotalDifficulty)
	}
	if !reflect.DeepEqual(got.TxsFees, e.TxsFees) {
		t.Fatalf("fees mismatch: got %v, want %v", got.TxsFees, e.TxsFees)
	}
}

func TestEpochExtRoundTrip(t *testing.T) {
	e := &externalapi.EpochExt{
		Number:                  3,
		BaseBlockReward:         1000,
		RemainderReward:         7,
		PreviousEpochHashInPrev: externalapi.Byte32{5},
		StartNumber:             5400,
		Length:                  1800,
		CompactTarget:           0x1d00ffff,
	}
	b := NewBuilder()
	EncodeEpochExt(b, e)

	got, err := DecodeEpochExt(NewReader(b.Bytes()))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !reflect.DeepEqual(got, e) {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got, e)
	}
}

func TestReaderErrorsOnTruncatedInput(t *testing.T) {
	b := NewBuilder()
	Header(b, sampleHeader())
	truncated := b.Bytes()[:len(b.Bytes())-1]
	if _, err := DecodeHeader(NewReader(truncated)); err == nil {
		t.Fatal("expected an error decoding truncated header bytes")
	}
}
