package chain

import (
	"testing"

	"github.com/cellnetio/cellchaind/externalapi"
	"github.com/cellnetio/cellchaind/internal/hashing"
	"github.com/cellnetio/cellchaind/ruleerrors"
)

// spendableOutputCapacity is large enough to clear
// CellOutput.OccupiedCapacity for an output with an empty-args script
// and no declared data (occupied capacity 4_300_000_000 at this
// script shape), while staying under testCellbaseCapacity so a spend
// leaves a positive fee.
const spendableOutputCapacity = 4_500_000_000

// codeCellData is the tiny "program image" a spendable lock resolves
// to via its cell-dep; its content is irrelevant since noopVM accepts
// every program, only its data hash (the lock's code_hash) matters.
var codeCellData = []byte{0xAA}

// genesisWithSpendableCell builds a genesis block whose cellbase has
// two outputs: output 0 is spendable, locked by a HashTypeData script
// whose code_hash is output 1's data hash; output 1 is the "code cell"
// a spend declares as a cell-dep to satisfy that lock.
func genesisWithSpendableCell() *externalapi.Block {
	codeHash := hashing.CellOutputDataHash(codeCellData)
	header := externalapi.Header{
		Number:        0,
		TimestampMs:   1000,
		CompactTarget: testCompactTarget,
		EpochPacked:   externalapi.EpochNumberWithFraction{Length: testEpochLength}.Pack(),
	}
	cellbase := externalapi.Transaction{
		Inputs: []externalapi.CellInput{{PreviousOutput: externalapi.NullOutPoint()}},
		Outputs: []externalapi.CellOutput{
			{Capacity: testCellbaseCapacity, Lock: &externalapi.Script{CodeHash: codeHash, HashType: externalapi.HashTypeData}},
			{Capacity: testCellbaseCapacity, Lock: &externalapi.Script{}},
		},
		OutputsData: [][]byte{{}, codeCellData},
	}
	blk := &externalapi.Block{Header: header, Transactions: []externalapi.Transaction{cellbase}}
	finalizeDigests(blk)
	return blk
}

// spendTx spends prevOut (the spendable cell) into a single fresh
// output, declaring codeCellOut as the cell-dep its lock resolves
// against.
func spendTx(prevOut, codeCellOut externalapi.OutPoint) externalapi.Transaction {
	return externalapi.Transaction{
		CellDeps:    []externalapi.CellDep{{OutPoint: codeCellOut, DepType: externalapi.CellDepTypeCode}},
		Inputs:      []externalapi.CellInput{{PreviousOutput: prevOut}},
		Outputs:     []externalapi.CellOutput{{Capacity: spendableOutputCapacity, Lock: &externalapi.Script{}}},
		OutputsData: [][]byte{{}},
	}
}

// spendBlock builds a child block carrying a cellbase plus one
// additional (spending) transaction, mirroring childBlock's shape.
func spendBlock(parent *externalapi.Header, parentHash externalapi.Byte32, timestampMs, cellbaseCapacity uint64, tx externalapi.Transaction) *externalapi.Block {
	number := parent.Number + 1
	header := externalapi.Header{
		ParentHash:    parentHash,
		TimestampMs:   timestampMs,
		Number:        number,
		CompactTarget: testCompactTarget,
		EpochPacked:   externalapi.EpochNumberWithFraction{Index: number, Length: testEpochLength}.Pack(),
	}
	cellbase := externalapi.Transaction{
		Inputs:      []externalapi.CellInput{{PreviousOutput: externalapi.NullOutPoint(), Since: number}},
		Outputs:     []externalapi.CellOutput{{Capacity: cellbaseCapacity, Lock: &externalapi.Script{}}},
		OutputsData: [][]byte{{}},
	}
	blk := &externalapi.Block{Header: header, Transactions: []externalapi.Transaction{cellbase, tx}}
	finalizeDigests(blk)
	return blk
}

// newTestServiceWithGenesis is newTestService, parameterized on the
// genesis block, for fixtures that need a spendable genesis cellbase
// output.
func newTestServiceWithGenesis(t *testing.T, genesis *externalapi.Block) *Service {
	t.Helper()
	consensus := testConsensus(genesis)
	db := openTestStore(t)
	t.Cleanup(func() { db.Close() })
	svc, err := NewService(db, consensus, alwaysValidPow{}, noopVM{})
	if err != nil {
		t.Fatalf("constructing service: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc
}

// TestInBlockDoubleSpendRejected covers the in-block double-spend
// scenario: two transactions in the same block each spend the same
// cell. resolver.Resolve catches the second claim against its shared
// seen_inputs set (the same mechanism spec.md §4.5 rule 1 calls
// "DeadCell/Conflict" for an intra-batch clash) and rejects the block
// before either spend is committed.
func TestInBlockDoubleSpendRejected(t *testing.T) {
	genesis := genesisWithSpendableCell()
	svc := newTestServiceWithGenesis(t, genesis)
	genesisHash := hashing.HeaderHash(&genesis.Header)
	genesisCellbaseHash := hashing.TxHash(&genesis.Transactions[0])

	spendableCell := externalapi.OutPoint{TxHash: genesisCellbaseHash, Index: 0}
	codeCell := externalapi.OutPoint{TxHash: genesisCellbaseHash, Index: 1}

	tx1 := spendTx(spendableCell, codeCell)
	tx2 := spendTx(spendableCell, codeCell) // same previous_output as tx1

	number := genesis.Header.Number + 1
	header := externalapi.Header{
		ParentHash:    genesisHash,
		TimestampMs:   2000,
		Number:        number,
		CompactTarget: testCompactTarget,
		EpochPacked:   externalapi.EpochNumberWithFraction{Index: number, Length: testEpochLength}.Pack(),
	}
	cellbase := externalapi.Transaction{
		Inputs:      []externalapi.CellInput{{PreviousOutput: externalapi.NullOutPoint(), Since: number}},
		Outputs:     []externalapi.CellOutput{{Capacity: testCellbaseCapacity, Lock: &externalapi.Script{}}},
		OutputsData: [][]byte{{}},
	}
	block1 := &externalapi.Block{Header: header, Transactions: []externalapi.Transaction{cellbase, tx1, tx2}}
	finalizeDigests(block1)

	err := svc.SubmitBlock(block1, testSkipFlags|DisableTwoPhaseCommit)
	if err == nil {
		t.Fatal("expected the in-block double-spend to be rejected")
	}
	re, ok := ruleerrors.AsRuleError(err)
	if !ok {
		t.Fatalf("expected a RuleError, got %v", err)
	}
	if re.Category != ruleerrors.CategoryOutPoint || re.Code != ruleerrors.ErrOutPointDead {
		t.Fatalf("expected OutPoint/Dead (the intra-batch Conflict case), got %s/%d", re.Category, re.Code)
	}
	txErr, ok := err.(*ruleerrors.TransactionIndexError)
	if !ok {
		t.Fatalf("expected a TransactionIndexError, got %T", err)
	}
	if txErr.Index != 2 {
		t.Fatalf("expected the second spend (index 2, after the cellbase and tx1) to be cited, got index %d", txErr.Index)
	}

	if svc.CurrentSnapshot().TipHeader.Number != 0 {
		t.Fatal("expected the cell set to be unaffected: tip must remain at genesis")
	}
}

// TestCrossBlockDoubleSpendAfterReorgRejected covers the cross-block
// double-spend scenario: a cell is spent by tx1 on a side branch that
// later overtakes the canonical tip via reorg, and a later block on
// that now-canonical branch tries to spend the same cell again via
// tx2. By the time tx2 is resolved, the spend is no longer a
// same-batch claim (spec.md's "DeadCell/Conflict" case): the cell was
// already removed from the live set by a previously-accepted,
// previously-verified block, so it resolves as a plain missing
// out-point -- the same "look up the cell; missing" clause of §4.5
// rule 1 that any never-existed out-point hits.
func TestCrossBlockDoubleSpendAfterReorgRejected(t *testing.T) {
	genesis := genesisWithSpendableCell()
	svc := newTestServiceWithGenesis(t, genesis)
	genesisHash := hashing.HeaderHash(&genesis.Header)
	genesisCellbaseHash := hashing.TxHash(&genesis.Transactions[0])

	spendableCell := externalapi.OutPoint{TxHash: genesisCellbaseHash, Index: 0}
	codeCell := externalapi.OutPoint{TxHash: genesisCellbaseHash, Index: 1}

	// branchB is a plain one-block main chain, submitted first so it
	// becomes the initial tip.
	branchB1 := childBlock(&genesis.Header, genesisHash, 2000, testCellbaseCapacity)
	if err := svc.SubmitBlock(branchB1, testSkipFlags); err != nil {
		t.Fatalf("unexpected error accepting branchB1: %v", err)
	}

	// branchA1 spends the cell at height 1 too, on a side branch tied
	// with branchB1's difficulty: it is stored but does not become tip.
	tx1 := spendTx(spendableCell, codeCell)
	branchA1 := spendBlock(&genesis.Header, genesisHash, 1500, testCellbaseCapacity+1, tx1)
	branchA1Hash := hashing.HeaderHash(&branchA1.Header)
	if branchA1Hash == hashing.HeaderHash(&branchB1.Header) {
		t.Fatal("test fixture bug: branchA1 must hash differently from branchB1")
	}
	if err := svc.SubmitBlock(branchA1, testSkipFlags|DisableTwoPhaseCommit); err != nil {
		t.Fatalf("unexpected error storing side branch branchA1: %v", err)
	}
	if svc.CurrentSnapshot().TipHeader.Number != 1 {
		t.Fatal("expected branchB1 to remain tip after a tied-difficulty side block")
	}

	// branchA2 extends branchA1 past branchB1's total difficulty,
	// triggering a reorg onto branch A: the chain is now accepted up
	// to height 2 (H+1, H+2), with the cell already spent by tx1.
	branchA2 := childBlock(&branchA1.Header, branchA1Hash, 2500, testCellbaseCapacity)
	branchA2Hash := hashing.HeaderHash(&branchA2.Header)
	if err := svc.SubmitBlock(branchA2, testSkipFlags); err != nil {
		t.Fatalf("unexpected error reorganizing onto branch A: %v", err)
	}
	snap := svc.CurrentSnapshot()
	if snap.TipHeader.Number != 2 || hashing.HeaderHash(snap.TipHeader) != branchA2Hash {
		t.Fatalf("expected the reorganized tip to be branchA2 at height 2, got number %d", snap.TipHeader.Number)
	}

	// branchA3 (H+3) spends the same cell again: it must be rejected.
	tx2 := spendTx(spendableCell, codeCell)
	branchA3 := spendBlock(&branchA2.Header, branchA2Hash, 3500, testCellbaseCapacity, tx2)

	err := svc.SubmitBlock(branchA3, testSkipFlags|DisableTwoPhaseCommit)
	if err == nil {
		t.Fatal("expected the cross-block double-spend to be rejected")
	}
	re, ok := ruleerrors.AsRuleError(err)
	if !ok {
		t.Fatalf("expected a RuleError, got %v", err)
	}
	// Unlike the in-block case, the already-spent cell is simply gone
	// from the live set by now (it was removed when branchA1 attached,
	// long before branchA3's own seen_inputs batch begins), so this
	// hits Unknown (the missing-cell branch) rather than Dead (the
	// seen_inputs branch that catches an in-block double spend).
	if re.Category != ruleerrors.CategoryOutPoint || re.Code != ruleerrors.ErrOutPointUnknown {
		t.Fatalf("expected OutPoint/Unknown (the cell is no longer live), got %s/%d", re.Category, re.Code)
	}

	snap = svc.CurrentSnapshot()
	if snap.TipHeader.Number != 2 || hashing.HeaderHash(snap.TipHeader) != branchA2Hash {
		t.Fatal("expected the tip to remain branchA2: the rejected block must not advance it")
	}
}
