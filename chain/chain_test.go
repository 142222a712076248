package chain

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/cellnetio/cellchaind/externalapi"
	"github.com/cellnetio/cellchaind/internal/hashing"
	"github.com/cellnetio/cellchaind/store/leveldb"
)

const (
	testEpochLength       = 1_000_000
	testCompactTarget     = uint32(0x1c0180aa)
	testCellbaseCapacity  = 5_000_000_000
	testSkipFlags         = DisableReward | DisableDAOHeader
)

type alwaysValidPow struct{}

func (alwaysValidPow) Verify(externalapi.Byte32, [16]byte, uint32) bool { return true }

type noopVM struct{}

func (noopVM) Run(program []byte, args [][]byte) (bool, uint64, error) { return true, 0, nil }

func init() {
	nowMs = func() uint64 { return 10_000_000 }
}

func finalizeDigests(blk *externalapi.Block) {
	blk.Header.TransactionsRoot = hashing.TransactionsRoot(blk.Transactions)
	blk.Header.ProposalsHash = hashing.ProposalsHash(blk.Proposals)
	blk.Header.ExtraHash = hashing.ExtraHash(hashing.UnclesHash(blk.Uncles), blk.Extension)
}

func testGenesisBlock() *externalapi.Block {
	header := externalapi.Header{
		Number:        0,
		TimestampMs:   1000,
		CompactTarget: testCompactTarget,
		EpochPacked:   externalapi.EpochNumberWithFraction{Length: testEpochLength}.Pack(),
	}
	cellbase := externalapi.Transaction{
		Inputs:      []externalapi.CellInput{{PreviousOutput: externalapi.NullOutPoint()}},
		Outputs:     []externalapi.CellOutput{{Capacity: testCellbaseCapacity, Lock: &externalapi.Script{}}},
		OutputsData: [][]byte{{}},
	}
	blk := &externalapi.Block{Header: header, Transactions: []externalapi.Transaction{cellbase}}
	finalizeDigests(blk)
	return blk
}

// childBlock builds a one-cellbase-transaction block extending parent,
// with every header field self-consistent except for the fields the
// caller explicitly varies (timestamp, cellbase capacity) -- enough to
// pass contextual verification with testSkipFlags disabling only the
// cellbase-reward ceiling and DAO recomputation.
func childBlock(parent *externalapi.Header, parentHash externalapi.Byte32, timestampMs, cellbaseCapacity uint64) *externalapi.Block {
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
	blk := &externalapi.Block{Header: header, Transactions: []externalapi.Transaction{cellbase}}
	finalizeDigests(blk)
	return blk
}

func testConsensus(genesis *externalapi.Block) *externalapi.Consensus {
	return &externalapi.Consensus{
		ID:                        "test",
		Genesis:                   genesis,
		ProposalWindow:            externalapi.ProposalWindow{Closest: 0, Farthest: 0},
		CellbaseMaturity:          externalapi.EpochNumberWithFraction{Length: 1},
		OrphanRateTarget:          externalapi.Rational{Numer: 1, Denom: 40},
		MaxBlockCycles:            1_000_000,
		MaxBlockBytes:             1_000_000,
		MaxBlockProposals:         10,
		InitialPrimaryEpochReward: 1_000_000_000,
		EpochDurationTargetMs:     1_800_000,
		TxVersion:                 0,
		BlockVersion:              0,
		Hardfork: externalapi.HardforkSwitch{
			RFC0028: 1 << 20, RFC0029: 1 << 20, RFC0030: 1 << 20,
			RFC0031: 1 << 20, RFC0032: 1 << 20, RFC0036: 1 << 20, RFC0038: 1 << 20,
		},
		MaxExtensionBytes:        96,
		MaxUnclesAge:             6,
		MaxUnclesNum:             2,
		AllowedFutureBlockTimeMs: externalapi.DefaultAllowedFutureBlockTimeMs,
		MedianTimeBlockCount:     externalapi.DefaultMedianTimeBlockCount,
	}
}

func openTestStore(t *testing.T) *leveldb.LevelDB {
	t.Helper()
	db, err := leveldb.Open(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	return db
}

func newTestService(t *testing.T) (*Service, *externalapi.Block) {
	t.Helper()
	genesis := testGenesisBlock()
	consensus := testConsensus(genesis)
	db := openTestStore(t)
	t.Cleanup(func() { db.Close() })
	svc, err := NewService(db, consensus, alwaysValidPow{}, noopVM{})
	if err != nil {
		t.Fatalf("constructing service: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc, genesis
}

func TestGenesisBootstrap(t *testing.T) {
	svc, genesis := newTestService(t)
	snap := svc.CurrentSnapshot()
	if snap == nil || snap.TipHeader == nil {
		t.Fatal("expected a published genesis snapshot")
	}
	if snap.TipHeader.Number != 0 {
		t.Fatalf("expected tip number 0, got %d", snap.TipHeader.Number)
	}
	if snap.TipExt.Verified != externalapi.VerifiedOK {
		t.Fatalf("expected genesis ext to be verified ok, got %v", snap.TipExt.Verified)
	}
	wantDifficulty := externalapi.DifficultyFromCompactTarget(genesis.Header.CompactTarget)
	if snap.TipExt.TotalDifficulty.Cmp(wantDifficulty) != 0 {
		t.Fatalf("expected genesis total difficulty %s, got %s", wantDifficulty, snap.TipExt.TotalDifficulty)
	}
}

func TestExtendTipNormal(t *testing.T) {
	svc, genesis := newTestService(t)
	genesisHash := hashing.HeaderHash(&genesis.Header)

	block1 := childBlock(&genesis.Header, genesisHash, 2000, testCellbaseCapacity)
	if err := svc.SubmitBlock(block1, testSkipFlags); err != nil {
		t.Fatalf("unexpected error extending tip: %v", err)
	}

	snap := svc.CurrentSnapshot()
	if snap.TipHeader.Number != 1 {
		t.Fatalf("expected tip number 1, got %d", snap.TipHeader.Number)
	}
	block1Hash := hashing.HeaderHash(&block1.Header)
	if hashing.HeaderHash(snap.TipHeader) != block1Hash {
		t.Fatal("expected the new tip to be block1")
	}
}

func TestOrphanParkedThenReleased(t *testing.T) {
	svc, genesis := newTestService(t)
	genesisHash := hashing.HeaderHash(&genesis.Header)

	block1 := childBlock(&genesis.Header, genesisHash, 2000, testCellbaseCapacity)
	block1Hash := hashing.HeaderHash(&block1.Header)
	block2 := childBlock(&block1.Header, block1Hash, 3000, testCellbaseCapacity)

	// Submit block2 before its parent is known: it should park as an
	// orphan rather than error, and the tip should not move.
	if err := svc.SubmitBlock(block2, testSkipFlags); err != nil {
		t.Fatalf("expected an orphan to park without error, got %v", err)
	}
	if svc.CurrentSnapshot().TipHeader.Number != 0 {
		t.Fatal("expected the tip to remain at genesis while block2 is orphaned")
	}

	// Submitting block1 should both extend the tip and release block2.
	if err := svc.SubmitBlock(block1, testSkipFlags); err != nil {
		t.Fatalf("unexpected error accepting block1: %v", err)
	}
	snap := svc.CurrentSnapshot()
	if snap.TipHeader.Number != 2 {
		t.Fatalf("expected the orphaned block2 to be released and become tip, got number %d", snap.TipHeader.Number)
	}
}

func TestSideBranchStorageAndReorg(t *testing.T) {
	svc, genesis := newTestService(t)
	genesisHash := hashing.HeaderHash(&genesis.Header)

	block1 := childBlock(&genesis.Header, genesisHash, 2000, testCellbaseCapacity)
	if err := svc.SubmitBlock(block1, testSkipFlags); err != nil {
		t.Fatalf("unexpected error accepting block1: %v", err)
	}
	block1Hash := hashing.HeaderHash(&block1.Header)
	if svc.CurrentSnapshot().TipHeader.Number != 1 {
		t.Fatal("expected block1 to become tip")
	}

	// altBlock1 shares block1's parent and difficulty: a tie does not
	// overtake the current tip, so it is stored as a side branch.
	altBlock1 := childBlock(&genesis.Header, genesisHash, 1500, testCellbaseCapacity+1)
	altBlock1Hash := hashing.HeaderHash(&altBlock1.Header)
	if altBlock1Hash == block1Hash {
		t.Fatal("test fixture bug: altBlock1 must hash differently from block1")
	}
	if err := svc.SubmitBlock(altBlock1, testSkipFlags); err != nil {
		t.Fatalf("unexpected error storing side branch: %v", err)
	}
	if svc.CurrentSnapshot().TipHeader.Number != 1 {
		t.Fatal("expected the tip to remain block1 after a tied-difficulty side block")
	}
	if ext, err := getBlockExt(svc.db, altBlock1Hash); err != nil || ext.Verified != externalapi.VerifiedOK {
		t.Fatalf("expected altBlock1 to be persisted verified ok, got ext=%+v err=%v", ext, err)
	}

	sub := svc.Subscribe()

	// altBlock2 extends the side branch past the canonical tip's total
	// difficulty, triggering a reorg onto it.
	altBlock2 := childBlock(&altBlock1.Header, altBlock1Hash, 2500, testCellbaseCapacity)
	altBlock2Hash := hashing.HeaderHash(&altBlock2.Header)
	if err := svc.SubmitBlock(altBlock2, testSkipFlags); err != nil {
		t.Fatalf("unexpected error reorganizing onto the side branch: %v", err)
	}

	snap := svc.CurrentSnapshot()
	if snap.TipHeader.Number != 2 {
		t.Fatalf("expected the reorganized tip to be at height 2, got %d", snap.TipHeader.Number)
	}
	if hashing.HeaderHash(snap.TipHeader) != altBlock2Hash {
		t.Fatal("expected the new tip to be altBlock2")
	}
	if gotHash, ok := getHashByNumber(svc.db, 1); !ok || gotHash != altBlock1Hash {
		t.Fatalf("expected height 1 to index altBlock1 after the reorg, got %s ok=%v", gotHash, ok)
	}

	select {
	case ev := <-sub:
		if ev.Kind != EventChainReorg {
			t.Fatalf("expected a reorg event, got kind %v", ev.Kind)
		}
		if len(ev.Detached) != 1 || hashing.HeaderHash(&ev.Detached[0].Header) != block1Hash {
			t.Fatalf("expected block1 to be reported detached, got %+v", ev.Detached)
		}
		if len(ev.Attached) != 2 {
			t.Fatalf("expected both altBlock1 and altBlock2 to be reported attached, got %+v", ev.Attached)
		}
	default:
		t.Fatal("expected a reorg event to have been published")
	}
}

func TestInvalidBlockMarkingPropagatesToChildren(t *testing.T) {
	svc, genesis := newTestService(t)
	genesisHash := hashing.HeaderHash(&genesis.Header)

	// A cellbase output capacity far below its occupied capacity fails
	// transaction verification, a rule error that should mark the block
	// (not just reject it).
	badBlock := childBlock(&genesis.Header, genesisHash, 2000, 1)
	badBlockHash := hashing.HeaderHash(&badBlock.Header)

	if err := svc.SubmitBlock(badBlock, testSkipFlags); err == nil {
		t.Fatal("expected an insufficient cell capacity error")
	}
	ext, err := getBlockExt(svc.db, badBlockHash)
	if err != nil {
		t.Fatalf("expected the invalid block's ext to be persisted, got %v", err)
	}
	if ext.Verified != externalapi.VerifiedInvalid {
		t.Fatalf("expected the invalid block to be marked VerifiedInvalid, got %v", ext.Verified)
	}

	childOfBad := childBlock(&badBlock.Header, badBlockHash, 3000, testCellbaseCapacity)
	err = svc.SubmitBlock(childOfBad, testSkipFlags)
	if err == nil {
		t.Fatal("expected a child of an invalid-marked block to be rejected")
	}
	if !strings.Contains(err.Error(), "previously marked invalid") {
		t.Fatalf("expected the rejection to cite the marked-invalid parent, got %v", err)
	}
}

func TestTruncateRewindsTipAndPublishesEvent(t *testing.T) {
	svc, genesis := newTestService(t)
	genesisHash := hashing.HeaderHash(&genesis.Header)

	block1 := childBlock(&genesis.Header, genesisHash, 2000, testCellbaseCapacity)
	if err := svc.SubmitBlock(block1, testSkipFlags); err != nil {
		t.Fatalf("unexpected error accepting block1: %v", err)
	}
	block1Hash := hashing.HeaderHash(&block1.Header)

	block2 := childBlock(&block1.Header, block1Hash, 3000, testCellbaseCapacity)
	if err := svc.SubmitBlock(block2, testSkipFlags); err != nil {
		t.Fatalf("unexpected error accepting block2: %v", err)
	}
	block2Hash := hashing.HeaderHash(&block2.Header)

	sub := svc.Subscribe()

	if err := svc.Truncate(block1Hash); err != nil {
		t.Fatalf("unexpected error truncating: %v", err)
	}

	snap := svc.CurrentSnapshot()
	if snap.TipHeader.Number != 1 {
		t.Fatalf("expected the tip to rewind to height 1, got %d", snap.TipHeader.Number)
	}
	if hashing.HeaderHash(snap.TipHeader) != block1Hash {
		t.Fatal("expected the rewound tip to be block1")
	}

	select {
	case ev := <-sub:
		if ev.Kind != EventChainReorg {
			t.Fatalf("expected a reorg event for the truncation, got kind %v", ev.Kind)
		}
		if len(ev.Detached) != 1 || hashing.HeaderHash(&ev.Detached[0].Header) != block2Hash {
			t.Fatalf("expected block2 to be reported detached by the truncation, got %+v", ev.Detached)
		}
	default:
		t.Fatal("expected Truncate to publish a reorg event")
	}
}

func TestTruncateToNonAncestorErrors(t *testing.T) {
	svc, genesis := newTestService(t)
	genesisHash := hashing.HeaderHash(&genesis.Header)

	block1 := childBlock(&genesis.Header, genesisHash, 2000, testCellbaseCapacity)
	if err := svc.SubmitBlock(block1, testSkipFlags); err != nil {
		t.Fatalf("unexpected error accepting block1: %v", err)
	}

	altBlock1 := childBlock(&genesis.Header, genesisHash, 1500, testCellbaseCapacity+1)
	if err := svc.SubmitBlock(altBlock1, testSkipFlags); err != nil {
		t.Fatalf("unexpected error storing side branch: %v", err)
	}
	altBlock1Hash := hashing.HeaderHash(&altBlock1.Header)

	if err := svc.Truncate(altBlock1Hash); err == nil {
		t.Fatal("expected truncating to a non-ancestor side block to error")
	}
}

func TestLoadTipReplaysFromStoreAcrossRestart(t *testing.T) {
	genesis := testGenesisBlock()
	consensus := testConsensus(genesis)
	genesisHash := hashing.HeaderHash(&genesis.Header)
	dir := t.TempDir()
	path := filepath.Join(dir, "db")

	db1, err := leveldb.Open(path)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	svc1, err := NewService(db1, consensus, alwaysValidPow{}, noopVM{})
	if err != nil {
		t.Fatalf("constructing service: %v", err)
	}
	block1 := childBlock(&genesis.Header, genesisHash, 2000, testCellbaseCapacity)
	if err := svc1.SubmitBlock(block1, testSkipFlags); err != nil {
		t.Fatalf("unexpected error accepting block1: %v", err)
	}
	svc1.Close()
	if err := db1.Close(); err != nil {
		t.Fatalf("closing store: %v", err)
	}

	db2, err := leveldb.Open(path)
	if err != nil {
		t.Fatalf("reopening store: %v", err)
	}
	t.Cleanup(func() { db2.Close() })
	svc2, err := NewService(db2, consensus, alwaysValidPow{}, noopVM{})
	if err != nil {
		t.Fatalf("reconstructing service over an existing store: %v", err)
	}
	t.Cleanup(svc2.Close)

	snap := svc2.CurrentSnapshot()
	if snap.TipHeader.Number != 1 {
		t.Fatalf("expected the reloaded tip to be at height 1, got %d", snap.TipHeader.Number)
	}
	if hashing.HeaderHash(snap.TipHeader) != hashing.HeaderHash(&block1.Header) {
		t.Fatal("expected the reloaded tip to be block1")
	}
}
