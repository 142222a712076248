// Package chain implements the single-writer chain-core state machine:
// one goroutine receives candidate blocks, resolves
// and verifies them against the live cell set, commits accepted blocks
// (reorganizing if a side branch overtakes the tip), and publishes an
// immutable Snapshot of the new state to every subscriber. It is
// grounded on the blockdag package for the overall
// "single writer, durable store, in-memory index" shape
// (blockdag.BlockDAG, ProcessBlock, maybeAcceptBlock), generalized from
// a GHOSTDAG blue-set DAG to a linear, cumulative-difficulty chain.
package chain

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/cellnetio/cellchaind/cellset"
	"github.com/cellnetio/cellchaind/epoch"
	"github.com/cellnetio/cellchaind/externalapi"
	"github.com/cellnetio/cellchaind/headerverifier"
	"github.com/cellnetio/cellchaind/internal/hashing"
	"github.com/cellnetio/cellchaind/internal/molecule"
	"github.com/cellnetio/cellchaind/logger"
	"github.com/cellnetio/cellchaind/orphanpool"
	"github.com/cellnetio/cellchaind/proposal"
	"github.com/cellnetio/cellchaind/ruleerrors"
	"github.com/cellnetio/cellchaind/scriptverifier"
	"github.com/cellnetio/cellchaind/store"
)

// Service is the chain core: the single writer over db, the live cell
// set and proposal window it derives its view from, and the snapshot
// it publishes after every tip change.
type Service struct {
	db         store.Database
	consensus  *externalapi.Consensus
	pow        headerverifier.ProofOfWorkVerifier
	scriptVerifier *scriptverifier.Verifier
	epochCache *epoch.Cache
	orphans    *orphanpool.Pool
	log        logsLogger

	// mu guards every field below, all only ever mutated by run().
	mu             sync.RWMutex
	cells          *cellset.Set
	proposalWindow *proposal.Window
	currentTip     externalapi.Byte32

	genesisHash       externalapi.Byte32
	genesisHeader     *externalapi.Header
	genesisDifficulty externalapi.Difficulty

	snapshot atomic.Pointer[externalapi.Snapshot]

	subMu       sync.Mutex
	subscribers []chan ChainEvent

	submissions chan blockJob
	quit        chan struct{}
	wg          sync.WaitGroup
}

// logsLogger is the narrow logging surface Service needs, satisfied by
// *internal/logs.Logger; named locally so this file does not import
// internal/logs just to spell the type out.
type logsLogger interface {
	Tracef(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Criticalf(format string, args ...interface{})
}

type blockJob struct {
	block    *externalapi.Block
	flags    SwitchFlags
	callback func(accepted bool, err error)
	done     chan error

	// truncateTarget, when set, makes this job a Truncate request
	// instead of a block submission -- routed through the same
	// single-writer channel so it can never race processBlock.
	truncateTarget *externalapi.Byte32
}

// NewService constructs a Service over db, bootstrapping consensus's
// genesis block if the store is empty, or loading the existing tip
// otherwise. pow and vm are external collaborators this package treats
// as somebody else's contract.
func NewService(db store.Database, consensus *externalapi.Consensus, pow headerverifier.ProofOfWorkVerifier, vm scriptverifier.VM) (*Service, error) {
	chanLogger, _ := logger.Get(logger.SubsystemTags.CHAN)

	s := &Service{
		db:        db,
		consensus: consensus,
		pow:       pow,
		scriptVerifier: &scriptverifier.Verifier{
			VM:          vm,
			Cache:       scriptverifier.NewCache(),
			MaxCycles:   consensus.MaxBlockCycles,
			LoadProgram: scriptverifier.DefaultLoadProgram,
			BuildArgs: func(g *scriptverifier.Group) [][]byte {
				return [][]byte{g.Script.Args}
			},
			ProgramDigest: func(program []byte) externalapi.Byte32 {
				return hashing.CellOutputDataHash(program)
			},
		},
		epochCache:  epoch.NewCache(),
		orphans:     orphanpool.New(orphanpool.DefaultCapacity),
		log:         chanLogger,
		submissions: make(chan blockJob, 64),
		quit:        make(chan struct{}),
	}

	if _, ok := getTipHash(db); !ok {
		if err := s.initGenesis(); err != nil {
			return nil, errors.Wrap(err, "bootstrapping genesis")
		}
	} else if err := s.loadTip(); err != nil {
		return nil, errors.Wrap(err, "loading existing tip")
	}

	s.wg.Add(1)
	go s.run()
	return s, nil
}

// loadTip reconstructs in-memory state (cell set, proposal window,
// genesis identity, published snapshot) from an already-populated
// store, by replaying every block from genesis to the stored tip.
// Grounded on the blockdag restart path
// (BlockDAG.initBlockIndex), which likewise rebuilds its in-memory
// index by walking the store rather than snapshotting it separately.
func (s *Service) loadTip() error {
	tipHash, ok := getTipHash(s.db)
	if !ok {
		return errors.New("store is non-empty but has no tip header")
	}

	genesis := s.consensus.Genesis
	if genesis == nil {
		return errors.New("consensus has no genesis block")
	}
	s.genesisHash = hashing.HeaderHash(&genesis.Header)
	s.genesisHeader = genesis.Header.Clone()
	s.genesisDifficulty = externalapi.DifficultyFromCompactTarget(genesis.Header.CompactTarget)

	cells := cellset.New()
	window := proposal.NewWindow()

	cur := s.genesisHash
	for {
		header, err := getHeader(s.db, cur)
		if err != nil {
			return errors.Wrapf(err, "replaying header %s", cur)
		}
		blk, err := getBlock(s.db, cur)
		if err != nil {
			return errors.Wrapf(err, "replaying body %s", cur)
		}
		if err := cells.AttachBlockCell(blk, header.Number, header.Epoch(), cur); err != nil {
			return err
		}
		fallingOut, err := s.fallingOutProposals(header.Number)
		if err != nil {
			return err
		}
		window.Attach(blk.Proposals, fallingOut)

		if cur == tipHash {
			break
		}
		next, ok := getHashByNumber(s.db, header.Number+1)
		if !ok {
			return errors.Errorf("index gap: no block at height %d below tip", header.Number+1)
		}
		cur = next
	}

	s.cells = cells
	s.proposalWindow = window
	s.currentTip = tipHash

	tipHeader, err := getHeader(s.db, tipHash)
	if err != nil {
		return err
	}
	tipExt, err := getBlockExt(s.db, tipHash)
	if err != nil {
		return err
	}
	currentEpoch, err := s.epochGoverning(tipHash, tipHeader)
	if err != nil {
		return err
	}
	proposals, err := s.proposalWindowSetFor(tipHeader.Number+1, tipHash)
	if err != nil {
		return err
	}
	s.snapshot.Store(s.buildSnapshot(tipHeader, tipExt, currentEpoch, proposals))
	return nil
}

func (s *Service) tipHash() externalapi.Byte32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentTip
}

// CurrentSnapshot returns the most recently published Snapshot.
func (s *Service) CurrentSnapshot() *externalapi.Snapshot {
	return s.snapshot.Load()
}

// Close stops the writer goroutine and waits for it to exit.
func (s *Service) Close() {
	close(s.quit)
	s.wg.Wait()
}

// SubmitBlock enqueues block for processing and blocks until the writer
// has either accepted or rejected it.
func (s *Service) SubmitBlock(block *externalapi.Block, flags SwitchFlags) error {
	done := make(chan error, 1)
	job := blockJob{block: block, flags: flags, done: done}
	select {
	case s.submissions <- job:
	case <-s.quit:
		return errors.New("chain service is shutting down")
	}
	select {
	case err := <-done:
		return err
	case <-s.quit:
		return errors.New("chain service is shutting down")
	}
}

// run is the single writer goroutine: every state transition happens
// here, so no lock is needed around the cell set or proposal window
// mutations themselves.
func (s *Service) run() {
	defer s.wg.Done()
	for {
		select {
		case job := <-s.submissions:
			if job.truncateTarget != nil {
				job.done <- s.truncateTo(*job.truncateTarget)
				continue
			}
			err := s.processBlock(job.block, job.flags)
			if job.callback != nil {
				job.callback(err == nil, err)
			}
			job.done <- err
		case <-s.quit:
			return
		}
	}
}

// processBlock runs one candidate through the full acceptance pipeline:
// NonContextualCheck, ParentLookup, then either OrphanPark or
// ContextualVerify followed by StoreSide/Reorganize/MarkInvalid.
func (s *Service) processBlock(block *externalapi.Block, flags SwitchFlags) error {
	hash := hashing.HeaderHash(&block.Header)

	if _, err := getHeader(s.db, hash); err == nil {
		s.log.Debugf("block %s already known", hash)
		return nil
	}

	if !flags.Has(DisableNonContextual) {
		if err := structuralCheck(block, s.consensus); err != nil {
			return err
		}
	}

	if _, err := getHeader(s.db, block.Header.ParentHash); err != nil {
		entry := &externalapi.OrphanEntry{Block: block, ReceivedAtMs: nowMs()}
		s.orphans.Insert(entry)
		s.log.Debugf("parked orphan %s awaiting parent %s", hash, block.Header.ParentHash)
		return nil
	}

	return s.acceptAndMaybeReorg(block, hash, flags)
}

// acceptAndMaybeReorg verifies block, persists it and its BlockExt
// unconditionally (even on a side branch, so future reorgs onto it
// need not reverify), then promotes it to tip -- either as a pure
// extension or via a full Reorganize -- whenever its total difficulty
// exceeds the current tip's. Finally it releases any orphans that were
// waiting on this block's hash.
func (s *Service) acceptAndMaybeReorg(block *externalapi.Block, hash externalapi.Byte32, flags SwitchFlags) error {
	ext, workingCells, err := s.contextualVerify(block, hash, flags)
	if err != nil {
		if ruleerrors.IsRuleError(err) {
			_ = s.persistInvalid(block, hash)
		}
		return err
	}

	if err := s.persistAccepted(block, hash, ext); err != nil {
		return err
	}

	currentTip := s.tipHash()
	currentExt, err := getBlockExt(s.db, currentTip)
	if err != nil {
		return err
	}

	if ext.TotalDifficulty.Cmp(currentExt.TotalDifficulty) > 0 {
		if block.Header.ParentHash == currentTip {
			if err := s.extendTip(block, hash, ext, workingCells); err != nil {
				return err
			}
		} else {
			if err := s.reorganize(block, hash, ext, workingCells); err != nil {
				return err
			}
		}
	}

	for _, entry := range s.orphans.RemoveBlocksByParent(hash) {
		if err := s.processBlock(entry.Block, flags); err != nil {
			s.log.Warnf("released orphan rejected: %s", err)
			if entry.VerifyCallback != nil {
				entry.VerifyCallback(false, err)
			}
		} else if entry.VerifyCallback != nil {
			entry.VerifyCallback(true, nil)
		}
	}
	return nil
}

// persistAccepted writes a verified block's header, body, and ext
// unconditionally, independent of whether it becomes the new tip.
func (s *Service) persistAccepted(block *externalapi.Block, hash externalapi.Byte32, ext *externalapi.BlockExt) error {
	txn, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer txn.RollbackUnlessClosed()

	if err := putHeader(txn, hash, &block.Header); err != nil {
		return err
	}
	if err := putBlockBody(txn, hash, block); err != nil {
		return err
	}
	if err := putBlockExt(txn, hash, ext); err != nil {
		return err
	}
	return txn.Commit()
}

// persistInvalid marks a rejected block's ext (if its parent accepted
// successfully enough to reach ContextualVerify) so a later candidate
// extending it is rejected immediately.
func (s *Service) persistInvalid(block *externalapi.Block, hash externalapi.Byte32) error {
	txn, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer txn.RollbackUnlessClosed()
	if err := putHeader(txn, hash, &block.Header); err != nil {
		return err
	}
	ext := &externalapi.BlockExt{ReceivedAtMs: nowMs(), Verified: externalapi.VerifiedInvalid}
	if err := putBlockExt(txn, hash, ext); err != nil {
		return err
	}
	return txn.Commit()
}

// structuralCheck runs the non-contextual body-shape rules that don't
// require a parent: transaction-count and cellbase positioning,
// proposal count, and serialized size.
func structuralCheck(block *externalapi.Block, consensus *externalapi.Consensus) error {
	if len(block.Transactions) == 0 {
		return ruleerrors.New(ruleerrors.CategoryBlock, ruleerrors.ErrBlockEmptyTransactions, "block has no transactions")
	}
	if !block.Transactions[0].LooksLikeCellbase() {
		return ruleerrors.New(ruleerrors.CategoryBlock, ruleerrors.ErrBlockFirstTxNotCellbase, "first transaction is not shaped like a cellbase")
	}
	for _, tx := range block.Transactions[1:] {
		if tx.LooksLikeCellbase() {
			return ruleerrors.New(ruleerrors.CategoryBlock, ruleerrors.ErrBlockCellbase, "non-first transaction is shaped like a cellbase")
		}
	}
	if uint64(len(block.Proposals)) > consensus.MaxBlockProposals {
		return ruleerrors.Errorf(ruleerrors.CategoryBlock, ruleerrors.ErrBlockTooManyProposals,
			"block proposes %d ids, exceeding maximum %d", len(block.Proposals), consensus.MaxBlockProposals)
	}

	b := molecule.NewBuilder()
	molecule.EncodeBlock(b, block)
	size := uint64(len(b.Bytes()))
	if size > consensus.MaxBlockBytes {
		return ruleerrors.Errorf(ruleerrors.CategoryBlock, ruleerrors.ErrBlockTooLargeSize,
			"serialized block size %d exceeds limit %d", size, consensus.MaxBlockBytes)
	}
	return nil
}
