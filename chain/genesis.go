package chain

import (
	"github.com/pkg/errors"

	"github.com/cellnetio/cellchaind/cellset"
	"github.com/cellnetio/cellchaind/externalapi"
	"github.com/cellnetio/cellchaind/internal/hashing"
	"github.com/cellnetio/cellchaind/proposal"
)

// initGenesis writes consensus's genesis block into an empty store:
// its header, body, cell-set, index entry, tip pointer, and epoch 0.
// Grounded on the blockdag.initBlockIndex genesis bootstrap.
func (s *Service) initGenesis() error {
	genesis := s.consensus.Genesis
	if genesis == nil {
		return errors.New("consensus has no genesis block")
	}
	hash := hashing.HeaderHash(&genesis.Header)

	txn, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer txn.RollbackUnlessClosed()

	if err := putHeader(txn, hash, &genesis.Header); err != nil {
		return err
	}
	if err := putBlockBody(txn, hash, genesis); err != nil {
		return err
	}

	fraction := genesis.Header.Epoch()
	baseReward, remainder := splitGenesisEpochReward(s.consensus.InitialPrimaryEpochReward, fraction.Length)
	genesisEpoch := &externalapi.EpochExt{
		Number:                  fraction.Number,
		BaseBlockReward:         baseReward,
		RemainderReward:         remainder,
		PreviousEpochHashInPrev: externalapi.Byte32{},
		StartNumber:             genesis.Header.Number,
		Length:                  fraction.Length,
		CompactTarget:           genesis.Header.CompactTarget,
	}
	if err := putCurrentEpoch(txn, genesisEpoch); err != nil {
		return err
	}
	if err := putEpochByHash(txn, hash, genesisEpoch); err != nil {
		return err
	}

	difficulty := externalapi.DifficultyFromCompactTarget(genesis.Header.CompactTarget)
	ext := &externalapi.BlockExt{
		ReceivedAtMs:     genesis.Header.TimestampMs,
		TotalDifficulty:  difficulty,
		TotalUnclesCount: 0,
		Verified:         externalapi.VerifiedOK,
		TxsFees:          make([]uint64, len(genesis.Transactions)),
	}
	if err := putBlockExt(txn, hash, ext); err != nil {
		return err
	}
	if err := putIndex(txn, genesis.Header.Number, hash); err != nil {
		return err
	}
	if err := putTipHeader(txn, hash); err != nil {
		return err
	}

	cells := cellset.New()
	if err := cells.AttachBlockCell(genesis, genesis.Header.Number, fraction, hash); err != nil {
		return err
	}
	if err := applyBlockCellsToStore(txn, genesis, genesis.Header.Number, fraction, hash); err != nil {
		return err
	}

	if err := txn.Commit(); err != nil {
		return err
	}

	s.genesisHash = hash
	s.genesisHeader = genesis.Header.Clone()
	s.genesisDifficulty = difficulty
	s.cells = cells
	s.proposalWindow = proposal.NewWindow()
	s.proposalWindow.Attach(genesis.Proposals, nil)

	snapshot := s.buildSnapshot(s.genesisHeader, ext, genesisEpoch, nil)
	s.snapshot.Store(snapshot)
	return nil
}

func splitGenesisEpochReward(epochReward, length uint64) (base, remainder uint64) {
	if length == 0 {
		return 0, epochReward
	}
	return epochReward / length, epochReward % length
}
