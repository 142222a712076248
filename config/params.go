package config

import (
	"github.com/pkg/errors"

	"github.com/cellnetio/cellchaind/externalapi"
)

// genesisIssuanceLockArgs are the args of the burn-style lock used by
// the genesis cellbase's sole output: its code hash is zero, which
// matches no cell's data, so the output can never be unlocked -- there
// is no wallet in scope to receive it.
var genesisIssuanceLockArgs = []byte("cellchaind-genesis")

func genesisBlock(timestampMs uint64, compactTarget uint32, epochLength uint64) *externalapi.Block {
	cellbase := externalapi.Transaction{
		Version: 0,
		Inputs: []externalapi.CellInput{
			{PreviousOutput: externalapi.NullOutPoint(), Since: 0},
		},
		Outputs: []externalapi.CellOutput{
			{
				Capacity: 0,
				Lock:     &externalapi.Script{HashType: externalapi.HashTypeData, Args: genesisIssuanceLockArgs},
			},
		},
		OutputsData: [][]byte{{}},
	}

	return &externalapi.Block{
		Header: externalapi.Header{
			Version:       0,
			ParentHash:    externalapi.Byte32{},
			TimestampMs:   timestampMs,
			Number:        0,
			CompactTarget: compactTarget,
			EpochPacked: externalapi.EpochNumberWithFraction{
				Number: 0, Index: 0, Length: epochLength,
			}.Pack(),
		},
		Transactions: []externalapi.Transaction{cellbase},
	}
}

// mainnetCompactTarget/testnetCompactTarget follow the
// dagconfig convention of a much easier testnet/devnet starting
// difficulty than mainnet's.
const (
	mainnetCompactTarget = 0x1d00ffff
	testnetCompactTarget = 0x207fffff
	devnetCompactTarget  = 0x207fffff

	mainnetEpochLength = 1800
	testnetEpochLength = 100
	devnetEpochLength  = 10

	mainnetEpochDurationTargetMs = 4 * 60 * 60 * 1000 // 4 hours, CKB's target
	testnetEpochDurationTargetMs = 30 * 60 * 1000
	devnetEpochDurationTargetMs  = 60 * 1000

	mainnetInitialEpochReward = 1_917_808_21917808 // shannons/epoch at CKB's initial annual issuance
	testnetInitialEpochReward = 1_917_808_21917808
	devnetInitialEpochReward  = 100_000_00000000
)

func baseConsensus(id string, genesis *externalapi.Block, epochDurationTargetMs, initialEpochReward uint64) *externalapi.Consensus {
	return &externalapi.Consensus{
		ID:               id,
		Genesis:          genesis,
		ProposalWindow:   externalapi.ProposalWindow{Closest: 2, Farthest: 10},
		CellbaseMaturity: externalapi.EpochNumberWithFraction{Number: 4, Index: 0, Length: 1},
		OrphanRateTarget: externalapi.Rational{Numer: 1, Denom: 40},
		MaxBlockCycles:          defaultMaxBlockCycles,
		MaxBlockBytes:           defaultMaxBlockBytes,
		MaxBlockProposals:       1500,
		InitialPrimaryEpochReward: initialEpochReward,
		EpochDurationTargetMs:   epochDurationTargetMs,
		MinFeeRate:              1000,
		TxVersion:               0,
		BlockVersion:            0,
		Hardfork:                externalapi.AllHardforksAtGenesis(),
		MaxExtensionBytes:       96,
		MaxUnclesAge:            6,
		MaxUnclesNum:            2,
		AllowedFutureBlockTimeMs: externalapi.DefaultAllowedFutureBlockTimeMs,
		MedianTimeBlockCount:    externalapi.DefaultMedianTimeBlockCount,
	}
}

// MainnetConsensus returns the fixed consensus parameters of the main
// network, grounded on the dagconfig.MainnetParams.
func MainnetConsensus() *externalapi.Consensus {
	genesis := genesisBlock(0x176a95cef33, mainnetCompactTarget, mainnetEpochLength)
	return baseConsensus("cellchain-mainnet", genesis, mainnetEpochDurationTargetMs, mainnetInitialEpochReward)
}

// TestnetConsensus returns the consensus parameters of the public test
// network: a much lower starting difficulty and shorter epoch, the way
// the testnet genesis differs from mainnet's.
func TestnetConsensus() *externalapi.Consensus {
	genesis := genesisBlock(0x176a95cef33, testnetCompactTarget, testnetEpochLength)
	return baseConsensus("cellchain-testnet", genesis, testnetEpochDurationTargetMs, testnetInitialEpochReward)
}

// DevnetConsensus returns consensus parameters tuned for fast local
// iteration: trivial difficulty, a short epoch, and a low reward.
func DevnetConsensus() *externalapi.Consensus {
	genesis := genesisBlock(0x176a95cef33, devnetCompactTarget, devnetEpochLength)
	return baseConsensus("cellchain-devnet", genesis, devnetEpochDurationTargetMs, devnetInitialEpochReward)
}

// Consensus resolves cfg.NetworkID to its fixed parameter set.
func (cfg *Config) Consensus() (*externalapi.Consensus, error) {
	switch cfg.NetworkID {
	case "mainnet":
		return MainnetConsensus(), nil
	case "testnet":
		return TestnetConsensus(), nil
	case "devnet":
		return DevnetConsensus(), nil
	default:
		return nil, errors.Errorf("unknown network %q", cfg.NetworkID)
	}
}
