package txverifier

import (
	"testing"

	"github.com/cellnetio/cellchaind/externalapi"
	"github.com/cellnetio/cellchaind/resolver"
	"github.com/cellnetio/cellchaind/ruleerrors"
)

func baseConsensus() *externalapi.Consensus {
	return &externalapi.Consensus{
		TxVersion:        0,
		MaxBlockBytes:    1 << 20,
		CellbaseMaturity: externalapi.EpochNumberWithFraction{Number: 4, Index: 0, Length: 1},
	}
}

func simpleResolved() *resolver.ResolvedTransaction {
	op := externalapi.OutPoint{TxHash: externalapi.Byte32{1}, Index: 0}
	tx := &externalapi.Transaction{
		Inputs:      []externalapi.CellInput{{PreviousOutput: op}},
		Outputs:     []externalapi.CellOutput{{Capacity: 5_000_000_000, Lock: &externalapi.Script{}}},
		OutputsData: [][]byte{{}},
	}
	return &resolver.ResolvedTransaction{
		Transaction:    tx,
		ResolvedInputs: []*externalapi.CellMeta{{OutPoint: op, Output: &externalapi.CellOutput{Capacity: 5_000_000_500}}},
	}
}

func noopProducer(meta *externalapi.CellMeta) (ProducerInfo, error) {
	return ProducerInfo{}, nil
}

func TestVerifyVersionMismatch(t *testing.T) {
	tx := &externalapi.Transaction{Version: 1}
	err := verifyVersion(tx, baseConsensus())
	re, ok := ruleerrors.AsRuleError(err)
	if !ok || re.Code != ruleerrors.ErrTxMismatchedVersion {
		t.Fatalf("expected ErrTxMismatchedVersion, got %+v", err)
	}
}

func TestVerifySizeExceeded(t *testing.T) {
	consensus := baseConsensus()
	consensus.MaxBlockBytes = 1
	tx := &externalapi.Transaction{
		Outputs:     []externalapi.CellOutput{{Capacity: 1, Lock: &externalapi.Script{}}},
		OutputsData: [][]byte{{}},
	}
	err := verifySize(tx, consensus)
	re, ok := ruleerrors.AsRuleError(err)
	if !ok || re.Code != ruleerrors.ErrTxExceededMaximumBytes {
		t.Fatalf("expected ErrTxExceededMaximumBytes, got %+v", err)
	}
}

func TestVerifyEmptyRejectsNoInputsOrOutputs(t *testing.T) {
	if err := verifyEmpty(&externalapi.Transaction{Outputs: []externalapi.CellOutput{{}}}); err == nil {
		t.Fatal("expected an error for a transaction with no inputs")
	}
	tx := &externalapi.Transaction{Inputs: []externalapi.CellInput{{}}}
	if err := verifyEmpty(tx); err == nil {
		t.Fatal("expected an error for a transaction with no outputs")
	}
}

func TestVerifyMaturityRejectsImmatureCellbase(t *testing.T) {
	rt := simpleResolved()
	ctx := Context{
		Consensus: baseConsensus(),
		TipEpoch:  externalapi.EpochNumberWithFraction{Number: 2, Length: 1},
	}
	producer := func(meta *externalapi.CellMeta) (ProducerInfo, error) {
		return ProducerInfo{IsCellbase: true, BlockEpoch: externalapi.EpochNumberWithFraction{Number: 1, Length: 1}}, nil
	}
	err := verifyMaturity(rt, ctx, producer)
	re, ok := ruleerrors.AsRuleError(err)
	if !ok || re.Code != ruleerrors.ErrTxCellbaseImmaturity {
		t.Fatalf("expected ErrTxCellbaseImmaturity, got %+v", err)
	}
}

func TestVerifyMaturityAcceptsMatureCellbase(t *testing.T) {
	rt := simpleResolved()
	ctx := Context{
		Consensus: baseConsensus(),
		TipEpoch:  externalapi.EpochNumberWithFraction{Number: 5, Length: 1},
	}
	producer := func(meta *externalapi.CellMeta) (ProducerInfo, error) {
		return ProducerInfo{IsCellbase: true, BlockEpoch: externalapi.EpochNumberWithFraction{Number: 1, Length: 1}}, nil
	}
	if err := verifyMaturity(rt, ctx, producer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckSinceBlockAbsolute(t *testing.T) {
	since := sinceMetricBlock | 100
	ctx := Context{TipNumber: 99}
	if err := checkSince(since, ctx, ProducerInfo{}); err == nil {
		t.Fatal("expected since not reached at tip 99 < 100")
	}
	ctx.TipNumber = 100
	if err := checkSince(since, ctx, ProducerInfo{}); err != nil {
		t.Fatalf("unexpected error at tip 100: %v", err)
	}
}

func TestCheckSinceBlockRelative(t *testing.T) {
	since := sinceFlagRelative | sinceMetricBlock | 10
	producer := ProducerInfo{BlockNumber: 50}
	ctx := Context{TipNumber: 59}
	if err := checkSince(since, ctx, producer); err == nil {
		t.Fatal("expected since not reached at tip 59 < 60")
	}
	ctx.TipNumber = 60
	if err := checkSince(since, ctx, producer); err != nil {
		t.Fatalf("unexpected error at tip 60: %v", err)
	}
}

func TestCheckSinceEpochFractionValidity(t *testing.T) {
	invalid := externalapi.EpochNumberWithFraction{Number: 1, Index: 0, Length: 0}.Pack()
	since := sinceMetricEpoch | invalid
	ctx := Context{SinceFractionValidity: true}
	err := checkSince(since, ctx, ProducerInfo{})
	re, ok := ruleerrors.AsRuleError(err)
	if !ok || re.Code != ruleerrors.ErrTxInvalidSince {
		t.Fatalf("expected ErrTxInvalidSince for a zero-length epoch fraction, got %+v", err)
	}
}

func TestCheckSinceEpochAbsolute(t *testing.T) {
	required := externalapi.EpochNumberWithFraction{Number: 3, Index: 0, Length: 1}.Pack()
	since := sinceMetricEpoch | required
	ctx := Context{TipEpoch: externalapi.EpochNumberWithFraction{Number: 2, Length: 1}}
	if err := checkSince(since, ctx, ProducerInfo{}); err == nil {
		t.Fatal("expected since not reached")
	}
	ctx.TipEpoch = externalapi.EpochNumberWithFraction{Number: 3, Length: 1}
	if err := checkSince(since, ctx, ProducerInfo{}); err != nil {
		t.Fatalf("unexpected error once tip reaches the required epoch: %v", err)
	}
}

func TestCheckSinceTimeRelativeUsesHeaderTimestampByDefault(t *testing.T) {
	since := sinceFlagRelative | sinceMetricTime | 10 // 10 seconds
	producer := ProducerInfo{HeaderTimestamp: 1000, CommitTimestamp: 5000}
	ctx := Context{TipMedianTimeMs: 10999}
	if err := checkSince(since, ctx, producer); err == nil {
		t.Fatal("expected since not reached just under the 10s mark")
	}
	ctx.TipMedianTimeMs = 11000
	if err := checkSince(since, ctx, producer); err != nil {
		t.Fatalf("unexpected error once median time reaches the required point: %v", err)
	}
}

func TestCheckSinceTimeRelativeUsesCommitTimeWhenHardforkActive(t *testing.T) {
	since := sinceFlagRelative | sinceMetricTime | 10
	producer := ProducerInfo{HeaderTimestamp: 1000, CommitTimestamp: 5000}
	ctx := Context{TipMedianTimeMs: 11000, SinceRelativeUsesCommitTime: true}
	if err := checkSince(since, ctx, producer); err == nil {
		t.Fatal("expected since not reached when measured from the later commit timestamp")
	}
	ctx.TipMedianTimeMs = 15000
	if err := checkSince(since, ctx, producer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckSinceUnknownMetric(t *testing.T) {
	since := uint64(0x60000000_00000000) | 1
	if err := checkSince(since, Context{}, ProducerInfo{}); err == nil {
		t.Fatal("expected an error for an unrecognized since metric")
	}
}

func TestVerifyCapacitySkipsInputSumForCellbase(t *testing.T) {
	rt := &resolver.ResolvedTransaction{
		Transaction: &externalapi.Transaction{
			Outputs:     []externalapi.CellOutput{{Capacity: 5_000_000_000, Lock: &externalapi.Script{}}},
			OutputsData: [][]byte{{}},
		},
	}
	fee, err := verifyCapacity(rt, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fee != 0 {
		t.Fatalf("expected zero fee for a cellbase, got %d", fee)
	}
}

func TestVerifyCapacityInsufficientOccupied(t *testing.T) {
	rt := &resolver.ResolvedTransaction{
		Transaction: &externalapi.Transaction{
			Outputs:     []externalapi.CellOutput{{Capacity: 1, Lock: &externalapi.Script{Args: []byte{1, 2, 3, 4, 5}}}},
			OutputsData: [][]byte{{}},
		},
	}
	_, err := verifyCapacity(rt, false)
	re, ok := ruleerrors.AsRuleError(err)
	if !ok || re.Code != ruleerrors.ErrTxInsufficientCellCapacity {
		t.Fatalf("expected ErrTxInsufficientCellCapacity, got %+v", err)
	}
}

func TestVerifyCapacityInputsLessThanOutputs(t *testing.T) {
	rt := simpleResolved()
	rt.Transaction.Outputs[0].Capacity = 6_000_000_000 // exceeds the 5_000_000_500-capacity resolved input
	_, err := verifyCapacity(rt, false)
	re, ok := ruleerrors.AsRuleError(err)
	if !ok || re.Code != ruleerrors.ErrTxOutputsSumOverflow {
		t.Fatalf("expected ErrTxOutputsSumOverflow, got %+v", err)
	}
}

func TestVerifyCapacityComputesFee(t *testing.T) {
	rt := simpleResolved() // 5_000_000_500 in, 5_000_000_000 out
	fee, err := verifyCapacity(rt, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fee != 500 {
		t.Fatalf("expected fee 500, got %d", fee)
	}
}

func TestVerifyDuplicateDeps(t *testing.T) {
	op := externalapi.OutPoint{TxHash: externalapi.Byte32{1}, Index: 0}
	tx := &externalapi.Transaction{CellDeps: []externalapi.CellDep{{OutPoint: op}, {OutPoint: op}}}
	err := verifyDuplicateDeps(tx)
	re, ok := ruleerrors.AsRuleError(err)
	if !ok || re.Code != ruleerrors.ErrTxDuplicateDeps {
		t.Fatalf("expected ErrTxDuplicateDeps, got %+v", err)
	}
}

func TestVerifyOutputsDataMismatch(t *testing.T) {
	tx := &externalapi.Transaction{
		Outputs:     []externalapi.CellOutput{{}, {}},
		OutputsData: [][]byte{{}},
	}
	err := verifyOutputsData(tx)
	re, ok := ruleerrors.AsRuleError(err)
	if !ok || re.Code != ruleerrors.ErrTxOutputsDataLengthMismatch {
		t.Fatalf("expected ErrTxOutputsDataLengthMismatch, got %+v", err)
	}
}

func TestVerifyFeeRateTooLow(t *testing.T) {
	tx := &externalapi.Transaction{
		Outputs:     []externalapi.CellOutput{{Capacity: 1, Lock: &externalapi.Script{}}},
		OutputsData: [][]byte{{}},
	}
	err := verifyFeeRate(tx, 1, 1_000_000)
	re, ok := ruleerrors.AsRuleError(err)
	if !ok || re.Code != ruleerrors.ErrTxFeeRateTooLow {
		t.Fatalf("expected ErrTxFeeRateTooLow, got %+v", err)
	}
}

func TestVerifyEndToEndSuccess(t *testing.T) {
	rt := simpleResolved()
	ctx := Context{
		Consensus: baseConsensus(),
		TipEpoch:  externalapi.EpochNumberWithFraction{Number: 5, Length: 1},
		TipNumber: 10,
	}
	fee, err := Verify(rt, ctx, noopProducer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fee != 500 {
		t.Fatalf("expected fee 500, got %d", fee)
	}
}
