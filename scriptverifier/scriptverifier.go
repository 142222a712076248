// Package scriptverifier groups a resolved transaction's lock and type
// scripts into per-script-hash execution groups, exposes the
// load_cell/load_header/exec syscall contracts those groups are run
// against, and accounts each group's VM cycles against a block's total
// cycle budget. It is grounded on the sig-op/mass accounting
// in blockdag/validate.go (massPerSigOp, MaxSigOpsPerBlock) generalized
// into cycle accounting, and on transactionvalidator's sigCache
// memoization idiom (github.com/cellnetio/cellchaind/txverifier is its
// sibling): here a result is memoized per script_hash group rather than
// per signature, since the VM's (ok, cycles) result depends only on the
// program image, its args, and the cell views the group exposes.
//
// The VM itself is an external collaborator: a deterministic sandbox
// that, given a program image and argument vector, returns
// (ok, cyclesConsumed). This package never executes bytecode itself.
package scriptverifier

import (
	"github.com/cellnetio/cellchaind/externalapi"
	"github.com/cellnetio/cellchaind/internal/digest"
	"github.com/cellnetio/cellchaind/internal/hashing"
	"github.com/cellnetio/cellchaind/resolver"
	"github.com/cellnetio/cellchaind/ruleerrors"
)

// Source selects which list of cells a syscall index is relative to.
type Source uint8

const (
	SourceInput Source = iota
	SourceOutput
	SourceCellDep
	SourceHeaderDep
	SourceGroupInput
	SourceGroupOutput
)

// Field selects a single field of a cell for load_cell_by_field.
type Field uint8

const (
	FieldCapacity Field = iota
	FieldDataHash
	FieldLock
	FieldLockHash
	FieldType
	FieldTypeHash
	FieldOccupiedCapacity
)

// HeaderField selects a single field of a header for load_header_by_field.
type HeaderField uint8

const (
	HeaderFieldEpochNumber HeaderField = iota
	HeaderFieldEpochStartBlockNumber
	HeaderFieldEpochLength
)

// Code is a syscall result discriminant.
type Code uint8

const (
	CodeSuccess Code = iota
	CodeIndexOutOfBound
	CodeItemMissing
	CodeSliceOutOfBound
)

// ExecPlace selects whether exec loads its new program image from a
// cell's data or from a witness.
type ExecPlace uint8

const (
	ExecPlaceCellData ExecPlace = iota
	ExecPlaceWitness
)

// transferredByteCycles is the surcharge charged for every syscall
// that copies bytes into VM memory, and for every exec-loaded program:
// transferred_byte_cycles(n) = (n + 1023) / 1024.
func transferredByteCycles(n int) uint64 {
	return uint64(n+1023) / 1024
}

// Group is one script-hash's execution group: every input and output
// whose governing script hashes to ScriptHash, with their indices
// remapped to the group-local numbering load_cell(..., group_input)
// and load_cell(..., group_output) use.
type Group struct {
	ScriptHash   externalapi.Byte32
	Script       *externalapi.Script
	IsType       bool // false: lock script group; true: type script group
	GroupInputs  []int
	GroupOutputs []int

	// ResolvedDeps is the owning transaction's cell-deps, the candidate
	// pool DefaultLoadProgram matches Script.CodeHash against.
	ResolvedDeps []*externalapi.CellMeta
	// CellData fetches a resolved cell's data payload by out-point.
	CellData func(op externalapi.OutPoint) ([]byte, bool)
	// AllowSameDataMultiMatch gates whether more than one code_hash
	// match is tolerated when every match carries identical data.
	AllowSameDataMultiMatch bool
}

// BuildGroups partitions rt's inputs and outputs into lock-script groups
// (one per distinct input lock script_hash) and type-script groups (one
// per distinct type script_hash appearing on an input or output cell):
// inputs sharing the same script_hash form one group. cellData and
// allowSameDataMultiMatch are carried onto every group so LoadProgram can
// resolve each group's code_hash against rt's own cell-deps.
func BuildGroups(rt *resolver.ResolvedTransaction, cellData func(op externalapi.OutPoint) ([]byte, bool), allowSameDataMultiMatch bool) []*Group {
	lockOrder := make([]externalapi.Byte32, 0, len(rt.ResolvedInputs))
	lockGroups := make(map[externalapi.Byte32]*Group)
	for i, meta := range rt.ResolvedInputs {
		hash := hashing.ScriptHash(meta.Output.Lock)
		g, ok := lockGroups[hash]
		if !ok {
			g = &Group{ScriptHash: hash, Script: meta.Output.Lock}
			lockGroups[hash] = g
			lockOrder = append(lockOrder, hash)
		}
		g.GroupInputs = append(g.GroupInputs, i)
	}

	typeOrder := make([]externalapi.Byte32, 0)
	typeGroups := make(map[externalapi.Byte32]*Group)
	addType := func(script *externalapi.Script, inputIndex, outputIndex int) {
		if script == nil {
			return
		}
		hash := hashing.ScriptHash(script)
		g, ok := typeGroups[hash]
		if !ok {
			g = &Group{ScriptHash: hash, Script: script, IsType: true}
			typeGroups[hash] = g
			typeOrder = append(typeOrder, hash)
		}
		if inputIndex >= 0 {
			g.GroupInputs = append(g.GroupInputs, inputIndex)
		}
		if outputIndex >= 0 {
			g.GroupOutputs = append(g.GroupOutputs, outputIndex)
		}
	}
	for i, meta := range rt.ResolvedInputs {
		addType(meta.Output.Type, i, -1)
	}
	for i := range rt.Transaction.Outputs {
		addType(rt.Transaction.Outputs[i].Type, -1, i)
	}

	groups := make([]*Group, 0, len(lockOrder)+len(typeOrder))
	for _, hash := range lockOrder {
		groups = append(groups, lockGroups[hash])
	}
	for _, hash := range typeOrder {
		groups = append(groups, typeGroups[hash])
	}
	for _, g := range groups {
		g.ResolvedDeps = rt.ResolvedDeps
		g.CellData = cellData
		g.AllowSameDataMultiMatch = allowSameDataMultiMatch
	}
	return groups
}

// DefaultLoadProgram resolves a group's script to its program image by
// matching Script.CodeHash against the transaction's resolved cell-deps:
// by data hash for HashTypeData/HashTypeData1, by the dep's own type
// script hash for HashTypeType. Zero matches is ErrScriptInvalidCodeHash.
// More than one match is ErrScriptMultipleMatches, unless every matching
// cell carries identical data and g.AllowSameDataMultiMatch is set, in
// which case the (shared) image is returned.
func DefaultLoadProgram(g *Group) ([]byte, error) {
	var matches []*externalapi.CellMeta
	for _, dep := range g.ResolvedDeps {
		switch g.Script.HashType {
		case externalapi.HashTypeData, externalapi.HashTypeData1:
			if dep.DataHash == g.Script.CodeHash {
				matches = append(matches, dep)
			}
		case externalapi.HashTypeType:
			if dep.Output.Type != nil && hashing.ScriptHash(dep.Output.Type) == g.Script.CodeHash {
				matches = append(matches, dep)
			}
		}
	}

	if len(matches) == 0 {
		return nil, ruleerrors.Errorf(ruleerrors.CategoryScript, ruleerrors.ErrScriptInvalidCodeHash,
			"code hash %s matches no cell dep", g.Script.CodeHash)
	}

	if len(matches) > 1 {
		identical := true
		for _, m := range matches[1:] {
			if m.DataHash != matches[0].DataHash {
				identical = false
				break
			}
		}
		if !identical || !g.AllowSameDataMultiMatch {
			return nil, ruleerrors.Errorf(ruleerrors.CategoryScript, ruleerrors.ErrScriptMultipleMatches,
				"code hash %s matches %d cell deps", g.Script.CodeHash, len(matches))
		}
	}

	data, ok := g.CellData(matches[0].OutPoint)
	if !ok {
		return nil, ruleerrors.Errorf(ruleerrors.CategoryScript, ruleerrors.ErrScriptInvalidCodeHash,
			"cell dep %s matched by code hash has no data", matches[0].OutPoint)
	}
	return data, nil
}

// CellView is the read surface a single syscall invocation consults,
// scoped to one transaction's resolved inputs/outputs/deps/header-deps.
type CellView struct {
	Inputs     []*externalapi.CellMeta
	Outputs    []*externalapi.CellMeta // synthesized from the transaction's own outputs, not yet attached
	CellDeps   []*externalapi.CellMeta
	HeaderDeps []*externalapi.Header
	Group      *Group
}

func cellBySource(v *CellView, source Source, index int) (*externalapi.CellMeta, Code) {
	var list []*externalapi.CellMeta
	switch source {
	case SourceInput:
		list = v.Inputs
	case SourceOutput:
		list = v.Outputs
	case SourceCellDep:
		list = v.CellDeps
	case SourceGroupInput:
		if index < 0 || index >= len(v.Group.GroupInputs) {
			return nil, CodeIndexOutOfBound
		}
		return cellBySource(v, SourceInput, v.Group.GroupInputs[index])
	case SourceGroupOutput:
		if index < 0 || index >= len(v.Group.GroupOutputs) {
			return nil, CodeIndexOutOfBound
		}
		return cellBySource(v, SourceOutput, v.Group.GroupOutputs[index])
	default:
		return nil, CodeIndexOutOfBound
	}
	if index < 0 || index >= len(list) {
		return nil, CodeIndexOutOfBound
	}
	if list[index] == nil {
		return nil, CodeItemMissing
	}
	return list[index], CodeSuccess
}

// LoadCell implements the load_cell syscall: the whole encoded
// CellOutput at (index, source).
func LoadCell(v *CellView, index int, source Source) (Code, []byte, uint64) {
	meta, code := cellBySource(v, source, index)
	if code != CodeSuccess {
		return code, nil, 0
	}
	encoded := encodeCellOutput(meta.Output)
	return CodeSuccess, encoded, transferredByteCycles(len(encoded))
}

// LoadCellByField implements load_cell_by_field.
func LoadCellByField(v *CellView, index int, source Source, field Field) (Code, []byte, uint64) {
	meta, code := cellBySource(v, source, index)
	if code != CodeSuccess {
		return code, nil, 0
	}
	var out []byte
	switch field {
	case FieldCapacity:
		out = uint64LE(meta.Output.Capacity)
	case FieldDataHash:
		out = append([]byte(nil), meta.DataHash[:]...)
	case FieldLock:
		out = encodeScript(meta.Output.Lock)
	case FieldLockHash:
		h := hashing.ScriptHash(meta.Output.Lock)
		out = append([]byte(nil), h[:]...)
	case FieldType:
		if meta.Output.Type == nil {
			return CodeItemMissing, nil, 0
		}
		out = encodeScript(meta.Output.Type)
	case FieldTypeHash:
		if meta.Output.Type == nil {
			return CodeItemMissing, nil, 0
		}
		h := hashing.ScriptHash(meta.Output.Type)
		out = append([]byte(nil), h[:]...)
	case FieldOccupiedCapacity:
		out = uint64LE(meta.Output.OccupiedCapacity(int(meta.DataLen)))
	default:
		return CodeIndexOutOfBound, nil, 0
	}
	return CodeSuccess, out, transferredByteCycles(len(out))
}

// LoadHeader implements load_header: only succeeds when the block hash
// at headerDepIndex appears in the transaction's header_deps.
func LoadHeader(v *CellView, index int, source Source) (Code, []byte, uint64) {
	if source != SourceHeaderDep {
		return CodeIndexOutOfBound, nil, 0
	}
	if index < 0 || index >= len(v.HeaderDeps) {
		return CodeItemMissing, nil, 0
	}
	h := v.HeaderDeps[index]
	if h == nil {
		return CodeItemMissing, nil, 0
	}
	encoded := encodeHeader(h)
	return CodeSuccess, encoded, transferredByteCycles(len(encoded))
}

// LoadHeaderByField implements load_header_by_field.
func LoadHeaderByField(v *CellView, index int, source Source, field HeaderField) (Code, []byte, uint64) {
	if source != SourceHeaderDep {
		return CodeIndexOutOfBound, nil, 0
	}
	if index < 0 || index >= len(v.HeaderDeps) {
		return CodeItemMissing, nil, 0
	}
	h := v.HeaderDeps[index]
	if h == nil {
		return CodeItemMissing, nil, 0
	}
	e := h.Epoch()
	var out []byte
	switch field {
	case HeaderFieldEpochNumber:
		out = uint64LE(e.Number)
	case HeaderFieldEpochStartBlockNumber:
		out = uint64LE(h.Number - e.Index)
	case HeaderFieldEpochLength:
		out = uint64LE(e.Length)
	default:
		return CodeIndexOutOfBound, nil, 0
	}
	return CodeSuccess, out, transferredByteCycles(len(out))
}

// Exec implements the exec syscall contract: replace the current
// program with the slice [offset, offset+length) of the cell data (or
// witness, per place) named by (index, source), preserving the cycles
// counter. It returns the new program image plus the transferred-byte
// surcharge for loading it; the calling VM is responsible for actually
// resuming execution with argv.
func Exec(v *CellView, index int, source Source, place ExecPlace, offset, length int, cellData func(*externalapi.CellMeta) ([]byte, bool), witnesses [][]byte) (Code, []byte, uint64) {
	var raw []byte
	switch place {
	case ExecPlaceCellData:
		meta, code := cellBySource(v, source, index)
		if code != CodeSuccess {
			return code, nil, 0
		}
		data, ok := cellData(meta)
		if !ok {
			return CodeItemMissing, nil, 0
		}
		raw = data
	case ExecPlaceWitness:
		if index < 0 || index >= len(witnesses) {
			return CodeItemMissing, nil, 0
		}
		raw = witnesses[index]
	default:
		return CodeIndexOutOfBound, nil, 0
	}
	if offset < 0 || length < 0 || offset+length > len(raw) {
		return CodeSliceOutOfBound, nil, 0
	}
	program := raw[offset : offset+length]
	return CodeSuccess, program, transferredByteCycles(len(program))
}

func uint64LE(v uint64) []byte {
	out := make([]byte, 8)
	for i := 0; i < 8; i++ {
		out[i] = byte(v >> (8 * i))
	}
	return out
}

func encodeScript(s *externalapi.Script) []byte {
	if s == nil {
		return nil
	}
	out := append([]byte(nil), s.CodeHash[:]...)
	out = append(out, byte(s.HashType))
	out = append(out, s.Args...)
	return out
}

func encodeCellOutput(o *externalapi.CellOutput) []byte {
	out := uint64LE(o.Capacity)
	out = append(out, encodeScript(o.Lock)...)
	if o.Type != nil {
		out = append(out, encodeScript(o.Type)...)
	}
	return out
}

func encodeHeader(h *externalapi.Header) []byte {
	out := uint64LE(uint64(h.Version))
	out = append(out, h.ParentHash[:]...)
	out = append(out, uint64LE(h.TimestampMs)...)
	out = append(out, uint64LE(h.Number)...)
	out = append(out, uint64LE(h.EpochPacked)...)
	return out
}

// VM is the external deterministic script sandbox: given a program
// image and an argument vector, it runs to completion and reports
// whether the script succeeded plus how many cycles it consumed.
type VM interface {
	Run(program []byte, args [][]byte) (ok bool, cyclesConsumed uint64, err error)
}

// Cache memoizes a group's VM result by (program image digest, group
// script_hash), mirroring transactionvalidator's sigCache: the result
// of running the same code against the same group is deterministic, so
// replaying an already-verified transaction against a later snapshot
// (e.g. after a reorg re-attaches it) need not re-run the VM.
type Cache struct {
	entries map[externalapi.Byte32]cacheEntry
}

type cacheEntry struct {
	ok     bool
	cycles uint64
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[externalapi.Byte32]cacheEntry)}
}

func (c *Cache) key(programHash, scriptHash externalapi.Byte32) externalapi.Byte32 {
	w := append([]byte{}, programHash[:]...)
	w = append(w, scriptHash[:]...)
	return digest.Sum256(w)
}

// Verifier runs every group of a resolved transaction through a VM,
// tracking the running cycle total against a block-wide budget.
type Verifier struct {
	VM            VM
	Cache         *Cache
	MaxCycles     uint64
	LoadProgram   func(group *Group) ([]byte, error)
	BuildArgs     func(group *Group) [][]byte
	ProgramDigest func(program []byte) externalapi.Byte32
}

// VerifyGroups runs every group in groups against vf.VM in order,
// returning the transaction's total consumed cycles. budgetUsed is the
// running total already spent by earlier transactions in the same
// block; it is both consulted and updated so the caller can enforce a
// cumulative ExceededMaximumCycles check across an entire block, not
// just one transaction.
func (vf *Verifier) VerifyGroups(groups []*Group, budgetUsed *uint64) error {
	for _, g := range groups {
		program, err := vf.LoadProgram(g)
		if err != nil {
			if re, ok := ruleerrors.AsRuleError(err); ok {
				return re
			}
			return ruleerrors.Errorf(ruleerrors.CategoryScript, ruleerrors.ErrScriptInvalidCodeHash,
				"script group %s: %s", g.ScriptHash, err)
		}
		args := vf.BuildArgs(g)

		var ok bool
		var cycles uint64
		cached := false
		if vf.Cache != nil && vf.ProgramDigest != nil {
			key := vf.Cache.key(vf.ProgramDigest(program), g.ScriptHash)
			if entry, found := vf.Cache.entries[key]; found {
				ok, cycles, cached = entry.ok, entry.cycles, true
			}
		}
		if !cached {
			var err error
			ok, cycles, err = vf.VM.Run(program, args)
			if err != nil {
				return ruleerrors.Errorf(ruleerrors.CategoryScript, ruleerrors.ErrScriptVMFailure,
					"script group %s: %s", g.ScriptHash, err)
			}
			if vf.Cache != nil && vf.ProgramDigest != nil {
				key := vf.Cache.key(vf.ProgramDigest(program), g.ScriptHash)
				vf.Cache.entries[key] = cacheEntry{ok: ok, cycles: cycles}
			}
		}
		if !ok {
			return ruleerrors.Errorf(ruleerrors.CategoryScript, ruleerrors.ErrScriptVMFailure,
				"script group %s failed verification", g.ScriptHash)
		}

		next := *budgetUsed + cycles
		if next < *budgetUsed || next > vf.MaxCycles {
			return ruleerrors.Errorf(ruleerrors.CategoryScript, ruleerrors.ErrScriptExceededMaximumCycles,
				"cumulative cycles %d exceed block limit %d", next, vf.MaxCycles)
		}
		*budgetUsed = next
	}
	return nil
}
