package headerverifier

import "github.com/cellnetio/cellchaind/externalapi"

// arFixedPointScale is the fixed-point scale the accumulated rate field
// is expressed in, per SPEC_FULL.md's DAO field semantics decision.
const arFixedPointScale = 1e16

// NextDaoState recomputes the DAO accumulator for a block given its
// parent's state, the total capacity this block's cellbase issues
// (the epoch's base block reward, any end-of-epoch remainder, and
// collected transaction fees), and the net change in occupied capacity
// across every cell the block creates or consumes. It does not model
// NervosDAO withdrawal-request semantics (out of scope here);
// U is carried forward unchanged.
func NextDaoState(parent externalapi.DaoState, issuance uint64, occupiedDelta int64) externalapi.DaoState {
	next := parent
	next.C = parent.C + issuance
	next.S = addSigned(parent.S, occupiedDelta)
	base := parent.C
	if base == 0 {
		base = 1
	}
	next.AR = parent.AR + (issuance*arFixedPointScale)/base
	return next
}

func addSigned(base uint64, delta int64) uint64 {
	if delta >= 0 {
		return base + uint64(delta)
	}
	magnitude := uint64(-delta)
	if magnitude > base {
		return 0
	}
	return base - magnitude
}
