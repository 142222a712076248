package main

import (
	"crypto/sha256"
	"math/big"

	"github.com/cellnetio/cellchaind/externalapi"
)

// sha256dPow is the reference headerverifier.ProofOfWorkVerifier this
// binary wires in: proof of work and the VM are both external
// collaborators (see DESIGN.md's cmd/cellchaind entry), so this is a
// plain, swappable double-sha256 check rather than a production mining
// algorithm -- the same role the ecc/ProofOfWork packages play for
// btcd's blockdag.
type sha256dPow struct{}

func (sha256dPow) Verify(powHash externalapi.Byte32, nonce [16]byte, compactTarget uint32) bool {
	buf := make([]byte, len(powHash)+len(nonce))
	copy(buf, powHash[:])
	copy(buf[len(powHash):], nonce[:])
	sum := sha256.Sum256(buf)
	sum = sha256.Sum256(sum[:])

	hashInt := new(big.Int).SetBytes(reverse(sum[:]))
	target := externalapi.CompactTargetToTarget(compactTarget)
	return hashInt.Cmp(target) <= 0
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

// acceptVM is the reference scriptverifier.VM this binary wires in.
// chain.Service resolves a script group's code_hash to its real program
// image before acceptVM ever sees it (scriptverifier.DefaultLoadProgram);
// actually interpreting that image as RISC-V bytecode is out of scope,
// so acceptVM accepts every program it is handed and charges one cycle
// per program byte, enough to exercise the per-block cycle budget
// without a real interpreter.
type acceptVM struct{}

func (acceptVM) Run(program []byte, args [][]byte) (bool, uint64, error) {
	return true, uint64(len(program)), nil
}
