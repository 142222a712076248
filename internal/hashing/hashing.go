// Package hashing computes every digest the chain core needs from the
// canonical molecule encoding of a domain value.
package hashing

import (
	"github.com/cellnetio/cellchaind/externalapi"
	"github.com/cellnetio/cellchaind/internal/digest"
	"github.com/cellnetio/cellchaind/internal/molecule"
)

// TxHash is the digest of a transaction excluding its witnesses: the
// identity used by out-points and cell-deps.
func TxHash(tx *externalapi.Transaction) externalapi.Byte32 {
	b := molecule.NewBuilder()
	molecule.RawTransaction(b, tx)
	return digest.Sum256(b.Bytes())
}

// TxWitnessHash is the digest of a transaction including its witnesses.
func TxWitnessHash(tx *externalapi.Transaction) externalapi.Byte32 {
	b := molecule.NewBuilder()
	molecule.Transaction(b, tx)
	return digest.Sum256(b.Bytes())
}

// ScriptHash is a script's identity digest.
func ScriptHash(s *externalapi.Script) externalapi.Byte32 {
	b := molecule.NewBuilder()
	molecule.Script(b, s)
	return digest.Sum256(b.Bytes())
}

// HeaderHash identifies a block: the digest of its full header,
// including the nonce.
func HeaderHash(h *externalapi.Header) externalapi.Byte32 {
	b := molecule.NewBuilder()
	molecule.Header(b, h)
	return digest.Sum256(b.Bytes())
}

// PowHash is the digest proof-of-work is computed over: the header
// excluding its nonce. The mining/verification loop combines this with
// candidate nonces without re-serializing the rest of the header each
// time.
func PowHash(h *externalapi.Header) externalapi.Byte32 {
	b := molecule.NewBuilder()
	molecule.HeaderExcludingNonce(b, h)
	return digest.Sum256(b.Bytes())
}

// CellOutputDataHash is the digest of a cell's opaque data payload.
func CellOutputDataHash(data []byte) externalapi.Byte32 {
	return digest.Sum256(data)
}

// TransactionsRoot computes transactions_root = merkle_root(
// [merkle_root(tx_hashes), merkle_root(tx_witness_hashes)]).
func TransactionsRoot(txs []externalapi.Transaction) externalapi.Byte32 {
	txHashes := make([]externalapi.Byte32, len(txs))
	witnessHashes := make([]externalapi.Byte32, len(txs))
	for i := range txs {
		txHashes[i] = TxHash(&txs[i])
		witnessHashes[i] = TxWitnessHash(&txs[i])
	}
	left := digest.MerkleRoot(txHashes)
	right := digest.MerkleRoot(witnessHashes)
	return digest.MerkleRoot([]externalapi.Byte32{left, right})
}

// ProposalsHash is the merkle root of a block's proposal short ids,
// each right-padded into a Byte32 for the shared merkle primitive.
func ProposalsHash(proposals []externalapi.ProposalShortID) externalapi.Byte32 {
	if len(proposals) == 0 {
		return externalapi.Byte32{}
	}
	leaves := make([]externalapi.Byte32, len(proposals))
	for i, p := range proposals {
		copy(leaves[i][:], p[:])
	}
	return digest.MerkleRoot(leaves)
}

// UnclesHash is the merkle root of a block's uncle header hashes.
func UnclesHash(uncles []externalapi.UncleHeader) externalapi.Byte32 {
	if len(uncles) == 0 {
		return externalapi.Byte32{}
	}
	leaves := make([]externalapi.Byte32, len(uncles))
	for i := range uncles {
		leaves[i] = HeaderHash(&uncles[i].Header)
	}
	return digest.MerkleRoot(leaves)
}

// ExtraHash computes extra_hash = H(uncles_hash || extension_hash) when
// an extension is present, or uncles_hash directly otherwise.
func ExtraHash(unclesHash externalapi.Byte32, extension []byte) externalapi.Byte32 {
	if len(extension) == 0 {
		return unclesHash
	}
	extHash := digest.Sum256(extension)
	w := digest.NewWriter()
	w.Write(unclesHash[:])
	w.Write(extHash[:])
	return w.Finalize()
}
