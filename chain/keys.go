package chain

import "encoding/binary"

// Column prefixes define the on-disk key layout: each logical column is
// a byte-string prefix within the single flat store.Database keyspace,
// the way the dbaccess bucket constants do.
var (
	columnHeader     = []byte("H")
	columnBody       = []byte("B")
	columnProposals  = []byte("P")
	columnExt        = []byte("E")
	columnUncles     = []byte("U")
	columnIndexNum   = []byte("In") // be_u64(number) -> hash
	columnIndexHash  = []byte("Ih") // hash -> be_u64(number)
	columnMeta       = []byte("M")
	columnCellSet    = []byte("C")
	columnEpochByHash = []byte("Ep")
	columnBlockEpoch = []byte("BE") // block_hash -> epoch number, for ancestor epoch lookups
)

var (
	metaKeyTipHeader    = append(append([]byte{}, columnMeta...), []byte("TIP_HEADER")...)
	metaKeyCurrentEpoch = append(append([]byte{}, columnMeta...), []byte("CURRENT_EPOCH")...)
)

func keyed(col []byte, suffix []byte) []byte {
	key := make([]byte, 0, len(col)+len(suffix))
	key = append(key, col...)
	key = append(key, suffix...)
	return key
}

func beUint64(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}
