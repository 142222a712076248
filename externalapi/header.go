package externalapi

// Header is a block header: everything needed to verify proof of work
// and membership of the transactions/proposals/uncles/extension it
// commits to, without holding the bodies themselves.
type Header struct {
	Version          uint32
	ParentHash       Byte32
	TimestampMs      uint64
	Number           uint64
	CompactTarget    uint32
	EpochPacked      uint64
	TransactionsRoot Byte32
	ProposalsHash    Byte32
	ExtraHash        Byte32
	Dao              DaoState
	Nonce            [16]byte
}

// Epoch unpacks h.EpochPacked.
func (h *Header) Epoch() EpochNumberWithFraction {
	return UnpackEpochNumberWithFraction(h.EpochPacked)
}

// Clone returns a deep copy of h.
func (h *Header) Clone() *Header {
	if h == nil {
		return nil
	}
	clone := *h
	return &clone
}

// UncleHeader pairs an ancestor-window header with the proposal ids it
// carried, included by reference in a block's uncles list.
type UncleHeader struct {
	Header      Header
	ProposalIDs []ProposalShortID
}

// Block is a header plus the uncles, transactions, proposal ids, and
// optional extension bytes it commits to.
type Block struct {
	Header       Header
	Uncles       []UncleHeader
	Transactions []Transaction
	Proposals    []ProposalShortID
	Extension    []byte
}

// HeaderHasher computes a block's identifying hash from its header. It
// lets packages that only need the concept of "hash this header" avoid
// depending on internal/digest directly.
type HeaderHasher interface {
	HeaderHash(h *Header) Byte32
}
