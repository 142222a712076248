package externalapi

// HashType selects how a Script's CodeHash resolves to a program image.
type HashType uint8

const (
	// HashTypeData resolves CodeHash against the data hash of a cell's
	// contents: the referenced cell's data, byte for byte, is the
	// program image.
	HashTypeData HashType = iota
	// HashTypeType resolves CodeHash against the hash of a cell's type
	// script: any cell whose type script hashes to CodeHash supplies
	// the program image, letting the image be upgraded by spending the
	// defining cell.
	HashTypeType
	// HashTypeData1 is HashTypeData under the hardfork that changed the
	// VM version selected for data-hash-resolved scripts.
	HashTypeData1
)

// IsValid reports whether t is a recognized variant.
func (t HashType) IsValid() bool {
	switch t {
	case HashTypeData, HashTypeType, HashTypeData1:
		return true
	default:
		return false
	}
}

func (t HashType) String() string {
	switch t {
	case HashTypeData:
		return "data"
	case HashTypeType:
		return "type"
	case HashTypeData1:
		return "data1"
	default:
		return "unknown"
	}
}

// Script is a lock or type script attached to a cell.
type Script struct {
	CodeHash Byte32
	HashType HashType
	Args     []byte
}

// Clone returns a deep copy of s.
func (s *Script) Clone() *Script {
	if s == nil {
		return nil
	}
	argsClone := make([]byte, len(s.Args))
	copy(argsClone, s.Args)
	return &Script{
		CodeHash: s.CodeHash,
		HashType: s.HashType,
		Args:     argsClone,
	}
}

// Equal reports whether s and other are structurally identical.
func (s *Script) Equal(other *Script) bool {
	if s == nil || other == nil {
		return s == other
	}
	if s.CodeHash != other.CodeHash || s.HashType != other.HashType {
		return false
	}
	if len(s.Args) != len(other.Args) {
		return false
	}
	for i := range s.Args {
		if s.Args[i] != other.Args[i] {
			return false
		}
	}
	return true
}
