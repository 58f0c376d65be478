// Package chain provides the block and transaction metadata an execution
// context is created with, and a persistent index of block hashes.
package chain

import (
	"github.com/fortiblox/hostvm/internal/types"
	"github.com/holiman/uint256"
)

// BlockContext describes the block a transaction executes in.
type BlockContext struct {
	Number     uint64
	Timestamp  uint64
	Coinbase   types.Address
	Difficulty *uint256.Int
	GasLimit   uint64
}

// TxContext describes the transaction being executed.
type TxContext struct {
	Hash     types.Hash
	Origin   types.Address
	Target   types.Address
	GasLimit uint64
	Value    *uint256.Int
}

// HeaderSource resolves block hashes by height.
type HeaderSource interface {
	// BlockHash returns the hash of the block at number, or ok=false if the
	// block is unknown.
	BlockHash(number uint64) (hash types.Hash, ok bool, err error)
}

// HashWindow is the number of recent blocks whose hashes are visible to
// contracts.
const HashWindow = 256

// LookupBlockHash resolves a block hash visible from current. Blocks that
// are not strictly older than current, fall outside the window, or are
// unknown resolve to the zero hash.
func LookupBlockHash(src HeaderSource, current, number uint64) (types.Hash, error) {
	if src == nil || number >= current || current-number > HashWindow {
		return types.Hash{}, nil
	}
	h, ok, err := src.BlockHash(number)
	if err != nil || !ok {
		return types.Hash{}, err
	}
	return h, nil
}

// MemoryHeaders is an in-memory HeaderSource.
type MemoryHeaders map[uint64]types.Hash

// BlockHash implements HeaderSource.
func (m MemoryHeaders) BlockHash(number uint64) (types.Hash, bool, error) {
	h, ok := m[number]
	return h, ok, nil
}
