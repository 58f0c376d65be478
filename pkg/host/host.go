// Package host defines the capability interfaces contract code is given.
//
// An interpreter never sees the ledger, the journal or the dispatcher
// directly. It receives a Host bound to the running call frame and performs
// every effect through it: account and storage access, metering, block
// metadata, nested calls and events. Host values are created per frame and
// must not be retained after the interpreter returns.
package host

import (
	"github.com/fortiblox/hostvm/internal/types"
	"github.com/fortiblox/hostvm/pkg/result"
	"github.com/holiman/uint256"
)

// AccountState reads and mutates account fields.
type AccountState interface {
	CreateAccount(addr types.Address) error
	Exists(addr types.Address) (bool, error)
	IsEmpty(addr types.Address) (bool, error)

	GetBalance(addr types.Address) (*uint256.Int, error)
	AddBalance(addr types.Address, amount *uint256.Int) error
	SubBalance(addr types.Address, amount *uint256.Int) error
	Transfer(from, to types.Address, amount *uint256.Int) error

	GetNonce(addr types.Address) (uint64, error)
	SetNonce(addr types.Address, nonce uint64) error

	GetCode(addr types.Address) ([]byte, error)
	GetCodeHash(addr types.Address) (types.Hash, error)
	GetCodeSize(addr types.Address) (int, error)
	SetCode(addr types.Address, code []byte) error

	MarkSuicide(addr types.Address) (bool, error)
	HasSuicided(addr types.Address) (bool, error)
}

// Storage reads and mutates the key-value storage of accounts.
type Storage interface {
	GetStorage(addr types.Address, key []byte) ([]byte, error)
	SetStorage(addr types.Address, key, value []byte) error
	RemoveStorage(addr types.Address, key []byte) error

	// OpenCursor returns a cursor over the slots of addr whose key starts
	// with prefix, in ascending key order.
	OpenCursor(addr types.Address, prefix []byte) (int, error)
	CursorNext(id int) (key, value []byte, ok bool, err error)
	CloseCursor(id int) error
}

// Metering exposes the frame's gas meter and the snapshot manager.
type Metering interface {
	Charge(amount uint64) error
	Refund(amount uint64) uint64
	Remaining() uint64

	// Snapshot and RevertToSnapshot are scoped to the running frame: ids
	// issued before the frame was entered cannot be reverted to.
	Snapshot() int
	RevertToSnapshot(id int) error
}

// BlockInfo exposes read-only block and transaction metadata.
type BlockInfo interface {
	BlockHash(number uint64) (types.Hash, error)
	Coinbase() (types.Address, error)
	Difficulty() (*uint256.Int, error)
	Number() (uint64, error)
	Timestamp() (uint64, error)
	Origin() (types.Address, error)
	GasLimit() (uint64, error)
}

// Calls exposes the running frame and nested invocation.
type Calls interface {
	// Self returns the account whose code is running.
	Self() types.Address
	// Caller returns the account that entered this frame.
	Caller() types.Address
	// Value returns the value attached to the transaction.
	Value() *uint256.Int
	// Depth returns the depth of the running frame, 0 at top level.
	Depth() int

	// Call invokes an exported function of callee in a nested frame with
	// at most gas units. A zero gas passes everything that remains.
	Call(callee types.Address, abi ABI, gas uint64) (result.Value, error)

	// EmitEvent records an event from the running contract.
	EmitEvent(name, index string, data []byte) error
}

// Preimages records hash preimages for audit.
type Preimages interface {
	AddPreimage(hash types.Hash, data []byte) error
}

// Host is the full capability set bound to one call frame.
type Host interface {
	AccountState
	Storage
	Metering
	BlockInfo
	Calls
	Preimages
}
