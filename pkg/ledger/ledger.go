// Package ledger defines the ledger collaborator the host reads and mutates
// through the state gateway, and provides key-value backed implementations.
//
// The host never owns account state. It calls the Ledger interface for every
// read and write, and the ledger is responsible for persistence and for
// isolating concurrent execution contexts from each other.
//
// Account model:
//   - Balance: unsigned 256-bit integer
//   - Nonce: transaction counter
//   - CodeHash: blake3 hash of the code blob, zero for accounts without code
//   - Suicided: marked for removal by self-destruct
//
// Storage slots are keyed by (account, key). Writing an empty value removes
// the slot. Nonexistent and empty accounts are distinct: an account exists
// once it has been created or written to, and is empty when its nonce and
// balance are zero and it has no code.
package ledger

import (
	"errors"
	"fmt"

	"github.com/fortiblox/hostvm/internal/types"
	"github.com/holiman/uint256"
	"github.com/shamaton/msgpack/v2"
)

var (
	// ErrAccountNotFound is returned when an account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInsufficientBalance is returned when a debit exceeds the balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrBalanceOverflow is returned when a credit overflows 256 bits.
	ErrBalanceOverflow = errors.New("balance overflow")

	// ErrClosed is returned when operating on a closed ledger.
	ErrClosed = errors.New("ledger closed")

	// ErrCorrupt is returned when a stored record cannot be decoded.
	ErrCorrupt = errors.New("corrupt ledger record")

	// ErrCodeMissing is returned when an account references a code blob that
	// is not stored.
	ErrCodeMissing = errors.New("code blob missing")
)

// Account is the stored state of one account, excluding code and storage.
type Account struct {
	Balance  *uint256.Int
	Nonce    uint64
	CodeHash types.Hash
	Suicided bool
}

// NewAccount returns an account with a zero balance.
func NewAccount() *Account {
	return &Account{Balance: new(uint256.Int)}
}

// Clone creates a deep copy of the account.
func (a *Account) Clone() *Account {
	c := *a
	c.Balance = new(uint256.Int).Set(a.Balance)
	return &c
}

// HasCode returns true if the account references a code blob.
func (a *Account) HasCode() bool {
	return !a.CodeHash.IsZero() && a.CodeHash != types.EmptyCodeHash
}

// IsEmpty returns true if nonce and balance are zero and there is no code.
func (a *Account) IsEmpty() bool {
	return a.Nonce == 0 && a.Balance.IsZero() && !a.HasCode()
}

type accountRecord struct {
	Balance  []byte `msgpack:"b"`
	Nonce    uint64 `msgpack:"n"`
	CodeHash []byte `msgpack:"c"`
	Suicided bool   `msgpack:"s"`
}

// encodeAccount serializes an account record.
func encodeAccount(a *Account) ([]byte, error) {
	rec := accountRecord{
		Balance:  a.Balance.Bytes(),
		Nonce:    a.Nonce,
		Suicided: a.Suicided,
	}
	if !a.CodeHash.IsZero() {
		rec.CodeHash = a.CodeHash.Bytes()
	}
	return msgpack.MarshalAsArray(&rec)
}

// decodeAccount deserializes an account record.
func decodeAccount(data []byte) (*Account, error) {
	var rec accountRecord
	if err := msgpack.UnmarshalAsArray(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(rec.Balance) > 32 {
		return nil, fmt.Errorf("%w: balance is %d bytes", ErrCorrupt, len(rec.Balance))
	}
	a := &Account{
		Balance:  new(uint256.Int).SetBytes(rec.Balance),
		Nonce:    rec.Nonce,
		Suicided: rec.Suicided,
	}
	if len(rec.CodeHash) > 0 {
		h, err := types.HashFromBytes(rec.CodeHash)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		a.CodeHash = h
	}
	return a, nil
}

// Ledger is the account and storage store consumed by the state gateway.
//
// Reads of nonexistent accounts return zero values. Writes to nonexistent
// accounts create them. Errors other than ErrInsufficientBalance indicate a
// failure of the ledger itself.
type Ledger interface {
	// Account lifecycle
	CreateAccount(addr types.Address) error
	DeleteAccount(addr types.Address) error
	Exists(addr types.Address) (bool, error)
	IsEmpty(addr types.Address) (bool, error)

	// Balance and nonce
	GetBalance(addr types.Address) (*uint256.Int, error)
	SetBalance(addr types.Address, amount *uint256.Int) error
	AddBalance(addr types.Address, amount *uint256.Int) error
	SubBalance(addr types.Address, amount *uint256.Int) error
	GetNonce(addr types.Address) (uint64, error)
	SetNonce(addr types.Address, nonce uint64) error

	// Code
	GetCode(addr types.Address) ([]byte, error)
	GetCodeHash(addr types.Address) (types.Hash, error)
	GetCodeSize(addr types.Address) (int, error)
	SetCode(addr types.Address, code []byte) error

	// Self-destruct
	SetSuicided(addr types.Address, suicided bool) error
	HasSuicided(addr types.Address) (bool, error)

	// Storage
	GetStorage(addr types.Address, key []byte) ([]byte, error)
	SetStorage(addr types.Address, key, value []byte) error
	RemoveStorage(addr types.Address, key []byte) error
	IterateStorage(addr types.Address, prefix []byte, fn func(key, value []byte) error) error

	// Preimages
	AddPreimage(hash types.Hash, data []byte) error
	DeletePreimage(hash types.Hash) error
	Preimage(hash types.Hash) ([]byte, error)

	Close() error
}
