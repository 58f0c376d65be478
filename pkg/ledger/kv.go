package ledger

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fortiblox/hostvm/internal/types"
	lru "github.com/hashicorp/golang-lru"
	"github.com/holiman/uint256"
	"github.com/klauspost/compress/zstd"
)

// Key prefixes.
// Key format:
//   - prefixAccount + address (32 bytes)
//   - prefixStorage + address (32 bytes) + slot key
//   - prefixCode + code hash (32 bytes)
//   - prefixPreimage + hash (32 bytes)
var (
	prefixAccount  = []byte{0x01}
	prefixStorage  = []byte{0x02}
	prefixCode     = []byte{0x03}
	prefixPreimage = []byte{0x04}
)

// DefaultCodeCacheSize is the number of decoded code blobs kept in memory.
const DefaultCodeCacheSize = 256

// kvStore is the byte-level store under a KVLedger. Get returns nil for a
// missing key. The iterate callback must not write to the store.
type kvStore interface {
	get(key []byte) ([]byte, error)
	set(key, value []byte) error
	delete(key []byte) error
	iterate(prefix []byte, fn func(key, value []byte) error) error
	close() error
}

// KVLedger implements Ledger on top of an ordered key-value store.
// Accounts are msgpack records, code blobs are zstd-compressed and
// content-addressed by code hash.
type KVLedger struct {
	store kvStore

	codeCache *lru.Cache
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder

	mu     sync.RWMutex
	closed atomic.Bool
}

func newKVLedger(store kvStore, codeCacheSize int) (*KVLedger, error) {
	if codeCacheSize <= 0 {
		codeCacheSize = DefaultCodeCacheSize
	}
	cache, err := lru.New(codeCacheSize)
	if err != nil {
		return nil, fmt.Errorf("code cache: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &KVLedger{
		store:     store,
		codeCache: cache,
		encoder:   enc,
		decoder:   dec,
	}, nil
}

func accountKey(addr types.Address) []byte {
	key := make([]byte, 1+types.AddressSize)
	key[0] = prefixAccount[0]
	copy(key[1:], addr[:])
	return key
}

func storagePrefix(addr types.Address) []byte {
	key := make([]byte, 1+types.AddressSize)
	key[0] = prefixStorage[0]
	copy(key[1:], addr[:])
	return key
}

func storageKey(addr types.Address, slot []byte) []byte {
	return append(storagePrefix(addr), slot...)
}

func codeKey(hash types.Hash) []byte {
	return append([]byte{prefixCode[0]}, hash[:]...)
}

func preimageKey(hash types.Hash) []byte {
	return append([]byte{prefixPreimage[0]}, hash[:]...)
}

// loadAccount returns the stored account or nil if it does not exist.
func (l *KVLedger) loadAccount(addr types.Address) (*Account, error) {
	data, err := l.store.get(accountKey(addr))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	return decodeAccount(data)
}

// loadOrNew returns the stored account or a fresh one.
func (l *KVLedger) loadOrNew(addr types.Address) (*Account, error) {
	acc, err := l.loadAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = NewAccount()
	}
	return acc, nil
}

func (l *KVLedger) storeAccount(addr types.Address, acc *Account) error {
	data, err := encodeAccount(acc)
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}
	return l.store.set(accountKey(addr), data)
}

func (l *KVLedger) update(addr types.Address, fn func(acc *Account) error) error {
	if l.closed.Load() {
		return ErrClosed
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	acc, err := l.loadOrNew(addr)
	if err != nil {
		return err
	}
	if err := fn(acc); err != nil {
		return err
	}
	return l.storeAccount(addr, acc)
}

func (l *KVLedger) view(addr types.Address) (*Account, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loadAccount(addr)
}

// CreateAccount creates an account, resetting nonce, code and suicide flag.
// An existing balance is carried over.
func (l *KVLedger) CreateAccount(addr types.Address) error {
	return l.update(addr, func(acc *Account) error {
		acc.Nonce = 0
		acc.CodeHash = types.Hash{}
		acc.Suicided = false
		return nil
	})
}

// DeleteAccount removes the account record and all of its storage.
func (l *KVLedger) DeleteAccount(addr types.Address) error {
	if l.closed.Load() {
		return ErrClosed
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var keys [][]byte
	err := l.store.iterate(storagePrefix(addr), func(key, _ []byte) error {
		keys = append(keys, append([]byte(nil), key...))
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := l.store.delete(k); err != nil {
			return err
		}
	}
	return l.store.delete(accountKey(addr))
}

// Exists returns true if the account has been created.
func (l *KVLedger) Exists(addr types.Address) (bool, error) {
	acc, err := l.view(addr)
	if err != nil {
		return false, err
	}
	return acc != nil, nil
}

// IsEmpty returns true if the account is nonexistent or empty.
func (l *KVLedger) IsEmpty(addr types.Address) (bool, error) {
	acc, err := l.view(addr)
	if err != nil {
		return false, err
	}
	return acc == nil || acc.IsEmpty(), nil
}

// GetAccount returns a copy of the stored account.
func (l *KVLedger) GetAccount(addr types.Address) (*Account, error) {
	acc, err := l.view(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, ErrAccountNotFound
	}
	return acc, nil
}

// GetBalance returns the balance, zero for nonexistent accounts.
func (l *KVLedger) GetBalance(addr types.Address) (*uint256.Int, error) {
	acc, err := l.view(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return new(uint256.Int), nil
	}
	return acc.Balance, nil
}

// SetBalance overwrites the balance.
func (l *KVLedger) SetBalance(addr types.Address, amount *uint256.Int) error {
	return l.update(addr, func(acc *Account) error {
		acc.Balance.Set(amount)
		return nil
	})
}

// AddBalance credits amount.
func (l *KVLedger) AddBalance(addr types.Address, amount *uint256.Int) error {
	return l.update(addr, func(acc *Account) error {
		if _, overflow := acc.Balance.AddOverflow(acc.Balance, amount); overflow {
			return ErrBalanceOverflow
		}
		return nil
	})
}

// SubBalance debits amount.
func (l *KVLedger) SubBalance(addr types.Address, amount *uint256.Int) error {
	return l.update(addr, func(acc *Account) error {
		if acc.Balance.Lt(amount) {
			return ErrInsufficientBalance
		}
		acc.Balance.Sub(acc.Balance, amount)
		return nil
	})
}

// GetNonce returns the nonce, zero for nonexistent accounts.
func (l *KVLedger) GetNonce(addr types.Address) (uint64, error) {
	acc, err := l.view(addr)
	if err != nil || acc == nil {
		return 0, err
	}
	return acc.Nonce, nil
}

// SetNonce overwrites the nonce.
func (l *KVLedger) SetNonce(addr types.Address, nonce uint64) error {
	return l.update(addr, func(acc *Account) error {
		acc.Nonce = nonce
		return nil
	})
}

// GetCodeHash returns the code hash. Nonexistent accounts have a zero hash,
// existing accounts without code have types.EmptyCodeHash.
func (l *KVLedger) GetCodeHash(addr types.Address) (types.Hash, error) {
	acc, err := l.view(addr)
	if err != nil || acc == nil {
		return types.Hash{}, err
	}
	if !acc.HasCode() {
		return types.EmptyCodeHash, nil
	}
	return acc.CodeHash, nil
}

// GetCode returns the account's code, nil if it has none.
func (l *KVLedger) GetCode(addr types.Address) ([]byte, error) {
	acc, err := l.view(addr)
	if err != nil || acc == nil || !acc.HasCode() {
		return nil, err
	}
	return l.loadCode(acc.CodeHash)
}

// GetCodeSize returns the length of the account's code.
func (l *KVLedger) GetCodeSize(addr types.Address) (int, error) {
	code, err := l.GetCode(addr)
	return len(code), err
}

func (l *KVLedger) loadCode(hash types.Hash) ([]byte, error) {
	if v, ok := l.codeCache.Get(hash); ok {
		return v.([]byte), nil
	}
	l.mu.RLock()
	blob, err := l.store.get(codeKey(hash))
	l.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if blob == nil {
		return nil, fmt.Errorf("%w: %s", ErrCodeMissing, hash)
	}
	code, err := l.decoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: code %s: %v", ErrCorrupt, hash, err)
	}
	l.codeCache.Add(hash, code)
	return code, nil
}

// SetCode replaces the account's code. Empty code clears it.
func (l *KVLedger) SetCode(addr types.Address, code []byte) error {
	if len(code) == 0 {
		return l.update(addr, func(acc *Account) error {
			acc.CodeHash = types.Hash{}
			return nil
		})
	}

	hash := types.CodeHash(code)
	return l.update(addr, func(acc *Account) error {
		existing, err := l.store.get(codeKey(hash))
		if err != nil {
			return err
		}
		if existing == nil {
			if err := l.store.set(codeKey(hash), l.encoder.EncodeAll(code, nil)); err != nil {
				return err
			}
		}
		acc.CodeHash = hash
		l.codeCache.Add(hash, append([]byte(nil), code...))
		return nil
	})
}

// SetSuicided sets or clears the self-destruct mark.
func (l *KVLedger) SetSuicided(addr types.Address, suicided bool) error {
	return l.update(addr, func(acc *Account) error {
		acc.Suicided = suicided
		return nil
	})
}

// HasSuicided returns the self-destruct mark.
func (l *KVLedger) HasSuicided(addr types.Address) (bool, error) {
	acc, err := l.view(addr)
	if err != nil || acc == nil {
		return false, err
	}
	return acc.Suicided, nil
}

// GetStorage returns the slot value, nil if unset.
func (l *KVLedger) GetStorage(addr types.Address, key []byte) ([]byte, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.store.get(storageKey(addr, key))
}

// SetStorage writes a slot. An empty value removes it.
func (l *KVLedger) SetStorage(addr types.Address, key, value []byte) error {
	if len(value) == 0 {
		return l.RemoveStorage(addr, key)
	}
	if l.closed.Load() {
		return ErrClosed
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	acc, err := l.loadAccount(addr)
	if err != nil {
		return err
	}
	if acc == nil {
		if err := l.storeAccount(addr, NewAccount()); err != nil {
			return err
		}
	}
	return l.store.set(storageKey(addr, key), append([]byte(nil), value...))
}

// RemoveStorage deletes a slot.
func (l *KVLedger) RemoveStorage(addr types.Address, key []byte) error {
	if l.closed.Load() {
		return ErrClosed
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.delete(storageKey(addr, key))
}

// IterateStorage visits the account's slots whose key starts with prefix,
// in ascending key order. Keys passed to fn have the account prefix removed.
func (l *KVLedger) IterateStorage(addr types.Address, prefix []byte, fn func(key, value []byte) error) error {
	if l.closed.Load() {
		return ErrClosed
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	base := storagePrefix(addr)
	return l.store.iterate(append(base, prefix...), func(key, value []byte) error {
		return fn(bytes.TrimPrefix(key, base), value)
	})
}

// AddPreimage records data under its hash.
func (l *KVLedger) AddPreimage(hash types.Hash, data []byte) error {
	if l.closed.Load() {
		return ErrClosed
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.set(preimageKey(hash), append([]byte{}, data...))
}

// DeletePreimage removes a recorded preimage.
func (l *KVLedger) DeletePreimage(hash types.Hash) error {
	if l.closed.Load() {
		return ErrClosed
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.delete(preimageKey(hash))
}

// Preimage returns the data recorded under hash, nil if none.
func (l *KVLedger) Preimage(hash types.Hash) ([]byte, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.store.get(preimageKey(hash))
}

// Close releases the underlying store.
func (l *KVLedger) Close() error {
	if l.closed.Swap(true) {
		return ErrClosed
	}
	l.encoder.Close()
	l.decoder.Close()
	return l.store.close()
}

// Verify that KVLedger implements Ledger.
var _ Ledger = (*KVLedger)(nil)
