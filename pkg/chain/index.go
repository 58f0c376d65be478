package chain

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fortiblox/hostvm/internal/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// ErrClosed is returned when operating on a closed index.
	ErrClosed = errors.New("header index closed")

	// ErrHashMismatch is returned when a different hash is already recorded
	// for a height.
	ErrHashMismatch = errors.New("block hash already recorded with a different value")
)

// Bucket names for BoltDB.
var (
	// bucketHashes stores block hashes keyed by big-endian height.
	bucketHashes = []byte("block_hashes")

	// bucketMetadata stores index metadata.
	bucketMetadata = []byte("metadata")

	keyLatest = []byte("latest")
)

// IndexConfig holds header index configuration options.
type IndexConfig struct {
	// Path is the BoltDB file path.
	Path string

	// NoSync disables fsync after each write.
	NoSync bool

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool
}

// DefaultIndexConfig returns the default header index configuration.
func DefaultIndexConfig(path string) IndexConfig {
	return IndexConfig{Path: path}
}

// HeaderIndex is a BoltDB-backed HeaderSource.
type HeaderIndex struct {
	db *bolt.DB

	mu     sync.RWMutex
	latest uint64
	closed bool
}

// OpenIndex creates or opens a header index.
func OpenIndex(cfg IndexConfig) (*HeaderIndex, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	db, err := bolt.Open(cfg.Path, 0600, &bolt.Options{
		Timeout:  5 * time.Second,
		NoSync:   cfg.NoSync,
		ReadOnly: cfg.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	idx := &HeaderIndex{db: db}
	if !cfg.ReadOnly {
		err = db.Update(func(tx *bolt.Tx) error {
			for _, name := range [][]byte{bucketHashes, bucketMetadata} {
				if _, err := tx.CreateBucketIfNotExists(name); err != nil {
					return fmt.Errorf("create bucket %s: %w", name, err)
				}
			}
			return nil
		})
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	err = db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMetadata)
		if meta == nil {
			return nil
		}
		if v := meta.Get(keyLatest); len(v) == 8 {
			idx.latest = binary.BigEndian.Uint64(v)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	return idx, nil
}

func heightKey(number uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], number)
	return k[:]
}

// Put records the hash of the block at number. Recording the same hash
// twice is a no-op; recording a different one fails.
func (i *HeaderIndex) Put(number uint64, hash types.Hash) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return ErrClosed
	}

	err := i.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHashes)
		if prev := b.Get(heightKey(number)); prev != nil {
			if string(prev) != string(hash[:]) {
				return fmt.Errorf("%w: height %d", ErrHashMismatch, number)
			}
			return nil
		}
		if err := b.Put(heightKey(number), hash[:]); err != nil {
			return err
		}
		if number > i.latest {
			return tx.Bucket(bucketMetadata).Put(keyLatest, heightKey(number))
		}
		return nil
	})
	if err != nil {
		return err
	}
	if number > i.latest {
		i.latest = number
	}
	return nil
}

// BlockHash implements HeaderSource.
func (i *HeaderIndex) BlockHash(number uint64) (types.Hash, bool, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return types.Hash{}, false, ErrClosed
	}

	var (
		h  types.Hash
		ok bool
	)
	err := i.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHashes)
		if b == nil {
			return nil
		}
		if v := b.Get(heightKey(number)); len(v) == types.HashSize {
			copy(h[:], v)
			ok = true
		}
		return nil
	})
	return h, ok, err
}

// Latest returns the highest recorded height.
func (i *HeaderIndex) Latest() uint64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.latest
}

// Close closes the index.
func (i *HeaderIndex) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return ErrClosed
	}
	i.closed = true
	return i.db.Close()
}

var _ HeaderSource = (*HeaderIndex)(nil)
