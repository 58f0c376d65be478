package ledger

import (
	"fmt"

	dbm "github.com/cometbft/cometbft-db"
)

// dbmStore adapts a cometbft-db database.
type dbmStore struct {
	db dbm.DB
}

func (s dbmStore) get(key []byte) ([]byte, error) {
	return s.db.Get(key)
}

func (s dbmStore) set(key, value []byte) error {
	return s.db.Set(key, value)
}

func (s dbmStore) delete(key []byte) error {
	return s.db.Delete(key)
}

func (s dbmStore) iterate(prefix []byte, fn func(key, value []byte) error) error {
	it, err := s.db.Iterator(prefix, prefixEnd(prefix))
	if err != nil {
		return err
	}
	defer it.Close()

	for ; it.Valid(); it.Next() {
		if err := fn(it.Key(), it.Value()); err != nil {
			return err
		}
	}
	return it.Error()
}

func (s dbmStore) close() error {
	return s.db.Close()
}

// prefixEnd returns the smallest key greater than every key with the given
// prefix, or nil if there is none.
func prefixEnd(prefix []byte) []byte {
	if len(prefix) == 0 {
		return nil
	}
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// NewMemoryLedger creates a ledger backed by an in-memory B-tree.
// Intended for tests and short-lived execution.
func NewMemoryLedger() *KVLedger {
	l, err := newKVLedger(dbmStore{db: dbm.NewMemDB()}, 0)
	if err != nil {
		// Only the fixed-size cache and codec setup can fail here.
		panic(err)
	}
	return l
}

// NewLevelDBLedger creates a ledger backed by goleveldb in dir/name.db.
func NewLevelDBLedger(name, dir string, codeCacheSize int) (*KVLedger, error) {
	db, err := dbm.NewGoLevelDB(name, dir)
	if err != nil {
		return nil, fmt.Errorf("open goleveldb: %w", err)
	}
	l, err := newKVLedger(dbmStore{db: db}, codeCacheSize)
	if err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}
