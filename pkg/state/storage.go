package state

import (
	"bytes"

	"github.com/fortiblox/hostvm/internal/types"
)

// cursor is a storage iterator materialized when it was opened. Writes made
// after opening are not visible through it.
type cursor struct {
	owner   int
	addr    types.Address
	entries []storageEntry
	pos     int
}

type storageEntry struct {
	key   []byte
	value []byte
}

// GetStorage returns the value of a storage slot, nil if unset.
func (g *Gateway) GetStorage(addr types.Address, key []byte) ([]byte, error) {
	if err := g.charge(g.schedule.Sized(g.schedule.StorageRead, len(key))); err != nil {
		return nil, err
	}
	g.touched.Add(addr)
	v, err := g.ledger.GetStorage(addr, key)
	if err != nil {
		return nil, g.fail("get storage", err)
	}
	return v, nil
}

// SetStorage writes a storage slot. An empty value removes the slot.
func (g *Gateway) SetStorage(addr types.Address, key, value []byte) error {
	if err := g.charge(g.schedule.Sized(g.schedule.StorageWrite, len(key)+len(value))); err != nil {
		return err
	}
	g.touched.Add(addr)
	return g.setStorage(addr, key, value)
}

// RemoveStorage deletes a storage slot.
func (g *Gateway) RemoveStorage(addr types.Address, key []byte) error {
	if err := g.charge(g.schedule.Sized(g.schedule.StorageRemove, len(key))); err != nil {
		return err
	}
	g.touched.Add(addr)
	return g.setStorage(addr, key, nil)
}

func (g *Gateway) setStorage(addr types.Address, key, value []byte) error {
	prev, err := g.ledger.GetStorage(addr, key)
	if err != nil {
		return g.fail("get storage", err)
	}
	if bytes.Equal(prev, value) {
		return nil
	}
	if len(value) > 0 {
		if err := g.ensureExists(addr); err != nil {
			return err
		}
	}

	k := append([]byte(nil), key...)
	g.record(func() error {
		if len(prev) == 0 {
			return g.ledger.RemoveStorage(addr, k)
		}
		return g.ledger.SetStorage(addr, k, prev)
	})
	if len(value) == 0 {
		err = g.ledger.RemoveStorage(addr, k)
	} else {
		err = g.ledger.SetStorage(addr, k, value)
	}
	if err != nil {
		return g.fail("set storage", err)
	}
	return nil
}

// OpenCursor opens an ordered iterator over the storage slots of addr whose
// keys start with prefix. The cursor belongs to the active frame and is
// closed with it.
func (g *Gateway) OpenCursor(addr types.Address, prefix []byte) (int, error) {
	if err := g.charge(g.schedule.Sized(g.schedule.IteratorCreate, len(prefix))); err != nil {
		return 0, err
	}
	g.touched.Add(addr)

	c := &cursor{owner: g.meter().Frame(), addr: addr}
	err := g.ledger.IterateStorage(addr, prefix, func(key, value []byte) error {
		c.entries = append(c.entries, storageEntry{
			key:   append([]byte(nil), key...),
			value: append([]byte(nil), value...),
		})
		return nil
	})
	if err != nil {
		return 0, g.fail("iterate storage", err)
	}

	id := g.nextCur
	g.nextCur++
	g.cursors[id] = c
	return id, nil
}

// CursorNext advances a cursor. ok is false once the cursor is exhausted.
func (g *Gateway) CursorNext(id int) (key, value []byte, ok bool, err error) {
	if err := g.charge(g.schedule.IteratorNext); err != nil {
		return nil, nil, false, err
	}
	c, found := g.cursors[id]
	if !found {
		return nil, nil, false, ErrCursorNotFound
	}
	if c.pos >= len(c.entries) {
		return nil, nil, false, nil
	}
	e := c.entries[c.pos]
	if err := g.charge(g.schedule.Sized(0, len(e.key)+len(e.value))); err != nil {
		return nil, nil, false, err
	}
	c.pos++
	return e.key, e.value, true, nil
}

// CloseCursor releases a cursor.
func (g *Gateway) CloseCursor(id int) error {
	if _, ok := g.cursors[id]; !ok {
		return ErrCursorNotFound
	}
	delete(g.cursors, id)
	return nil
}

// CloseFrameCursors releases every cursor opened by frame.
func (g *Gateway) CloseFrameCursors(frame int) {
	for id, c := range g.cursors {
		if c.owner == frame {
			delete(g.cursors, id)
		}
	}
}

// AddPreimage records data under hash. Recording an existing preimage is a
// no-op beyond its charge.
func (g *Gateway) AddPreimage(hash types.Hash, data []byte) error {
	if err := g.charge(g.schedule.Sized(g.schedule.Preimage, len(data))); err != nil {
		return err
	}
	existing, err := g.ledger.Preimage(hash)
	if err != nil {
		return g.fail("get preimage", err)
	}
	if existing != nil {
		return nil
	}
	g.record(func() error { return g.ledger.DeletePreimage(hash) })
	if err := g.ledger.AddPreimage(hash, data); err != nil {
		return g.fail("add preimage", err)
	}
	return nil
}
