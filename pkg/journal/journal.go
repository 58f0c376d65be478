// Package journal implements the snapshot manager: an ordered log of state
// mutations that can be rolled back to any checkpoint still valid.
//
// One Journal is shared by every call frame of an execution context. Each
// mutation appends an Entry carrying what is needed to undo it. Snapshot
// returns a checkpoint id; RevertToSnapshot undoes, newest first, every entry
// appended after that checkpoint and discards all later checkpoints.
package journal

import (
	"fmt"
	"sort"

	"github.com/fortiblox/hostvm/pkg/result"
)

// ErrInvalidSnapshot is returned for a checkpoint id that was never issued or
// has been discarded by an earlier revert.
var ErrInvalidSnapshot = result.NewError(result.CodeInvalidSnapshot, "invalid snapshot")

// Entry is one recorded mutation.
type Entry interface {
	// Revert undoes the mutation. An error means the underlying state could
	// not be restored and is treated as fatal by callers.
	Revert() error
}

// EntryFunc adapts a function to the Entry interface.
type EntryFunc func() error

// Revert calls f.
func (f EntryFunc) Revert() error { return f() }

type checkpoint struct {
	id    int
	index int
}

// Journal records mutations and checkpoints.
type Journal struct {
	entries     []Entry
	checkpoints []checkpoint
	nextID      int
}

// New creates an empty journal.
func New() *Journal {
	return &Journal{}
}

// Append records a mutation that has already been applied.
func (j *Journal) Append(e Entry) {
	j.entries = append(j.entries, e)
}

// Snapshot returns a checkpoint id greater than every id issued before.
func (j *Journal) Snapshot() int {
	id := j.nextID
	j.nextID++
	j.checkpoints = append(j.checkpoints, checkpoint{id: id, index: len(j.entries)})
	return id
}

// Valid reports whether id can still be reverted to.
func (j *Journal) Valid(id int) bool {
	_, ok := j.find(id)
	return ok
}

// RevertToSnapshot undoes every mutation recorded after checkpoint id and
// discards the checkpoints issued after it. The checkpoint id itself stays
// valid.
func (j *Journal) RevertToSnapshot(id int) error {
	idx, ok := j.find(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidSnapshot, id)
	}
	cp := j.checkpoints[idx]

	for i := len(j.entries) - 1; i >= cp.index; i-- {
		if err := j.entries[i].Revert(); err != nil {
			// Keep the entries not yet undone so the journal still matches state.
			j.entries = j.entries[:i+1]
			return fmt.Errorf("revert entry %d: %w", i, err)
		}
		j.entries[i] = nil
	}
	j.entries = j.entries[:cp.index]
	j.checkpoints = j.checkpoints[:idx+1]
	return nil
}

// Length returns the number of recorded mutations.
func (j *Journal) Length() int {
	return len(j.entries)
}

// Reset drops all entries and checkpoints. Ids keep increasing afterwards.
func (j *Journal) Reset() {
	j.entries = nil
	j.checkpoints = nil
}

func (j *Journal) find(id int) (int, bool) {
	idx := sort.Search(len(j.checkpoints), func(i int) bool {
		return j.checkpoints[i].id >= id
	})
	if idx == len(j.checkpoints) || j.checkpoints[idx].id != id {
		return 0, false
	}
	return idx, true
}
