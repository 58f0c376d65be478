package journal

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// kv is a tiny journaled map used to exercise revert ordering.
type kv struct {
	j    *Journal
	data map[string]int
}

func newKV() *kv {
	return &kv{j: New(), data: map[string]int{}}
}

func (s *kv) set(k string, v int) {
	prev, had := s.data[k]
	s.j.Append(EntryFunc(func() error {
		if had {
			s.data[k] = prev
		} else {
			delete(s.data, k)
		}
		return nil
	}))
	s.data[k] = v
}

func (s *kv) clone() map[string]int {
	out := make(map[string]int, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

func TestSnapshotIdsMonotonic(t *testing.T) {
	j := New()
	a := j.Snapshot()
	b := j.Snapshot()
	require.NoError(t, j.RevertToSnapshot(a))
	c := j.Snapshot()

	assert.Less(t, a, b)
	assert.Less(t, b, c)
}

func TestRevertRestoresState(t *testing.T) {
	s := newKV()
	s.set("a", 1)
	before := s.clone()

	id := s.j.Snapshot()
	s.set("a", 2)
	s.set("b", 3)
	s.set("a", 4)

	require.NoError(t, s.j.RevertToSnapshot(id))
	assert.Equal(t, before, s.data)
	assert.Equal(t, 1, s.j.Length())
}

func TestRevertSequences(t *testing.T) {
	ops := [][]struct {
		k string
		v int
	}{
		{},
		{{"x", 1}},
		{{"x", 1}, {"x", 2}, {"x", 3}},
		{{"x", 1}, {"y", 2}, {"x", 0}, {"z", 9}, {"y", 5}},
	}
	for i, seq := range ops {
		s := newKV()
		s.set("x", 100)
		before := s.clone()
		id := s.j.Snapshot()
		for _, op := range seq {
			s.set(op.k, op.v)
		}
		require.NoError(t, s.j.RevertToSnapshot(id), "case %d", i)
		assert.Equal(t, before, s.data, "case %d", i)
	}
}

func TestRevertInvalidatesLaterSnapshots(t *testing.T) {
	s := newKV()
	outer := s.j.Snapshot()
	s.set("a", 1)
	inner := s.j.Snapshot()
	s.set("b", 2)

	require.NoError(t, s.j.RevertToSnapshot(outer))
	assert.False(t, s.j.Valid(inner))
	assert.True(t, s.j.Valid(outer))

	err := s.j.RevertToSnapshot(inner)
	require.ErrorIs(t, err, ErrInvalidSnapshot)

	// The reverted-to checkpoint may be used again
	s.set("c", 3)
	require.NoError(t, s.j.RevertToSnapshot(outer))
	assert.Empty(t, s.data)
}

func TestRevertNeverIssued(t *testing.T) {
	j := New()
	require.ErrorIs(t, j.RevertToSnapshot(0), ErrInvalidSnapshot)
	j.Snapshot()
	require.ErrorIs(t, j.RevertToSnapshot(7), ErrInvalidSnapshot)
	require.ErrorIs(t, j.RevertToSnapshot(-1), ErrInvalidSnapshot)
}

func TestNestedRevertKeepsOuterMutations(t *testing.T) {
	s := newKV()
	s.set("caller", 1)
	id := s.j.Snapshot()
	s.set("callee", 2)
	require.NoError(t, s.j.RevertToSnapshot(id))

	assert.Equal(t, map[string]int{"caller": 1}, s.data)
}

func TestRevertEntryFailure(t *testing.T) {
	j := New()
	boom := errors.New("ledger corrupted")
	var undone []int
	id := j.Snapshot()
	j.Append(EntryFunc(func() error { undone = append(undone, 0); return nil }))
	j.Append(EntryFunc(func() error { return boom }))
	j.Append(EntryFunc(func() error { undone = append(undone, 2); return nil }))

	err := j.RevertToSnapshot(id)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []int{2}, undone)
	assert.Equal(t, 2, j.Length())
}
