package gas

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeterCharge(t *testing.T) {
	m, err := NewMeter(1000, 0)
	require.NoError(t, err)

	require.NoError(t, m.Charge(100))
	assert.Equal(t, uint64(900), m.Remaining())
	assert.Equal(t, uint64(100), m.Consumed())

	// Exact remaining is allowed
	require.NoError(t, m.Charge(900))
	assert.Equal(t, uint64(0), m.Remaining())
	assert.True(t, m.IsExhausted())
}

func TestMeterChargeExhaustedLeavesBudget(t *testing.T) {
	m, err := NewMeter(5, 0)
	require.NoError(t, err)

	err = m.Charge(10)
	require.ErrorIs(t, err, ErrGasExhausted)
	assert.Equal(t, uint64(5), m.Remaining())
	assert.Equal(t, uint64(0), m.Consumed())
}

func TestMeterLimitTooLarge(t *testing.T) {
	_, err := NewMeter(MaxGasLimit+1, 0)
	require.ErrorIs(t, err, ErrInvalidBudget)
}

func TestMeterSetLimit(t *testing.T) {
	m, err := NewMeter(10, 0)
	require.NoError(t, err)

	require.NoError(t, m.SetLimit(500))
	assert.Equal(t, uint64(500), m.Remaining())
	assert.Equal(t, uint64(500), m.Limit())

	require.NoError(t, m.Charge(1))
	require.ErrorIs(t, m.SetLimit(1000), ErrLimitLocked)
}

func TestMeterRemainingNeverIncreasesWithoutRefund(t *testing.T) {
	m, err := NewMeter(10_000, 0)
	require.NoError(t, err)

	prev := m.Remaining()
	for _, cost := range []uint64{1, 50, 0, 3000, 20_000, 7, 6942, 1} {
		_ = m.Charge(cost)
		assert.LessOrEqual(t, m.Remaining(), prev)
		prev = m.Remaining()
	}
}

func TestSubBudgetPropagatesCharges(t *testing.T) {
	root, err := NewMeter(1000, 0)
	require.NoError(t, err)

	child, err := root.SubBudget(300, 1, "callee")
	require.NoError(t, err)
	assert.Equal(t, uint64(300), child.Limit())

	require.NoError(t, child.Charge(100))
	assert.Equal(t, uint64(200), child.Remaining())
	assert.Equal(t, uint64(900), root.Remaining())
	assert.Equal(t, uint64(0), root.Charged())
	assert.Equal(t, uint64(100), root.Consumed())

	// Child cannot spend past its own budget even though the root could pay
	require.ErrorIs(t, child.Charge(250), ErrGasExhausted)
	assert.Equal(t, uint64(200), child.Remaining())
	assert.Equal(t, uint64(900), root.Remaining())

	assert.Equal(t, uint64(200), child.Close())
	assert.Equal(t, uint64(900), root.Remaining())
	require.ErrorIs(t, child.Charge(1), ErrMeterClosed)
}

func TestSubBudgetClampedToParent(t *testing.T) {
	root, err := NewMeter(100, 0)
	require.NoError(t, err)
	require.NoError(t, root.Charge(40))

	child, err := root.SubBudget(1000, 1, "greedy")
	require.NoError(t, err)
	assert.Equal(t, uint64(60), child.Limit())

	all, err := root.SubBudget(0, 2, "all")
	require.NoError(t, err)
	assert.Equal(t, uint64(60), all.Limit())
}

func TestRefundCapped(t *testing.T) {
	root, err := NewMeter(1000, 5)
	require.NoError(t, err)

	// Nothing consumed yet, nothing refundable
	assert.Equal(t, uint64(0), root.Refund(50))

	require.NoError(t, root.Charge(500))
	assert.Equal(t, uint64(60), root.Refund(60))
	assert.Equal(t, uint64(40), root.Refund(60))
	assert.Equal(t, uint64(100), root.PendingRefund())
	assert.Equal(t, uint64(500), root.Remaining())

	assert.Equal(t, uint64(100), root.ApplyRefund())
	assert.Equal(t, uint64(600), root.Remaining())
	assert.Equal(t, uint64(100), root.Refunded())
	assert.Equal(t, uint64(0), root.PendingRefund())
}

func TestUndoRefund(t *testing.T) {
	root, err := NewMeter(1000, 2)
	require.NoError(t, err)
	child, err := root.SubBudget(500, 1, "c")
	require.NoError(t, err)
	require.NoError(t, child.Charge(400))

	granted := child.Refund(150)
	assert.Equal(t, uint64(150), granted)
	child.UndoRefund(granted)
	assert.Equal(t, uint64(0), root.PendingRefund())
}

func TestReport(t *testing.T) {
	root, err := NewMeter(1000, 0)
	require.NoError(t, err)
	require.NoError(t, root.Charge(10))

	child, err := root.SubBudget(200, 1, "token.transfer")
	require.NoError(t, err)
	require.NoError(t, child.Charge(30))
	child.Close()

	entries := root.Report()
	require.Len(t, entries, 2)
	assert.Equal(t, Entry{Frame: 0, Label: "root", Limit: 1000, Charged: 10}, entries[0])
	assert.Equal(t, Entry{Frame: 1, Label: "token.transfer", Limit: 200, Charged: 30, Returned: 170}, entries[1])

	var buf bytes.Buffer
	root.WriteReport(&buf)
	assert.Contains(t, buf.String(), "token.transfer")
}

func TestScheduleMerge(t *testing.T) {
	s := DefaultSchedule().Merge(Schedule{Transfer: 7, PerByte: 3})
	assert.Equal(t, uint64(7), s.Transfer)
	assert.Equal(t, uint64(3), s.PerByte)
	assert.Equal(t, DefaultSchedule().Call, s.Call)
	assert.Equal(t, uint64(10+3*4), s.Sized(10, 4))
}
