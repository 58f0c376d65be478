// Package gas implements execution metering for contract invocations.
//
// A Meter is seeded with the transaction's gas limit. Nested call frames get
// a child Meter from SubBudget; charges against a child are deducted from
// the child and every ancestor at once, so gas a child does not spend never
// leaves its parent. Refunds accumulate in a separate counter held by the
// root meter and are capped at a fraction of the gas consumed.
package gas

import (
	"errors"
	"fmt"

	"github.com/fortiblox/hostvm/pkg/result"
)

var (
	// ErrGasExhausted is returned when a charge exceeds the remaining budget.
	ErrGasExhausted = result.NewError(result.CodeGasNotEnough, "gas exhausted")

	// ErrInvalidBudget is returned for a gas limit above MaxGasLimit.
	ErrInvalidBudget = errors.New("invalid gas limit")

	// ErrLimitLocked is returned when the limit is changed after metering started.
	ErrLimitLocked = errors.New("gas limit locked after first charge")

	// ErrMeterClosed is returned when charging a meter whose frame has completed.
	ErrMeterClosed = errors.New("gas meter closed")
)

// Meter tracks gas for one call frame.
type Meter struct {
	root   *Meter
	parent *Meter

	frame int
	label string

	limit     uint64
	remaining uint64
	consumed  uint64 // Including consumption of descendants
	charged   uint64 // Charged directly against this meter
	refunded  uint64 // Refunds attributed to this meter
	returned  uint64 // Unused gas handed back on Close
	closed    bool

	// Root-only state.
	refundQuotient uint64
	refundCounter  uint64
	refundApplied  uint64
	meters         []*Meter
}

// NewMeter creates a root meter with the given limit.
func NewMeter(limit uint64, refundQuotient uint64) (*Meter, error) {
	if limit > MaxGasLimit {
		return nil, fmt.Errorf("%w: %d exceeds maximum %d", ErrInvalidBudget, limit, MaxGasLimit)
	}
	if refundQuotient == 0 {
		refundQuotient = DefaultRefundQuotient
	}
	m := &Meter{
		label:          "root",
		limit:          limit,
		remaining:      limit,
		refundQuotient: refundQuotient,
	}
	m.root = m
	m.meters = []*Meter{m}
	return m, nil
}

// SetLimit replaces the limit of a root meter that has not been charged yet.
func (m *Meter) SetLimit(limit uint64) error {
	if m.parent != nil || m.consumed != 0 || len(m.meters) > 1 {
		return ErrLimitLocked
	}
	if limit > MaxGasLimit {
		return fmt.Errorf("%w: %d exceeds maximum %d", ErrInvalidBudget, limit, MaxGasLimit)
	}
	m.limit = limit
	m.remaining = limit
	return nil
}

// Charge deducts amount from this meter and its ancestors. If amount exceeds
// what remains anywhere along the chain, nothing is deducted.
func (m *Meter) Charge(amount uint64) error {
	if m.closed {
		return ErrMeterClosed
	}
	for p := m; p != nil; p = p.parent {
		if amount > p.remaining {
			return fmt.Errorf("%w: need %d, have %d", ErrGasExhausted, amount, p.remaining)
		}
	}
	for p := m; p != nil; p = p.parent {
		p.remaining -= amount
		p.consumed += amount
	}
	m.charged += amount
	return nil
}

// Refund adds amount to the transaction refund counter, capped so that the
// counter never exceeds the root's consumption divided by the refund
// quotient. It returns the amount actually granted.
func (m *Meter) Refund(amount uint64) uint64 {
	r := m.root
	ceiling := r.consumed / r.refundQuotient
	if r.refundCounter >= ceiling {
		return 0
	}
	if amount > ceiling-r.refundCounter {
		amount = ceiling - r.refundCounter
	}
	r.refundCounter += amount
	m.refunded += amount
	return amount
}

// UndoRefund withdraws a refund previously granted through m.
func (m *Meter) UndoRefund(amount uint64) {
	r := m.root
	if amount > r.refundCounter {
		amount = r.refundCounter
	}
	if amount > m.refunded {
		amount = m.refunded
	}
	r.refundCounter -= amount
	m.refunded -= amount
}

// SubBudget creates a child meter for a nested frame. A zero amount or one
// larger than what remains is clamped to the remaining budget.
func (m *Meter) SubBudget(amount uint64, frame int, label string) (*Meter, error) {
	if m.closed {
		return nil, ErrMeterClosed
	}
	if amount == 0 || amount > m.remaining {
		amount = m.remaining
	}
	child := &Meter{
		root:      m.root,
		parent:    m,
		frame:     frame,
		label:     label,
		limit:     amount,
		remaining: amount,
	}
	m.root.meters = append(m.root.meters, child)
	return child, nil
}

// Close ends a child meter and reports the gas it did not use, which stays
// with the parent.
func (m *Meter) Close() uint64 {
	if m.closed || m.parent == nil {
		return 0
	}
	m.closed = true
	m.returned = m.remaining
	m.remaining = 0
	return m.returned
}

// ApplyRefund credits the refund counter to the root's remaining budget.
// Called once when the top-level invocation completes.
func (m *Meter) ApplyRefund() uint64 {
	r := m.root
	amount := r.refundCounter
	r.refundCounter = 0
	r.refundApplied += amount
	r.remaining += amount
	return amount
}

// Remaining returns the gas left on this meter.
func (m *Meter) Remaining() uint64 {
	return m.remaining
}

// Consumed returns the gas consumed by this meter and its descendants.
func (m *Meter) Consumed() uint64 {
	return m.consumed
}

// Charged returns the gas charged directly against this meter.
func (m *Meter) Charged() uint64 {
	return m.charged
}

// Limit returns the budget this meter started with.
func (m *Meter) Limit() uint64 {
	return m.limit
}

// Refunded returns the pending refund counter plus refunds already applied.
func (m *Meter) Refunded() uint64 {
	return m.root.refundCounter + m.root.refundApplied
}

// PendingRefund returns the refund counter not yet applied.
func (m *Meter) PendingRefund() uint64 {
	return m.root.refundCounter
}

// Frame returns the call frame this meter is attributed to.
func (m *Meter) Frame() int {
	return m.frame
}

// Root returns the transaction-level meter.
func (m *Meter) Root() *Meter {
	return m.root
}

// IsExhausted returns true if no gas remains.
func (m *Meter) IsExhausted() bool {
	return m.remaining == 0
}
