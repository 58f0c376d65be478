// Package dispatch implements the call dispatcher: the frame stack that
// nested contract invocations run on.
//
// Every call takes a snapshot, gets a gas sub-budget from its caller and is
// pushed as a Frame before control passes to the interpreter. A frame that
// fails is reverted to its entry snapshot before the error reaches the
// caller; a frame that returns keeps its mutations. Either way the gas it
// did not use stays with the caller.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/fortiblox/hostvm/internal/types"
	"github.com/fortiblox/hostvm/pkg/gas"
	"github.com/fortiblox/hostvm/pkg/journal"
	"github.com/fortiblox/hostvm/pkg/result"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxDepth is the call depth ceiling.
const DefaultMaxDepth = 8

var (
	// ErrCallDepthExceeded is returned when a call would exceed the depth
	// ceiling. No gas is charged and no snapshot is taken.
	ErrCallDepthExceeded = result.NewError(result.CodeCallMaxDeep, "call depth exceeded")

	// ErrReverted is returned by contract code that reverts explicitly.
	ErrReverted = result.NewError(result.CodeReverted, "execution reverted")

	// ErrCallCost wraps the error from charging Call.Cost to the caller.
	// The caller's own meter ran dry; no frame was pushed.
	ErrCallCost = errors.New("call cost not covered")

	// ErrRevertFailed is returned when a failed frame could not be rolled
	// back. State is inconsistent and the context must be aborted.
	ErrRevertFailed = errors.New("frame revert failed")
)

// Call describes a frame to push.
type Call struct {
	Caller types.Address
	Callee types.Address
	Alias  string
	Input  []byte

	// Gas is the sub-budget requested for the frame. Zero, or more than
	// the caller has left, passes everything that remains.
	Gas uint64

	// Cost is charged to the caller once the depth check has passed.
	Cost uint64
}

// RunFunc executes a frame's code.
type RunFunc func(ctx context.Context, f *Frame) (result.Value, error)

// Config holds the collaborators of a Dispatcher.
type Config struct {
	Journal *journal.Journal

	// Meter is the transaction-level meter top-level frames draw from.
	Meter *gas.Meter

	MaxDepth int

	// OnExit is called after a frame has left the stack.
	OnExit func(f *Frame)

	Logger zerolog.Logger
	Tracer trace.Tracer
}

// Dispatcher owns the frame stack of one execution context. It is not safe
// for concurrent use.
type Dispatcher struct {
	journal  *journal.Journal
	root     *gas.Meter
	maxDepth int
	onExit   func(f *Frame)

	stack  []*Frame
	nextID int

	logger zerolog.Logger
	tracer trace.Tracer
}

// New creates a dispatcher with an empty stack.
func New(cfg Config) *Dispatcher {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("github.com/fortiblox/hostvm/pkg/dispatch")
	}
	return &Dispatcher{
		journal:  cfg.Journal,
		root:     cfg.Meter,
		maxDepth: cfg.MaxDepth,
		onExit:   cfg.OnExit,
		nextID:   1,
		logger:   cfg.Logger,
		tracer:   cfg.Tracer,
	}
}

// Meter returns the meter of the running frame, or the transaction meter
// when no frame is running.
func (d *Dispatcher) Meter() *gas.Meter {
	if f := d.Current(); f != nil {
		return f.Gas
	}
	return d.root
}

// Current returns the running frame, nil if the stack is empty.
func (d *Dispatcher) Current() *Frame {
	if len(d.stack) == 0 {
		return nil
	}
	return d.stack[len(d.stack)-1]
}

// Depth returns the number of frames on the stack.
func (d *Dispatcher) Depth() int {
	return len(d.stack)
}

// MaxDepth returns the depth ceiling.
func (d *Dispatcher) MaxDepth() int {
	return d.maxDepth
}

// Frames returns the stack, outermost first.
func (d *Dispatcher) Frames() []FrameInfo {
	out := make([]FrameInfo, len(d.stack))
	for i, f := range d.stack {
		out[i] = f.info()
	}
	return out
}

// Call pushes a frame for c and runs it. On error the frame's mutations are
// reverted and the error is returned to the caller.
func (d *Dispatcher) Call(ctx context.Context, c Call, run RunFunc) (result.Value, error) {
	if len(d.stack) >= d.maxDepth {
		return result.Value{}, fmt.Errorf("%w: limit %d", ErrCallDepthExceeded, d.maxDepth)
	}

	parent := d.Meter()
	if c.Cost > 0 {
		if err := parent.Charge(c.Cost); err != nil {
			return result.Value{}, fmt.Errorf("%w: %w", ErrCallCost, err)
		}
	}

	checkpoint := d.journal.Snapshot()
	sub, err := parent.SubBudget(c.Gas, d.nextID, c.Alias)
	if err != nil {
		return result.Value{}, err
	}

	f := &Frame{
		ID:         d.nextID,
		Depth:      len(d.stack),
		Caller:     c.Caller,
		Callee:     c.Callee,
		Alias:      c.Alias,
		Input:      c.Input,
		Gas:        sub,
		Checkpoint: checkpoint,
		Status:     StatusPending,
	}
	d.nextID++

	ctx, span := d.tracer.Start(ctx, "dispatch.call", trace.WithAttributes(
		attribute.Int("depth", f.Depth),
		attribute.String("callee", f.Callee.String()),
		attribute.Int64("gas", int64(sub.Limit())),
	))
	defer span.End()

	d.stack = append(d.stack, f)
	f.Status = StatusRunning
	d.logger.Debug().
		Int("frame", f.ID).
		Int("depth", f.Depth).
		Stringer("callee", f.Callee).
		Uint64("gas", sub.Limit()).
		Msg("Frame enter")

	v, err := run(ctx, f)
	if err != nil {
		if rerr := d.journal.RevertToSnapshot(f.Checkpoint); rerr != nil {
			err = fmt.Errorf("%w: %w (frame error: %v)", ErrRevertFailed, rerr, err)
		}
		if errors.Is(err, ErrReverted) {
			f.Status = StatusReverted
		} else {
			f.Status = StatusExcepted
		}
		f.Err = err
		v = result.Value{}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		f.Status = StatusReturned
		f.Return = v
	}

	d.stack = d.stack[:len(d.stack)-1]
	unused := sub.Close()
	if d.onExit != nil {
		d.onExit(f)
	}

	span.SetAttributes(
		attribute.String("status", f.Status.String()),
		attribute.Int64("gas.used", int64(sub.Consumed())),
	)
	d.logger.Debug().
		Int("frame", f.ID).
		Int("depth", f.Depth).
		Stringer("status", f.Status).
		Uint64("used", sub.Consumed()).
		Uint64("unused", unused).
		Err(err).
		Msg("Frame exit")

	return v, err
}
