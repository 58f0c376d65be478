// Package vm binds the host interface into execution contexts.
//
// A Context owns the gas meter, journal, state gateway and dispatcher for
// one top-level transaction and runs exactly one top-level invocation.
// Later Execute or ExecuteBytecode calls fail with ErrContextUsed. Contract
// code is run by a host.Interpreter which only ever sees a host.Host bound
// to its frame. Every top-level
// invocation produces exactly one ExecuteResult unless a fatal ledger
// failure aborts the context, in which case the error is returned and no
// result is produced.
package vm

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fortiblox/hostvm/internal/types"
	"github.com/fortiblox/hostvm/pkg/dispatch"
	"github.com/fortiblox/hostvm/pkg/gas"
	"github.com/fortiblox/hostvm/pkg/host"
	"github.com/fortiblox/hostvm/pkg/journal"
	"github.com/fortiblox/hostvm/pkg/ledger"
	"github.com/fortiblox/hostvm/pkg/result"
	"github.com/fortiblox/hostvm/pkg/state"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

var (
	// ErrFatal wraps failures that abort the whole context.
	ErrFatal = errors.New("fatal execution failure")

	// ErrContextClosed is returned by a Context after Close.
	ErrContextClosed = errors.New("execution context closed")

	// ErrBusy is returned when a top-level invocation is started while
	// another one is running.
	ErrBusy = errors.New("execution context busy")

	// ErrContextUsed is returned when a second top-level invocation is
	// started on a context.
	ErrContextUsed = errors.New("execution context already used")
)

// Context executes one top-level transaction.
type Context struct {
	id uuid.UUID

	ledger ledger.Ledger
	interp host.Interpreter

	meter      *gas.Meter
	journal    *journal.Journal
	gateway    *state.Gateway
	dispatcher *dispatch.Dispatcher
	marshaler  result.Marshaler

	opts   options
	logger zerolog.Logger

	fatal  error
	used   bool
	closed bool
}

// NewContext creates a context against l that runs code with interp.
func NewContext(l ledger.Ledger, interp host.Interpreter, opts ...Option) (*Context, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.tx.GasLimit == 0 {
		o.tx.GasLimit = gas.DefaultGasLimit
	}
	if o.tx.Value == nil {
		o.tx.Value = new(uint256.Int)
	}

	meter, err := gas.NewMeter(o.tx.GasLimit, o.refundQuotient)
	if err != nil {
		return nil, err
	}

	c := &Context{
		id:      uuid.New(),
		ledger:  l,
		interp:  interp,
		meter:   meter,
		journal: journal.New(),
		opts:    o,
	}
	c.logger = o.logger.With().Str("ctx", c.id.String()).Logger()

	c.gateway = state.New(state.Config{
		Ledger:   l,
		Journal:  c.journal,
		Schedule: o.schedule,
		Meter:    func() *gas.Meter { return c.dispatcher.Meter() },
		Block:    o.block,
		Tx:       o.tx,
		Headers:  o.headers,
		Logger:   c.logger,
	})
	c.dispatcher = dispatch.New(dispatch.Config{
		Journal:  c.journal,
		Meter:    meter,
		MaxDepth: o.maxDepth,
		OnExit:   func(f *dispatch.Frame) { c.gateway.CloseFrameCursors(f.ID) },
		Logger:   c.logger,
		Tracer:   o.tracer,
	})
	return c, nil
}

// ID returns the context identifier.
func (c *Context) ID() uuid.UUID {
	return c.id
}

// Execute runs script at top level and populates r, which must have been
// initialized. The error is non-nil only when no result could be produced.
func (c *Context) Execute(ctx context.Context, script, alias string, kind host.ParseKind, r *result.ExecuteResult) error {
	call := c.topCall(alias)
	return c.runTop(ctx, call, r, func(h host.Host) (result.Value, error) {
		return c.interp.Execute(h, script, alias, kind)
	})
}

// ExecuteBytecode runs a precompiled script and reports whether it
// succeeded. The error is non-nil only for fatal failures.
func (c *Context) ExecuteBytecode(ctx context.Context, code []byte) (bool, error) {
	var r result.ExecuteResult
	r.Init()
	defer r.Deinit()

	err := c.runTop(ctx, c.topCall("bytecode"), &r, func(h host.Host) (result.Value, error) {
		return c.interp.ExecuteBytecode(h, code)
	})
	if err != nil {
		return false, err
	}
	return r.Success(), nil
}

// SetGasLimit replaces the gas limit. It fails once execution has started.
func (c *Context) SetGasLimit(limit uint64) error {
	return c.meter.SetLimit(limit)
}

// GetGas returns the gas remaining.
func (c *Context) GetGas() uint64 {
	return c.meter.Remaining()
}

// GasUsed returns the gas consumed net of applied refunds.
func (c *Context) GasUsed() uint64 {
	return c.meter.Limit() - c.meter.Remaining()
}

// GasReport writes the per-frame gas attribution to w.
func (c *Context) GasReport(w io.Writer) {
	c.meter.WriteReport(w)
}

// Logs returns the events emitted and not reverted.
func (c *Context) Logs() []*state.Log {
	return c.gateway.Logs()
}

// Touched returns every address accessed during execution.
func (c *Context) Touched() []types.Address {
	return c.gateway.Touched()
}

// Frames returns the current call stack.
func (c *Context) Frames() []dispatch.FrameInfo {
	return c.dispatcher.Frames()
}

// Close releases the journal. The context cannot be used afterwards.
func (c *Context) Close() error {
	if c.closed {
		return ErrContextClosed
	}
	c.closed = true
	c.journal.Reset()
	return nil
}

func (c *Context) topCall(alias string) dispatch.Call {
	tx := c.gateway.Tx()
	return dispatch.Call{
		Caller: tx.Origin,
		Callee: tx.Target,
		Alias:  alias,
		Cost:   c.opts.schedule.ExecBase,
	}
}

// runTop pushes the top-level frame, runs fn in it and marshals the outcome.
func (c *Context) runTop(ctx context.Context, call dispatch.Call, r *result.ExecuteResult, fn func(h host.Host) (result.Value, error)) error {
	switch {
	case c.closed:
		return ErrContextClosed
	case c.fatal != nil:
		return fmt.Errorf("%w: %w", ErrFatal, c.fatal)
	case c.dispatcher.Depth() > 0:
		return ErrBusy
	case c.used:
		return ErrContextUsed
	}
	if err := r.Ready(); err != nil {
		return err
	}
	c.used = true

	v, err := c.dispatcher.Call(ctx, call, func(ctx context.Context, f *dispatch.Frame) (result.Value, error) {
		return fn(c.hostFor(ctx, f))
	})
	if host.IsFatal(err) {
		c.fatal = err
		c.logger.Error().Err(err).Msg("Execution aborted")
		return fmt.Errorf("%w: %w", ErrFatal, err)
	}

	refund := c.meter.ApplyRefund()
	c.logger.Info().
		Str("alias", call.Alias).
		Int("code", result.CodeOf(err)).
		Uint64("used", c.GasUsed()).
		Uint64("refund", refund).
		Msg("Execution finished")
	return c.marshaler.Marshal(r, v, err)
}

// call runs an exported function of callee in a nested frame.
func (c *Context) call(ctx context.Context, caller, callee types.Address, abi host.ABI, gasLimit uint64) (result.Value, error) {
	input, err := abi.Marshal()
	if err != nil {
		return result.Value{}, fmt.Errorf("%w: %v", host.ErrAbiJSON, err)
	}
	return c.dispatcher.Call(ctx, dispatch.Call{
		Caller: caller,
		Callee: callee,
		Alias:  abi.FuncName,
		Input:  input,
		Gas:    gasLimit,
		Cost:   c.opts.schedule.Call,
	}, func(ctx context.Context, f *dispatch.Frame) (result.Value, error) {
		h := c.hostFor(ctx, f)
		contract, err := c.loadContract(h, callee)
		if err != nil {
			return result.Value{}, err
		}
		return c.interp.Invoke(h, []byte(contract.Code), contract.ContractName, abi)
	})
}

// loadContract reads and decodes the contract stored at addr.
func (c *Context) loadContract(h host.Host, addr types.Address) (*Contract, error) {
	code, err := h.GetCode(addr)
	if err != nil {
		return nil, err
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("%w: %s", state.ErrNoCode, addr)
	}
	return DecodeContract(code)
}
