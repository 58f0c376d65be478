package vm

import (
	"context"
	"errors"
	"fmt"

	"github.com/fortiblox/hostvm/internal/types"
	"github.com/fortiblox/hostvm/pkg/dispatch"
	"github.com/fortiblox/hostvm/pkg/host"
	"github.com/fortiblox/hostvm/pkg/journal"
	"github.com/fortiblox/hostvm/pkg/result"
	"github.com/fortiblox/hostvm/pkg/state"
	"github.com/holiman/uint256"
)

// frameHost is the host.Host handed to the interpreter for one frame.
// Account, storage, block and preimage access go straight to the gateway,
// which charges the frame's meter through the dispatcher.
type frameHost struct {
	*state.Gateway

	c     *Context
	ctx   context.Context
	frame *dispatch.Frame
}

var _ host.Host = (*frameHost)(nil)

func (c *Context) hostFor(ctx context.Context, f *dispatch.Frame) *frameHost {
	return &frameHost{Gateway: c.gateway, c: c, ctx: ctx, frame: f}
}

func (h *frameHost) Charge(amount uint64) error {
	return h.frame.Gas.Charge(amount)
}

func (h *frameHost) Remaining() uint64 {
	return h.frame.Gas.Remaining()
}

func (h *frameHost) Snapshot() int {
	return h.c.journal.Snapshot()
}

// RevertToSnapshot refuses checkpoints taken before the frame was entered.
func (h *frameHost) RevertToSnapshot(id int) error {
	if id < h.frame.Checkpoint {
		return fmt.Errorf("%w: %d precedes frame checkpoint %d", journal.ErrInvalidSnapshot, id, h.frame.Checkpoint)
	}
	err := h.c.journal.RevertToSnapshot(id)
	if err != nil && !errors.Is(err, journal.ErrInvalidSnapshot) {
		return fmt.Errorf("%w: %w", dispatch.ErrRevertFailed, err)
	}
	return err
}

func (h *frameHost) Self() types.Address {
	return h.frame.Callee
}

func (h *frameHost) Caller() types.Address {
	return h.frame.Caller
}

func (h *frameHost) Value() *uint256.Int {
	return new(uint256.Int).Set(h.Gateway.Tx().Value)
}

func (h *frameHost) Depth() int {
	return h.frame.Depth
}

func (h *frameHost) Call(callee types.Address, abi host.ABI, gasLimit uint64) (result.Value, error) {
	return h.c.call(h.ctx, h.frame.Callee, callee, abi, gasLimit)
}

func (h *frameHost) EmitEvent(name, index string, data []byte) error {
	return h.Gateway.EmitEvent(h.frame.Callee, name, index, data)
}
