package dispatch

import (
	"fmt"

	"github.com/fortiblox/hostvm/internal/types"
	"github.com/fortiblox/hostvm/pkg/gas"
	"github.com/fortiblox/hostvm/pkg/result"
)

// Status is the state of a call frame.
type Status int

// Frame states. Returned, Reverted and Excepted are terminal.
const (
	StatusPending Status = iota
	StatusRunning
	StatusReturned
	StatusReverted
	StatusExcepted
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusReturned:
		return "returned"
	case StatusReverted:
		return "reverted"
	case StatusExcepted:
		return "excepted"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Terminal returns true for final states.
func (s Status) Terminal() bool {
	return s >= StatusReturned
}

// Frame is one level of the call stack.
type Frame struct {
	ID     int
	Depth  int
	Caller types.Address
	Callee types.Address
	Alias  string
	Input  []byte

	// Gas is the frame's sub-budget, a child of the caller's meter.
	Gas *gas.Meter

	// Checkpoint is the snapshot taken on entry. Reverting to it undoes
	// everything the frame did.
	Checkpoint int

	Status Status
	Return result.Value
	Err    error
}

// FrameInfo is a copy of a frame's identifying fields.
type FrameInfo struct {
	ID         int
	Depth      int
	Caller     types.Address
	Callee     types.Address
	Alias      string
	Checkpoint int
	Status     Status
	GasLimit   uint64
	GasLeft    uint64
}

func (f *Frame) info() FrameInfo {
	fi := FrameInfo{
		ID:         f.ID,
		Depth:      f.Depth,
		Caller:     f.Caller,
		Callee:     f.Callee,
		Alias:      f.Alias,
		Checkpoint: f.Checkpoint,
		Status:     f.Status,
	}
	if f.Gas != nil {
		fi.GasLimit = f.Gas.Limit()
		fi.GasLeft = f.Gas.Remaining()
	}
	return fi
}
