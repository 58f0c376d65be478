package state

import (
	"github.com/fortiblox/hostvm/internal/types"
)

// Log is an event emitted by contract code.
type Log struct {
	Address     types.Address
	Topics      []types.Hash
	Data        []byte
	TxHash      types.Hash
	BlockNumber uint64
	Index       int
}

// EmitEvent records an event from addr. The topics are the Keccak256
// hashes of the event name and index.
func (g *Gateway) EmitEvent(addr types.Address, name, index string, data []byte) error {
	if err := g.charge(g.schedule.Sized(g.schedule.Event, len(data))); err != nil {
		return err
	}

	log := &Log{
		Address:     addr,
		Topics:      []types.Hash{types.Keccak256([]byte(name)), types.Keccak256([]byte(index))},
		Data:        append([]byte(nil), data...),
		TxHash:      g.tx.Hash,
		BlockNumber: g.block.Number,
		Index:       len(g.logs),
	}
	g.record(func() error {
		g.logs = g.logs[:len(g.logs)-1]
		return nil
	})
	g.logs = append(g.logs, log)
	return nil
}

// Logs returns the events emitted and not reverted.
func (g *Gateway) Logs() []*Log {
	out := make([]*Log, len(g.logs))
	copy(out, g.logs)
	return out
}

// Refund adds to the refund counter through the active frame's meter. The
// granted amount is withdrawn again if the enclosing checkpoint reverts.
func (g *Gateway) Refund(amount uint64) uint64 {
	m := g.meter()
	granted := m.Refund(amount)
	if granted > 0 {
		g.record(func() error {
			m.UndoRefund(granted)
			return nil
		})
	}
	return granted
}
