package state

import (
	"github.com/fortiblox/hostvm/internal/types"
	"github.com/fortiblox/hostvm/pkg/chain"
	"github.com/holiman/uint256"
)

// Block and transaction accessors. Each is charged at the flat BlockInfo
// rate and reads metadata fixed when the gateway was created.

// BlockHash returns the hash of a recent block, zero if not visible.
func (g *Gateway) BlockHash(number uint64) (types.Hash, error) {
	if err := g.charge(g.schedule.BlockInfo); err != nil {
		return types.Hash{}, err
	}
	h, err := chain.LookupBlockHash(g.headers, g.block.Number, number)
	if err != nil {
		return types.Hash{}, g.fail("block hash", err)
	}
	return h, nil
}

// Coinbase returns the block producer address.
func (g *Gateway) Coinbase() (types.Address, error) {
	if err := g.charge(g.schedule.BlockInfo); err != nil {
		return types.Address{}, err
	}
	return g.block.Coinbase, nil
}

// Difficulty returns the block difficulty.
func (g *Gateway) Difficulty() (*uint256.Int, error) {
	if err := g.charge(g.schedule.BlockInfo); err != nil {
		return nil, err
	}
	return new(uint256.Int).Set(g.block.Difficulty), nil
}

// Number returns the block number.
func (g *Gateway) Number() (uint64, error) {
	if err := g.charge(g.schedule.BlockInfo); err != nil {
		return 0, err
	}
	return g.block.Number, nil
}

// Timestamp returns the block timestamp.
func (g *Gateway) Timestamp() (uint64, error) {
	if err := g.charge(g.schedule.BlockInfo); err != nil {
		return 0, err
	}
	return g.block.Timestamp, nil
}

// Origin returns the sender of the transaction.
func (g *Gateway) Origin() (types.Address, error) {
	if err := g.charge(g.schedule.BlockInfo); err != nil {
		return types.Address{}, err
	}
	return g.tx.Origin, nil
}

// GasLimit returns the transaction gas limit.
func (g *Gateway) GasLimit() (uint64, error) {
	if err := g.charge(g.schedule.BlockInfo); err != nil {
		return 0, err
	}
	return g.tx.GasLimit, nil
}

// Block returns the block metadata without charging.
func (g *Gateway) Block() chain.BlockContext {
	return g.block
}

// Tx returns the transaction metadata without charging.
func (g *Gateway) Tx() chain.TxContext {
	return g.tx
}
