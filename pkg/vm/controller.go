package vm

import (
	"context"
	"errors"
	"fmt"

	"github.com/fortiblox/hostvm/internal/types"
	"github.com/fortiblox/hostvm/pkg/chain"
	"github.com/fortiblox/hostvm/pkg/dispatch"
	"github.com/fortiblox/hostvm/pkg/gas"
	"github.com/fortiblox/hostvm/pkg/host"
	"github.com/fortiblox/hostvm/pkg/ledger"
	"github.com/fortiblox/hostvm/pkg/result"
	"github.com/fortiblox/hostvm/pkg/state"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

var (
	// ErrContractAddressConflict is returned when deploying to an address
	// that already holds code.
	ErrContractAddressConflict = result.NewError(result.CodeContractAddressConflict, "contract address conflict")

	// ErrDeployGasNotEnough is returned when the gas left cannot pay for
	// storing the contract code.
	ErrDeployGasNotEnough = result.NewError(result.CodeDeployGasNotEnough, "not enough gas to deploy")

	// ErrInitContract is returned when a contract's init code raises.
	ErrInitContract = result.NewError(result.CodeInitContractError, "contract init failed")
)

// Receipt summarizes a transaction run by a Controller.
type Receipt struct {
	ContextID       string
	ContractAddress types.Address
	BlockNumber     uint64
	GasUsed         uint64
	Logs            []*state.Log
	Touched         []types.Address
}

// Controller runs transactions, each in a fresh Context.
type Controller struct {
	ledger ledger.Ledger
	interp host.Interpreter
	opts   []Option
	logger zerolog.Logger
}

// NewController creates a controller. opts apply to every Context it
// creates; the transaction is supplied per call.
func NewController(l ledger.Ledger, interp host.Interpreter, opts ...Option) *Controller {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Controller{ledger: l, interp: interp, opts: opts, logger: o.logger}
}

func (ctl *Controller) newContext(tx chain.TxContext) (*Context, error) {
	opts := append(append([]Option(nil), ctl.opts...), WithTx(tx))
	return NewContext(ctl.ledger, ctl.interp, opts...)
}

// run executes fn as the top-level frame of a fresh context and fills r.
func (ctl *Controller) run(ctx context.Context, tx chain.TxContext, alias string, cost uint64, r *result.ExecuteResult, fn func(c *Context, h host.Host) (result.Value, error)) (*Receipt, error) {
	c, err := ctl.newContext(tx)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	ctl.logger.Debug().
		Str("ctx", c.ID().String()).
		Str("alias", alias).
		Stringer("origin", tx.Origin).
		Stringer("target", tx.Target).
		Msg("Transaction start")

	call := dispatch.Call{Caller: tx.Origin, Callee: tx.Target, Alias: alias, Cost: cost}
	err = c.runTop(ctx, call, r, func(h host.Host) (result.Value, error) {
		return fn(c, h)
	})
	if err != nil {
		return nil, err
	}
	return &Receipt{
		ContextID:       c.ID().String(),
		ContractAddress: tx.Target,
		BlockNumber:     c.gateway.Block().Number,
		GasUsed:         c.GasUsed(),
		Logs:            c.Logs(),
		Touched:         c.Touched(),
	}, nil
}

// Deploy creates the contract at tx.Target, or at the address derived from
// the sender's nonce when tx.Target is zero. The contract record is stored
// as the account's code, its program runs in File mode and its deploy
// function, if exported, is called.
func (ctl *Controller) Deploy(ctx context.Context, tx chain.TxContext, contract *Contract, r *result.ExecuteResult) (*Receipt, error) {
	tx = normalize(tx)
	if tx.Target.IsZero() {
		nonce, err := ctl.ledger.GetNonce(tx.Origin)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFatal, err)
		}
		tx.Target = types.ContractAddress(tx.Origin, nonce)
	}
	addr := tx.Target

	return ctl.run(ctx, tx, contract.ContractName, 0, r, func(c *Context, h host.Host) (result.Value, error) {
		hash, err := h.GetCodeHash(addr)
		if err != nil {
			return result.Value{}, err
		}
		if !hash.IsZero() && hash != types.EmptyCodeHash {
			return result.Value{}, fmt.Errorf("%w: %s", ErrContractAddressConflict, addr)
		}

		nonce, err := h.GetNonce(tx.Origin)
		if err != nil {
			return result.Value{}, err
		}
		if err := h.SetNonce(tx.Origin, nonce+1); err != nil {
			return result.Value{}, err
		}
		if err := h.CreateAccount(addr); err != nil {
			return result.Value{}, err
		}
		if !tx.Value.IsZero() {
			if err := h.Transfer(tx.Origin, addr, tx.Value); err != nil {
				return result.Value{}, err
			}
		}

		record := *contract
		record.ContractAddress = addr
		data, err := record.Marshal()
		if err != nil {
			return result.Value{}, err
		}
		deposit := c.opts.schedule.CodeDeposit * uint64(len(data))
		if err := h.Charge(deposit); err != nil {
			if errors.Is(err, gas.ErrGasExhausted) {
				return result.Value{}, fmt.Errorf("%w: deposit %d, have %d", ErrDeployGasNotEnough, deposit, h.Remaining())
			}
			return result.Value{}, err
		}
		if err := h.SetCode(addr, data); err != nil {
			return result.Value{}, err
		}

		v, err := c.interp.Deploy(h, contract.Code, contract.ContractName)
		if err != nil {
			return result.Value{}, initError(err)
		}
		return v, nil
	})
}

// ExecuteABI calls an exported function of the contract at tx.Target. The
// transaction value is transferred to the contract first.
func (ctl *Controller) ExecuteABI(ctx context.Context, tx chain.TxContext, abiJSON []byte, r *result.ExecuteResult) (*Receipt, error) {
	tx = normalize(tx)
	return ctl.run(ctx, tx, "abi", 0, r, func(c *Context, h host.Host) (result.Value, error) {
		if !tx.Value.IsZero() {
			if err := h.Transfer(tx.Origin, tx.Target, tx.Value); err != nil {
				return result.Value{}, err
			}
		}
		abi, err := host.ParseABI(abiJSON)
		if err != nil {
			return result.Value{}, err
		}
		contract, err := c.loadContract(h, tx.Target)
		if err != nil {
			return result.Value{}, err
		}
		return c.interp.Invoke(h, []byte(contract.Code), contract.ContractName, abi)
	})
}

// Transfer moves tx.Value from tx.Origin to tx.Target. Only the transfer
// itself is charged.
func (ctl *Controller) Transfer(ctx context.Context, tx chain.TxContext, r *result.ExecuteResult) (*Receipt, error) {
	tx = normalize(tx)
	return ctl.run(ctx, tx, "transfer", 0, r, func(_ *Context, h host.Host) (result.Value, error) {
		return result.None(), h.Transfer(tx.Origin, tx.Target, tx.Value)
	})
}

func normalize(tx chain.TxContext) chain.TxContext {
	if tx.Value == nil {
		tx.Value = new(uint256.Int)
	}
	return tx
}

// initError reports generic init failures as ErrInitContract and keeps
// more specific codes.
func initError(err error) error {
	if host.IsFatal(err) || result.CodeOf(err) != result.CodeSysError {
		return err
	}
	return fmt.Errorf("%w: %s", ErrInitContract, result.MessageOf(err))
}
