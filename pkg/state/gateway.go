// Package state implements the state access gateway: the only path through
// which contract code reads or mutates ledger state.
//
// Every operation charges the active frame's gas meter before delegating to
// the ledger collaborator. Mutators append an undo entry to the shared
// journal before taking effect, so a checkpoint revert restores the ledger
// exactly. Failures reported by the ledger itself are wrapped in ErrLedger
// and must abort the whole execution context.
package state

import (
	"errors"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/fortiblox/hostvm/internal/types"
	"github.com/fortiblox/hostvm/pkg/chain"
	"github.com/fortiblox/hostvm/pkg/gas"
	"github.com/fortiblox/hostvm/pkg/journal"
	"github.com/fortiblox/hostvm/pkg/ledger"
	"github.com/fortiblox/hostvm/pkg/result"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

var (
	// ErrInsufficientFunds is returned when a debit exceeds the balance.
	ErrInsufficientFunds = result.NewError(result.CodeBalanceNotEnough, "insufficient funds")

	// ErrBalanceOverflow is returned when a credit would overflow 256 bits.
	ErrBalanceOverflow = result.NewError(result.CodeSysError, "balance overflow")

	// ErrNoCode is returned when calling an account without code.
	ErrNoCode = result.NewError(result.CodeNoCode, "no code at address")

	// ErrCursorNotFound is returned for an unknown or closed storage cursor.
	ErrCursorNotFound = result.NewError(result.CodeSysError, "storage cursor not found")

	// ErrLedger wraps every failure reported by the ledger collaborator.
	ErrLedger = errors.New("ledger failure")
)

// Config holds the collaborators a Gateway is bound to.
type Config struct {
	Ledger   ledger.Ledger
	Journal  *journal.Journal
	Schedule gas.Schedule

	// Meter returns the gas meter of the active call frame.
	Meter func() *gas.Meter

	Block   chain.BlockContext
	Tx      chain.TxContext
	Headers chain.HeaderSource

	Logger zerolog.Logger
}

// Gateway mediates all state access for one execution context.
type Gateway struct {
	ledger   ledger.Ledger
	journal  *journal.Journal
	schedule gas.Schedule
	meter    func() *gas.Meter

	block   chain.BlockContext
	tx      chain.TxContext
	headers chain.HeaderSource

	touched mapset.Set[types.Address]
	logs    []*Log
	cursors map[int]*cursor
	nextCur int

	logger zerolog.Logger
}

// New creates a gateway.
func New(cfg Config) *Gateway {
	if cfg.Block.Difficulty == nil {
		cfg.Block.Difficulty = new(uint256.Int)
	}
	if cfg.Tx.Value == nil {
		cfg.Tx.Value = new(uint256.Int)
	}
	return &Gateway{
		ledger:   cfg.Ledger,
		journal:  cfg.Journal,
		schedule: cfg.Schedule,
		meter:    cfg.Meter,
		block:    cfg.Block,
		tx:       cfg.Tx,
		headers:  cfg.Headers,
		touched:  mapset.NewThreadUnsafeSet[types.Address](),
		cursors:  make(map[int]*cursor),
		logger:   cfg.Logger,
	}
}

// Schedule returns the cost table in use.
func (g *Gateway) Schedule() gas.Schedule {
	return g.schedule
}

// Touched returns every address passed to an account or storage operation,
// including operations that were later reverted.
func (g *Gateway) Touched() []types.Address {
	return g.touched.ToSlice()
}

func (g *Gateway) charge(cost uint64) error {
	return g.meter().Charge(cost)
}

func (g *Gateway) fail(op string, err error) error {
	g.logger.Error().Err(err).Str("op", op).Msg("ledger failure")
	return fmt.Errorf("%w: %s: %w", ErrLedger, op, err)
}

func (g *Gateway) record(fn func() error) {
	g.journal.Append(journal.EntryFunc(fn))
}

// ensureExists journals the implicit creation of addr by a write.
func (g *Gateway) ensureExists(addr types.Address) error {
	exists, err := g.ledger.Exists(addr)
	if err != nil {
		return g.fail("exists", err)
	}
	if !exists {
		g.record(func() error { return g.ledger.DeleteAccount(addr) })
	}
	return nil
}

// CreateAccount creates addr, resetting nonce, code and the self-destruct
// mark while keeping any balance.
func (g *Gateway) CreateAccount(addr types.Address) error {
	if err := g.charge(g.schedule.Create); err != nil {
		return err
	}
	g.touched.Add(addr)

	exists, err := g.ledger.Exists(addr)
	if err != nil {
		return g.fail("exists", err)
	}
	if !exists {
		g.record(func() error { return g.ledger.DeleteAccount(addr) })
	} else {
		nonce, err := g.ledger.GetNonce(addr)
		if err != nil {
			return g.fail("get nonce", err)
		}
		code, err := g.ledger.GetCode(addr)
		if err != nil {
			return g.fail("get code", err)
		}
		suicided, err := g.ledger.HasSuicided(addr)
		if err != nil {
			return g.fail("has suicided", err)
		}
		g.record(func() error {
			if err := g.ledger.SetNonce(addr, nonce); err != nil {
				return err
			}
			if err := g.ledger.SetCode(addr, code); err != nil {
				return err
			}
			return g.ledger.SetSuicided(addr, suicided)
		})
	}

	if err := g.ledger.CreateAccount(addr); err != nil {
		return g.fail("create account", err)
	}
	return nil
}

// Exists reports whether addr has been created.
func (g *Gateway) Exists(addr types.Address) (bool, error) {
	if err := g.charge(g.schedule.Exists); err != nil {
		return false, err
	}
	g.touched.Add(addr)
	ok, err := g.ledger.Exists(addr)
	if err != nil {
		return false, g.fail("exists", err)
	}
	return ok, nil
}

// IsEmpty reports whether addr is nonexistent or has zero nonce, zero
// balance and no code.
func (g *Gateway) IsEmpty(addr types.Address) (bool, error) {
	if err := g.charge(g.schedule.Exists); err != nil {
		return false, err
	}
	g.touched.Add(addr)
	ok, err := g.ledger.IsEmpty(addr)
	if err != nil {
		return false, g.fail("is empty", err)
	}
	return ok, nil
}

// GetBalance returns the balance of addr.
func (g *Gateway) GetBalance(addr types.Address) (*uint256.Int, error) {
	if err := g.charge(g.schedule.BalanceRead); err != nil {
		return nil, err
	}
	g.touched.Add(addr)
	bal, err := g.ledger.GetBalance(addr)
	if err != nil {
		return nil, g.fail("get balance", err)
	}
	return new(uint256.Int).Set(bal), nil
}

// AddBalance credits amount to addr.
func (g *Gateway) AddBalance(addr types.Address, amount *uint256.Int) error {
	if err := g.charge(g.schedule.BalanceWrite); err != nil {
		return err
	}
	g.touched.Add(addr)
	return g.addBalance(addr, amount)
}

func (g *Gateway) addBalance(addr types.Address, amount *uint256.Int) error {
	bal, err := g.ledger.GetBalance(addr)
	if err != nil {
		return g.fail("get balance", err)
	}
	if _, overflow := new(uint256.Int).AddOverflow(bal, amount); overflow {
		return fmt.Errorf("%w: %s + %s", ErrBalanceOverflow, bal, amount)
	}
	if err := g.ensureExists(addr); err != nil {
		return err
	}

	amt := new(uint256.Int).Set(amount)
	g.record(func() error { return g.ledger.SubBalance(addr, amt) })
	if err := g.ledger.AddBalance(addr, amt); err != nil {
		return g.fail("add balance", err)
	}
	return nil
}

// SubBalance debits amount from addr. The balance is checked first; on
// ErrInsufficientFunds nothing is changed.
func (g *Gateway) SubBalance(addr types.Address, amount *uint256.Int) error {
	if err := g.charge(g.schedule.BalanceWrite); err != nil {
		return err
	}
	g.touched.Add(addr)
	return g.subBalance(addr, amount)
}

func (g *Gateway) subBalance(addr types.Address, amount *uint256.Int) error {
	bal, err := g.ledger.GetBalance(addr)
	if err != nil {
		return g.fail("get balance", err)
	}
	if bal.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, addr, bal, amount)
	}
	if err := g.ensureExists(addr); err != nil {
		return err
	}

	amt := new(uint256.Int).Set(amount)
	g.record(func() error { return g.ledger.AddBalance(addr, amt) })
	if err := g.ledger.SubBalance(addr, amt); err != nil {
		return g.fail("sub balance", err)
	}
	return nil
}

// Transfer moves amount from one account to another, charged once at the
// Transfer rate.
func (g *Gateway) Transfer(from, to types.Address, amount *uint256.Int) error {
	if err := g.charge(g.schedule.Transfer); err != nil {
		return err
	}
	g.touched.Add(from)
	g.touched.Add(to)

	// Credit overflow is checked before the debit.
	if from != to {
		bal, err := g.ledger.GetBalance(to)
		if err != nil {
			return g.fail("get balance", err)
		}
		if _, overflow := new(uint256.Int).AddOverflow(bal, amount); overflow {
			return fmt.Errorf("%w: %s + %s", ErrBalanceOverflow, bal, amount)
		}
	}
	if err := g.subBalance(from, amount); err != nil {
		return err
	}
	return g.addBalance(to, amount)
}

// CanTransfer reports whether addr holds at least amount. It is not charged;
// callers use it before metering starts.
func (g *Gateway) CanTransfer(addr types.Address, amount *uint256.Int) (bool, error) {
	bal, err := g.ledger.GetBalance(addr)
	if err != nil {
		return false, g.fail("get balance", err)
	}
	return !bal.Lt(amount), nil
}

// GetNonce returns the nonce of addr.
func (g *Gateway) GetNonce(addr types.Address) (uint64, error) {
	if err := g.charge(g.schedule.NonceRead); err != nil {
		return 0, err
	}
	g.touched.Add(addr)
	n, err := g.ledger.GetNonce(addr)
	if err != nil {
		return 0, g.fail("get nonce", err)
	}
	return n, nil
}

// SetNonce sets the nonce of addr.
func (g *Gateway) SetNonce(addr types.Address, nonce uint64) error {
	if err := g.charge(g.schedule.NonceWrite); err != nil {
		return err
	}
	g.touched.Add(addr)

	prev, err := g.ledger.GetNonce(addr)
	if err != nil {
		return g.fail("get nonce", err)
	}
	if err := g.ensureExists(addr); err != nil {
		return err
	}
	g.record(func() error { return g.ledger.SetNonce(addr, prev) })
	if err := g.ledger.SetNonce(addr, nonce); err != nil {
		return g.fail("set nonce", err)
	}
	return nil
}

// GetCode returns the code of addr. The flat read cost is charged first and
// the per-byte cost once the size is known.
func (g *Gateway) GetCode(addr types.Address) ([]byte, error) {
	if err := g.charge(g.schedule.CodeRead); err != nil {
		return nil, err
	}
	g.touched.Add(addr)
	code, err := g.ledger.GetCode(addr)
	if err != nil {
		return nil, g.fail("get code", err)
	}
	if err := g.charge(g.schedule.Sized(0, len(code))); err != nil {
		return nil, err
	}
	return code, nil
}

// GetCodeHash returns the code hash of addr.
func (g *Gateway) GetCodeHash(addr types.Address) (types.Hash, error) {
	if err := g.charge(g.schedule.CodeHashRead); err != nil {
		return types.Hash{}, err
	}
	g.touched.Add(addr)
	h, err := g.ledger.GetCodeHash(addr)
	if err != nil {
		return types.Hash{}, g.fail("get code hash", err)
	}
	return h, nil
}

// GetCodeSize returns the length of the code of addr.
func (g *Gateway) GetCodeSize(addr types.Address) (int, error) {
	if err := g.charge(g.schedule.CodeSizeRead); err != nil {
		return 0, err
	}
	g.touched.Add(addr)
	n, err := g.ledger.GetCodeSize(addr)
	if err != nil {
		return 0, g.fail("get code size", err)
	}
	return n, nil
}

// SetCode replaces the code of addr.
func (g *Gateway) SetCode(addr types.Address, code []byte) error {
	if err := g.charge(g.schedule.Sized(g.schedule.CodeWrite, len(code))); err != nil {
		return err
	}
	g.touched.Add(addr)

	prev, err := g.ledger.GetCode(addr)
	if err != nil {
		return g.fail("get code", err)
	}
	if err := g.ensureExists(addr); err != nil {
		return err
	}
	g.record(func() error { return g.ledger.SetCode(addr, prev) })
	if err := g.ledger.SetCode(addr, code); err != nil {
		return g.fail("set code", err)
	}
	return nil
}

// MarkSuicide marks addr as self-destructed and clears its balance. It
// returns false if addr does not exist.
func (g *Gateway) MarkSuicide(addr types.Address) (bool, error) {
	if err := g.charge(g.schedule.Suicide); err != nil {
		return false, err
	}
	g.touched.Add(addr)

	exists, err := g.ledger.Exists(addr)
	if err != nil {
		return false, g.fail("exists", err)
	}
	if !exists {
		return false, nil
	}
	prevFlag, err := g.ledger.HasSuicided(addr)
	if err != nil {
		return false, g.fail("has suicided", err)
	}
	prevBal, err := g.ledger.GetBalance(addr)
	if err != nil {
		return false, g.fail("get balance", err)
	}
	bal := new(uint256.Int).Set(prevBal)
	g.record(func() error {
		if err := g.ledger.SetBalance(addr, bal); err != nil {
			return err
		}
		return g.ledger.SetSuicided(addr, prevFlag)
	})

	if err := g.ledger.SetSuicided(addr, true); err != nil {
		return false, g.fail("set suicided", err)
	}
	if err := g.ledger.SetBalance(addr, new(uint256.Int)); err != nil {
		return false, g.fail("set balance", err)
	}
	return true, nil
}

// HasSuicided reports whether addr has been marked as self-destructed.
func (g *Gateway) HasSuicided(addr types.Address) (bool, error) {
	if err := g.charge(g.schedule.Exists); err != nil {
		return false, err
	}
	g.touched.Add(addr)
	ok, err := g.ledger.HasSuicided(addr)
	if err != nil {
		return false, g.fail("has suicided", err)
	}
	return ok, nil
}
