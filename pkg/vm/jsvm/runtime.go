package jsvm

import (
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/fortiblox/hostvm/internal/types"
	"github.com/fortiblox/hostvm/pkg/dispatch"
	"github.com/fortiblox/hostvm/pkg/gas"
	"github.com/fortiblox/hostvm/pkg/host"
	"github.com/fortiblox/hostvm/pkg/result"
	"github.com/rs/zerolog"
)

type native = func(goja.FunctionCall) goja.Value

// frame is one goja runtime bound to one host frame.
type frame struct {
	rt     *goja.Runtime
	h      host.Host
	timer  *time.Timer
	logger zerolog.Logger
}

func (in *Interpreter) newFrame(h host.Host) *frame {
	f := &frame{rt: goja.New(), h: h, logger: in.logger}
	f.bind()
	if in.timeout > 0 {
		f.timer = time.AfterFunc(in.timeout, func() { f.rt.Interrupt(ErrTimeout) })
	}
	return f
}

func (f *frame) stop() {
	if f.timer != nil {
		f.timer.Stop()
	}
}

func (f *frame) bind() {
	f.object("account", map[string]native{
		"balance":      f.balance,
		"transfer":     f.transfer,
		"nonce":        f.nonce,
		"exists":       f.exists,
		"isEmpty":      f.isEmpty,
		"codeHash":     f.codeHash,
		"codeSize":     f.codeSize,
		"selfDestruct": f.selfDestruct,
	})
	f.object("storage", map[string]native{
		"get":     f.storageGet,
		"set":     f.storageSet,
		"remove":  f.storageRemove,
		"entries": f.storageEntries,
	})
	f.object("block", map[string]native{
		"hash":       f.blockHash,
		"coinbase":   f.coinbase,
		"difficulty": f.difficulty,
		"number":     f.number,
		"timestamp":  f.timestamp,
	})
	f.object("tx", map[string]native{
		"origin":   f.origin,
		"gasLimit": f.gasLimit,
	})
	f.object("gas", map[string]native{
		"remaining": f.gasRemaining,
		"refund":    f.gasRefund,
		"snapshot":  f.snapshot,
		"revertTo":  f.revertTo,
	})
	f.object("console", map[string]native{
		"log": f.consoleLog,
	})

	msg := f.rt.NewObject()
	_ = msg.Set("sender", f.h.Caller().String())
	_ = msg.Set("address", f.h.Self().String())
	_ = msg.Set("value", f.h.Value().ToBig().String())
	_ = msg.Set("depth", f.h.Depth())
	_ = f.rt.Set("msg", msg)

	_ = f.rt.Set("contractCall", f.contractCall)
	_ = f.rt.Set("eventCall", f.eventCall)
	_ = f.rt.Set("revert", f.revert)
	_ = f.rt.Set("keccak256", f.keccak256)
}

func (f *frame) object(name string, methods map[string]native) {
	obj := f.rt.NewObject()
	for k, fn := range methods {
		_ = obj.Set(k, fn)
	}
	_ = f.rt.Set(name, obj)
}

// throw raises err in the runtime as an Error whose code property carries
// the result code. With abort set the runtime is interrupted as well, so no
// handler in contract code runs.
func (f *frame) throw(err error, abort bool) {
	if abort {
		f.rt.Interrupt(err)
	}
	obj := f.rt.NewGoError(err)
	_ = obj.Set("code", result.CodeOf(err))
	panic(obj)
}

// check throws a host error. Running out of the frame's own gas, explicit
// reverts and fatal failures abort the frame.
func (f *frame) check(err error) {
	if err == nil {
		return
	}
	f.throw(err, host.IsAbort(err) || errors.Is(err, gas.ErrGasExhausted))
}

func (f *frame) invalid(format string, args ...any) {
	f.throw(result.NewException(result.CodeSysError, format, args...), false)
}

// unwrap maps an error returned by goja back to the host error behind it.
func (f *frame) unwrap(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if e, ok := interrupted.Value().(error); ok {
			return e
		}
		return result.NewException(result.CodeSysError, "interrupted: %v", interrupted.Value())
	}

	var exc *goja.Exception
	if errors.As(err, &exc) {
		if obj, ok := exc.Value().(*goja.Object); ok {
			if v := obj.Get("value"); v != nil {
				if e, ok := v.Export().(error); ok {
					return e
				}
			}
		}
		return result.NewException(result.CodeSysError, "%s", exc.Value().String())
	}

	var syntax *goja.CompilerSyntaxError
	if errors.As(err, &syntax) {
		return fmt.Errorf("%w: %v", host.ErrSyntax, err)
	}
	return err
}

func (f *frame) balance(call goja.FunctionCall) goja.Value {
	bal, err := f.h.GetBalance(f.address(call.Argument(0)))
	f.check(err)
	return f.rt.ToValue(bal.ToBig().String())
}

func (f *frame) transfer(call goja.FunctionCall) goja.Value {
	to := f.address(call.Argument(0))
	amount := f.amount(call.Argument(1))
	f.check(f.h.Transfer(f.h.Self(), to, amount))
	return goja.Undefined()
}

func (f *frame) nonce(call goja.FunctionCall) goja.Value {
	n, err := f.h.GetNonce(f.address(call.Argument(0)))
	f.check(err)
	return f.rt.ToValue(n)
}

func (f *frame) exists(call goja.FunctionCall) goja.Value {
	ok, err := f.h.Exists(f.address(call.Argument(0)))
	f.check(err)
	return f.rt.ToValue(ok)
}

func (f *frame) isEmpty(call goja.FunctionCall) goja.Value {
	ok, err := f.h.IsEmpty(f.address(call.Argument(0)))
	f.check(err)
	return f.rt.ToValue(ok)
}

func (f *frame) codeHash(call goja.FunctionCall) goja.Value {
	h, err := f.h.GetCodeHash(f.address(call.Argument(0)))
	f.check(err)
	return f.rt.ToValue(h.String())
}

func (f *frame) codeSize(call goja.FunctionCall) goja.Value {
	n, err := f.h.GetCodeSize(f.address(call.Argument(0)))
	f.check(err)
	return f.rt.ToValue(n)
}

// selfDestruct moves the contract's balance to the beneficiary and marks
// the contract as destroyed.
func (f *frame) selfDestruct(call goja.FunctionCall) goja.Value {
	beneficiary := f.address(call.Argument(0))
	self := f.h.Self()
	bal, err := f.h.GetBalance(self)
	f.check(err)
	if !bal.IsZero() && beneficiary != self {
		f.check(f.h.Transfer(self, beneficiary, bal))
	}
	_, err = f.h.MarkSuicide(self)
	f.check(err)
	return goja.Undefined()
}

func (f *frame) storageGet(call goja.FunctionCall) goja.Value {
	v, err := f.h.GetStorage(f.h.Self(), []byte(call.Argument(0).String()))
	f.check(err)
	if v == nil {
		return goja.Null()
	}
	return f.rt.ToValue(string(v))
}

func (f *frame) storageSet(call goja.FunctionCall) goja.Value {
	key := []byte(call.Argument(0).String())
	f.check(f.h.SetStorage(f.h.Self(), key, f.data(call.Argument(1))))
	return goja.Undefined()
}

func (f *frame) storageRemove(call goja.FunctionCall) goja.Value {
	f.check(f.h.RemoveStorage(f.h.Self(), []byte(call.Argument(0).String())))
	return goja.Undefined()
}

// storageEntries returns [{key, value}] for the slots under a prefix.
func (f *frame) storageEntries(call goja.FunctionCall) goja.Value {
	var prefix []byte
	if p := call.Argument(0); !goja.IsUndefined(p) && !goja.IsNull(p) {
		prefix = []byte(p.String())
	}
	id, err := f.h.OpenCursor(f.h.Self(), prefix)
	f.check(err)

	var out []any
	for {
		k, v, ok, err := f.h.CursorNext(id)
		f.check(err)
		if !ok {
			break
		}
		out = append(out, map[string]any{"key": string(k), "value": string(v)})
	}
	f.check(f.h.CloseCursor(id))
	return f.rt.NewArray(out...)
}

func (f *frame) blockHash(call goja.FunctionCall) goja.Value {
	h, err := f.h.BlockHash(f.uintArg(call.Argument(0)))
	f.check(err)
	return f.rt.ToValue(h.String())
}

func (f *frame) coinbase(goja.FunctionCall) goja.Value {
	a, err := f.h.Coinbase()
	f.check(err)
	return f.rt.ToValue(a.String())
}

func (f *frame) difficulty(goja.FunctionCall) goja.Value {
	d, err := f.h.Difficulty()
	f.check(err)
	return f.rt.ToValue(d.ToBig().String())
}

func (f *frame) number(goja.FunctionCall) goja.Value {
	n, err := f.h.Number()
	f.check(err)
	return f.rt.ToValue(n)
}

func (f *frame) timestamp(goja.FunctionCall) goja.Value {
	ts, err := f.h.Timestamp()
	f.check(err)
	return f.rt.ToValue(ts)
}

func (f *frame) origin(goja.FunctionCall) goja.Value {
	a, err := f.h.Origin()
	f.check(err)
	return f.rt.ToValue(a.String())
}

func (f *frame) gasLimit(goja.FunctionCall) goja.Value {
	n, err := f.h.GasLimit()
	f.check(err)
	return f.rt.ToValue(n)
}

func (f *frame) gasRemaining(goja.FunctionCall) goja.Value {
	return f.rt.ToValue(f.h.Remaining())
}

func (f *frame) gasRefund(call goja.FunctionCall) goja.Value {
	return f.rt.ToValue(f.h.Refund(f.uintArg(call.Argument(0))))
}

func (f *frame) snapshot(goja.FunctionCall) goja.Value {
	return f.rt.ToValue(f.h.Snapshot())
}

func (f *frame) revertTo(call goja.FunctionCall) goja.Value {
	f.check(f.h.RevertToSnapshot(int(call.Argument(0).ToInteger())))
	return goja.Undefined()
}

func (f *frame) consoleLog(call goja.FunctionCall) goja.Value {
	args := make([]any, len(call.Arguments))
	for i, a := range call.Arguments {
		args[i] = a.Export()
	}
	f.logger.Debug().Stringer("contract", f.h.Self()).Msg(fmt.Sprint(args...))
	return goja.Undefined()
}

// contractCall(address, funcName, [args], [gas]) calls an exported function
// of another contract. Its failures are catchable.
func (f *frame) contractCall(call goja.FunctionCall) goja.Value {
	callee := f.address(call.Argument(0))
	abi := host.ABI{FuncName: call.Argument(1).String()}
	if a := call.Argument(2); !goja.IsUndefined(a) && !goja.IsNull(a) {
		args, ok := a.Export().([]any)
		if !ok {
			f.invalid("contractCall: args must be an array")
		}
		abi.Args = args
	}
	var limit uint64
	if g := call.Argument(3); !goja.IsUndefined(g) {
		limit = f.uintArg(g)
	}

	// Failures inside the callee are catchable. Not being able to pay for
	// the call is this frame running out of gas.
	v, err := f.h.Call(callee, abi, limit)
	if err != nil {
		f.throw(err, host.IsFatal(err) || errors.Is(err, dispatch.ErrCallCost))
	}
	return f.toJS(v)
}

// eventCall(name, index, data) emits an event from the running contract.
func (f *frame) eventCall(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	index := call.Argument(1).String()
	f.check(f.h.EmitEvent(name, index, f.data(call.Argument(2))))
	return goja.Undefined()
}

func (f *frame) revert(call goja.FunctionCall) goja.Value {
	msg := ""
	if m := call.Argument(0); !goja.IsUndefined(m) {
		msg = m.String()
	}
	f.throw(fmt.Errorf("%w: %s", dispatch.ErrReverted, msg), true)
	return goja.Undefined()
}

// keccak256 hashes a string and records the preimage.
func (f *frame) keccak256(call goja.FunctionCall) goja.Value {
	data := []byte(call.Argument(0).String())
	hash := types.Keccak256(data)
	f.check(f.h.AddPreimage(hash, data))
	return f.rt.ToValue(hash.String())
}
