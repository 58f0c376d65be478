package jsvm

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/fortiblox/hostvm/internal/types"
	"github.com/fortiblox/hostvm/pkg/chain"
	"github.com/fortiblox/hostvm/pkg/host"
	"github.com/fortiblox/hostvm/pkg/ledger"
	"github.com/fortiblox/hostvm/pkg/result"
	"github.com/fortiblox/hostvm/pkg/vm"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	origin = types.AddressFromSeed("origin")
	self   = types.AddressFromSeed("self")
	other  = types.AddressFromSeed("other")
)

type env struct {
	t      *testing.T
	ledger *ledger.KVLedger
	interp *Interpreter
}

func newEnv(t *testing.T, opts ...Option) *env {
	t.Helper()
	l := ledger.NewMemoryLedger()
	t.Cleanup(func() { _ = l.Close() })
	return &env{t: t, ledger: l, interp: New(opts...)}
}

func (e *env) context(gasLimit uint64) *vm.Context {
	e.t.Helper()
	c, err := vm.NewContext(e.ledger, e.interp, vm.WithTx(chain.TxContext{
		Origin:   origin,
		Target:   self,
		GasLimit: gasLimit,
	}))
	require.NoError(e.t, err)
	e.t.Cleanup(func() { _ = c.Close() })
	return c
}

func (e *env) run(script string, kind host.ParseKind) result.ExecuteResult {
	e.t.Helper()
	return e.runIn(e.context(0), script, kind)
}

func (e *env) runIn(c *vm.Context, script string, kind host.ParseKind) result.ExecuteResult {
	e.t.Helper()
	var r result.ExecuteResult
	r.Init()
	require.NoError(e.t, c.Execute(context.Background(), script, "test", kind, &r))
	require.True(e.t, r.Populated())
	return r
}

func (e *env) install(addr types.Address, name, code string) {
	e.t.Helper()
	rec := vm.Contract{Code: code, ContractName: name, ContractAddress: addr}
	data, err := rec.Marshal()
	require.NoError(e.t, err)
	require.NoError(e.t, e.ledger.CreateAccount(addr))
	require.NoError(e.t, e.ledger.SetCode(addr, data))
}

func (e *env) storage(addr types.Address, key string) []byte {
	e.t.Helper()
	v, err := e.ledger.GetStorage(addr, []byte(key))
	require.NoError(e.t, err)
	return v
}

func TestEvalExpression(t *testing.T) {
	e := newEnv(t)

	r := e.run("1 + 2", host.ParseEval)
	assert.Equal(t, result.TypeInt, r.ResultType)
	assert.Equal(t, "3", r.Content)

	r = e.run(`"a" + "b"`, host.ParseEval)
	assert.Equal(t, result.TypeString, r.ResultType)
	assert.Equal(t, "ab", r.Content)

	r = e.run("1 < 2", host.ParseEval)
	assert.Equal(t, result.TypeBool, r.ResultType)
	assert.Equal(t, "true", r.Content)

	r = e.run("null", host.ParseEval)
	assert.Equal(t, result.TypeNone, r.ResultType)
}

func TestParseModes(t *testing.T) {
	e := newEnv(t)

	r := e.run("var a = 1; var b = 2;", host.ParseSingle)
	assert.Equal(t, result.TypeException, r.ResultType)
	assert.Equal(t, result.CodeSyntaxError, r.ErrorCode)

	r = e.run("var a = 1;", host.ParseEval)
	assert.Equal(t, result.CodeSyntaxError, r.ErrorCode)

	r = e.run("function (", host.ParseFile)
	assert.Equal(t, result.CodeSyntaxError, r.ErrorCode)

	r = e.run("var a = 1;", host.ParseSingle)
	assert.True(t, r.Success())
}

func TestFileModeExports(t *testing.T) {
	e := newEnv(t)

	r := e.run(`
function transfer(to, amount) {}
function _helper() {}
var x = 1;
function balanceOf(who) { return 0; }
`, host.ParseFile)
	require.True(t, r.Success())
	assert.Equal(t, result.TypeNone, r.ResultType)
	assert.JSONEq(t, `["transfer", "balanceOf"]`, r.Abi)
}

func TestStorage(t *testing.T) {
	e := newEnv(t)

	r := e.run(`(function () {
	storage.set("k", "v");
	return storage.get("k");
})()`, host.ParseEval)
	require.True(t, r.Success(), r.Content)
	assert.Equal(t, "v", r.Content)
	assert.Equal(t, []byte("v"), e.storage(self, "k"))

	r = e.run(`(function () {
	storage.set("a:1", "x");
	storage.set("a:2", "y");
	storage.set("b", "z");
	var out = storage.entries("a:");
	return out.length + ":" + out[0].key + ":" + out[1].value;
})()`, host.ParseEval)
	require.True(t, r.Success(), r.Content)
	assert.Equal(t, "2:a:1:y", r.Content)

	r = e.run(`(function () {
	storage.remove("k");
	return storage.get("k");
})()`, host.ParseEval)
	require.True(t, r.Success(), r.Content)
	assert.Equal(t, result.TypeNone, r.ResultType)
	assert.Nil(t, e.storage(self, "k"))
}

func TestRevertUndoesFrame(t *testing.T) {
	e := newEnv(t)

	r := e.run(`(function () {
	storage.set("k", "v");
	try {
		revert("not allowed");
	} catch (err) {
		return "caught";
	}
})()`, host.ParseEval)
	assert.Equal(t, result.TypeException, r.ResultType)
	assert.Equal(t, result.CodeReverted, r.ErrorCode)
	assert.Contains(t, r.Content, "not allowed")
	assert.Nil(t, e.storage(self, "k"))
}

func TestGasExhaustionIsNotCatchable(t *testing.T) {
	e := newEnv(t)
	c := e.context(5_000)

	r := e.runIn(c, `(function () {
	try {
		for (var i = 0; ; i++) {
			storage.set("k" + i, "v");
		}
	} catch (err) {
		return "caught";
	}
})()`, host.ParseEval)
	assert.Equal(t, result.TypeException, r.ResultType)
	assert.Equal(t, result.CodeGasNotEnough, r.ErrorCode)
	assert.Nil(t, e.storage(self, "k0"))
}

func TestHostErrorsAreCatchable(t *testing.T) {
	e := newEnv(t)

	r := e.run(fmt.Sprintf(`(function () {
	try {
		account.transfer(%q, 10);
	} catch (err) {
		return err.code;
	}
	return -1;
})()`, other), host.ParseEval)
	require.True(t, r.Success(), r.Content)
	assert.Equal(t, "1", r.Content)

	r = e.run(`(function () {
	try {
		gas.revertTo(-1);
	} catch (err) {
		return err.code;
	}
	return -1;
})()`, host.ParseEval)
	require.True(t, r.Success(), r.Content)
	assert.Equal(t, "2006", r.Content)
}

func TestAccountBindings(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.ledger.SetBalance(self, uint256.NewInt(100)))

	r := e.run(fmt.Sprintf(`(function () {
	account.transfer(%q, "40");
	return account.balance(msg.address) + "/" + account.balance(%q);
})()`, other, other), host.ParseEval)
	require.True(t, r.Success(), r.Content)
	assert.Equal(t, "60/40", r.Content)

	bal, err := e.ledger.GetBalance(other)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), bal.Uint64())

	r = e.run(`account.transfer(msg.sender, -1)`, host.ParseEval)
	assert.Equal(t, result.CodeSysError, r.ErrorCode)
}

func TestSnapshotBindings(t *testing.T) {
	e := newEnv(t)

	r := e.run(`(function () {
	storage.set("a", "1");
	var id = gas.snapshot();
	storage.set("b", "2");
	gas.revertTo(id);
	return (storage.get("a") || "") + (storage.get("b") || "");
})()`, host.ParseEval)
	require.True(t, r.Success(), r.Content)
	assert.Equal(t, "1", r.Content)
}

func TestKeccakRecordsPreimage(t *testing.T) {
	e := newEnv(t)

	r := e.run(`keccak256("abc")`, host.ParseEval)
	require.True(t, r.Success(), r.Content)
	hash := types.Keccak256([]byte("abc"))
	assert.Equal(t, hash.String(), r.Content)

	pre, err := e.ledger.Preimage(hash)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), pre)
}

func TestEvents(t *testing.T) {
	e := newEnv(t)
	c := e.context(0)

	r := e.runIn(c, `eventCall("Transfer", "idx", {amount: 5})`, host.ParseEval)
	require.True(t, r.Success(), r.Content)

	logs := c.Logs()
	require.Len(t, logs, 1)
	assert.Equal(t, self, logs[0].Address)
	assert.Equal(t, []types.Hash{types.Keccak256([]byte("Transfer")), types.Keccak256([]byte("idx"))}, logs[0].Topics)
	assert.JSONEq(t, `{"amount":5}`, string(logs[0].Data))
}

func TestBytecode(t *testing.T) {
	e := newEnv(t)

	code, err := Compile("1 + 1", host.ParseEval)
	require.NoError(t, err)

	ok, err := e.context(0).ExecuteBytecode(context.Background(), code)
	require.NoError(t, err)
	assert.True(t, ok)

	src, kind, err := Decode(code)
	require.NoError(t, err)
	assert.Equal(t, "1 + 1", src)
	assert.Equal(t, host.ParseEval, kind)

	ok, err = e.context(0).ExecuteBytecode(context.Background(), []byte("TVMB\x01"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = Compile("var a = 1;", host.ParseEval)
	assert.ErrorIs(t, err, host.ErrSyntax)

	code[4] = 9
	_, _, err = Decode(code)
	assert.ErrorIs(t, err, ErrBadBytecode)
}

func TestDecodeRejectsOversizedSource(t *testing.T) {
	header := append(append([]byte(nil), bytecodeMagic...), bytecodeVersion, byte(host.ParseEval))
	code := encoder.EncodeAll(bytes.Repeat([]byte("1"), maxSourceSize+1), header)
	require.Less(t, len(code), 1<<16)

	_, _, err := Decode(code)
	assert.ErrorIs(t, err, ErrBadBytecode)

	code = encoder.EncodeAll(bytes.Repeat([]byte("1"), maxSourceSize), header)
	src, kind, err := Decode(code)
	require.NoError(t, err)
	assert.Len(t, src, maxSourceSize)
	assert.Equal(t, host.ParseEval, kind)
}

func TestContractCall(t *testing.T) {
	e := newEnv(t)
	e.install(other, "math", `
function add(a, b) { return a + b; }
function whoami() { return msg.sender + ":" + msg.depth; }
`)

	r := e.run(fmt.Sprintf(`contractCall(%q, "add", [2, 3])`, other), host.ParseEval)
	require.True(t, r.Success(), r.Content)
	assert.Equal(t, "5", r.Content)

	r = e.run(fmt.Sprintf(`contractCall(%q, "whoami")`, other), host.ParseEval)
	require.True(t, r.Success(), r.Content)
	assert.Equal(t, self.String()+":1", r.Content)

	r = e.run(fmt.Sprintf(`contractCall(%q, "missing")`, other), host.ParseEval)
	assert.Equal(t, result.CodeCheckAbiError, r.ErrorCode)

	r = e.run(fmt.Sprintf(`contractCall(%q, "add")`, origin), host.ParseEval)
	assert.Equal(t, result.CodeNoCode, r.ErrorCode)
}

func TestNestedRevertIsCatchable(t *testing.T) {
	e := newEnv(t)
	e.install(other, "vault", `
function withdraw() {
	storage.set("drained", "yes");
	revert("locked");
}
`)

	r := e.run(fmt.Sprintf(`(function () {
	storage.set("before", "1");
	try {
		contractCall(%q, "withdraw");
	} catch (err) {
		return err.code;
	}
	return 0;
})()`, other), host.ParseEval)
	require.True(t, r.Success(), r.Content)
	assert.Equal(t, "2007", r.Content)
	assert.Equal(t, []byte("1"), e.storage(self, "before"))
	assert.Nil(t, e.storage(other, "drained"))
}

func TestNestedGasExhaustionIsCatchable(t *testing.T) {
	e := newEnv(t)
	e.install(other, "burner", `
function burn() {
	for (var i = 0; ; i++) {
		storage.set("k" + i, "v");
	}
}
`)

	r := e.run(fmt.Sprintf(`(function () {
	try {
		contractCall(%q, "burn", [], 3000);
	} catch (err) {
		return err.code;
	}
	return 0;
})()`, other), host.ParseEval)
	require.True(t, r.Success(), r.Content)
	assert.Equal(t, "1002", r.Content)
	assert.Nil(t, e.storage(other, "k0"))
}

func TestUnpaidCallCostIsNotCatchable(t *testing.T) {
	e := newEnv(t)
	e.install(other, "burner", `
function burn() { storage.set("k", "v"); }
`)

	r := e.runIn(e.context(700), fmt.Sprintf(`(function () {
	try {
		contractCall(%q, "burn");
	} catch (err) {
		return "caught";
	}
	return "done";
})()`, other), host.ParseEval)
	assert.Equal(t, result.TypeException, r.ResultType)
	assert.Equal(t, result.CodeGasNotEnough, r.ErrorCode)
	assert.Nil(t, e.storage(other, "k"))
}

func TestRecursionHitsDepthCeiling(t *testing.T) {
	e := newEnv(t)
	e.install(self, "loop", `
function loop() {
	storage.set("n" + msg.depth, "1");
	return contractCall(msg.address, "loop");
}
`)

	r := e.run(fmt.Sprintf(`contractCall(%q, "loop")`, self), host.ParseEval)
	assert.Equal(t, result.TypeException, r.ResultType)
	assert.Equal(t, result.CodeCallMaxDeep, r.ErrorCode)
	for i := 0; i < 8; i++ {
		assert.Nil(t, e.storage(self, fmt.Sprintf("n%d", i)))
	}
}

func TestTimeout(t *testing.T) {
	e := newEnv(t, WithTimeout(50*time.Millisecond))

	r := e.run(`(function () { for (;;) {} })()`, host.ParseEval)
	assert.Equal(t, result.TypeException, r.ResultType)
	assert.Equal(t, result.CodeSysError, r.ErrorCode)
	assert.Contains(t, r.Content, "script timeout")
}

func TestBlockBindings(t *testing.T) {
	e := newEnv(t)
	blockContext := func() *vm.Context {
		c, err := vm.NewContext(e.ledger, e.interp,
			vm.WithTx(chain.TxContext{Origin: origin, Target: self}),
			vm.WithBlock(chain.BlockContext{Number: 10, Timestamp: 1700, Difficulty: uint256.NewInt(3)}),
			vm.WithHeaders(chain.MemoryHeaders{9: types.Keccak256([]byte("9"))}),
		)
		require.NoError(t, err)
		t.Cleanup(func() { _ = c.Close() })
		return c
	}

	r := e.runIn(blockContext(), `[block.number(), block.timestamp(), block.difficulty(), tx.origin() == msg.sender].join(",")`, host.ParseEval)
	require.True(t, r.Success(), r.Content)
	assert.Equal(t, "10,1700,3,true", r.Content)

	r = e.runIn(blockContext(), `block.hash(9)`, host.ParseEval)
	require.True(t, r.Success(), r.Content)
	assert.Equal(t, types.Keccak256([]byte("9")).String(), r.Content)
}

func TestDeployRunsProgramOnce(t *testing.T) {
	e := newEnv(t)
	ctl := vm.NewController(e.ledger, e.interp)

	deploy := func(code string) (*vm.Receipt, result.ExecuteResult) {
		t.Helper()
		var r result.ExecuteResult
		r.Init()
		receipt, err := ctl.Deploy(context.Background(), chain.TxContext{Origin: origin}, &vm.Contract{
			Code:         code,
			ContractName: "counter",
		}, &r)
		require.NoError(t, err)
		return receipt, r
	}

	receipt, r := deploy(`
storage.set("n", String(Number(storage.get("n") || 0) + 1));
eventCall("Loaded", "", {});
function deploy() { storage.set("owner", msg.sender); }
function get() { return storage.get("n"); }
`)
	require.True(t, r.Success(), r.Content)
	assert.JSONEq(t, `["deploy","get"]`, r.Abi)
	assert.Len(t, receipt.Logs, 1)

	addr := receipt.ContractAddress
	assert.Equal(t, []byte("1"), e.storage(addr, "n"))
	assert.Equal(t, []byte(origin.String()), e.storage(addr, "owner"))

	_, r = deploy(`
storage.set("n", "1");
function deploy() { throw new Error("not today"); }
`)
	assert.Equal(t, result.TypeException, r.ResultType)
	assert.Equal(t, result.CodeInitContractError, r.ErrorCode)
	failed := types.ContractAddress(origin, 1)
	assert.Nil(t, e.storage(failed, "n"))
	code, err := e.ledger.GetCode(failed)
	require.NoError(t, err)
	assert.Empty(t, code)
}
