package vm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fortiblox/hostvm/internal/types"
	"github.com/fortiblox/hostvm/pkg/chain"
	"github.com/fortiblox/hostvm/pkg/host"
	"github.com/fortiblox/hostvm/pkg/result"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenScripts() scripted {
	return scripted{
		"init": func(host.Host) (result.Value, error) {
			return result.Value{Kind: result.TypeNone, Abi: `["deploy","get"]`}, nil
		},
		"lib": func(host.Host) (result.Value, error) {
			return result.Value{Kind: result.TypeNone, Abi: `["get"]`}, nil
		},
		"bad": func(host.Host) (result.Value, error) {
			return result.Value{}, errors.New("boom")
		},
		"token.deploy": func(h host.Host) (result.Value, error) {
			if err := h.SetStorage(h.Self(), []byte("owner"), []byte(h.Caller().String())); err != nil {
				return result.Value{}, err
			}
			return result.None(), h.EmitEvent("Deployed", "", nil)
		},
		"token.get": func(h host.Host) (result.Value, error) {
			v, err := h.GetStorage(h.Self(), []byte("owner"))
			if err != nil {
				return result.Value{}, err
			}
			return result.String(string(v)), nil
		},
	}
}

func deploy(t *testing.T, ctl *Controller, tx chain.TxContext, c *Contract) (*Receipt, result.ExecuteResult) {
	t.Helper()
	var r result.ExecuteResult
	r.Init()
	receipt, err := ctl.Deploy(context.Background(), tx, c, &r)
	require.NoError(t, err)
	return receipt, r
}

func callABI(t *testing.T, ctl *Controller, tx chain.TxContext, abi string) result.ExecuteResult {
	t.Helper()
	var r result.ExecuteResult
	r.Init()
	_, err := ctl.ExecuteABI(context.Background(), tx, []byte(abi), &r)
	require.NoError(t, err)
	return r
}

func TestDeploy(t *testing.T) {
	l := newLedger(t, map[types.Address]uint64{alice: 100})
	ctl := NewController(l, tokenScripts())

	receipt, r := deploy(t, ctl, chain.TxContext{Origin: alice, Value: uint256.NewInt(30)},
		&Contract{Code: "init", ContractName: "token"})
	require.True(t, r.Success(), r.Content)
	assert.JSONEq(t, `["deploy","get"]`, r.Abi)

	addr := types.ContractAddress(alice, 0)
	assert.Equal(t, addr, receipt.ContractAddress)
	require.Len(t, receipt.Logs, 1)
	assert.Equal(t, addr, receipt.Logs[0].Address)

	code, err := l.GetCode(addr)
	require.NoError(t, err)
	stored, err := DecodeContract(code)
	require.NoError(t, err)
	assert.Equal(t, "token", stored.ContractName)
	assert.Equal(t, addr, stored.ContractAddress)

	nonce, err := l.GetNonce(alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), nonce)
	assert.Equal(t, uint64(70), balanceOf(t, l, alice))
	assert.Equal(t, uint64(30), balanceOf(t, l, addr))

	r = callABI(t, ctl, chain.TxContext{Origin: bob, Target: addr}, `{"FuncName":"get","Args":[]}`)
	require.True(t, r.Success(), r.Content)
	assert.Equal(t, alice.String(), r.Content)

	// The next deployment from the same sender lands elsewhere.
	receipt, r = deploy(t, ctl, chain.TxContext{Origin: alice}, &Contract{Code: "lib", ContractName: "token"})
	require.True(t, r.Success(), r.Content)
	assert.Equal(t, types.ContractAddress(alice, 1), receipt.ContractAddress)
}

func TestDeployFailures(t *testing.T) {
	l := newLedger(t, nil)
	ctl := NewController(l, tokenScripts())

	_, r := deploy(t, ctl, chain.TxContext{Origin: alice, Target: relay}, &Contract{Code: "lib", ContractName: "token"})
	require.True(t, r.Success(), r.Content)

	tests := []struct {
		name     string
		tx       chain.TxContext
		contract *Contract
		code     int
	}{
		{
			name:     "address conflict",
			tx:       chain.TxContext{Origin: alice, Target: relay},
			contract: &Contract{Code: "lib", ContractName: "token"},
			code:     result.CodeContractAddressConflict,
		},
		{
			name:     "deposit exceeds gas",
			tx:       chain.TxContext{Origin: alice, Target: bob, GasLimit: 1000},
			contract: &Contract{Code: strings.Repeat("x", 300), ContractName: "token"},
			code:     result.CodeDeployGasNotEnough,
		},
		{
			name:     "init raises",
			tx:       chain.TxContext{Origin: alice, Target: bob},
			contract: &Contract{Code: "bad", ContractName: "token"},
			code:     result.CodeInitContractError,
		},
		{
			name:     "init does not parse",
			tx:       chain.TxContext{Origin: alice, Target: bob},
			contract: &Contract{Code: "garbage", ContractName: "token"},
			code:     result.CodeSyntaxError,
		},
		{
			name:     "value exceeds balance",
			tx:       chain.TxContext{Origin: alice, Target: bob, Value: uint256.NewInt(1)},
			contract: &Contract{Code: "lib", ContractName: "token"},
			code:     result.CodeBalanceNotEnough,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, r := deploy(t, ctl, tt.tx, tt.contract)
			assert.Equal(t, result.TypeException, r.ResultType)
			assert.Equal(t, tt.code, r.ErrorCode)

			code, err := l.GetCode(bob)
			require.NoError(t, err)
			assert.Empty(t, code)
			exists, err := l.Exists(bob)
			require.NoError(t, err)
			assert.False(t, exists)
		})
	}

	nonce, err := l.GetNonce(alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), nonce)
}

func TestExecuteABIFailures(t *testing.T) {
	l := newLedger(t, nil)
	ctl := NewController(l, tokenScripts())
	_, r := deploy(t, ctl, chain.TxContext{Origin: alice, Target: relay}, &Contract{Code: "lib", ContractName: "token"})
	require.True(t, r.Success(), r.Content)

	tests := []struct {
		name string
		tx   chain.TxContext
		abi  string
		code int
	}{
		{"malformed json", chain.TxContext{Origin: alice, Target: relay}, `{"FuncName":`, result.CodeAbiJSONError},
		{"missing name", chain.TxContext{Origin: alice, Target: relay}, `{"Args":[]}`, result.CodeAbiJSONError},
		{"unknown function", chain.TxContext{Origin: alice, Target: relay}, `{"FuncName":"mint"}`, result.CodeCheckAbiError},
		{"no code", chain.TxContext{Origin: alice, Target: bob}, `{"FuncName":"get"}`, result.CodeNoCode},
		{"value exceeds balance", chain.TxContext{Origin: alice, Target: relay, Value: uint256.NewInt(5)}, `{"FuncName":"get"}`, result.CodeBalanceNotEnough},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := callABI(t, ctl, tt.tx, tt.abi)
			assert.Equal(t, result.TypeException, r.ResultType)
			assert.Equal(t, tt.code, r.ErrorCode)
		})
	}
}

func TestParseContractInfo(t *testing.T) {
	info := ParseContractInfo(`// #tvm_version 0.0.2
//#tvm_type lib
function get() {}
`)
	assert.Equal(t, ContractInfo{Version: "0.0.2", Type: "lib"}, info)
	assert.Equal(t, ContractInfo{}, ParseContractInfo("function get() {}"))
}

func TestDecodeContract(t *testing.T) {
	_, err := DecodeContract([]byte("not json"))
	assert.ErrorIs(t, err, ErrBadContract)

	_, err = DecodeContract([]byte(`{"Code":"x"}`))
	assert.ErrorIs(t, err, ErrBadContract)

	c := &Contract{Code: "x", ContractName: "n", ContractAddress: relay}
	data, err := c.Marshal()
	require.NoError(t, err)
	got, err := DecodeContract(data)
	require.NoError(t, err)
	assert.Equal(t, c, got)
}
