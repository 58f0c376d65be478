package result

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTestFunds = NewError(CodeBalanceNotEnough, "insufficient funds")

func TestMarshalValues(t *testing.T) {
	big1, _ := new(big.Int).SetString("123456789012345678901234567890", 10)

	tests := []struct {
		name    string
		value   Value
		kind    ResultType
		content string
	}{
		{"int", Int(-42), TypeInt, "-42"},
		{"big int", BigInt(big1), TypeInt, "123456789012345678901234567890"},
		{"string", String("hello"), TypeString, "hello"},
		{"bool", Bool(true), TypeBool, "true"},
		{"none", None(), TypeNone, ""},
		{"zero value", Value{}, TypeNone, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r ExecuteResult
			r.Init()
			require.NoError(t, Marshaler{}.Marshal(&r, tt.value, nil))
			assert.Equal(t, tt.kind, r.ResultType)
			assert.Equal(t, CodeSuccess, r.ErrorCode)
			assert.Equal(t, tt.content, r.Content)
			assert.True(t, r.Success())
			assert.NoError(t, r.Err())
		})
	}
}

func TestMarshalErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    int
		content string
	}{
		{"coded sentinel", errTestFunds, CodeBalanceNotEnough, "insufficient funds"},
		{"wrapped sentinel", fmt.Errorf("%w: need 10, have 5", errTestFunds), CodeBalanceNotEnough, "insufficient funds: need 10, have 5"},
		{"exception", NewException(CodeCheckAbiError, "no function %q", "mint"), CodeCheckAbiError, `no function "mint"`},
		{"exception without code", NewException(0, "boom"), CodeSysError, "boom"},
		{"plain error", errors.New("interpreter crashed"), CodeSysError, "interpreter crashed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r ExecuteResult
			r.Init()
			require.NoError(t, Marshaler{}.Marshal(&r, String("ignored"), tt.err))
			assert.Equal(t, TypeException, r.ResultType)
			assert.Equal(t, tt.code, r.ErrorCode)
			assert.Equal(t, tt.content, r.Content)
			assert.False(t, r.Success())

			var exc *Exception
			require.ErrorAs(t, r.Err(), &exc)
			assert.Equal(t, tt.code, exc.Code())
		})
	}
}

func TestLifecycle(t *testing.T) {
	var r ExecuteResult
	assert.ErrorIs(t, r.Ready(), ErrNotInitialized)
	require.ErrorIs(t, Marshaler{}.Marshal(&r, None(), nil), ErrNotInitialized)

	r.Init()
	require.NoError(t, r.Ready())
	require.NoError(t, Marshaler{}.Marshal(&r, Value{Kind: TypeString, Raw: "x", Abi: `["f"]`}, nil))
	assert.True(t, r.Populated())
	assert.Equal(t, `["f"]`, r.Abi)
	require.ErrorIs(t, Marshaler{}.Marshal(&r, None(), nil), ErrResultPopulated)
	assert.ErrorIs(t, r.Ready(), ErrResultPopulated)

	r.Deinit()
	assert.Empty(t, r.Content)
	assert.Empty(t, r.Abi)
	require.ErrorIs(t, Marshaler{}.Marshal(&r, None(), nil), ErrResultReleased)
	assert.ErrorIs(t, r.Ready(), ErrResultReleased)

	// A released result can be reused after Init
	r.Init()
	require.NoError(t, Marshaler{}.Marshal(&r, Int(1), nil))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeSuccess, CodeOf(nil))
	assert.Equal(t, CodeGasNotEnough, CodeOf(fmt.Errorf("frame 2: %w", NewError(CodeGasNotEnough, "gas exhausted"))))
	assert.Equal(t, CodeSysError, CodeOf(errors.New("x")))
	assert.Equal(t, "Exception", TypeException.String())
}
