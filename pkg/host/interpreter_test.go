package host

import (
	"encoding/json"
	"testing"

	"github.com/fortiblox/hostvm/pkg/result"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseABI(t *testing.T) {
	abi, err := ParseABI([]byte(`{"FuncName": "Test", "Args": [10, "ten", [1, 2], {"key": "value"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "Test", abi.FuncName)
	require.Len(t, abi.Args, 4)
	assert.Equal(t, json.Number("10"), abi.Args[0])
	assert.Equal(t, "ten", abi.Args[1])
	assert.Equal(t, map[string]any{"key": "value"}, abi.Args[3])
}

func TestParseABIErrors(t *testing.T) {
	for _, input := range []string{
		``,
		`{"FuncName":`,
		`{"Args": [1]}`,
		`{"FuncName": "f", "Args": 3}`,
	} {
		_, err := ParseABI([]byte(input))
		require.ErrorIs(t, err, ErrAbiJSON, input)
		assert.Equal(t, result.CodeAbiJSONError, result.CodeOf(err))
	}
}

func TestABIMarshal(t *testing.T) {
	data, err := ABI{FuncName: "ping"}.Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"FuncName":"ping","Args":[]}`, string(data))

	abi, err := ParseABI(data)
	require.NoError(t, err)
	assert.Equal(t, "ping", abi.FuncName)
	assert.Empty(t, abi.Args)
}

func TestParseKindString(t *testing.T) {
	assert.Equal(t, "single", ParseSingle.String())
	assert.Equal(t, "file", ParseFile.String())
	assert.Equal(t, "eval", ParseEval.String())
	assert.Equal(t, "ParseKind(9)", ParseKind(9).String())
}
