package jsvm

import (
	"encoding/json"
	"math"
	"math/big"
	"strconv"

	"github.com/dop251/goja"
	"github.com/fortiblox/hostvm/internal/types"
	"github.com/fortiblox/hostvm/pkg/result"
	"github.com/holiman/uint256"
)

// maxSafeInteger is the largest integer a JS number holds exactly.
const maxSafeInteger = 1<<53 - 1

func (f *frame) address(v goja.Value) types.Address {
	a, err := types.AddressFromBase58(v.String())
	if err != nil {
		f.invalid("invalid address %q", v.String())
	}
	return a
}

// amount accepts a non-negative integer number or a decimal string.
func (f *frame) amount(v goja.Value) *uint256.Int {
	switch x := v.Export().(type) {
	case int64:
		if x >= 0 {
			return uint256.NewInt(uint64(x))
		}
	case float64:
		if x >= 0 && x == math.Trunc(x) && x <= maxSafeInteger {
			return uint256.NewInt(uint64(x))
		}
	case string:
		if n, err := uint256.FromDecimal(x); err == nil {
			return n
		}
	}
	f.invalid("invalid amount %s", v.String())
	return nil
}

func (f *frame) uintArg(v goja.Value) uint64 {
	n := v.ToInteger()
	if n < 0 {
		f.invalid("expected a non-negative integer, got %s", v.String())
	}
	return uint64(n)
}

// data converts a value to bytes: strings as is, anything else as JSON.
func (f *frame) data(v goja.Value) []byte {
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	if s, ok := v.Export().(string); ok {
		return []byte(s)
	}
	b, err := json.Marshal(v.Export())
	if err != nil {
		f.invalid("value is not serializable: %v", err)
	}
	return b
}

// export converts a returned JS value into a result value. Integral
// numbers become Int, other numbers and compound values String.
func (f *frame) export(v goja.Value) (result.Value, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return result.None(), nil
	}
	switch x := v.Export().(type) {
	case bool:
		return result.Bool(x), nil
	case int64:
		return result.Int(x), nil
	case float64:
		if x == math.Trunc(x) && math.Abs(x) <= maxSafeInteger {
			return result.Int(int64(x)), nil
		}
		return result.String(strconv.FormatFloat(x, 'g', -1, 64)), nil
	case *big.Int:
		return result.BigInt(x), nil
	case string:
		return result.String(x), nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return result.Value{}, result.NewException(result.CodeSysError, "return value is not serializable: %v", err)
		}
		return result.String(string(b)), nil
	}
}

// toJS converts a nested call's result for the calling contract.
func (f *frame) toJS(v result.Value) goja.Value {
	switch raw := v.Raw.(type) {
	case nil:
		return goja.Null()
	case *big.Int:
		return f.rt.ToValue(raw.String())
	default:
		return f.rt.ToValue(raw)
	}
}

// fromJSON converts decoded ABI arguments to plain values.
func fromJSON(v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		if fl, err := x.Float64(); err == nil {
			return fl
		}
		return x.String()
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = fromJSON(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = fromJSON(e)
		}
		return out
	default:
		return v
	}
}
