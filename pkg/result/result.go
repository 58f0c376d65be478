// Package result defines ExecuteResult, the record a host receives for every
// top-level invocation and nested contract call, and the marshaler that
// fills it in.
//
// An ExecuteResult is allocated by the caller, initialized with Init,
// populated exactly once by a Marshaler, and released with Deinit after the
// caller has consumed Content and Abi.
package result

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
)

var (
	// ErrNotInitialized is returned when marshaling into a result that was
	// not initialized.
	ErrNotInitialized = errors.New("result not initialized")

	// ErrResultPopulated is returned when a result is populated twice.
	ErrResultPopulated = errors.New("result already populated")

	// ErrResultReleased is returned when marshaling into a released result.
	ErrResultReleased = errors.New("result released")
)

// ResultType is the kind of value carried in an ExecuteResult.
type ResultType int

// Result types.
const (
	TypeInt       ResultType = 1
	TypeString    ResultType = 2
	TypeNone      ResultType = 3
	TypeException ResultType = 4
	TypeBool      ResultType = 5
)

func (t ResultType) String() string {
	switch t {
	case TypeInt:
		return "Int"
	case TypeString:
		return "String"
	case TypeNone:
		return "None"
	case TypeException:
		return "Exception"
	case TypeBool:
		return "Bool"
	default:
		return fmt.Sprintf("ResultType(%d)", int(t))
	}
}

type lifecycle uint8

const (
	stateUninit lifecycle = iota
	stateReady
	statePopulated
	stateReleased
)

// ExecuteResult is the outcome of one invocation.
type ExecuteResult struct {
	ResultType ResultType
	ErrorCode  int
	Content    string
	Abi        string

	state lifecycle
}

// Init prepares r to be populated. Reinitializing a released result is
// allowed.
func (r *ExecuteResult) Init() {
	*r = ExecuteResult{state: stateReady}
}

// Deinit releases Content and Abi.
func (r *ExecuteResult) Deinit() {
	r.Content = ""
	r.Abi = ""
	r.state = stateReleased
}

// Populated returns true once a marshaler has filled r in.
func (r *ExecuteResult) Populated() bool {
	return r.state == statePopulated
}

// Ready returns nil if r can be populated, or the reason it cannot.
func (r *ExecuteResult) Ready() error {
	switch r.state {
	case stateUninit:
		return ErrNotInitialized
	case statePopulated:
		return ErrResultPopulated
	case stateReleased:
		return ErrResultReleased
	}
	return nil
}

// Success returns true for a populated result without an error code.
func (r *ExecuteResult) Success() bool {
	return r.state == statePopulated && r.ErrorCode == CodeSuccess
}

// Err returns the result as an Exception, or nil on success.
func (r *ExecuteResult) Err() error {
	if r.ResultType != TypeException && r.ErrorCode == CodeSuccess {
		return nil
	}
	return &Exception{ErrCode: r.ErrorCode, Message: r.Content}
}

// Value is a value returned by contract code.
type Value struct {
	Kind ResultType
	Raw  any    // int64, *big.Int, string, bool or nil
	Abi  string // Optional interface descriptor
}

// None returns the empty value.
func None() Value { return Value{Kind: TypeNone} }

// Int returns an integer value.
func Int(v int64) Value { return Value{Kind: TypeInt, Raw: v} }

// BigInt returns an arbitrary-precision integer value.
func BigInt(v *big.Int) Value { return Value{Kind: TypeInt, Raw: v} }

// String returns a string value.
func String(v string) Value { return Value{Kind: TypeString, Raw: v} }

// Bool returns a boolean value.
func Bool(v bool) Value { return Value{Kind: TypeBool, Raw: v} }

// Content returns the serialized form of the value.
func (v Value) Content() string {
	switch raw := v.Raw.(type) {
	case nil:
		return ""
	case int64:
		return strconv.FormatInt(raw, 10)
	case *big.Int:
		return raw.String()
	case string:
		return raw
	case bool:
		return strconv.FormatBool(raw)
	default:
		return fmt.Sprint(raw)
	}
}

// Marshaler converts the terminal outcome of an execution into an
// ExecuteResult.
type Marshaler struct{}

// Marshal populates r from a returned value or, when err is non-nil, from
// the error. Gas exhaustion, reverts and failed checks all become
// TypeException with their own code.
func (Marshaler) Marshal(r *ExecuteResult, v Value, err error) error {
	if err := r.Ready(); err != nil {
		return err
	}

	if err != nil {
		r.ResultType = TypeException
		r.ErrorCode = CodeOf(err)
		r.Content = MessageOf(err)
	} else {
		kind := v.Kind
		if kind == 0 {
			kind = TypeNone
		}
		r.ResultType = kind
		r.ErrorCode = CodeSuccess
		r.Content = v.Content()
		r.Abi = v.Abi
	}
	r.state = statePopulated
	return nil
}
