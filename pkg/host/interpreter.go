package host

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/fortiblox/hostvm/pkg/result"
)

var (
	// ErrSyntax is returned by interpreters for scripts that do not parse.
	ErrSyntax = result.NewError(result.CodeSyntaxError, "syntax error")

	// ErrAbiJSON is returned for a malformed ABI call.
	ErrAbiJSON = result.NewError(result.CodeAbiJSONError, "malformed abi call")

	// ErrCheckAbi is returned when the called function is not exported.
	ErrCheckAbi = result.NewError(result.CodeCheckAbiError, "function not exported")
)

// DeployHook is the exported function an interpreter calls after a
// contract's program has run at deploy time.
const DeployHook = "deploy"

// ParseKind selects how a script is framed.
type ParseKind int

const (
	// ParseSingle runs exactly one statement.
	ParseSingle ParseKind = iota
	// ParseFile runs a whole program. The result is None and Abi lists
	// the exported functions.
	ParseFile
	// ParseEval evaluates one expression and returns its value.
	ParseEval
)

func (k ParseKind) String() string {
	switch k {
	case ParseSingle:
		return "single"
	case ParseFile:
		return "file"
	case ParseEval:
		return "eval"
	default:
		return fmt.Sprintf("ParseKind(%d)", int(k))
	}
}

// ABI is a call to an exported contract function.
//
//	{"FuncName": "transfer", "Args": ["3yZe7d...", 10]}
type ABI struct {
	FuncName string
	Args     []any
}

// ParseABI decodes an ABI call. Numbers are kept as json.Number.
func ParseABI(data []byte) (ABI, error) {
	var abi ABI
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&abi); err != nil {
		return ABI{}, fmt.Errorf("%w: %v", ErrAbiJSON, err)
	}
	if abi.FuncName == "" {
		return ABI{}, fmt.Errorf("%w: missing FuncName", ErrAbiJSON)
	}
	return abi, nil
}

// Marshal encodes the call.
func (a ABI) Marshal() ([]byte, error) {
	if a.Args == nil {
		a.Args = []any{}
	}
	return json.Marshal(a)
}

// Interpreter executes contract code against a Host. Implementations are
// called once per frame and must perform every effect through h. Errors
// that carry a result code are reported to the caller with that code; any
// error wrapping a fatal host failure must be returned unchanged.
type Interpreter interface {
	// Execute runs script under the given alias.
	Execute(h Host, script, alias string, kind ParseKind) (result.Value, error)

	// Invoke loads contract code and calls the function named by abi.
	// ErrCheckAbi is returned if the code does not export it.
	Invoke(h Host, code []byte, alias string, abi ABI) (result.Value, error)

	// Deploy runs a contract program once in File mode and then, if it
	// exports DeployHook, calls it in the same instance.
	Deploy(h Host, script, alias string) (result.Value, error)

	// ExecuteBytecode runs a precompiled script.
	ExecuteBytecode(h Host, code []byte) (result.Value, error)
}
