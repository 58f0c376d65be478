// Package jsvm runs JavaScript contracts on goja.
//
// Each call frame gets its own runtime with the frame's host capabilities
// bound as global objects. A contract is a program whose top-level function
// declarations are its exported functions; names starting with an
// underscore are private.
package jsvm

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
	"github.com/fortiblox/hostvm/pkg/host"
	"github.com/fortiblox/hostvm/pkg/result"
	"github.com/rs/zerolog"
)

// ErrTimeout is returned when a script runs longer than the configured
// timeout.
var ErrTimeout = result.NewError(result.CodeSysError, "script timeout")

// Interpreter implements host.Interpreter.
type Interpreter struct {
	timeout time.Duration
	logger  zerolog.Logger
}

var _ host.Interpreter = (*Interpreter)(nil)

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithTimeout bounds the wall-clock time of one frame. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(in *Interpreter) { in.timeout = d }
}

// WithLogger sets the logger console.log writes to.
func WithLogger(l zerolog.Logger) Option {
	return func(in *Interpreter) { in.logger = l }
}

// New creates an interpreter.
func New(opts ...Option) *Interpreter {
	in := &Interpreter{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Execute implements host.Interpreter. Loading the source costs one gas
// unit per byte.
func (in *Interpreter) Execute(h host.Host, script, alias string, kind host.ParseKind) (result.Value, error) {
	if err := h.Charge(uint64(len(script))); err != nil {
		return result.Value{}, err
	}
	prog, err := parse(script, alias, kind)
	if err != nil {
		return result.Value{}, err
	}

	f := in.newFrame(h)
	defer f.stop()

	v, err := f.rt.RunProgram(prog.compiled)
	if err != nil {
		return result.Value{}, f.unwrap(err)
	}
	if kind == host.ParseFile {
		abi, err := json.Marshal(prog.exports)
		if err != nil {
			return result.Value{}, err
		}
		return result.Value{Kind: result.TypeNone, Abi: string(abi)}, nil
	}
	return f.export(v)
}

// Invoke implements host.Interpreter.
func (in *Interpreter) Invoke(h host.Host, code []byte, alias string, abi host.ABI) (result.Value, error) {
	if err := h.Charge(uint64(len(code))); err != nil {
		return result.Value{}, err
	}
	prog, err := parse(string(code), alias, host.ParseFile)
	if err != nil {
		return result.Value{}, err
	}
	if !prog.exported(abi.FuncName) {
		return result.Value{}, fmt.Errorf("%w: %s.%s", host.ErrCheckAbi, alias, abi.FuncName)
	}

	f := in.newFrame(h)
	defer f.stop()

	if _, err := f.rt.RunProgram(prog.compiled); err != nil {
		return result.Value{}, f.unwrap(err)
	}
	fn, ok := goja.AssertFunction(f.rt.Get(abi.FuncName))
	if !ok {
		return result.Value{}, fmt.Errorf("%w: %s.%s is not a function", host.ErrCheckAbi, alias, abi.FuncName)
	}
	args := make([]goja.Value, len(abi.Args))
	for i, a := range abi.Args {
		args[i] = f.rt.ToValue(fromJSON(a))
	}
	v, err := fn(goja.Undefined(), args...)
	if err != nil {
		return result.Value{}, f.unwrap(err)
	}
	return f.export(v)
}

// Deploy implements host.Interpreter. The program and its deploy hook share
// one runtime, so top-level effects happen once.
func (in *Interpreter) Deploy(h host.Host, script, alias string) (result.Value, error) {
	if err := h.Charge(uint64(len(script))); err != nil {
		return result.Value{}, err
	}
	prog, err := parse(script, alias, host.ParseFile)
	if err != nil {
		return result.Value{}, err
	}

	f := in.newFrame(h)
	defer f.stop()

	if _, err := f.rt.RunProgram(prog.compiled); err != nil {
		return result.Value{}, f.unwrap(err)
	}
	if prog.exported(host.DeployHook) {
		if fn, ok := goja.AssertFunction(f.rt.Get(host.DeployHook)); ok {
			if _, err := fn(goja.Undefined()); err != nil {
				return result.Value{}, f.unwrap(err)
			}
		}
	}
	abi, err := json.Marshal(prog.exports)
	if err != nil {
		return result.Value{}, err
	}
	return result.Value{Kind: result.TypeNone, Abi: string(abi)}, nil
}

// ExecuteBytecode implements host.Interpreter for code produced by Compile.
func (in *Interpreter) ExecuteBytecode(h host.Host, code []byte) (result.Value, error) {
	src, kind, err := Decode(code)
	if err != nil {
		return result.Value{}, err
	}
	return in.Execute(h, src, "bytecode", kind)
}

type program struct {
	compiled *goja.Program
	exports  []string
}

func (p *program) exported(name string) bool {
	for _, e := range p.exports {
		if e == name {
			return true
		}
	}
	return false
}

func parse(src, alias string, kind host.ParseKind) (*program, error) {
	tree, err := parser.ParseFile(nil, alias, src, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", host.ErrSyntax, err)
	}

	switch kind {
	case host.ParseSingle:
		if len(tree.Body) != 1 {
			return nil, fmt.Errorf("%w: expected one statement, got %d", host.ErrSyntax, len(tree.Body))
		}
	case host.ParseEval:
		if len(tree.Body) != 1 {
			return nil, fmt.Errorf("%w: expected one expression, got %d statements", host.ErrSyntax, len(tree.Body))
		}
		if _, ok := tree.Body[0].(*ast.ExpressionStatement); !ok {
			return nil, fmt.Errorf("%w: expected an expression", host.ErrSyntax)
		}
	case host.ParseFile:
	default:
		return nil, fmt.Errorf("%w: unknown parse kind %s", host.ErrSyntax, kind)
	}

	compiled, err := goja.CompileAST(tree, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", host.ErrSyntax, err)
	}
	return &program{compiled: compiled, exports: exports(tree)}, nil
}

// exports lists the public top-level function declarations.
func exports(tree *ast.Program) []string {
	names := []string{}
	for _, st := range tree.Body {
		fd, ok := st.(*ast.FunctionDeclaration)
		if !ok || fd.Function == nil || fd.Function.Name == nil {
			continue
		}
		name := string(fd.Function.Name.Name)
		if strings.HasPrefix(name, "_") {
			continue
		}
		names = append(names, name)
	}
	return names
}
