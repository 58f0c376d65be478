package result

import (
	"errors"
	"fmt"
)

// Error codes reported in ExecuteResult.ErrorCode.
const (
	CodeSuccess                 = 0
	CodeBalanceNotEnough        = 1
	CodeContractAddressConflict = 2
	CodeDeployGasNotEnough      = 3
	CodeNoCode                  = 4

	CodeSyntaxError  = 1001
	CodeGasNotEnough = 1002

	CodeSysError          = 2001
	CodeCheckAbiError     = 2002
	CodeAbiJSONError      = 2003
	CodeCallMaxDeep       = 2004
	CodeInitContractError = 2005
	CodeInvalidSnapshot   = 2006
	CodeReverted          = 2007
)

// Coder is implemented by errors that carry an error code.
type Coder interface {
	Code() int
}

// Error is a sentinel error with an error code. Compare with errors.Is.
type Error struct {
	code int
	msg  string
}

// NewError creates a coded sentinel error.
func NewError(code int, msg string) *Error {
	return &Error{code: code, msg: msg}
}

func (e *Error) Error() string { return e.msg }

// Code returns the error code.
func (e *Error) Code() int { return e.code }

// Exception is an error raised by contract code or the interpreter.
type Exception struct {
	ErrCode int
	Message string
}

// NewException creates an exception. A zero code becomes CodeSysError.
func NewException(code int, format string, args ...any) *Exception {
	if code == CodeSuccess {
		code = CodeSysError
	}
	return &Exception{ErrCode: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Exception) Error() string {
	return fmt.Sprintf("exception %d: %s", e.ErrCode, e.Message)
}

// Code returns the error code.
func (e *Exception) Code() int { return e.ErrCode }

// CodeOf returns the error code for err: 0 for nil, the code of the first
// Coder in the chain, or CodeSysError.
func CodeOf(err error) int {
	if err == nil {
		return CodeSuccess
	}
	var c Coder
	if errors.As(err, &c) {
		return c.Code()
	}
	return CodeSysError
}

// MessageOf returns the message reported for err. Exceptions report their
// own message without the code prefix.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var exc *Exception
	if errors.As(err, &exc) {
		return exc.Message
	}
	return err.Error()
}
