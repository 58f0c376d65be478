package host

import (
	"errors"

	"github.com/fortiblox/hostvm/pkg/dispatch"
	"github.com/fortiblox/hostvm/pkg/state"
)

// IsFatal reports whether err means ledger state can no longer be trusted.
// Interpreters must not let contract code observe or catch such errors.
func IsFatal(err error) bool {
	return errors.Is(err, state.ErrLedger) || errors.Is(err, dispatch.ErrRevertFailed)
}

// IsAbort reports whether err must unwind the running frame without giving
// contract code a chance to handle it.
func IsAbort(err error) bool {
	return IsFatal(err) || errors.Is(err, dispatch.ErrReverted)
}
