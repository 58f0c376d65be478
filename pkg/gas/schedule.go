package gas

// Default gas limits.
const (
	DefaultGasLimit = uint64(2_000_000) // Default limit for a top-level invocation
	MaxGasLimit     = uint64(500_000_000)

	// DefaultRefundQuotient caps refunds at consumed/5.
	DefaultRefundQuotient = uint64(5)
)

// Schedule is the cost table charged by the state gateway and dispatcher.
// Flat costs are charged per operation; PerByte is added for operations whose
// cost is proportional to the size of the data they touch.
type Schedule struct {
	ExecBase uint64 // Entering the interpreter for a script or frame
	PerByte  uint64 // Per byte of script, code, key or value

	Create       uint64
	Exists       uint64 // exists / isEmpty predicates
	BalanceRead  uint64
	BalanceWrite uint64
	NonceRead    uint64
	NonceWrite   uint64
	CodeRead     uint64
	CodeHashRead uint64
	CodeSizeRead uint64
	CodeWrite    uint64
	CodeDeposit  uint64 // Per byte of deployed code
	Suicide      uint64

	StorageRead    uint64
	StorageWrite   uint64
	StorageRemove  uint64
	IteratorCreate uint64
	IteratorNext   uint64

	Preimage  uint64
	BlockInfo uint64
	Transfer  uint64
	Call      uint64
	Event     uint64

	RefundQuotient uint64
}

// DefaultSchedule returns the default cost table.
func DefaultSchedule() Schedule {
	return Schedule{
		ExecBase: 100,
		PerByte:  1,

		Create:       500,
		Exists:       5,
		BalanceRead:  20,
		BalanceWrite: 50,
		NonceRead:    20,
		NonceWrite:   50,
		CodeRead:     100,
		CodeHashRead: 20,
		CodeSizeRead: 20,
		CodeWrite:    200,
		CodeDeposit:  5,
		Suicide:      500,

		StorageRead:    100,
		StorageWrite:   200,
		StorageRemove:  100,
		IteratorCreate: 1_000,
		IteratorNext:   100,

		Preimage:  30,
		BlockInfo: 2,
		Transfer:  100,
		Call:      700,
		Event:     375,

		RefundQuotient: DefaultRefundQuotient,
	}
}

// Sized returns flat plus PerByte for each byte in n.
func (s Schedule) Sized(flat uint64, n int) uint64 {
	if n <= 0 {
		return flat
	}
	return flat + s.PerByte*uint64(n)
}

// Merge returns s with every non-zero field of o applied on top.
func (s Schedule) Merge(o Schedule) Schedule {
	pick := func(dst *uint64, v uint64) {
		if v != 0 {
			*dst = v
		}
	}
	pick(&s.ExecBase, o.ExecBase)
	pick(&s.PerByte, o.PerByte)
	pick(&s.Create, o.Create)
	pick(&s.Exists, o.Exists)
	pick(&s.BalanceRead, o.BalanceRead)
	pick(&s.BalanceWrite, o.BalanceWrite)
	pick(&s.NonceRead, o.NonceRead)
	pick(&s.NonceWrite, o.NonceWrite)
	pick(&s.CodeRead, o.CodeRead)
	pick(&s.CodeHashRead, o.CodeHashRead)
	pick(&s.CodeSizeRead, o.CodeSizeRead)
	pick(&s.CodeWrite, o.CodeWrite)
	pick(&s.CodeDeposit, o.CodeDeposit)
	pick(&s.Suicide, o.Suicide)
	pick(&s.StorageRead, o.StorageRead)
	pick(&s.StorageWrite, o.StorageWrite)
	pick(&s.StorageRemove, o.StorageRemove)
	pick(&s.IteratorCreate, o.IteratorCreate)
	pick(&s.IteratorNext, o.IteratorNext)
	pick(&s.Preimage, o.Preimage)
	pick(&s.BlockInfo, o.BlockInfo)
	pick(&s.Transfer, o.Transfer)
	pick(&s.Call, o.Call)
	pick(&s.Event, o.Event)
	pick(&s.RefundQuotient, o.RefundQuotient)
	return s
}
