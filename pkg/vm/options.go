package vm

import (
	"github.com/fortiblox/hostvm/pkg/chain"
	"github.com/fortiblox/hostvm/pkg/dispatch"
	"github.com/fortiblox/hostvm/pkg/gas"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

type options struct {
	block          chain.BlockContext
	tx             chain.TxContext
	headers        chain.HeaderSource
	schedule       gas.Schedule
	refundQuotient uint64
	maxDepth       int
	logger         zerolog.Logger
	tracer         trace.Tracer
}

func defaultOptions() options {
	return options{
		schedule: gas.DefaultSchedule(),
		maxDepth: dispatch.DefaultMaxDepth,
		logger:   zerolog.Nop(),
	}
}

// Option configures a Context.
type Option func(*options)

// WithBlock sets the block the transaction executes in.
func WithBlock(b chain.BlockContext) Option {
	return func(o *options) { o.block = b }
}

// WithTx sets the transaction metadata. Its GasLimit seeds the gas meter;
// zero selects gas.DefaultGasLimit.
func WithTx(tx chain.TxContext) Option {
	return func(o *options) { o.tx = tx }
}

// WithHeaders sets the source of recent block hashes.
func WithHeaders(h chain.HeaderSource) Option {
	return func(o *options) { o.headers = h }
}

// WithSchedule sets the gas cost table.
func WithSchedule(s gas.Schedule) Option {
	return func(o *options) { o.schedule = s }
}

// WithRefundQuotient sets the refund cap divisor.
func WithRefundQuotient(q uint64) Option {
	return func(o *options) { o.refundQuotient = q }
}

// WithMaxDepth sets the call depth ceiling.
func WithMaxDepth(n int) Option {
	return func(o *options) { o.maxDepth = n }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTracer sets the tracer frames are recorded with.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}
