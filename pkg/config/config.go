// Package config loads the host configuration from TOML and builds the
// collaborators it describes.
//
// TOML keys use the Go field names:
//
//	[VM]
//	MaxCallDepth = 8
//	DefaultGasLimit = 2000000
//
//	[Ledger]
//	Backend = "badger"
//	Path = "/var/lib/hostvm/ledger"
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/fortiblox/hostvm/pkg/dispatch"
	"github.com/fortiblox/hostvm/pkg/gas"
	"github.com/naoina/toml"
)

// ErrConfigInvalid is returned when the configuration is invalid.
var ErrConfigInvalid = errors.New("invalid configuration")

// Ledger backends.
const (
	BackendMemory  = "memdb"
	BackendLevelDB = "goleveldb"
	BackendBadger  = "badger"
)

// Config is the complete host configuration.
type Config struct {
	Gas    gas.Schedule
	VM     VMConfig
	Ledger LedgerConfig
	Chain  ChainConfig
	Log    LogConfig
}

// VMConfig holds execution limits.
type VMConfig struct {
	// MaxCallDepth is the nested call ceiling.
	MaxCallDepth int

	// DefaultGasLimit seeds transactions that don't carry a limit.
	DefaultGasLimit uint64

	// TimeoutMillis bounds the wall-clock time of one interpreter frame.
	// Zero disables it.
	TimeoutMillis int64
}

// Timeout returns TimeoutMillis as a duration.
func (c VMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMillis) * time.Millisecond
}

// LedgerConfig selects and configures the ledger backend.
type LedgerConfig struct {
	Backend string
	Path    string

	// CodeCacheSize is the number of decoded code blobs kept in memory.
	CodeCacheSize int

	// InMemory runs the badger backend without touching disk.
	InMemory bool
}

// ChainConfig locates the block hash index.
type ChainConfig struct {
	// HeaderIndexPath is the bbolt file holding block hashes. Empty
	// disables block hash lookups.
	HeaderIndexPath string
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string // trace, debug, info, warn, error
	Format string // console or json
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Gas: gas.DefaultSchedule(),
		VM: VMConfig{
			MaxCallDepth:    dispatch.DefaultMaxDepth,
			DefaultGasLimit: gas.DefaultGasLimit,
		},
		Ledger: LedgerConfig{
			Backend: BackendMemory,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.VM.MaxCallDepth <= 0 {
		return fmt.Errorf("%w: MaxCallDepth must be positive", ErrConfigInvalid)
	}
	if c.VM.DefaultGasLimit == 0 || c.VM.DefaultGasLimit > gas.MaxGasLimit {
		return fmt.Errorf("%w: DefaultGasLimit must be in (0, %d]", ErrConfigInvalid, gas.MaxGasLimit)
	}
	if c.VM.TimeoutMillis < 0 {
		return fmt.Errorf("%w: TimeoutMillis is negative", ErrConfigInvalid)
	}
	if c.Gas.RefundQuotient == 0 {
		return fmt.Errorf("%w: Gas.RefundQuotient must be positive", ErrConfigInvalid)
	}
	switch c.Ledger.Backend {
	case BackendMemory:
	case BackendLevelDB:
		if c.Ledger.Path == "" {
			return fmt.Errorf("%w: ledger path is required for %s", ErrConfigInvalid, c.Ledger.Backend)
		}
	case BackendBadger:
		if c.Ledger.Path == "" && !c.Ledger.InMemory {
			return fmt.Errorf("%w: ledger path is required for %s", ErrConfigInvalid, c.Ledger.Backend)
		}
	default:
		return fmt.Errorf("%w: unknown ledger backend %q", ErrConfigInvalid, c.Ledger.Backend)
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrConfigInvalid, c.Log.Format)
	}
	return nil
}

// Keys match Go field names exactly and unknown keys are rejected.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("field '%s' is not defined in %s", field, rt.String())
	},
}

// Load reads path on top of Default and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(&cfg)
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(path + ", " + err.Error())
	}
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Encode renders cfg as TOML.
func Encode(cfg Config) ([]byte, error) {
	return tomlSettings.Marshal(&cfg)
}
