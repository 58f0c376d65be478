package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fortiblox/hostvm/pkg/chain"
	"github.com/fortiblox/hostvm/pkg/ledger"
	"github.com/rs/zerolog"
)

// NewLogger builds the logger described by cfg, writing to w.
func NewLogger(cfg LogConfig, w io.Writer) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("%w: log level %q", ErrConfigInvalid, cfg.Level)
		}
		level = l
	}
	if w == nil {
		w = os.Stderr
	}
	if cfg.Format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

// OpenLedger opens the configured ledger backend.
func OpenLedger(cfg LedgerConfig) (*ledger.KVLedger, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return ledger.NewMemoryLedger(), nil
	case BackendLevelDB:
		dir, name := filepath.Split(filepath.Clean(cfg.Path))
		if dir == "" {
			dir = "."
		}
		return ledger.NewLevelDBLedger(name, dir, cfg.CodeCacheSize)
	case BackendBadger:
		bc := ledger.DefaultBadgerConfig(cfg.Path)
		bc.InMemory = cfg.InMemory
		if cfg.CodeCacheSize > 0 {
			bc.CodeCacheSize = cfg.CodeCacheSize
		}
		return ledger.NewBadgerLedger(bc)
	default:
		return nil, fmt.Errorf("%w: unknown ledger backend %q", ErrConfigInvalid, cfg.Backend)
	}
}

// OpenHeaders opens the block hash index, or returns nil when none is
// configured.
func OpenHeaders(cfg ChainConfig) (*chain.HeaderIndex, error) {
	if cfg.HeaderIndexPath == "" {
		return nil, nil
	}
	return chain.OpenIndex(chain.DefaultIndexConfig(cfg.HeaderIndexPath))
}
