// hostvm runs contract scripts against a local ledger.
//
// Usage:
//
//	hostvm [flags] run <script.js>
//	hostvm [flags] deploy <name> <contract.js>
//	hostvm [flags] call <address> <abi.json>
//	hostvm [flags] transfer <address> <amount>
//	hostvm [flags] compile <script.js> <out.tvmb>
//	hostvm [flags] exec <code.tvmb>
//	hostvm [flags] account <address>
//	hostvm [flags] dumpconfig
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fortiblox/hostvm/internal/types"
	"github.com/fortiblox/hostvm/pkg/chain"
	"github.com/fortiblox/hostvm/pkg/config"
	"github.com/fortiblox/hostvm/pkg/host"
	"github.com/fortiblox/hostvm/pkg/ledger"
	"github.com/fortiblox/hostvm/pkg/result"
	"github.com/fortiblox/hostvm/pkg/vm"
	"github.com/fortiblox/hostvm/pkg/vm/jsvm"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

var (
	configFile  = flag.String("config", "", "TOML configuration file")
	origin      = flag.String("origin", "", "Sender address (base58) or seed prefixed with 'seed:'")
	gasLimit    = flag.Uint64("gas", 0, "Gas limit (0 = configured default)")
	value       = flag.String("value", "0", "Value transferred with the transaction")
	kind        = flag.String("kind", "eval", "Parse mode for run and compile: single, file, eval")
	blockNumber = flag.Uint64("block", 0, "Block number the transaction executes in")
	report      = flag.Bool("report", false, "Print the gas report after run")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("hostvm %s (%s)\n", Version, GitCommit)
		os.Exit(0)
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Default()
	if *configFile != "" {
		var err error
		if cfg, err = config.Load(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
	}
	logger, err := config.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger, flag.Args()); err != nil {
		logger.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger, args []string) error {
	switch args[0] {
	case "dumpconfig":
		out, err := config.Encode(cfg)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	case "compile":
		if len(args) != 3 {
			return fmt.Errorf("usage: compile <script.js> <out.tvmb>")
		}
		return compile(args[1], args[2])
	}

	tx, err := txFromFlags(cfg)
	if err != nil {
		return err
	}

	l, err := config.OpenLedger(cfg.Ledger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer l.Close()

	opts := []vm.Option{
		vm.WithLogger(logger),
		vm.WithSchedule(cfg.Gas),
		vm.WithRefundQuotient(cfg.Gas.RefundQuotient),
		vm.WithMaxDepth(cfg.VM.MaxCallDepth),
		vm.WithBlock(chain.BlockContext{Number: *blockNumber}),
	}
	headers, err := config.OpenHeaders(cfg.Chain)
	if err != nil {
		return fmt.Errorf("open header index: %w", err)
	}
	if headers != nil {
		defer headers.Close()
		opts = append(opts, vm.WithHeaders(headers))
	}

	interp := jsvm.New(jsvm.WithTimeout(cfg.VM.Timeout()), jsvm.WithLogger(logger))

	var r result.ExecuteResult
	r.Init()
	defer r.Deinit()

	switch args[0] {
	case "run":
		if len(args) != 2 {
			return fmt.Errorf("usage: run <script.js>")
		}
		return runScript(ctx, l, interp, append(opts, vm.WithTx(tx)), args[1], &r)
	case "exec":
		if len(args) != 2 {
			return fmt.Errorf("usage: exec <code.tvmb>")
		}
		return execBytecode(ctx, l, interp, append(opts, vm.WithTx(tx)), args[1])
	case "account":
		if len(args) != 2 {
			return fmt.Errorf("usage: account <address>")
		}
		return printAccount(l, args[1])
	}

	ctl := vm.NewController(l, interp, opts...)
	var receipt *vm.Receipt
	switch args[0] {
	case "deploy":
		if len(args) != 3 {
			return fmt.Errorf("usage: deploy <name> <contract.js>")
		}
		src, err := os.ReadFile(args[2])
		if err != nil {
			return err
		}
		info := vm.ParseContractInfo(string(src))
		logger.Info().Str("name", args[1]).Str("version", info.Version).Str("type", info.Type).Msg("Deploying contract")
		receipt, err = ctl.Deploy(ctx, tx, &vm.Contract{Code: string(src), ContractName: args[1]}, &r)
		if err != nil {
			return err
		}
	case "call":
		if len(args) != 3 {
			return fmt.Errorf("usage: call <address> <abi.json>")
		}
		if tx.Target, err = types.AddressFromBase58(args[1]); err != nil {
			return err
		}
		abi, err := os.ReadFile(args[2])
		if err != nil {
			return err
		}
		if receipt, err = ctl.ExecuteABI(ctx, tx, abi, &r); err != nil {
			return err
		}
	case "transfer":
		if len(args) != 3 {
			return fmt.Errorf("usage: transfer <address> <amount>")
		}
		if tx.Target, err = types.AddressFromBase58(args[1]); err != nil {
			return err
		}
		if tx.Value, err = uint256.FromDecimal(args[2]); err != nil {
			return fmt.Errorf("invalid amount %q: %w", args[2], err)
		}
		if receipt, err = ctl.Transfer(ctx, tx, &r); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}

	printResult(&r)
	fmt.Printf("contract: %s\nblock:    %d\ngas used: %d\nlogs:     %d\n", receipt.ContractAddress, receipt.BlockNumber, receipt.GasUsed, len(receipt.Logs))
	return nil
}

func txFromFlags(cfg config.Config) (chain.TxContext, error) {
	tx := chain.TxContext{GasLimit: *gasLimit}
	if tx.GasLimit == 0 {
		tx.GasLimit = cfg.VM.DefaultGasLimit
	}
	v, err := uint256.FromDecimal(*value)
	if err != nil {
		return tx, fmt.Errorf("invalid value %q: %w", *value, err)
	}
	tx.Value = v

	switch {
	case *origin == "":
	case len(*origin) > 5 && (*origin)[:5] == "seed:":
		tx.Origin = types.AddressFromSeed((*origin)[5:])
	default:
		if tx.Origin, err = types.AddressFromBase58(*origin); err != nil {
			return tx, err
		}
	}
	return tx, nil
}

func parseKind(s string) (host.ParseKind, error) {
	for _, k := range []host.ParseKind{host.ParseSingle, host.ParseFile, host.ParseEval} {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown parse kind %q", s)
}

func runScript(ctx context.Context, l ledger.Ledger, interp host.Interpreter, opts []vm.Option, path string, r *result.ExecuteResult) error {
	k, err := parseKind(*kind)
	if err != nil {
		return err
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	c, err := vm.NewContext(l, interp, opts...)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Execute(ctx, string(src), path, k, r); err != nil {
		return err
	}
	printResult(r)
	fmt.Printf("gas used: %d\n", c.GasUsed())
	if *report {
		c.GasReport(os.Stdout)
	}
	return nil
}

func execBytecode(ctx context.Context, l ledger.Ledger, interp host.Interpreter, opts []vm.Option, path string) error {
	code, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	c, err := vm.NewContext(l, interp, opts...)
	if err != nil {
		return err
	}
	defer c.Close()

	ok, err := c.ExecuteBytecode(ctx, code)
	if err != nil {
		return err
	}
	fmt.Printf("success:  %t\ngas used: %d\n", ok, c.GasUsed())
	return nil
}

func printAccount(l *ledger.KVLedger, s string) error {
	addr, err := types.AddressFromBase58(s)
	if err != nil {
		return err
	}
	acc, err := l.GetAccount(addr)
	if err != nil {
		return err
	}
	fmt.Printf("address:  %s\nbalance:  %s\nnonce:    %d\ncode:     %s\nsuicided: %t\n",
		addr, acc.Balance.Dec(), acc.Nonce, acc.CodeHash, acc.Suicided)
	return nil
}

func compile(in, out string) error {
	k, err := parseKind(*kind)
	if err != nil {
		return err
	}
	src, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	code, err := jsvm.Compile(string(src), k)
	if err != nil {
		return err
	}
	return os.WriteFile(out, code, 0o644)
}

func printResult(r *result.ExecuteResult) {
	fmt.Printf("type:     %s\ncode:     %d\ncontent:  %s\n", r.ResultType, r.ErrorCode, r.Content)
	if r.Abi != "" {
		fmt.Printf("abi:      %s\n", r.Abi)
	}
}
