// Command accheck is the driver for the access-control bytecode checker:
// it invokes solc, runs the C1-C9 analysis pipeline, and writes
// final_report.json plus intermediate artifacts (spec §6).
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/almightyfish/Solidity-ACCheck/internal/disasm"
	"github.com/almightyfish/Solidity-ACCheck/internal/guard"
	"github.com/almightyfish/Solidity-ACCheck/internal/ir"
	"github.com/almightyfish/Solidity-ACCheck/internal/report"
	"github.com/almightyfish/Solidity-ACCheck/internal/source"
	"github.com/almightyfish/Solidity-ACCheck/internal/srcmap"
	"github.com/almightyfish/Solidity-ACCheck/internal/storage"
	"github.com/almightyfish/Solidity-ACCheck/internal/taint"
	"github.com/almightyfish/Solidity-ACCheck/internal/verdict"
	"github.com/almightyfish/Solidity-ACCheck/pkg/solc"
)

// exit codes per spec §6.
const (
	exitOK               = 0
	exitCompilationError = 1
	exitMalformedInput   = 2
)

// analysisTimeout bounds the wall time of the solc invocation. The
// analysis pipeline that runs after compilation is not bounded by it.
const analysisTimeout = 2 * time.Minute

var (
	errNoKeyVars = errors.New("accheck: at least one --key-vars entry is required")
)

func main() {
	app := &cli.App{
		Name:  "accheck",
		Usage: "static access-control checker for compiled Solidity contracts",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "contract", Usage: "path to the Solidity source file", Required: true},
			&cli.StringFlag{Name: "key-vars", Usage: "comma-separated key state-variable names", Required: true},
			&cli.StringFlag{Name: "solc-version", Usage: "solc compiler version string", Required: true},
			&cli.StringFlag{Name: "solc-path", Usage: "path to the solc binary", Value: "solc"},
			&cli.StringFlag{Name: "output-dir", Usage: "directory for reports and intermediate artifacts", Value: "./output"},
			&cli.BoolFlag{Name: "verbose", Usage: "enable debug-level logging"},
			&cli.StringFlag{Name: "log.level", Usage: "log verbosity: trace, debug, info, warn, error, crit", Value: "info"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		log.Error("accheck: fatal", "err", err)
		os.Exit(exitMalformedInput)
	}
}

func run(c *cli.Context) error {
	configureLogging(c)

	contractPath := c.String("contract")
	keyVars := splitKeyVars(c.String("key-vars"))
	if len(keyVars) == 0 {
		return cli.Exit(errNoKeyVars, exitMalformedInput)
	}

	srcBytes, err := os.ReadFile(contractPath)
	if err != nil {
		return cli.Exit(fmt.Errorf("accheck: reading %s: %w", contractPath, err), exitMalformedInput)
	}

	ctx, cancel := context.WithTimeout(c.Context, analysisTimeout)
	defer cancel()

	outDir := c.String("output-dir")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return cli.Exit(fmt.Errorf("accheck: creating output dir: %w", err), exitMalformedInput)
	}

	contracts, err := solc.Compile(ctx, c.String("solc-path"), contractPath, c.String("solc-version"))
	if err != nil {
		log.Error("accheck: compilation failed", "err", err)
		return writeCompilationFailure(contractPath, keyVars, outDir, err)
	}

	rep, err := analyse(string(srcBytes), contractPath, keyVars, contracts, outDir)
	if err != nil {
		return cli.Exit(err, exitCompilationError)
	}

	if err := writeJSON(filepath.Join(outDir, "final_report.json"), rep); err != nil {
		return cli.Exit(err, exitMalformedInput)
	}
	log.Info("accheck: analysis complete", "contract", contractPath, "dangerous", rep.Summary.DangerousCount, "suspicious", rep.Summary.SuspiciousCount)
	return nil
}

// writeCompilationFailure emits an empty analysis with an explicit
// compilation_failed marker rather than skipping report emission (spec
// §7: "does not throw from within analysis components"), then still
// returns the exit-1 compilation-error code.
func writeCompilationFailure(contractPath string, keyVars []string, outDir string, compileErr error) error {
	rep := report.Build(contractPath, keyVars, nil, nil, 0, false)
	rep.Summary.CompilationFailed = true
	if err := writeJSON(filepath.Join(outDir, "final_report.json"), rep); err != nil {
		log.Error("accheck: failed to write compilation-failure report", "err", err)
	}
	return cli.Exit(compileErr, exitCompilationError)
}

// analyse runs C1-C9 over one contract's source and compiled artifacts.
func analyse(src, contractPath string, keyVars []string, contracts map[string]*solc.Contract, outDir string) (*report.Report, error) {
	srcRes, err := source.Parse(src, keyVars)
	if err != nil {
		return nil, fmt.Errorf("accheck: parsing source: %w", err)
	}

	primary := ""
	if len(srcRes.Contracts) > 0 {
		primary = srcRes.Contracts[len(srcRes.Contracts)-1]
	}
	bindings := storage.Resolve(src, primary, keyVars)
	contract := pickContract(contracts, primary)

	var (
		blocks []*ir.BasicBlock
		cfg    = &ir.CFG{Succs: map[uint64][]uint64{}, Dynamic: map[uint64]bool{}}
		paths  = map[string][]taint.TaintPath{}
		mapEntries []srcmap.Entry
		disasmRes = &disasm.Result{}
	)
	if contract != nil && contract.RuntimeBinHex != "" {
		code, err := decodeHex(contract.RuntimeBinHex)
		if err != nil {
			log.Warn("accheck: malformed runtime bytecode", "err", err)
		} else {
			disasmRes = disasm.Decode(code)
			blocks = ir.BuildBlocks(disasmRes.Instructions)
			cfg = ir.BuildCFG(blocks, disasmRes.JumpDests)
			paths = taint.FindTaints(blocks, cfg, bindings)
		}
		mapEntries = srcmap.Parse(contract.SrcMapRuntime)
	}

	findings := verdict.Build(srcRes, disasmRes.Instructions, blocks, cfg, bindings, paths, mapEntries)
	annotateSelectors(findings, contract)

	dynamicJumps := 0
	for _, d := range cfg.Dynamic {
		if d {
			dynamicJumps++
		}
	}
	incomplete := false
	for _, ps := range paths {
		if len(ps) >= 256 {
			incomplete = true
		}
	}

	rep := report.Build(contractPath, keyVars, bindings, findings, dynamicJumps, incomplete)

	_ = writeJSON(filepath.Join(outDir, "disassembly.json"), report.Disassembly(disasmRes))
	_ = writeJSON(filepath.Join(outDir, "cfg.json"), report.CFGEdges(cfg))
	_ = writeJSON(filepath.Join(outDir, "storage.json"), report.StorageLayout(bindings))
	_ = writeJSON(filepath.Join(outDir, "taint_paths.json"), paths)
	_ = writeJSON(filepath.Join(outDir, "guard_evidence.json"), guardEvidenceDump(paths, blocks, cfg))

	return rep, nil
}

// annotateSelectors attaches each finding's 4-byte ABI selector to its
// Function field when the compiled contract's ABI has a matching method
// (spec §6, "used only to resolve function selectors in the reports" --
// selectors never drive analysis, only decorate the report).
func annotateSelectors(findings []verdict.Finding, contract *solc.Contract) {
	if contract == nil || len(contract.ABI.Methods) == 0 {
		return
	}
	for i, f := range findings {
		m, ok := contract.ABI.Methods[f.Function]
		if !ok || f.Function == "" {
			continue
		}
		findings[i].Function = fmt.Sprintf("%s [0x%s]", f.Function, common.Bytes2Hex(m.ID))
	}
}

func guardEvidenceDump(paths map[string][]taint.TaintPath, blocks []*ir.BasicBlock, cfg *ir.CFG) map[string][]guard.Evidence {
	out := make(map[string][]guard.Evidence, len(paths))
	for v, ps := range paths {
		for _, p := range ps {
			out[v] = append(out[v], guard.Classify(p, blocks, cfg))
		}
	}
	return out
}

// pickContract prefers the compiled contract matching the source's
// most-derived (last-declared) contract name, falling back to an
// arbitrary entry when no such match exists (spec §4.5's "primary
// contract" notion, applied to a possibly multi-contract compile unit).
func pickContract(contracts map[string]*solc.Contract, primary string) *solc.Contract {
	if c, ok := contracts[primary]; ok {
		return c
	}
	for _, c := range contracts {
		return c
	}
	return nil
}

func splitKeyVars(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// decodeHex validates and decodes the compiler's runtime-bytecode hex
// string. Malformed solc output is a system-boundary condition worth a
// real decode error, so this stays on encoding/hex rather than
// common.Hex2Bytes, which silently swallows its error.
func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	return hex.DecodeString(s)
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("accheck: creating %s: %w", path, err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func configureLogging(c *cli.Context) {
	lvl := log.LevelInfo
	if c.Bool("verbose") {
		lvl = log.LevelDebug
	}
	if parsed, ok := parseLogLevel(c.String("log.level")); ok && c.IsSet("log.level") {
		lvl = parsed
	}
	handler := log.NewTerminalHandlerWithLevel(os.Stderr, lvl, false)
	log.SetDefault(log.NewLogger(handler))
}

func parseLogLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return log.LevelTrace, true
	case "debug":
		return log.LevelDebug, true
	case "info":
		return log.LevelInfo, true
	case "warn", "warning":
		return log.LevelWarn, true
	case "error":
		return log.LevelError, true
	case "crit", "critical":
		return log.LevelCrit, true
	default:
		return 0, false
	}
}
