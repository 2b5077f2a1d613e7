// Package report implements the Report Builder (C9): it assembles the
// final, deterministically ordered JSON artifacts from the verdicts C8
// produced, plus the raw intermediate dumps used for debugging (spec §4.9,
// §6, and the supplemented intermediate-artifact list in SPEC_FULL §7).
package report

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/exp/slices"

	"github.com/almightyfish/Solidity-ACCheck/internal/disasm"
	"github.com/almightyfish/Solidity-ACCheck/internal/ir"
	"github.com/almightyfish/Solidity-ACCheck/internal/storage"
	"github.com/almightyfish/Solidity-ACCheck/internal/verdict"
)

// Location is one reported line, matching the shape of spec §6's
// final_report.json location entries.
type Location struct {
	Line                   int      `json:"line"`
	Code                   string   `json:"code"`
	Function               string   `json:"function"`
	HasSourceCondition     bool     `json:"has_source_condition"`
	HasBytecodeCondition   bool     `json:"has_bytecode_condition"`
	BytecodeConditionTypes []string `json:"bytecode_condition_types"`
	Confidence             string   `json:"confidence"`
	DetectionMethod        string   `json:"detection_method"`
	Warning                string   `json:"warning,omitempty"`
}

// VariableResult is one key variable's entry in final_report.json.
type VariableResult struct {
	Variable             string     `json:"variable"`
	StorageSlot          string     `json:"storage_slot"`
	HasVulnerability     bool       `json:"has_vulnerability"`
	DangerousPathsCount  int        `json:"dangerous_paths_count"`
	SuspiciousPathsCount int        `json:"suspicious_paths_count"`
	DangerousLocations   []Location `json:"dangerous_locations"`
	SuspiciousLocations  []Location `json:"suspicious_locations"`
}

// Summary is the report's top-level counts, including the error-taxonomy
// counters from spec §7.
type Summary struct {
	DangerousCount    int  `json:"dangerous_count"`
	SuspiciousCount   int  `json:"suspicious_count"`
	DynamicJumps      int  `json:"dynamic_jumps"`
	Incomplete        bool `json:"incomplete"`
	CompilationFailed bool `json:"compilation_failed"`
}

// Report is the root object of final_report.json.
type Report struct {
	ContractPath   string           `json:"contract_path"`
	KeyVariables   []string         `json:"key_variables"`
	Summary        Summary          `json:"summary"`
	Results        []VariableResult `json:"results"`
	SensitiveSinks []Location       `json:"sensitive_sinks,omitempty"`
}

// Build assembles the final report from C8's findings, grouped and sorted
// per key variable (ascending by line, per spec §4.9's determinism rule).
func Build(
	contractPath string,
	keyVars []string,
	bindings map[string]*storage.Binding,
	findings []verdict.Finding,
	dynamicJumps int,
	incomplete bool,
) *Report {
	byVar := make(map[string][]verdict.Finding, len(keyVars))
	var sensitive []verdict.Finding
	for _, f := range findings {
		if f.Kind == "sensitive-sink" {
			sensitive = append(sensitive, f)
			continue
		}
		byVar[f.Variable] = append(byVar[f.Variable], f)
	}

	rep := &Report{ContractPath: contractPath, KeyVariables: append([]string(nil), keyVars...)}
	for _, v := range keyVars {
		vr := VariableResult{Variable: v, StorageSlot: "unknown"}
		if b, ok := bindings[v]; ok && !b.Unknown {
			vr.StorageSlot = strconv.Itoa(b.Slot)
		}

		fs := append([]verdict.Finding(nil), byVar[v]...)
		slices.SortStableFunc(fs, func(a, b verdict.Finding) int { return a.Line - b.Line })

		for _, f := range fs {
			loc := toLocation(f)
			switch f.Verdict {
			case verdict.LevelDangerous:
				vr.DangerousLocations = append(vr.DangerousLocations, loc)
				vr.DangerousPathsCount++
			case verdict.LevelSuspicious:
				vr.SuspiciousLocations = append(vr.SuspiciousLocations, loc)
				vr.SuspiciousPathsCount++
			}
		}
		vr.HasVulnerability = vr.DangerousPathsCount > 0 || vr.SuspiciousPathsCount > 0
		rep.Results = append(rep.Results, vr)
		rep.Summary.DangerousCount += vr.DangerousPathsCount
		rep.Summary.SuspiciousCount += vr.SuspiciousPathsCount
	}

	slices.SortStableFunc(sensitive, func(a, b verdict.Finding) int { return a.Line - b.Line })
	for _, f := range sensitive {
		rep.SensitiveSinks = append(rep.SensitiveSinks, toLocation(f))
		if f.Verdict == verdict.LevelDangerous {
			rep.Summary.DangerousCount++
		} else if f.Verdict == verdict.LevelSuspicious {
			rep.Summary.SuspiciousCount++
		}
	}

	rep.Summary.DynamicJumps = dynamicJumps
	rep.Summary.Incomplete = incomplete
	return rep
}

func toLocation(f verdict.Finding) Location {
	method := "taint"
	if f.Kind != "taint" {
		method = f.Kind
	}
	return Location{
		Line:                   f.Line,
		Code:                   f.Snippet,
		Function:               f.Function,
		HasSourceCondition:     f.HasSourceGuard,
		HasBytecodeCondition:   f.HasBytecodeGuard,
		BytecodeConditionTypes: f.BytecodeTags,
		Confidence:             string(f.Confidence),
		DetectionMethod:        method,
		Warning:                f.Reason,
	}
}

// DisassemblyDump is the raw per-instruction listing for disassembly.json.
type DisassemblyDump struct {
	Offset   uint64 `json:"offset"`
	Mnemonic string `json:"mnemonic"`
	PushData string `json:"push_data,omitempty"`
}

// Disassembly renders a disasm.Result into its JSON dump shape.
func Disassembly(res *disasm.Result) []DisassemblyDump {
	out := make([]DisassemblyDump, 0, len(res.Instructions))
	for _, in := range res.Instructions {
		d := DisassemblyDump{Offset: in.Offset, Mnemonic: in.Mnemonic()}
		if len(in.Arg) > 0 {
			d.PushData = common.Bytes2Hex(in.Arg)
		}
		out = append(out, d)
	}
	return out
}

// CFGEdgeDump is one block's successor-edge record for cfg.json.
type CFGEdgeDump struct {
	Start     uint64   `json:"start"`
	Succs     []uint64 `json:"succs"`
	Dynamic   bool     `json:"dynamic"`
}

// CFGEdges renders a CFG into its JSON dump shape, in ascending block-start
// order.
func CFGEdges(cfg *ir.CFG) []CFGEdgeDump {
	starts := make([]uint64, 0, len(cfg.Succs))
	for s := range cfg.Succs {
		starts = append(starts, s)
	}
	slices.Sort(starts)
	out := make([]CFGEdgeDump, 0, len(starts))
	for _, s := range starts {
		out = append(out, CFGEdgeDump{Start: s, Succs: cfg.Succs[s], Dynamic: cfg.Dynamic[s]})
	}
	return out
}

// StorageDump is one key variable's resolved (or unresolved) binding for
// storage.json.
type StorageDump struct {
	Variable string `json:"variable"`
	Contract string `json:"contract"`
	Type     string `json:"type"`
	Slot     string `json:"slot"`
}

// StorageLayout renders resolved bindings into their JSON dump shape, sorted
// by variable name for determinism.
func StorageLayout(bindings map[string]*storage.Binding) []StorageDump {
	names := make([]string, 0, len(bindings))
	for n := range bindings {
		names = append(names, n)
	}
	slices.Sort(names)
	out := make([]StorageDump, 0, len(names))
	for _, n := range names {
		b := bindings[n]
		slot := "unknown"
		if !b.Unknown {
			slot = strconv.Itoa(b.Slot)
		}
		out = append(out, StorageDump{Variable: n, Contract: b.Contract, Type: string(b.Type), Slot: slot})
	}
	return out
}
