// Package verdict implements the second half of C8: it fuses taint paths
// (C6), guard evidence (C7), and source usages (C4) into a verdict per
// (key-variable, source-line) location, applies the filtering rule, the
// source-only supplementary check, and the sensitive-sink addendum (spec
// §4.8).
package verdict

import (
	"fmt"

	"github.com/almightyfish/Solidity-ACCheck/internal/guard"
	"github.com/almightyfish/Solidity-ACCheck/internal/ir"
	"github.com/almightyfish/Solidity-ACCheck/internal/source"
	"github.com/almightyfish/Solidity-ACCheck/internal/srcmap"
	"github.com/almightyfish/Solidity-ACCheck/internal/storage"
	"github.com/almightyfish/Solidity-ACCheck/internal/taint"
)

type Level string

const (
	LevelSafe        Level = "safe"
	LevelSuspicious  Level = "suspicious"
	LevelDangerous   Level = "dangerous"
)

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Finding is one reported location: a taint-confirmed key-variable write, a
// source-only supplementary finding, or a sensitive-sink call.
type Finding struct {
	Variable         string
	Line             int
	Function         string
	Snippet          string
	Kind             string // "taint", "source-supplement", "sensitive-sink"
	BytecodeTags     []string
	HasBytecodeGuard bool
	HasSourceGuard   bool
	Verdict          Level
	Confidence       Confidence
	Reason           string
}

// Build fuses C6 taint paths, C7 guard evidence, and C4 source usages into
// the final per-location verdicts.
func Build(
	src *source.ParseResult,
	instrs []ir.Instruction,
	blocks []*ir.BasicBlock,
	cfg *ir.CFG,
	bindings map[string]*storage.Binding,
	paths map[string][]taint.TaintPath,
	mapEntries []srcmap.Entry,
) []Finding {
	offsetIdx := make(map[uint64]int, len(instrs))
	for i, in := range instrs {
		offsetIdx[in.Offset] = i
	}
	fullSrc := joinLines(src.Lines)
	lineOf := func(offset uint64) int {
		idx, ok := offsetIdx[offset]
		if !ok || idx >= len(mapEntries) {
			return 0
		}
		return srcmap.LineOf(fullSrc, mapEntries[idx].S)
	}
	funcByName := make(map[string]*source.Function, len(src.Functions))
	for _, f := range src.Functions {
		funcByName[f.Name] = f
	}

	type key struct {
		variable string
		line     int
	}
	evidenceAt := make(map[key]guard.Evidence)
	reachedAt := make(map[key]bool)

	for v, ps := range paths {
		for _, p := range ps {
			if !p.Tainted {
				continue
			}
			line := lineOf(p.Instr)
			if line == 0 {
				continue
			}
			k := key{v, line}
			reachedAt[k] = true
			evidenceAt[k] = mergeEvidence(evidenceAt[k], guard.Classify(p, blocks, cfg))
		}
	}

	var out []Finding
	for variable, usages := range src.Usages {
		for _, u := range usages {
			if u.Op != source.OpWrite || isFiltered(u.FuncAttrs) {
				continue
			}
			k := key{variable, u.Line}
			ev := evidenceAt[k]
			hasBytecodeGuard := reachedAt[k] && ev.HasTags()
			hasSourceGuard := u.HasSourceCondition || len(u.FuncAttrs.Modifiers) > 0
			if fn := funcByName[u.Function]; fn != nil {
				hasSourceGuard = hasSourceGuard || fn.HasConditional()
			}
			accessControl := containsTag(ev.Tags, guard.TagAccessControl)

			if reachedAt[k] {
				level, conf := fuse(hasBytecodeGuard, hasSourceGuard, accessControl)
				out = append(out, Finding{
					Variable:         variable,
					Line:             u.Line,
					Function:         u.Function,
					Snippet:          snippetAt(src.Lines, u.Line),
					Kind:             "taint",
					BytecodeTags:     ev.Tags,
					HasBytecodeGuard: hasBytecodeGuard,
					HasSourceGuard:   hasSourceGuard,
					Verdict:          level,
					Confidence:       conf,
					Reason:           reason(hasBytecodeGuard, hasSourceGuard, accessControl, ev.Tags),
				})
				continue
			}

			if !isPublicOrExternal(u.FuncAttrs) {
				continue
			}
			out = append(out, supplement(variable, u, hasSourceGuard, funcByName[u.Function]))
		}
	}

	for _, s := range src.SensitiveLines {
		level, conf := LevelDangerous, ConfidenceLow
		if hasAccessControl(s.FuncAttrs, funcByName[s.Function]) {
			level, conf = LevelSuspicious, ConfidenceMedium
		}
		out = append(out, Finding{
			Variable:   "",
			Line:       s.Line,
			Function:   s.Function,
			Snippet:    s.Code,
			Kind:       "sensitive-sink",
			Verdict:    level,
			Confidence: conf,
			Reason:     fmt.Sprintf("sensitive sink %q in function %q", s.Sink, s.Function),
		})
	}
	return out
}

// fuse implements the verdict table of spec §4.8.
func fuse(hasBytecodeGuard, hasSourceGuard, accessControlTag bool) (Level, Confidence) {
	switch {
	case hasBytecodeGuard && hasSourceGuard && accessControlTag:
		return LevelSafe, ConfidenceHigh
	case hasBytecodeGuard && hasSourceGuard:
		return LevelSuspicious, ConfidenceMedium
	case hasBytecodeGuard && accessControlTag:
		return LevelSuspicious, ConfidenceMedium
	case hasBytecodeGuard:
		return LevelSuspicious, ConfidenceLow
	case hasSourceGuard:
		return LevelSuspicious, ConfidenceMedium
	default:
		return LevelDangerous, ConfidenceLow
	}
}

// supplement synthesises a source-only finding for a write the taint
// engine never reached (spec §4.8 supplementary detection).
func supplement(variable string, u source.Usage, hasSourceGuard bool, fn *source.Function) Finding {
	level, conf := LevelSafe, ConfidenceHigh
	guarded := hasAccessControl(u.FuncAttrs, fn)
	switch {
	case !hasSourceGuard && !guarded:
		level, conf = LevelDangerous, ConfidenceLow
	case hasSourceGuard && !guarded:
		level, conf = LevelSuspicious, ConfidenceMedium
	}
	return Finding{
		Variable:       variable,
		Line:           u.Line,
		Function:       u.Function,
		Kind:           "source-supplement",
		HasSourceGuard: hasSourceGuard,
		Verdict:        level,
		Confidence:     conf,
		Reason:         "write not reached by taint analysis; classified from source alone",
	}
}

// hasAccessControl implements the full spec §4.4 definition: a matching
// modifier name, or a body require/assert against the caller's identity.
// fn may be nil when the owning function could not be resolved by name.
func hasAccessControl(a source.FunctionAttrs, fn *source.Function) bool {
	return a.HasAccessControlModifier() || (fn != nil && fn.HasBodyAccessControl())
}

func isFiltered(a source.FunctionAttrs) bool {
	return a.IsConstructor ||
		a.Mutability == source.MutabilityView ||
		a.Mutability == source.MutabilityPure ||
		a.Mutability == source.MutabilityConstant ||
		a.IsFallbackOrReceive ||
		a.IsModifierDef
}

func isPublicOrExternal(a source.FunctionAttrs) bool {
	return a.Visibility == source.VisibilityPublic || a.Visibility == source.VisibilityExternal
}

func mergeEvidence(a, b guard.Evidence) guard.Evidence {
	set := make(map[string]bool, len(a.Tags)+len(b.Tags))
	for _, t := range a.Tags {
		set[t] = true
	}
	for _, t := range b.Tags {
		set[t] = true
	}
	tags := make([]string, 0, len(set))
	for t := range set {
		tags = append(tags, t)
	}
	return guard.Evidence{Tags: sortedTags(tags), Count: a.Count + b.Count}
}

func sortedTags(tags []string) []string {
	for i := 1; i < len(tags); i++ {
		for j := i; j > 0 && tags[j-1] > tags[j]; j-- {
			tags[j-1], tags[j] = tags[j], tags[j-1]
		}
	}
	return tags
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func snippetAt(lines []string, line int) string {
	if line < 1 || line > len(lines) {
		return ""
	}
	return trimLeft(lines[line-1])
}

func trimLeft(s string) string {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	return s[i:]
}

func reason(hasBytecodeGuard, hasSourceGuard, accessControl bool, tags []string) string {
	switch {
	case hasBytecodeGuard && hasSourceGuard && accessControl:
		return "guarded by an access-control check confirmed at both source and bytecode level"
	case hasBytecodeGuard && !hasSourceGuard:
		return fmt.Sprintf("bytecode guard present (%v) but no corresponding source-level guard found", tags)
	case !hasBytecodeGuard && hasSourceGuard:
		return "source-level guard present but not confirmed by bytecode taint analysis"
	case !hasBytecodeGuard && !hasSourceGuard:
		return "tainted write reaches storage with no guard at either level"
	default:
		return "guard present but without an access-control signal"
	}
}

func joinLines(lines []string) string {
	total := 0
	for _, l := range lines {
		total += len(l) + 1
	}
	buf := make([]byte, 0, total)
	for _, l := range lines {
		buf = append(buf, l...)
		buf = append(buf, '\n')
	}
	return string(buf)
}
