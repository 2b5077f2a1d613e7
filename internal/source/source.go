// Package source implements the line-oriented Solidity source parser
// (C4): function/modifier spans, visibility/mutability, modifier lists,
// constructor/fallback identification, and per-line usage of nominated
// key variables. Line-oriented scanning is an intentional fidelity
// tradeoff (spec §9) rather than a full grammar-based parser; the
// contract is the shape of Function/Usage, not the scanning technique.
package source

import (
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/log"
)

// Visibility is a function's declared visibility keyword.
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityExternal Visibility = "external"
	VisibilityInternal Visibility = "internal"
	VisibilityPrivate  Visibility = "private"
)

// Mutability is a function's declared state-mutability keyword.
type Mutability string

const (
	MutabilityDefault  Mutability = "default"
	MutabilityView     Mutability = "view"
	MutabilityPure     Mutability = "pure"
	MutabilityConstant Mutability = "constant"
	MutabilityPayable  Mutability = "payable"
)

// Operation classifies how a key variable is used at a given line.
type Operation string

const (
	OpRead        Operation = "read"
	OpWrite       Operation = "write"
	OpDeclaration Operation = "declaration"
)

// FunctionAttrs is the subset of Function fields replicated onto each
// Usage, so downstream components never need to join back to Function.
type FunctionAttrs struct {
	Visibility          Visibility
	Mutability          Mutability
	Modifiers           []string
	IsConstructor       bool
	IsFallbackOrReceive bool
	IsModifierDef       bool
}

// HasAccessControlModifier reports whether any modifier name looks like
// an authorization guard (spec §4.4 heuristic (a)).
func (a FunctionAttrs) HasAccessControlModifier() bool {
	for _, m := range a.Modifiers {
		if accessControlModifierRe.MatchString(m) {
			return true
		}
	}
	return false
}

// Function is a parsed function, modifier, constructor, or
// fallback/receive declaration.
type Function struct {
	Name                string
	Contract            string
	StartLine, EndLine  int
	Visibility          Visibility
	Mutability          Mutability
	Modifiers           []string
	IsConstructor       bool
	IsFallbackOrReceive bool
	IsModifierDef       bool
	Body                string // text between the outermost braces
}

// Attrs projects a Function onto the smaller FunctionAttrs carried by
// each Usage.
func (f *Function) Attrs() FunctionAttrs {
	return FunctionAttrs{
		Visibility:          f.Visibility,
		Mutability:          f.Mutability,
		Modifiers:           append([]string(nil), f.Modifiers...),
		IsConstructor:       f.IsConstructor,
		IsFallbackOrReceive: f.IsFallbackOrReceive,
		IsModifierDef:       f.IsModifierDef,
	}
}

// HasBodyAccessControl reports whether the function body contains a
// require/assert against the caller's identity (spec §4.4 heuristic (b)).
func (f *Function) HasBodyAccessControl() bool {
	return accessControlBodyRe.MatchString(f.Body)
}

// HasConditional reports whether the body contains a require, assert,
// if, or while statement at all (used for has_source_guard, spec §4.8).
func (f *Function) HasConditional() bool {
	return conditionalKeywordRe.MatchString(f.Body)
}

// Usage is a single occurrence of a key variable at a source line.
type Usage struct {
	Variable           string
	Line               int
	Function           string
	Op                 Operation
	HasSourceCondition bool
	FuncAttrs          FunctionAttrs
}

// SensitiveUsage records a line invoking a sensitive sink opcode
// (selfdestruct/suicide/delegatecall/callcode), independent of key
// variable membership (spec §4.8 addendum).
type SensitiveUsage struct {
	Sink       string
	Line       int
	Function   string
	Code       string
	FuncAttrs  FunctionAttrs
}

// ParseResult is everything the Source Parser produces.
type ParseResult struct {
	Contracts      []string
	Functions      []*Function
	Usages         map[string][]Usage
	SensitiveLines []SensitiveUsage
	Lines          []string // raw source lines, 1-indexed via Lines[line-1]
}

var (
	contractDeclRe = regexp.MustCompile(`^\s*(?:abstract\s+)?(contract|interface|library)\s+(\w+)`)
	functionDeclRe = regexp.MustCompile(`^\s*function\s*(\w*)\s*\(`)
	modifierDeclRe = regexp.MustCompile(`^\s*modifier\s+(\w+)\s*\(`)
	receiveDeclRe  = regexp.MustCompile(`^\s*receive\s*\(`)
	constructorDeclRe = regexp.MustCompile(`^\s*constructor\s*\(`)

	visibilityWords = map[string]Visibility{
		"public": VisibilityPublic, "external": VisibilityExternal,
		"internal": VisibilityInternal, "private": VisibilityPrivate,
	}
	mutabilityWords = map[string]Mutability{
		"view": MutabilityView, "pure": MutabilityPure,
		"constant": MutabilityConstant, "payable": MutabilityPayable,
	}
	returnsRe = regexp.MustCompile(`\breturns\s*\([^)]*\)`)

	accessControlModifierRe = regexp.MustCompile(`(?i)^(only|is|require|restricted|auth)`)
	accessControlBodyRe     = regexp.MustCompile(`(?i)(require|assert)\s*\(\s*(msg\.sender|tx\.origin)\s*==\s*\w+|(require|assert)\s*\(\s*\w+\s*==\s*(msg\.sender|tx\.origin)\s*\)`)
	conditionalKeywordRe    = regexp.MustCompile(`\b(require|assert|if|while)\b`)

	sensitiveSinkRe = regexp.MustCompile(`\b(selfdestruct|suicide|delegatecall|callcode)\b`)

	assignmentOps = []string{">>=", "<<=", "+=", "-=", "*=", "/=", "%=", "|=", "&=", "^=", "="}
)

// Parse scans raw Solidity source text and extracts functions and
// per-line usages of the nominated key variables.
func Parse(src string, keyVars []string) (*ParseResult, error) {
	lines := strings.Split(src, "\n")
	res := &ParseResult{Usages: make(map[string][]Usage), Lines: lines}

	varRes := make(map[string]*regexp.Regexp, len(keyVars))
	for _, v := range keyVars {
		varRes[v] = regexp.MustCompile(`\b` + regexp.QuoteMeta(v) + `\b`)
	}

	contracts := scanContracts(lines)
	for _, c := range contracts {
		res.Contracts = append(res.Contracts, c.name)
	}

	functions := scanFunctions(lines, contracts)
	res.Functions = functions

	declared := make(map[string]bool, len(keyVars))
	depth := 0
	var contractStack []*contractScope
	for lineNo := 1; lineNo <= len(lines); lineNo++ {
		line := lines[lineNo-1]
		for _, c := range contracts {
			if c.braceDepthAtStart == depth && c.declLine == lineNo {
				contractStack = append(contractStack, c)
			}
		}

		fn := functionAt(functions, lineNo)
		opens, closes := strings.Count(line, "{"), strings.Count(line, "}")

		if fn == nil {
			curContract := currentContract(contractStack, depth)
			for v, re := range varRes {
				if !re.MatchString(line) {
					continue
				}
				if !declared[v] && curContract != "" {
					declared[v] = true
					res.Usages[v] = append(res.Usages[v], Usage{
						Variable: v, Line: lineNo, Op: OpDeclaration,
					})
				}
			}
		} else {
			attrs := fn.Attrs()
			for v, re := range varRes {
				locs := re.FindAllStringIndex(line, -1)
				for _, loc := range locs {
					op := classifyOccurrence(line, loc[1])
					res.Usages[v] = append(res.Usages[v], Usage{
						Variable:           v,
						Line:               lineNo,
						Function:           fn.Name,
						Op:                 op,
						HasSourceCondition: surroundingHasCondition(lines, lineNo),
						FuncAttrs:          attrs,
					})
				}
			}
			if sensitiveSinkRe.MatchString(line) {
				m := sensitiveSinkRe.FindString(line)
				res.SensitiveLines = append(res.SensitiveLines, SensitiveUsage{
					Sink: strings.ToLower(m), Line: lineNo, Function: fn.Name,
					Code: strings.TrimSpace(line), FuncAttrs: attrs,
				})
			}
		}

		depth += opens - closes
		for len(contractStack) > 0 && depth <= contractStack[len(contractStack)-1].braceDepthAtStart {
			contractStack = contractStack[:len(contractStack)-1]
		}
	}

	log.Debug("source: parsed contract", "contracts", len(res.Contracts), "functions", len(res.Functions))
	return res, nil
}

type contractScope struct {
	name              string
	declLine          int
	braceDepthAtStart int
}

func scanContracts(lines []string) []*contractScope {
	depth := 0
	var out []*contractScope
	for i, line := range lines {
		if m := contractDeclRe.FindStringSubmatch(line); m != nil {
			out = append(out, &contractScope{name: m[2], declLine: i + 1, braceDepthAtStart: depth})
		}
		depth += strings.Count(line, "{") - strings.Count(line, "}")
	}
	return out
}

func currentContract(stack []*contractScope, depth int) string {
	for i := len(stack) - 1; i >= 0; i-- {
		if depth == stack[i].braceDepthAtStart+1 {
			return stack[i].name
		}
	}
	if len(stack) > 0 {
		return stack[len(stack)-1].name
	}
	return ""
}

// scanFunctions finds every function/modifier/constructor/fallback
// declaration and its span, using brace-depth matching so nested braces
// and single-line bodies both resolve correctly.
func scanFunctions(lines []string, contracts []*contractScope) []*Function {
	var out []*Function
	contractNames := make(map[string]bool, len(contracts))
	for _, c := range contracts {
		contractNames[c.name] = true
	}

	contractStack := []string{}
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		for _, c := range contracts {
			if c.declLine == i+1 {
				contractStack = append(contractStack, c.name)
			}
		}

		isModifier := modifierDeclRe.MatchString(line)
		isFunction := functionDeclRe.MatchString(line)
		isReceive := receiveDeclRe.MatchString(line)
		isCtor := constructorDeclRe.MatchString(line)

		if isModifier || isFunction || isReceive || isCtor {
			fn := &Function{
				Contract:  topContract(contractStack),
				StartLine: i + 1,
				IsModifierDef: isModifier,
			}
			header, headerEndIdx := collectHeader(lines, i)

			switch {
			case isModifier:
				fn.Name = modifierDeclRe.FindStringSubmatch(header)[1]
			case isReceive:
				fn.Name = "receive"
				fn.IsFallbackOrReceive = true
			case isCtor:
				fn.Name = "constructor"
				fn.IsConstructor = true
			default:
				m := functionDeclRe.FindStringSubmatch(header)
				fn.Name = m[1]
				if fn.Name == "" {
					fn.IsFallbackOrReceive = true
				} else if fn.Name == "receive" {
					fn.IsFallbackOrReceive = true
				} else if contractNames[fn.Name] && fn.Name == fn.Contract {
					fn.IsConstructor = true
				}
			}

			parseHeaderAttrs(fn, header)

			endLine := findBlockEnd(lines, headerEndIdx)
			fn.EndLine = endLine + 1
			fn.Body = extractBody(lines, headerEndIdx, endLine)

			out = append(out, fn)
			i = endLine
		}
	}
	return out
}

func topContract(stack []string) string {
	if len(stack) == 0 {
		return ""
	}
	return stack[len(stack)-1]
}

// collectHeader joins lines starting at i until a '{' or ';' is found (a
// function header may itself span several lines), returning the header
// text truncated right before that character -- so body content sharing
// the brace line never leaks into modifier-list parsing -- and the index
// of the line it was found on.
func collectHeader(lines []string, i int) (string, int) {
	var b strings.Builder
	for j := i; j < len(lines); j++ {
		line := lines[j]
		if idx := strings.IndexAny(line, "{;"); idx >= 0 {
			b.WriteString(line[:idx])
			b.WriteString(" ")
			return b.String(), j
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String(), len(lines) - 1
}

// findBlockEnd returns the line index (0-based) where the function body
// opened on headerLineIdx closes, by counting braces from the opening
// '{'. If the header ended in ';' (interface/abstract declaration with
// no body), the function "ends" on the header line itself.
func findBlockEnd(lines []string, headerLineIdx int) int {
	text := lines[headerLineIdx]
	if !strings.Contains(text, "{") {
		return headerLineIdx
	}
	depth := 0
	started := false
	for j := headerLineIdx; j < len(lines); j++ {
		line := lines[j]
		for k := 0; k < len(line); k++ {
			switch line[k] {
			case '{':
				depth++
				started = true
			case '}':
				depth--
			}
		}
		if started && depth <= 0 {
			return j
		}
	}
	return len(lines) - 1
}

func extractBody(lines []string, headerLineIdx, endLineIdx int) string {
	if endLineIdx < headerLineIdx {
		return ""
	}
	body := strings.Join(lines[headerLineIdx:endLineIdx+1], "\n")
	if open := strings.Index(body, "{"); open >= 0 {
		body = body[open+1:]
	}
	if end := strings.LastIndex(body, "}"); end >= 0 {
		body = body[:end]
	}
	return body
}

func parseHeaderAttrs(fn *Function, header string) {
	// Strip the parameter list and any `returns(...)` clause so their
	// identifiers are never mistaken for modifier invocations.
	stripped := stripParens(header)
	stripped = returnsRe.ReplaceAllString(stripped, " ")

	fn.Visibility = VisibilityPublic
	fn.Mutability = MutabilityDefault

	fields := strings.FieldsFunc(stripped, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '{' || r == ';' || r == ','
	})
	for _, f := range fields {
		f = strings.TrimSuffix(f, "(")
		if idx := strings.Index(f, "("); idx >= 0 {
			f = f[:idx]
		}
		lower := strings.ToLower(f)
		if v, ok := visibilityWords[lower]; ok {
			fn.Visibility = v
			continue
		}
		if m, ok := mutabilityWords[lower]; ok {
			fn.Mutability = m
			continue
		}
		if f == fn.Name {
			continue
		}
		switch lower {
		case "function", "modifier", "constructor", "receive", "override", "virtual", "":
			continue
		}
		if isIdentifier(f) {
			fn.Modifiers = append(fn.Modifiers, f)
		}
	}
}

// stripParens removes the (possibly multi-line) parenthesised parameter
// list following the function/modifier name, leaving the visibility /
// mutability / modifier-list tail intact.
func stripParens(header string) string {
	start := strings.Index(header, "(")
	if start < 0 {
		return header
	}
	depth := 0
	for i := start; i < len(header); i++ {
		switch header[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return header[:start] + " " + header[i+1:]
			}
		}
	}
	return header
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (i > 0 && r >= '0' && r <= '9') {
			continue
		}
		return false
	}
	return true
}

func functionAt(functions []*Function, line int) *Function {
	for _, f := range functions {
		if line >= f.StartLine && line <= f.EndLine {
			return f
		}
	}
	return nil
}

// classifyOccurrence decides whether the variable occurrence ending at
// byte offset end (exclusive) in line is a write (assignment target) or
// a plain read, by inspecting what immediately follows the identifier.
func classifyOccurrence(line string, end int) Operation {
	rest := strings.TrimLeft(line[end:], " \t")
	for _, op := range assignmentOps {
		if strings.HasPrefix(rest, op) {
			if op == "=" {
				// reject == (comparison)
				if len(rest) > 1 && rest[1] == '=' {
					return OpRead
				}
			}
			return OpWrite
		}
	}
	return OpRead
}

func surroundingHasCondition(lines []string, lineNo int) bool {
	for _, l := range []int{lineNo - 1, lineNo, lineNo + 1} {
		if l < 1 || l > len(lines) {
			continue
		}
		if conditionalKeywordRe.MatchString(lines[l-1]) {
			return true
		}
	}
	return false
}
