// Package storage implements the Storage Resolver (C5): for each key
// variable it determines a declaration slot using source declaration
// order and simple type sizing -- one variable per 32-byte slot at this
// fidelity, per spec §4.5.
package storage

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/log"
)

// TypeTag is the coarse declared-type classification used for slot
// sizing.
type TypeTag string

const (
	TypeScalar  TypeTag = "scalar"
	TypeMapping TypeTag = "mapping"
	TypeArray   TypeTag = "array"
	TypeStruct  TypeTag = "struct"
)

// Binding is a resolved (or unresolved) key-variable slot.
type Binding struct {
	Name     string
	Contract string
	Type     TypeTag
	Slot     int  // -1 when unknown/ambiguous
	Unknown  bool
}

var (
	contractDeclRe  = regexp.MustCompile(`^\s*(?:abstract\s+)?(contract|interface|library)\s+(\w+)`)
	funcLikeDeclRe  = regexp.MustCompile(`^\s*(function|modifier|constructor|receive)\b`)
	mappingPrefixRe = regexp.MustCompile(`^mapping\s*\(`)
	fixedArrayRe    = regexp.MustCompile(`\[\s*(\d+)\s*\]\s*$`)
	dynArrayRe      = regexp.MustCompile(`\[\s*\]\s*$`)
	nonDeclPrefixRe = regexp.MustCompile(`^(event|using|enum|struct|import|pragma)\b`)
	wordConstantRe  = regexp.MustCompile(`\b(constant|immutable)\b`)
)

type declInfo struct {
	Type     TypeTag
	ArrayLen int
}

// Resolve scans src for state-variable declarations within
// primaryContract (the contract the user is analysing) in file order,
// sizing each declaration and returning a Binding for every name in
// keyVars that was found. Names not declared in primaryContract, or
// declared more than once there, come back with Unknown set.
//
// Storage-slot resolution does not walk the inheritance graph (spec
// §9): primaryContract is taken at face value as "the most-derived
// contract" rather than computed from a `is`/`extends` chain.
func Resolve(src string, primaryContract string, keyVars []string) map[string]*Binding {
	lines := strings.Split(src, "\n")
	if primaryContract == "" {
		primaryContract = lastContractName(lines)
	}

	want := make(map[string]bool, len(keyVars))
	for _, v := range keyVars {
		want[v] = true
	}
	out := make(map[string]*Binding, len(keyVars))
	seen := make(map[string]bool, len(keyVars))

	depth := 0
	var containerDepth = -1 // brace depth of primaryContract's own body, or -1 if not yet inside it
	inContract := false
	skipUntilDepth := -1
	nextSlot := 0

	for _, raw := range lines {
		trimmed := strings.TrimSpace(raw)
		opens, closes := strings.Count(raw, "{"), strings.Count(raw, "}")

		if skipUntilDepth == -1 {
			if m := contractDeclRe.FindStringSubmatch(raw); m != nil {
				if m[2] == primaryContract {
					inContract = true
					containerDepth = depth
				} else if inContract && depth <= containerDepth {
					inContract = false
				}
			} else if inContract && funcLikeDeclRe.MatchString(raw) {
				if strings.Contains(raw, "{") {
					skipUntilDepth = depth
				}
			} else if inContract && depth == containerDepth+1 && trimmed != "" && trimmed != "}" {
				if name, info, ok := parseDeclaration(trimmed); ok {
					if seen[name] {
						if want[name] {
							out[name] = &Binding{Name: name, Contract: primaryContract, Unknown: true, Slot: -1}
						}
					} else {
						seen[name] = true
						if wordConstantRe.MatchString(trimmed) {
							if want[name] {
								out[name] = &Binding{Name: name, Contract: primaryContract, Type: info.Type, Unknown: true, Slot: -1}
							}
						} else {
							slot := nextSlot
							nextSlot += slotsFor(info)
							if want[name] {
								out[name] = &Binding{Name: name, Contract: primaryContract, Type: info.Type, Slot: slot}
							}
						}
					}
				}
			}
		}

		depth += opens - closes
		if skipUntilDepth != -1 && depth <= skipUntilDepth {
			skipUntilDepth = -1
		}
		if inContract && depth <= containerDepth {
			inContract = false
		}
	}

	for _, v := range keyVars {
		if _, ok := out[v]; !ok {
			out[v] = &Binding{Name: v, Contract: primaryContract, Unknown: true, Slot: -1}
		}
	}

	log.Debug("storage: resolved bindings", "contract", primaryContract, "count", len(out))
	return out
}

func lastContractName(lines []string) string {
	name := ""
	for _, l := range lines {
		if m := contractDeclRe.FindStringSubmatch(l); m != nil {
			name = m[2]
		}
	}
	return name
}

// parseDeclaration extracts the declared variable name and a coarse type
// tag from a single trimmed source line. It returns ok=false for lines
// that are not state-variable declarations at all.
func parseDeclaration(trimmed string) (string, declInfo, bool) {
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), ";")
	for i := 0; i < len(trimmed); i++ {
		// the first '=' that is not part of a mapping's "=>" starts the initializer
		if trimmed[i] == '=' && (i+1 >= len(trimmed) || trimmed[i+1] != '>') {
			trimmed = strings.TrimSpace(trimmed[:i])
			break
		}
	}
	if trimmed == "" || nonDeclPrefixRe.MatchString(trimmed) {
		return "", declInfo{}, false
	}

	var typeText, rest string
	if mappingPrefixRe.MatchString(trimmed) {
		depth, j := 0, strings.Index(trimmed, "(")
		for ; j < len(trimmed); j++ {
			switch trimmed[j] {
			case '(':
				depth++
			case ')':
				depth--
			}
			if depth == 0 {
				break
			}
		}
		if j >= len(trimmed) {
			return "", declInfo{}, false
		}
		typeText, rest = trimmed[:j+1], strings.TrimSpace(trimmed[j+1:])
	} else {
		fields := strings.Fields(trimmed)
		if len(fields) < 2 {
			return "", declInfo{}, false
		}
		typeText, rest = fields[0], strings.Join(fields[1:], " ")
	}

	restFields := strings.Fields(rest)
	if len(restFields) == 0 {
		return "", declInfo{}, false
	}
	name := restFields[len(restFields)-1]
	if !isIdentifierName(name) {
		return "", declInfo{}, false
	}

	info := declInfo{Type: TypeScalar}
	switch {
	case mappingPrefixRe.MatchString(typeText):
		info.Type = TypeMapping
	case fixedArrayRe.MatchString(typeText):
		info.Type = TypeArray
		if m := fixedArrayRe.FindStringSubmatch(typeText); m != nil {
			n, _ := strconv.Atoi(m[1])
			info.ArrayLen = n
		}
	case dynArrayRe.MatchString(typeText):
		info.Type = TypeArray
	}
	return name, info, true
}

func slotsFor(info declInfo) int {
	switch info.Type {
	case TypeMapping:
		return 1
	case TypeArray:
		if info.ArrayLen > 0 {
			return info.ArrayLen
		}
		return 1
	default:
		return 1
	}
}

func isIdentifierName(s string) bool {
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
