// Package solc drives the external solc compiler (or accepts its
// pre-produced combined-JSON output) and parses it into the runtime
// bytecode, source map, and ABI the core analysis pipeline consumes. This
// is supporting/driver code, analogous to the teacher's
// common/compiler package talking to solc, and explicitly outside the
// detector's core scope (spec §6).
package solc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/log"
)

// Contract is one compiled contract's artifacts, as produced by
// `solc --combined-json bin-runtime,srcmap-runtime,abi`.
type Contract struct {
	Name           string
	RuntimeBinHex  string
	SrcMapRuntime  string
	ABI            abi.ABI
	RawABI         json.RawMessage
}

// combinedJSON mirrors the subset of solc's --combined-json output this
// package consumes.
type combinedJSON struct {
	Contracts map[string]struct {
		BinRuntime    string          `json:"bin-runtime"`
		SrcMapRuntime string          `json:"srcmap-runtime"`
		ABI           json.RawMessage `json:"abi"`
	} `json:"contracts"`
	Version string `json:"version"`
}

// ParseCombinedJSON parses solc's --combined-json output, keyed by
// "<file>:<contract>", into Contract records keyed by contract name alone.
func ParseCombinedJSON(data []byte) (map[string]*Contract, error) {
	var raw combinedJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("solc: parsing combined json: %w", err)
	}

	out := make(map[string]*Contract, len(raw.Contracts))
	for key, c := range raw.Contracts {
		name := key
		if idx := strings.LastIndex(key, ":"); idx >= 0 {
			name = key[idx+1:]
		}
		contract := &Contract{
			Name:          name,
			RuntimeBinHex: c.BinRuntime,
			SrcMapRuntime: c.SrcMapRuntime,
			RawABI:        c.ABI,
		}
		if len(c.ABI) > 0 {
			abiJSON := []byte(c.ABI)
			// Older solc releases emit the ABI as a JSON-encoded string
			// rather than as an array.
			var s string
			if json.Unmarshal(c.ABI, &s) == nil {
				abiJSON = []byte(s)
			}
			parsed, err := abi.JSON(bytes.NewReader(abiJSON))
			if err != nil {
				log.Warn("solc: failed to parse ABI fragment", "contract", name, "err", err)
			} else {
				contract.ABI = parsed
			}
		}
		out[name] = contract
	}
	return out, nil
}

// Compile invokes the solc binary against sourcePath and parses its
// combined-JSON output. The driver, not the core analysis, owns this
// boundary (spec §5's "external compiler" synchronous call).
func Compile(ctx context.Context, solcPath, sourcePath, version string) (map[string]*Contract, error) {
	args := []string{"--combined-json", "bin-runtime,srcmap-runtime,abi"}
	if overwrite, _ := VersionFeatures(version); overwrite {
		args = append(args, "--overwrite")
	}
	args = append(args, sourcePath)

	cmd := exec.CommandContext(ctx, solcPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("solc: compile failed: %w: %s", err, stderr.String())
	}
	return ParseCombinedJSON(stdout.Bytes())
}

// VersionFeatures reports, for a dotted solc version string, whether
// --overwrite and the `assert` builtin are available (spec §6's
// version-compatibility rule). Both gates apply to the 0.4.x line: solc
// gained --overwrite and assert only from specific 0.4.x point releases
// onward; every later major/minor line supports both.
func VersionFeatures(version string) (supportsOverwrite, supportsAssert bool) {
	major, minor, patch, ok := parseVersion(version)
	if !ok {
		// Unknown/unparsable version: assume the newer, safer feature set
		// rather than silently dropping --overwrite on a modern compiler.
		return true, true
	}
	if major > 0 || minor > 4 {
		return true, true
	}
	if minor < 4 {
		return false, false
	}
	// 0.4.x: --overwrite landed at 0.4.6, assert at 0.4.10.
	return patch >= 6, patch >= 10
}

func parseVersion(v string) (major, minor, patch int, ok bool) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if idx := strings.IndexAny(v, "-+"); idx >= 0 {
		v = v[:idx]
	}
	parts := strings.Split(v, ".")
	if len(parts) < 2 {
		return 0, 0, 0, false
	}
	nums := make([]int, 3)
	for i := 0; i < len(parts) && i < 3; i++ {
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			return 0, 0, 0, false
		}
		nums[i] = n
	}
	return nums[0], nums[1], nums[2], true
}
