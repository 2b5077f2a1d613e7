// Package guard implements the Guard Classifier (C7): for each TaintPath
// produced by the taint engine, it walks every instruction on the path and
// collects evidence tags describing what, if anything, bytecode-level
// control flow does to guard the tainted write (spec §4.7).
package guard

import (
	"sort"

	"github.com/ethereum/go-ethereum/core/vm"

	"github.com/almightyfish/Solidity-ACCheck/internal/ir"
	"github.com/almightyfish/Solidity-ACCheck/internal/taint"
)

const (
	TagConditionalJump = "conditional-jump"
	TagComparison      = "comparison"
	TagRevert          = "revert"
	TagAccessControl   = "access-control"
)

var comparisonOps = map[vm.OpCode]bool{
	vm.EQ: true, vm.LT: true, vm.GT: true, vm.SLT: true, vm.SGT: true,
}

// Evidence is the tag set and total evidence count the classifier derived
// for one TaintPath.
type Evidence struct {
	Tags  []string
	Count int
}

// HasTags reports whether any bytecode-level guard evidence was found.
func (e Evidence) HasTags() bool { return len(e.Tags) > 0 }

// Classify walks every instruction in every block along p and collects
// guard tags. A JUMPI anywhere on the path tags conditional-jump; a
// comparison opcode tags comparison; a REVERT reachable on the branch of a
// path JUMPI not taken by p tags revert; CALLER/ORIGIN co-occurring with a
// comparison on the same path synthesises access-control.
func Classify(p taint.TaintPath, blocks []*ir.BasicBlock, cfg *ir.CFG) Evidence {
	byStart := make(map[uint64]*ir.BasicBlock, len(blocks))
	for _, b := range blocks {
		byStart[b.Start] = b
	}

	tagSet := make(map[string]bool)
	count := 0
	sawIdentity := false

	for i, start := range p.Blocks {
		b := byStart[start]
		if b == nil {
			continue
		}
		for _, inst := range b.Instructions {
			switch {
			case inst.Op == vm.JUMPI:
				tagSet[TagConditionalJump] = true
				count++
			case comparisonOps[inst.Op]:
				tagSet[TagComparison] = true
				count++
			case inst.Op == vm.CALLER || inst.Op == vm.ORIGIN:
				sawIdentity = true
			}
		}

		if b.Terminator().Op != vm.JUMPI {
			continue
		}
		var onPath uint64
		if i+1 < len(p.Blocks) {
			onPath = p.Blocks[i+1]
		}
		for _, succ := range cfg.Succs[start] {
			if succ == onPath {
				continue
			}
			if sb := byStart[succ]; sb != nil && sb.Terminator().Op == vm.REVERT {
				tagSet[TagRevert] = true
				count++
			}
		}
	}

	if sawIdentity && tagSet[TagComparison] {
		tagSet[TagAccessControl] = true
		count++
	}

	tags := make([]string, 0, len(tagSet))
	for t := range tagSet {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return Evidence{Tags: tags, Count: count}
}
