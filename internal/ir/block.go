package ir

// BasicBlock is a contiguous instruction range [Start, End) in byte
// offsets. It always starts at offset 0 or at a JUMPDEST, and always ends
// at a control-transfer instruction or immediately before the next
// JUMPDEST.
type BasicBlock struct {
	Start        uint64
	End          uint64
	Instructions []Instruction
}

// Terminator returns the block's final instruction, or the zero value if
// the block is empty (which never happens for a block produced by
// BuildBlocks on non-empty input).
func (b *BasicBlock) Terminator() Instruction {
	if len(b.Instructions) == 0 {
		return Instruction{}
	}
	return b.Instructions[len(b.Instructions)-1]
}

func instrSize(i Instruction) uint64 {
	return 1 + uint64(len(i.Arg))
}

// BuildBlocks partitions a decoded instruction sequence into basic blocks
// at JUMPDEST boundaries and after control-transfer instructions (C2).
func BuildBlocks(instrs []Instruction) []*BasicBlock {
	if len(instrs) == 0 {
		return nil
	}

	var blocks []*BasicBlock
	start := 0
	flush := func(end int) {
		if end <= start {
			return
		}
		seg := instrs[start:end]
		last := seg[len(seg)-1]
		blocks = append(blocks, &BasicBlock{
			Start:        seg[0].Offset,
			End:          last.Offset + instrSize(last),
			Instructions: append([]Instruction(nil), seg...),
		})
	}

	for i, inst := range instrs {
		if i > start && inst.JumpDest {
			flush(i)
			start = i
		}
		if IsTerminator(inst.Op) {
			flush(i + 1)
			start = i + 1
		}
	}
	flush(len(instrs))
	return blocks
}
