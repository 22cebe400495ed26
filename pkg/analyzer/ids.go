package analyzer

import (
	"fmt"
	"go/token"

	"golang.org/x/tools/go/ssa"
)

// DefID is a stable identifier for a top-level item: a function or an
// SSA global holding a lock instance. Two DefIDs are equal iff they name
// the same ssa.Member.
type DefID struct {
	fn  *ssa.Function
	glb *ssa.Global
}

func funcDefID(fn *ssa.Function) DefID   { return DefID{fn: fn} }
func globalDefID(g *ssa.Global) DefID    { return DefID{glb: g} }
func (d DefID) isZero() bool             { return d.fn == nil && d.glb == nil }
func (d DefID) Function() *ssa.Function  { return d.fn }
func (d DefID) Global() *ssa.Global      { return d.glb }

// String renders a DefID for diagnostics only; never used for identity.
func (d DefID) String() string {
	switch {
	case d.fn != nil:
		return d.fn.String()
	case d.glb != nil:
		return d.glb.String()
	default:
		return "<invalid DefID>"
	}
}

// Local is an intra-procedural SSA value: a register, parameter, or the
// result of an instruction.
type Local = ssa.Value

// BasicBlock is a position in a function's control-flow graph.
type BasicBlock = *ssa.BasicBlock

// Location is a position within a function: a basic block plus an
// instruction index within that block. The analyzer treats the
// terminator as the instruction at index len(block.Instrs)-1.
type Location struct {
	Block *ssa.BasicBlock
	Index int
}

func locationOf(block *ssa.BasicBlock, instr ssa.Instruction) Location {
	for i, in := range block.Instrs {
		if in == instr {
			return Location{Block: block, Index: i}
		}
	}
	return Location{Block: block, Index: len(block.Instrs) - 1}
}

func (l Location) String() string {
	if l.Block == nil {
		return "<nil location>"
	}
	return fmt.Sprintf("%s.%d", l.Block, l.Index)
}

// Span is a source range used for diagnostics only.
type Span = token.Pos

// CallSite identifies a single static call instruction.
type CallSite struct {
	CallerDefID DefID
	Location    Location
}

func (cs CallSite) String() string {
	return fmt.Sprintf("%s@%s", cs.CallerDefID, cs.Location)
}
