package analyzer

import (
	"golang.org/x/sync/errgroup"
	"golang.org/x/tools/go/ssa"
)

// IrqState is the interrupt-enablement lattice: Bottom (no information),
// MustBeDisabled (every path disables interrupts), MayBeEnabled (at
// least one path leaves them enabled).
type IrqState int

const (
	IrqBottom IrqState = iota
	IrqMustBeDisabled
	IrqMayBeEnabled
)

func (s IrqState) String() string {
	switch s {
	case IrqMustBeDisabled:
		return "MustBeDisabled"
	case IrqMayBeEnabled:
		return "MayBeEnabled"
	default:
		return "Bottom"
	}
}

// unionIrq is the lattice join: Bottom is the identity, MustBeDisabled
// joined with MustBeDisabled stays MustBeDisabled, any other combination
// collapses to MayBeEnabled.
func unionIrq(a, b IrqState) IrqState {
	if a == IrqBottom {
		return b
	}
	if b == IrqBottom {
		return a
	}
	if a == IrqMustBeDisabled && b == IrqMustBeDisabled {
		return IrqMustBeDisabled
	}
	return IrqMayBeEnabled
}

// FuncIrqInfo is the ISR Analyzer's per-function result: the interrupt
// state at function exit, and the state at the start of every block.
type FuncIrqInfo struct {
	Fn            *ssa.Function
	ExitIrqState  IrqState
	PreBlockState map[*ssa.BasicBlock]IrqState
}

// ProgramIsrInfo is the ISR Analyzer stage's output.
type ProgramIsrInfo struct {
	IsrEntries map[*ssa.Function]bool
	// IsrFuncs is IsrEntries closed under forward call reachability: an
	// ISR entry and everything it may call, transitively. Computed here
	// (diverging from the original, which leaves this a documented TODO —
	// DESIGN.md Open Question 3).
	IsrFuncs  map[*ssa.Function]bool
	FuncInfos map[*ssa.Function]*FuncIrqInfo
}

func (p *ProgramIsrInfo) isIsrContext(fn *ssa.Function) bool {
	return p.IsrFuncs[fn]
}

// analyzeIsrs runs the ISR Analyzer stage: collect ISR entries and their
// reachability closure, then run a per-function intra-procedural
// fixed-point (parallelized across functions with no unresolved callee
// dependency) and a recursion-guarded inter-procedural outer walk.
//
// Grounded on isr_analyzer.rs's FuncIsrAnalyzer transfer function and
// IsrAnalyzer.collect_isr / analyze_interrupt_set.
func (ctx *passContext) analyzeIsrs() *ProgramIsrInfo {
	info := &ProgramIsrInfo{
		IsrEntries: ctx.annotations.isrEntries,
		FuncInfos:  make(map[*ssa.Function]*FuncIrqInfo),
	}
	ctx.importIsrEntryFacts(info.IsrEntries)
	info.IsrFuncs = closeOverCallees(info.IsrEntries, ctx.srcFuncs)

	// Seed the shared cache with every leaf function's fixed point,
	// computed concurrently, before the sequential recursive walk below
	// revisits them (a cache hit, not re-analyzed).
	analyzed := analyzeLeafFunctionsParallel(ctx.srcFuncs, ctx.annotations.irqAPIs, ctx.importIrqExitFact)
	recursionStack := make(map[*ssa.Function]bool)
	for _, fn := range ctx.srcFuncs {
		analyzeFunctionIrq(fn, ctx.annotations.irqAPIs, analyzed, recursionStack, ctx.importIrqExitFact)
	}
	for fn, fi := range analyzed {
		info.FuncInfos[fn] = fi
	}
	return info
}

// closeOverCallees computes the forward reachability closure from a set
// of entry functions over the static call graph discovered by walking
// each function's SSA body — adapted from the teacher's concurrency.go
// forward-call-graph BFS, repurposed from "concurrent entrypoint
// detection" to "ISR reachability" (see DESIGN.md).
func closeOverCallees(entries map[*ssa.Function]bool, all []*ssa.Function) map[*ssa.Function]bool {
	closure := make(map[*ssa.Function]bool)
	var worklist []*ssa.Function
	for fn := range entries {
		closure[fn] = true
		worklist = append(worklist, fn)
	}
	for len(worklist) > 0 {
		fn := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		for _, callee := range directCallees(fn) {
			if !closure[callee] {
				closure[callee] = true
				worklist = append(worklist, callee)
			}
		}
	}
	return closure
}

// directCallees returns every statically resolvable callee reached by a
// direct ssa.Call or ssa.Go instruction in fn (including its anonymous
// closures). Indirect calls are dropped (DESIGN.md Open Question 7).
func directCallees(fn *ssa.Function) []*ssa.Function {
	var out []*ssa.Function
	for _, block := range fn.Blocks {
		for _, instr := range block.Instrs {
			call, ok := instr.(ssa.CallInstruction)
			if !ok {
				continue
			}
			if callee := calleeOf(call); callee != nil {
				out = append(out, callee)
			}
		}
	}
	for _, anon := range fn.AnonFuncs {
		out = append(out, anon)
		out = append(out, directCallees(anon)...)
	}
	return out
}

// analyzeFunctionIrq computes FuncIrqInfo for fn, recursing into callees
// first (depth-first, via recursionStack to cut cycles — an
// inter-procedural SCC is never iterated to a fixed point, a documented
// soundness gap carried from the original, DESIGN.md Open Question 4).
func analyzeFunctionIrq(
	fn *ssa.Function,
	irqAPIs map[*ssa.Function]intrApiKind,
	analyzed map[*ssa.Function]*FuncIrqInfo,
	recursionStack map[*ssa.Function]bool,
	importFact func(*ssa.Function) (IrqState, bool),
) *FuncIrqInfo {
	if fi, ok := analyzed[fn]; ok {
		return fi
	}
	if recursionStack[fn] {
		return nil
	}
	if len(fn.Blocks) == 0 {
		if state, ok := importFact(fn); ok {
			fi := &FuncIrqInfo{Fn: fn, ExitIrqState: state, PreBlockState: make(map[*ssa.BasicBlock]IrqState)}
			analyzed[fn] = fi
			return fi
		}
		return nil
	}

	recursionStack[fn] = true
	for _, callee := range directCallees(fn) {
		analyzeFunctionIrq(callee, irqAPIs, analyzed, recursionStack, importFact)
	}

	// blockExit drives convergence (the state after a block's own
	// instructions run, used to feed successors); blockEntry is what
	// PreBlockState publishes — the state observed on entry to the
	// block, before any of its instructions run (matching
	// PreBlockLockset's entry semantics, since the LDG Constructor
	// pairs the two at the same granularity).
	blockExit := make(map[*ssa.BasicBlock]IrqState)
	blockEntry := make(map[*ssa.BasicBlock]IrqState)
	exit := IrqBottom

	// Forward intra-procedural passes over fn.Blocks in stored order,
	// repeated until no block's exit state changes; loops converge
	// because IrqState only ever grows
	// (Bottom -> MustBeDisabled/MayBeEnabled -> MayBeEnabled).
	order := fn.Blocks
	changed := true
	for changed {
		changed = false
		for _, block := range order {
			in := IrqBottom
			for _, pred := range block.Preds {
				in = unionIrq(in, blockExit[pred])
			}
			if block == fn.Blocks[0] {
				in = IrqBottom
			}
			blockEntry[block] = in
			out := in
			for _, instr := range block.Instrs {
				call, ok := instr.(ssa.CallInstruction)
				if !ok {
					continue
				}
				callee := calleeOf(call)
				if callee == nil {
					continue
				}
				if kind, ok := irqAPIs[callee]; ok {
					switch kind {
					case intrEnable:
						out = IrqMayBeEnabled
					case intrDisable:
						out = IrqMustBeDisabled
					}
					continue
				}
				if calleeInfo, ok := analyzed[callee]; ok {
					out = unionIrq(out, calleeInfo.ExitIrqState)
				}
			}
			if prev, ok := blockExit[block]; !ok || prev != out {
				blockExit[block] = out
				changed = true
			}
			if isReturnBlock(block) {
				exit = unionIrq(exit, out)
			}
		}
	}

	fi := &FuncIrqInfo{Fn: fn, ExitIrqState: exit, PreBlockState: blockEntry}
	analyzed[fn] = fi
	delete(recursionStack, fn)
	return fi
}

func isReturnBlock(b *ssa.BasicBlock) bool {
	if len(b.Instrs) == 0 {
		return false
	}
	_, ok := b.Instrs[len(b.Instrs)-1].(*ssa.Return)
	return ok
}

// analyzeLeafFunctionsParallel is the errgroup-parallelized variant of
// the per-function leaf stage: functions with no statically resolved
// callee at all run their intra-procedural fixed point concurrently. Wired per SPEC_FULL.md §11 to exercise
// golang.org/x/sync/errgroup for the ISR Analyzer's independent leaves.
func analyzeLeafFunctionsParallel(
	fns []*ssa.Function,
	irqAPIs map[*ssa.Function]intrApiKind,
	importFact func(*ssa.Function) (IrqState, bool),
) map[*ssa.Function]*FuncIrqInfo {
	var leaves []*ssa.Function
	for _, fn := range fns {
		if len(directCallees(fn)) == 0 {
			leaves = append(leaves, fn)
		}
	}

	results := make([]*FuncIrqInfo, len(leaves))
	var g errgroup.Group
	for i, fn := range leaves {
		i, fn := i, fn
		g.Go(func() error {
			analyzed := make(map[*ssa.Function]*FuncIrqInfo)
			recursion := make(map[*ssa.Function]bool)
			results[i] = analyzeFunctionIrq(fn, irqAPIs, analyzed, recursion, importFact)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[*ssa.Function]*FuncIrqInfo, len(leaves))
	for i, fn := range leaves {
		if results[i] != nil {
			out[fn] = results[i]
		}
	}
	return out
}
