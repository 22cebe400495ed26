package analyzer

import (
	"sort"
	"strings"

	"golang.org/x/tools/go/ssa"
)

// LockState is the per-lock acquisition lattice: Bottom (no
// information), MustNotHold (every path leaves it released),
// MayHold (at least one path may still hold it).
type LockState int

const (
	LockBottom LockState = iota
	LockMustNotHold
	LockMayHold
)

func joinLockState(a, b LockState) LockState {
	switch {
	case a == LockBottom:
		return b
	case b == LockBottom:
		return a
	case a == LockMayHold || b == LockMayHold:
		return LockMayHold
	default:
		return LockMustNotHold
	}
}

// LockSet is the dataflow value tracked at every program point: for
// each LockInstance, its LockState and the set of CallSites where it
// may have been acquired.
type LockSet struct {
	States    map[LockInstance]LockState
	LockSites map[LockInstance]map[CallSite]bool
}

func newLockSet() *LockSet {
	return &LockSet{States: make(map[LockInstance]LockState), LockSites: make(map[LockInstance]map[CallSite]bool)}
}

func (ls *LockSet) clone() *LockSet {
	out := newLockSet()
	for k, v := range ls.States {
		out.States[k] = v
	}
	for lock, sites := range ls.LockSites {
		cp := make(map[CallSite]bool, len(sites))
		for s := range sites {
			cp[s] = true
		}
		out.LockSites[lock] = cp
	}
	return out
}

// merge folds other into ls in place and reports whether ls changed.
func (ls *LockSet) merge(other *LockSet) bool {
	changed := false
	for lock, otherState := range other.States {
		cur, ok := ls.States[lock]
		joined := joinLockState(cur, otherState)
		if !ok || joined != cur {
			ls.States[lock] = joined
			changed = true
		}
	}
	for lock, sites := range other.LockSites {
		dst, ok := ls.LockSites[lock]
		if !ok {
			dst = make(map[CallSite]bool)
			ls.LockSites[lock] = dst
		}
		for s := range sites {
			if !dst[s] {
				dst[s] = true
				changed = true
			}
		}
	}
	return changed
}

func (ls *LockSet) updateState(lock LockInstance, state LockState) {
	ls.States[lock] = state
}

func (ls *LockSet) addCallSite(lock LockInstance, site CallSite) {
	if ls.LockSites[lock] == nil {
		ls.LockSites[lock] = make(map[CallSite]bool)
	}
	ls.LockSites[lock][site] = true
}

func (ls *LockSet) clearSites(lock LockInstance) {
	delete(ls.LockSites, lock)
}

func (ls *LockSet) equal(other *LockSet) bool {
	if len(ls.States) != len(other.States) {
		return false
	}
	for lock, state := range ls.States {
		if other.States[lock] != state {
			return false
		}
	}
	return true
}

// CallContext is the 1-call-site-sensitive context: either the default
// (program-entry) context, or a specific CallSite.
type CallContext struct {
	IsDefault bool
	Site      CallSite
}

var defaultCallContext = CallContext{IsDefault: true}

func placeContext(site CallSite) CallContext { return CallContext{Site: site} }

// FunctionLockSet is the Lock-Set Analyzer's per-function result.
// LockOperations maps each of the function's own lock-acquire sites to
// the exact LockSet held immediately before that acquire — recorded at
// the instruction, not approximated from block-boundary state.
type FunctionLockSet struct {
	Fn              *ssa.Function
	EntryLockset    map[CallContext]*LockSet
	ExitLockset     map[CallContext]*LockSet
	PreBlockLockset map[*ssa.BasicBlock]*LockSet
	LockOperations  map[LockSite]*LockSet
}

// LockSite pairs a LockInstance with the CallSite where it was acquired.
type LockSite struct {
	Lock LockInstance
	Site CallSite
}

func newFunctionLockSet(fn *ssa.Function) *FunctionLockSet {
	return &FunctionLockSet{
		Fn:              fn,
		EntryLockset:    make(map[CallContext]*LockSet),
		ExitLockset:     make(map[CallContext]*LockSet),
		PreBlockLockset: make(map[*ssa.BasicBlock]*LockSet),
		LockOperations:  make(map[LockSite]*LockSet),
	}
}

// ProgramLockSet is the Lock-Set Analyzer stage's output: every
// function's FunctionLockSet.
type ProgramLockSet map[*ssa.Function]*FunctionLockSet

// worklistItem is a (function, call context, incoming lockset) triple
// driven by analyzeLockSets's fixed-point worklist.
type worklistItem struct {
	fn      *ssa.Function
	ctx     CallContext
	lockset *LockSet
}

// analyzeLockSets runs the Lock-Set Analyzer stage: an outer worklist
// over (DefID, CallContext, LockSet) triples, each popped item running
// an intra-procedural forward dataflow over its function's blocks using
// the per-function LocalLockMap from the Lock Collector stage.
//
// Grounded on lockset_analyzer.rs's LockSetAnalyzer.run / FuncLockSetAnalyzer.
// The fuse defaults to 10 * the initial seed size, overridable via
// -irqdeadlock.fuse (SPEC_FULL.md §6.3).
func (ctx *passContext) analyzeLockSets(lockInfo *ProgramLockInfo, fuse int) ProgramLockSet {
	result := make(ProgramLockSet)

	var worklist []worklistItem
	for _, fn := range ctx.srcFuncs {
		if _, ok := lockInfo.Lockmap[fn]; !ok {
			continue
		}
		worklist = append(worklist, worklistItem{fn: fn, ctx: defaultCallContext, lockset: newLockSet()})
	}

	if fuse <= 0 {
		fuse = 10 * len(worklist)
	}
	iterations := fuse

	for iterations > 0 && len(worklist) > 0 {
		iterations--
		item := worklist[0]
		worklist = worklist[1:]

		fnInfo, ok := result[item.fn]
		if !ok {
			fnInfo = newFunctionLockSet(item.fn)
			result[item.fn] = fnInfo
		}
		entry, ok := fnInfo.EntryLockset[item.ctx]
		if !ok {
			entry = newLockSet()
			fnInfo.EntryLockset[item.ctx] = entry
		}
		entry.merge(item.lockset)

		exitChanged, influenced := runFuncLockSetPass(item.fn, item.ctx, lockInfo.Lockmap[item.fn], fnInfo, result)

		if exitChanged && !item.ctx.IsDefault {
			if callerInfo, ok := result[item.ctx.Site.CallerDefID.Function()]; ok {
				for ctxt, lockset := range callerInfo.EntryLockset {
					worklist = append(worklist, worklistItem{fn: item.ctx.Site.CallerDefID.Function(), ctx: ctxt, lockset: lockset.clone()})
				}
			}
		}
		for calleeFn, pair := range influenced {
			worklist = append(worklist, worklistItem{fn: calleeFn, ctx: pair.ctx, lockset: pair.lockset})
		}
	}

	ctx.warnIfFuseExceeded(worklist)
	return result
}

// warnIfFuseExceeded reports failure kind 4 (SPEC_FULL.md §7) as an
// analysis.Diagnostic naming the functions still pending in the
// worklist, not a log line: pkg/analyzer reports exclusively through
// pass.Reportf, never via slog (that stays in cmd/rtool only,
// SPEC_FULL.md §10).
func (ctx *passContext) warnIfFuseExceeded(pending []worklistItem) {
	if len(pending) == 0 || len(ctx.pass.Files) == 0 {
		return
	}
	seen := make(map[*ssa.Function]bool)
	var names []string
	for _, item := range pending {
		if !seen[item.fn] {
			seen[item.fn] = true
			names = append(names, item.fn.String())
		}
	}
	sort.Strings(names)
	ctx.pass.Reportf(ctx.pass.Files[0].Package,
		"lock-set worklist fuse exhausted before reaching a fixed point; still pending: %s", strings.Join(names, ", "))
}

type influencedCallee struct {
	ctx     CallContext
	lockset *LockSet
}

// runFuncLockSetPass runs one intra-procedural forward dataflow pass
// over fn's blocks for the given call context, updating fnInfo in
// place. Returns whether the exit lockset changed, and which callees'
// entry locksets were influenced by this pass.
//
// Grounded on FuncLockSetAnalyzerInner's Call/Drop/Return transfer
// functions, with Drop realized as a release-method call (DESIGN.md
// Open Question 1) and ssa.Go folded into the Call case (Open Question 2).
func runFuncLockSetPass(
	fn *ssa.Function,
	callCtx CallContext,
	lockmap LocalLockMap,
	fnInfo *FunctionLockSet,
	analyzed ProgramLockSet,
) (exitChanged bool, influenced map[*ssa.Function]influencedCallee) {
	influenced = make(map[*ssa.Function]influencedCallee)
	oldExit := fnInfo.ExitLockset[callCtx]
	exitGrew := false

	// blockExit is the convergence-tracked fixed point (lockset after a
	// block's own instructions run); blockEntry is what PreBlockLockset
	// actually publishes — the lockset an interrupt or a caller would
	// observe on entry to the block, before any of its instructions run.
	blockExit := make(map[*ssa.BasicBlock]*LockSet)
	blockEntry := make(map[*ssa.BasicBlock]*LockSet)
	entry := fnInfo.EntryLockset[callCtx]
	if entry == nil {
		entry = newLockSet()
	}

	changed := true
	for changed {
		changed = false
		for _, block := range fn.Blocks {
			in := newLockSet()
			if block == fn.Blocks[0] {
				in = entry.clone()
			}
			for _, pred := range block.Preds {
				if predOut, ok := blockExit[pred]; ok {
					in.merge(predOut)
				}
			}
			blockEntry[block] = in

			state := in.clone()
			for _, instr := range block.Instrs {
				switch instr.(type) {
				case *ssa.Call, *ssa.Go:
					call := instr.(ssa.CallInstruction)
					if !applyReleaseEffect(call, lockmap, state) {
						applyCallEffect(fn, call, lockmap, state, analyzed, influenced, fnInfo)
					}
				case *ssa.Return:
					cur := fnInfo.ExitLockset[callCtx]
					if cur == nil {
						cur = newLockSet()
						fnInfo.ExitLockset[callCtx] = cur
					}
					if cur.merge(state) {
						exitGrew = true
					}
				}
			}

			prev, ok := blockExit[block]
			if !ok || !prev.equal(state) {
				blockExit[block] = state
				changed = true
			}
		}
	}

	fnInfo.PreBlockLockset = blockEntry
	newExit := fnInfo.ExitLockset[callCtx]
	exitChanged = oldExit == nil || newExit == nil || exitGrew
	return exitChanged, influenced
}

// applyCallEffect implements the Call terminator's transfer function: if
// the call result is a lock-guard local, it's a lock-acquire; otherwise
// it merges the callee's exit lockset for this call's inner context.
// ssa.Go is folded into the same case as ssa.Call (DESIGN.md Open
// Question 2).
func applyCallEffect(
	caller *ssa.Function,
	call ssa.CallInstruction,
	lockmap LocalLockMap,
	state *LockSet,
	analyzed ProgramLockSet,
	influenced map[*ssa.Function]influencedCallee,
	fnInfo *FunctionLockSet,
) {
	instr := call.(ssa.Instruction)
	site := CallSite{CallerDefID: funcDefID(caller), Location: locationOf(blockOf(instr), instr)}

	if v, isVal := instr.(ssa.Value); isVal {
		if lock, ok := lockmap[v]; ok {
			fnInfo.LockOperations[LockSite{Lock: lock, Site: site}] = state.clone()
			state.updateState(lock, LockMayHold)
			state.addCallSite(lock, site)
			return
		}
	}

	callee := calleeOf(call)
	if callee == nil {
		return
	}
	inner := placeContext(site)
	if calleeInfo, ok := analyzed[callee]; ok {
		if exitSet, ok := calleeInfo.ExitLockset[inner]; ok {
			state.merge(exitSet)
		}
	}
	influenced[callee] = influencedCallee{ctx: inner, lockset: state.clone()}
}

// applyReleaseEffect models Go's absence of a Drop terminator: a call to
// a release method (Unlock/Release/Drop/Close) on a lock-guard local
// releases the corresponding lock (DESIGN.md Open Question 1). Returns
// true if the call was consumed as a release (so it is not also treated
// as an ordinary call/acquire).
func applyReleaseEffect(call ssa.CallInstruction, lockmap LocalLockMap, state *LockSet) bool {
	callee := calleeOf(call)
	if callee == nil || !isReleaseCall(callee.Name()) {
		return false
	}
	args := call.Common().Args
	if len(args) == 0 {
		return false
	}
	recv := canonicalizeBase(args[0])
	lock, ok := lockmap[recv]
	if !ok {
		return false
	}
	state.updateState(lock, LockMustNotHold)
	state.clearSites(lock)
	return true
}

func blockOf(instr ssa.Instruction) *ssa.BasicBlock {
	return instr.Block()
}
