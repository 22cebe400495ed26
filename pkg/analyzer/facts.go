package analyzer

import (
	"fmt"
	"go/types"

	"golang.org/x/tools/go/ssa"
)

// LockTypeFact marks a type as a //irq:lock or //irq:lockguard type, so
// a downstream package that declares a global or local of an imported
// annotated type is still recognized without repeating the directive.
type LockTypeFact struct {
	IsGuard bool
}

func (*LockTypeFact) AFact() {}

func (f *LockTypeFact) String() string {
	if f.IsGuard {
		return "LockTypeFact{guard}"
	}
	return "LockTypeFact{lock}"
}

// IsrEntryFact marks a function as a //irq:isr entry, so a caller
// package that invokes an imported ISR entry point still treats the
// call as interrupt context.
type IsrEntryFact struct{}

func (*IsrEntryFact) AFact() {}

func (*IsrEntryFact) String() string { return "IsrEntryFact" }

// IrqExitFact records a function's interrupt-enablement state at exit,
// letting a caller's ISR Analyzer pass fold in an imported callee's
// result instead of treating it as unanalyzed (Bottom).
type IrqExitFact struct {
	State int
}

func (*IrqExitFact) AFact() {}

func (f *IrqExitFact) String() string {
	return fmt.Sprintf("IrqExitFact{%s}", IrqState(f.State))
}

// importLockTypeFacts scans every directly imported package's exported
// type names for an attached LockTypeFact and merges hits into the
// annotation-derived lock/guard type sets.
func (ctx *passContext) importLockTypeFacts(lockTypes, guardTypes map[*types.Named]bool) {
	if len(ctx.pass.Analyzer.FactTypes) == 0 {
		return
	}
	for _, imp := range ctx.pass.Pkg.Imports() {
		scope := imp.Scope()
		for _, name := range scope.Names() {
			tn, ok := scope.Lookup(name).(*types.TypeName)
			if !ok {
				continue
			}
			var fact LockTypeFact
			if !ctx.pass.ImportObjectFact(tn, &fact) {
				continue
			}
			named, ok := tn.Type().(*types.Named)
			if !ok {
				continue
			}
			if fact.IsGuard {
				guardTypes[named] = true
			} else {
				lockTypes[named] = true
			}
		}
	}
}

// exportLockTypeFacts exports LockTypeFact for every exported,
// locally-defined annotated type.
func (ctx *passContext) exportLockTypeFacts(info *ProgramLockInfo) {
	if len(ctx.pass.Analyzer.FactTypes) == 0 {
		return
	}
	for named := range info.LockTypes {
		if named.Obj().Pkg() != ctx.pass.Pkg || !named.Obj().Exported() {
			continue
		}
		ctx.pass.ExportObjectFact(named.Obj(), &LockTypeFact{IsGuard: false})
	}
	for named := range info.LockGuardTypes {
		if named.Obj().Pkg() != ctx.pass.Pkg || !named.Obj().Exported() {
			continue
		}
		ctx.pass.ExportObjectFact(named.Obj(), &LockTypeFact{IsGuard: true})
	}
}

// importIsrEntryFacts scans imported packages' exported functions for
// an attached IsrEntryFact and, where the SSA program already has a
// *ssa.Function stand-in for that callee, merges it into entries.
func (ctx *passContext) importIsrEntryFacts(entries map[*ssa.Function]bool) {
	if len(ctx.pass.Analyzer.FactTypes) == 0 {
		return
	}
	for _, imp := range ctx.pass.Pkg.Imports() {
		scope := imp.Scope()
		for _, name := range scope.Names() {
			fo, ok := scope.Lookup(name).(*types.Func)
			if !ok {
				continue
			}
			var fact IsrEntryFact
			if !ctx.pass.ImportObjectFact(fo, &fact) {
				continue
			}
			if fn := ctx.ssaPkg.Prog.FuncValue(fo); fn != nil {
				entries[fn] = true
			}
		}
	}
}

// exportIsrEntryFacts exports IsrEntryFact for every exported,
// locally-defined ISR entry point.
func (ctx *passContext) exportIsrEntryFacts(entries map[*ssa.Function]bool) {
	if len(ctx.pass.Analyzer.FactTypes) == 0 {
		return
	}
	for fn := range entries {
		fo, ok := fn.Object().(*types.Func)
		if !ok || fo.Pkg() != ctx.pass.Pkg || !fo.Exported() {
			continue
		}
		ctx.pass.ExportObjectFact(fo, &IsrEntryFact{})
	}
}

// importIrqExitFact looks up an imported callee's exit IrqState,
// exported by the package that defines it.
func (ctx *passContext) importIrqExitFact(fn *ssa.Function) (IrqState, bool) {
	if len(ctx.pass.Analyzer.FactTypes) == 0 {
		return IrqBottom, false
	}
	fo, ok := fn.Object().(*types.Func)
	if !ok {
		return IrqBottom, false
	}
	var fact IrqExitFact
	if !ctx.pass.ImportObjectFact(fo, &fact) {
		return IrqBottom, false
	}
	return IrqState(fact.State), true
}

// exportIrqFacts exports IrqExitFact for every exported, locally
// analyzed function; an //irq:irqapi function exports the state its
// annotation sets, not the state derived from its body.
func (ctx *passContext) exportIrqFacts(info *ProgramIsrInfo) {
	if len(ctx.pass.Analyzer.FactTypes) == 0 {
		return
	}
	for fn, fi := range info.FuncInfos {
		fo, ok := fn.Object().(*types.Func)
		if !ok || fo.Pkg() != ctx.pass.Pkg || !fo.Exported() {
			continue
		}
		state := fi.ExitIrqState
		if kind, ok := ctx.annotations.irqAPIs[fn]; ok {
			state = IrqMustBeDisabled
			if kind == intrEnable {
				state = IrqMayBeEnabled
			}
		}
		ctx.pass.ExportObjectFact(fo, &IrqExitFact{State: int(state)})
	}
}
