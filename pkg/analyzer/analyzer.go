// Package analyzer implements irqdeadlock, a go/analysis pass that
// detects potential deadlocks between ordinary lock acquisition and
// interrupt-handler preemption: a lock held with interrupts enabled,
// where an ISR entry point (directly or transitively) tries to
// re-acquire the same lock.
package analyzer

import (
	"flag"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/buildssa"
	"golang.org/x/tools/go/ssa"
)

// Analyzer runs the five-stage pipeline: Lock Collector, ISR Analyzer,
// Lock-Set Analyzer, LDG Constructor, Deadlock Reporter.
var Analyzer = &analysis.Analyzer{
	Name:      "irqdeadlock",
	Doc:       "detects deadlocks between lock acquisition and interrupt-handler preemption",
	Run:       run,
	Requires:  []*analysis.Analyzer{buildssa.Analyzer},
	FactTypes: []analysis.Fact{(*LockTypeFact)(nil), (*IsrEntryFact)(nil), (*IrqExitFact)(nil)},
	Flags:     newFlags(),
}

func newFlags() flag.FlagSet {
	var fs flag.FlagSet
	fs.Int("irqdeadlock.fuse", 0, "lock-set worklist fuse; 0 selects 10x the initial seed size")
	fs.Bool("lockcycles", false, "report every lock-order cycle, not just interrupt self-cycles")
	return fs
}

// passContext holds the state threaded through one run of the pipeline
// for a single package.
type passContext struct {
	pass        *analysis.Pass
	ssaPkg      *ssa.Package
	srcFuncs    []*ssa.Function
	annotations *annotations
}

func run(pass *analysis.Pass) (any, error) {
	ssaResult, ok := pass.ResultOf[buildssa.Analyzer].(*buildssa.SSA)
	if !ok {
		return nil, nil
	}

	ctx := &passContext{
		pass:     pass,
		ssaPkg:   ssaResult.Pkg,
		srcFuncs: ssaResult.SrcFuncs,
	}

	fuse := 0
	lockcycles := false
	if v := pass.Analyzer.Flags.Lookup("irqdeadlock.fuse"); v != nil {
		fuse = v.Value.(flag.Getter).Get().(int)
	}
	if v := pass.Analyzer.Flags.Lookup("lockcycles"); v != nil {
		lockcycles = v.Value.(flag.Getter).Get().(bool)
	}

	// Stage 0: parse //irq:... directives from comments.
	ctx.parseAnnotations()

	// Stage 1: Lock Collector.
	lockInfo := ctx.collectLockInfo()
	ctx.exportLockTypeFacts(lockInfo)

	// Stage 2: ISR Analyzer.
	isrInfo := ctx.analyzeIsrs()
	ctx.exportIsrEntryFacts(isrInfo.IsrEntries)
	ctx.exportIrqFacts(isrInfo)

	// Stage 3: Lock-Set Analyzer.
	lockSets := ctx.analyzeLockSets(lockInfo, fuse)

	// Stage 4: LDG Constructor.
	graph := buildLockDependencyGraph(lockSets, isrInfo)

	// Stage 5: Deadlock Reporter.
	ctx.reportDeadlocks(graph, lockcycles)

	return nil, nil
}
