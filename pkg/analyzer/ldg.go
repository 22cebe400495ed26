package analyzer

// LockDependencyEdgeKind distinguishes how control flow transferred from
// the old (held) lock site to the new (acquired) lock site.
type LockDependencyEdgeKind int

const (
	EdgeCall LockDependencyEdgeKind = iota
	EdgeInterrupt
)

// LockDependencyEdge represents: while holding OldLockSite.Lock (acquired
// at OldLockSite.Site), the program tries to acquire NewLockSite.Lock at
// NewLockSite.Site, with control transferred via Kind.
type LockDependencyEdge struct {
	Kind        LockDependencyEdgeKind
	At          CallSite
	NewLockSite LockSite
	OldLockSite LockSite
}

// LockDependencyGraph is an adjacency-list graph over LockInstance
// nodes, following spec.md §9's own guidance that an adjacency list is
// sufficient for this graph's size and query pattern — no graph library
// dependency is introduced (see DESIGN.md).
type LockDependencyGraph struct {
	nodes     []LockInstance
	nodeIndex map[LockInstance]int
	edges     map[int][]LockDependencyEdge // by source node index
}

func newLockDependencyGraph() *LockDependencyGraph {
	return &LockDependencyGraph{
		nodeIndex: make(map[LockInstance]int),
		edges:     make(map[int][]LockDependencyEdge),
	}
}

func (g *LockDependencyGraph) nodeIDOrInsert(lock LockInstance) int {
	if idx, ok := g.nodeIndex[lock]; ok {
		return idx
	}
	idx := len(g.nodes)
	g.nodes = append(g.nodes, lock)
	g.nodeIndex[lock] = idx
	return idx
}

func (g *LockDependencyGraph) insertCallEdge(newSite, oldSite LockSite, at CallSite) {
	newIdx := g.nodeIDOrInsert(newSite.Lock)
	oldIdx := g.nodeIDOrInsert(oldSite.Lock)
	g.edges[newIdx] = append(g.edges[newIdx], LockDependencyEdge{
		Kind: EdgeCall, At: at, NewLockSite: newSite, OldLockSite: oldSite,
	})
	_ = oldIdx
}

// insertInterruptEdge inserts an Interrupt edge, deduplicating by the
// (NewLockSite, OldLockSite) pair — the dedup policy applies to
// Interrupt edges only, matching insert_interrupt_edge's own behavior;
// Call edges are never deduplicated.
func (g *LockDependencyGraph) insertInterruptEdge(newSite, oldSite LockSite, at CallSite) {
	newIdx := g.nodeIDOrInsert(newSite.Lock)
	oldIdx := g.nodeIDOrInsert(oldSite.Lock)
	for _, e := range g.edges[newIdx] {
		if e.Kind == EdgeInterrupt && e.NewLockSite == newSite && e.OldLockSite == oldSite {
			return
		}
	}
	g.edges[newIdx] = append(g.edges[newIdx], LockDependencyEdge{
		Kind: EdgeInterrupt, At: at, NewLockSite: newSite, OldLockSite: oldSite,
	})
	_ = oldIdx
}

func (g *LockDependencyGraph) edgesFrom(lock LockInstance) []LockDependencyEdge {
	idx, ok := g.nodeIndex[lock]
	if !ok {
		return nil
	}
	return g.edges[idx]
}

// extractHeldLockSites returns every LockSite currently held (state
// MayHold) in a LockSet.
func extractHeldLockSites(ls *LockSet) []LockSite {
	var out []LockSite
	for lock, state := range ls.States {
		if state != LockMayHold {
			continue
		}
		for site := range ls.LockSites[lock] {
			out = append(out, LockSite{Lock: lock, Site: site})
		}
	}
	return out
}

// buildLockDependencyGraph runs the LDG Constructor stage: for every
// lock-acquire operation, the held locks at that program point become
// "old" lock sites with an edge back to the newly acquired lock; this
// happens both across plain call edges (held locks flow into a callee's
// own lock operations) and across interrupt edges (held locks at any
// program point may be interrupted by any ISR, unless interrupts are
// provably disabled there).
//
// Grounded on ldg_constructor.rs's extract_locksite_pairs,
// NormalEdgeCollector and InterruptEdgeCollector.
func buildLockDependencyGraph(locksets ProgramLockSet, isrInfo *ProgramIsrInfo) *LockDependencyGraph {
	g := newLockDependencyGraph()

	for fn, fnInfo := range locksets {
		// Call edges: this function's own lock operations, paired with
		// whatever was held immediately before that exact acquire.
		for newSite, held := range fnInfo.LockOperations {
			for _, oldSite := range extractHeldLockSites(held) {
				g.insertCallEdge(newSite, oldSite, newSite.Site)
			}
		}

		// Interrupt edges: simulate an interrupt at every block entry of
		// fn, pairing whatever is held there against every ISR's lock
		// operations — unless interrupts are provably disabled at that
		// point.
		irqFuncInfo := isrInfo.FuncInfos[fn]
		if irqFuncInfo == nil {
			continue
		}
		for block, held := range fnInfo.PreBlockLockset {
			if irqFuncInfo.PreBlockState[block] == IrqMustBeDisabled {
				continue
			}
			heldSites := extractHeldLockSites(held)
			if len(heldSites) == 0 {
				continue
			}
			interruptAt := CallSite{CallerDefID: funcDefID(fn), Location: Location{Block: block, Index: 0}}
			for isrFn := range isrInfo.IsrFuncs {
				isrFnInfo, ok := locksets[isrFn]
				if !ok {
					continue
				}
				for newSite := range isrFnInfo.LockOperations {
					for _, oldSite := range heldSites {
						g.insertInterruptEdge(newSite, oldSite, interruptAt)
					}
				}
			}
		}
	}

	return g
}

