package analyzer

import "sort"

// lockCycleEdge is one hop of a general lock-order cycle: the program
// acquired From while holding To, via the given LockDependencyEdge.
type lockCycleEdge struct {
	From LockInstance
	To   LockInstance
	Edge LockDependencyEdge
}

// lockCycle is a sequence of edges forming a cycle in the lock
// dependency graph, in edge order (each hop leads from a newly acquired
// lock to a lock held at that moment).
type lockCycle []lockCycleEdge

// detectGeneralCycles runs a white/gray/black DFS over the full
// LockDependencyGraph, regardless of edge kind (Call or Interrupt), and
// returns one cycle for each back edge it meets; cycles that share a
// back edge with an already reported one are not enumerated. This is the opt-in "-lockcycles" mode:
// broader and noisier than the default self-cycle check, which only
// flags a lock depending (via an Interrupt edge) on itself.
//
// Adapted from the teacher's lockorder.go cycle detector: same
// white/gray/black DFS, back-edge extraction and canonical-rotation
// dedup, retargeted from mutexFieldKey nodes to LockInstance nodes over
// a LockDependencyGraph instead of a same-package lock-order graph.
func detectGeneralCycles(g *LockDependencyGraph) []lockCycle {
	const (
		white = iota
		gray
		black
	)

	color := make(map[LockInstance]int, len(g.nodes))
	parent := make(map[LockInstance]lockCycleEdge)
	var cycles []lockCycle

	var dfs func(node LockInstance)
	dfs = func(node LockInstance) {
		color[node] = gray
		edges := append([]LockDependencyEdge(nil), g.edgesFrom(node)...)
		sort.Slice(edges, func(i, j int) bool {
			return edges[i].OldLockSite.Lock.String() < edges[j].OldLockSite.Lock.String()
		})
		for _, e := range edges {
			to := e.OldLockSite.Lock
			ce := lockCycleEdge{From: node, To: to, Edge: e}
			switch color[to] {
			case white:
				parent[to] = ce
				dfs(to)
			case gray:
				if cycle := extractLockCycle(parent, ce); cycle != nil {
					cycles = append(cycles, cycle)
				}
			}
		}
		color[node] = black
	}

	sortedNodes := append([]LockInstance(nil), g.nodes...)
	sort.Slice(sortedNodes, func(i, j int) bool {
		return sortedNodes[i].String() < sortedNodes[j].String()
	})

	for _, node := range sortedNodes {
		if color[node] == white {
			dfs(node)
		}
	}

	return deduplicateLockCycles(cycles)
}

func extractLockCycle(parent map[LockInstance]lockCycleEdge, backEdge lockCycleEdge) lockCycle {
	var cycle lockCycle
	cycle = append(cycle, backEdge)

	current := backEdge.From
	visited := make(map[LockInstance]bool)
	for current != backEdge.To {
		if visited[current] {
			return nil
		}
		visited[current] = true
		edge, ok := parent[current]
		if !ok {
			return nil
		}
		cycle = append(cycle, edge)
		current = edge.From
	}

	for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
		cycle[i], cycle[j] = cycle[j], cycle[i]
	}
	return cycle
}

func deduplicateLockCycles(cycles []lockCycle) []lockCycle {
	seen := make(map[string]bool)
	var result []lockCycle

	for _, cycle := range cycles {
		type pair struct{ from, to string }
		pairs := make([]pair, len(cycle))
		for i, e := range cycle {
			pairs[i] = pair{from: e.From.String(), to: e.To.String()}
		}

		minIdx := 0
		for i := 1; i < len(pairs); i++ {
			if pairs[i].from+"->"+pairs[i].to < pairs[minIdx].from+"->"+pairs[minIdx].to {
				minIdx = i
			}
		}

		key := ""
		for i := 0; i < len(pairs); i++ {
			p := pairs[(minIdx+i)%len(pairs)]
			key += p.from + "->" + p.to + ";"
		}

		if !seen[key] {
			seen[key] = true
			result = append(result, cycle)
		}
	}
	return result
}
