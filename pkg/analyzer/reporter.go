package analyzer

import (
	"fmt"
	"go/token"
	"sort"

	"github.com/fatih/color"
)

// posOf recovers a reportable source position for a CallSite by
// indexing back into the SSA block it was recorded against.
func posOf(site CallSite) token.Pos {
	block := site.Location.Block
	if block == nil || site.Location.Index < 0 || site.Location.Index >= len(block.Instrs) {
		return token.NoPos
	}
	return block.Instrs[site.Location.Index].Pos()
}

// reportDeadlocks runs the Deadlock Reporter stage: by default, flag
// every self-cycle (a lock whose Interrupt-edge set loops back to
// itself — the program holds a lock, takes an interrupt, and the ISR
// tries to acquire the same lock). Grounded on deadlock_reporter.rs's
// self_cycle_node, which is the only check the original actually runs
// (the general Tarjan-SCC pass there is commented out).
//
// The general cycle search (one cycle per DFS back edge, over every edge
// kind, not just self-loops) is opt-in via -lockcycles, colorized with
// github.com/fatih/color the way the general-purpose reporting mode of
// this stage is meant to stand out from the terse default.
func (ctx *passContext) reportDeadlocks(g *LockDependencyGraph, lockcycles bool) {
	for _, sc := range selfCycleEdges(g) {
		ctx.reportSelfCycle(sc)
	}

	if !lockcycles {
		return
	}
	for _, cycle := range detectGeneralCycles(g) {
		ctx.reportGeneralCycle(cycle)
	}
}

// selfCycleEdge is an Interrupt edge whose new and old lock sites name
// the same LockInstance: the node the edge leaves from is the same
// node it arrives at.
type selfCycleEdge struct {
	Lock LockInstance
	Edge LockDependencyEdge
}

func selfCycleEdges(g *LockDependencyGraph) []selfCycleEdge {
	var out []selfCycleEdge
	for nodeIdx, edges := range g.edges {
		node := g.nodes[nodeIdx]
		for _, e := range edges {
			if e.Kind != EdgeInterrupt {
				continue
			}
			if e.NewLockSite.Lock == e.OldLockSite.Lock {
				out = append(out, selfCycleEdge{Lock: node, Edge: e})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if a, b := out[i].Lock.String(), out[j].Lock.String(); a != b {
			return a < b
		}
		if a, b := posOf(out[i].Edge.OldLockSite.Site), posOf(out[j].Edge.OldLockSite.Site); a != b {
			return a < b
		}
		return posOf(out[i].Edge.NewLockSite.Site) < posOf(out[j].Edge.NewLockSite.Site)
	})
	return out
}

func (ctx *passContext) reportSelfCycle(sc selfCycleEdge) {
	pos := posOf(sc.Edge.OldLockSite.Site)
	if pos == token.NoPos {
		pos = posOf(sc.Edge.NewLockSite.Site)
	}
	if pos == token.NoPos {
		return
	}
	ctx.pass.Reportf(pos,
		"possible deadlock: %s is acquired here, then an interrupt taken while it is held re-acquires it at %v",
		sc.Lock, sc.Edge.NewLockSite.Site)
}

func (ctx *passContext) reportGeneralCycle(cycle lockCycle) {
	if len(cycle) == 0 {
		return
	}
	pos := posOf(cycle[0].Edge.OldLockSite.Site)
	if pos == token.NoPos {
		pos = posOf(cycle[0].Edge.NewLockSite.Site)
	}
	if pos == token.NoPos {
		return
	}

	bold := color.New(color.FgRed, color.Bold)
	plain := color.New(color.FgYellow)

	msg := bold.Sprint("possible lock-order cycle:") + " "
	for i, e := range cycle {
		if i > 0 {
			msg += plain.Sprint(" -> ")
		}
		kind := "call"
		if e.Edge.Kind == EdgeInterrupt {
			kind = "interrupt"
		}
		msg += fmt.Sprintf("%s[%s]", e.From, kind)
	}
	msg += plain.Sprint(" -> ") + fmt.Sprint(cycle[0].From)

	ctx.pass.Reportf(pos, "%s", msg)
}
