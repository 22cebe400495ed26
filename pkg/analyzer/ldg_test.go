package analyzer

import (
	"testing"

	"golang.org/x/tools/go/ssa"
)

func TestInsertCallEdgeNoDedup(t *testing.T) {
	g := newLockDependencyGraph()
	a := LockInstance{Global: &ssa.Global{}}
	b := LockInstance{Global: &ssa.Global{}}

	newSite := LockSite{Lock: a, Site: CallSite{Location: Location{Index: 1}}}
	oldSite := LockSite{Lock: b, Site: CallSite{Location: Location{Index: 2}}}

	g.insertCallEdge(newSite, oldSite, newSite.Site)
	g.insertCallEdge(newSite, oldSite, newSite.Site)

	edges := g.edgesFrom(a)
	if len(edges) != 2 {
		t.Fatalf("expected 2 undeduplicated call edges, got %d", len(edges))
	}
	for _, e := range edges {
		if e.Kind != EdgeCall {
			t.Fatalf("expected EdgeCall, got %v", e.Kind)
		}
	}
}

func TestInsertInterruptEdgeDedup(t *testing.T) {
	g := newLockDependencyGraph()
	a := LockInstance{Global: &ssa.Global{}}
	b := LockInstance{Global: &ssa.Global{}}

	newSite := LockSite{Lock: a, Site: CallSite{Location: Location{Index: 1}}}
	oldSite := LockSite{Lock: b, Site: CallSite{Location: Location{Index: 2}}}

	g.insertInterruptEdge(newSite, oldSite, CallSite{Location: Location{Index: 3}})
	g.insertInterruptEdge(newSite, oldSite, CallSite{Location: Location{Index: 4}})

	edges := g.edgesFrom(a)
	if len(edges) != 1 {
		t.Fatalf("expected interrupt edges to dedup by (new, old) pair, got %d", len(edges))
	}
	if edges[0].Kind != EdgeInterrupt {
		t.Fatalf("expected EdgeInterrupt, got %v", edges[0].Kind)
	}
}

func TestInsertInterruptEdgeSelfCycle(t *testing.T) {
	g := newLockDependencyGraph()
	a := LockInstance{Global: &ssa.Global{}}

	site1 := LockSite{Lock: a, Site: CallSite{Location: Location{Index: 1}}}
	site2 := LockSite{Lock: a, Site: CallSite{Location: Location{Index: 2}}}

	g.insertInterruptEdge(site1, site2, CallSite{Location: Location{Index: 3}})

	edges := g.edgesFrom(a)
	if len(edges) != 1 {
		t.Fatalf("expected 1 self-cycle edge, got %d", len(edges))
	}
	if edges[0].NewLockSite.Lock != edges[0].OldLockSite.Lock {
		t.Fatal("expected a self-cycle: new and old lock instances should be identical")
	}
}
