// Package calledge exercises a plain nested call acquiring two
// distinct locks with no ISR annotated at all — a dependency edge is
// still constructed, but with no interrupt context to close a cycle,
// nothing should be reported.
package calledge

import "sync"

//irq:lock Name="A"
type Mutex struct {
	inner sync.Mutex
}

//irq:lockguard Name="Guard"
type Guard struct {
	m *Mutex
}

func (m *Mutex) Lock() *Guard {
	m.inner.Lock()
	return &Guard{m: m}
}

func (g *Guard) Unlock() {
	g.m.inner.Unlock()
}

var A Mutex
var B Mutex

func outer() {
	ga := A.Lock()
	inner()
	ga.Unlock()
}

func inner() {
	gb := B.Lock()
	gb.Unlock()
}
