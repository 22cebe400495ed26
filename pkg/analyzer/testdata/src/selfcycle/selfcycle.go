// Package selfcycle is a minimal scenario where a lock is held with
// interrupts enabled while an interrupt handler can reacquire it.
package selfcycle

import "sync"

//irq:lock Name="Mu"
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

var Mu Mutex

func criticalSection(x bool) {
	g := Mu.Lock() // want "possible deadlock"
	if x {
		doWork()
	} else {
		doWork()
	}
	g.Unlock()
}

func doWork() {}

//irq:isr
func handler() {
	g := Mu.Lock()
	g.Unlock()
}
