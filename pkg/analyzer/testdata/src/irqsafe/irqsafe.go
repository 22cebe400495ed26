// Package irqsafe holds the same lock/ISR shape as the self-cycle
// scenario, but the critical section disables interrupts for its
// entire duration, so no deadlock should be reported.
package irqsafe

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

//irq:irqapi Type=disable
func disableIrq() {}

//irq:irqapi Type=enable
func enableIrq() {}

func criticalSection(x bool) {
	disableIrq()
	g := Mu.Lock()
	if x {
		doWork()
	} else {
		doWork()
	}
	g.Unlock()
	enableIrq()
}

func doWork() {}

//irq:isr
func handler() {
	g := Mu.Lock()
	g.Unlock()
}
