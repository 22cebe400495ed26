package analyzer

import "testing"

func TestJoinLockState(t *testing.T) {
	cases := []struct {
		a, b, want LockState
	}{
		{LockBottom, LockBottom, LockBottom},
		{LockBottom, LockMustNotHold, LockMustNotHold},
		{LockMustNotHold, LockBottom, LockMustNotHold},
		{LockMustNotHold, LockMustNotHold, LockMustNotHold},
		{LockMustNotHold, LockMayHold, LockMayHold},
		{LockMayHold, LockMustNotHold, LockMayHold},
		{LockMayHold, LockMayHold, LockMayHold},
		{LockBottom, LockMayHold, LockMayHold},
	}
	for _, c := range cases {
		if got := joinLockState(c.a, c.b); got != c.want {
			t.Errorf("joinLockState(%v, %v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestUnionIrq(t *testing.T) {
	cases := []struct {
		a, b, want IrqState
	}{
		{IrqBottom, IrqBottom, IrqBottom},
		{IrqBottom, IrqMustBeDisabled, IrqMustBeDisabled},
		{IrqMustBeDisabled, IrqBottom, IrqMustBeDisabled},
		{IrqMustBeDisabled, IrqMustBeDisabled, IrqMustBeDisabled},
		{IrqMustBeDisabled, IrqMayBeEnabled, IrqMayBeEnabled},
		{IrqMayBeEnabled, IrqMustBeDisabled, IrqMayBeEnabled},
		{IrqMayBeEnabled, IrqMayBeEnabled, IrqMayBeEnabled},
		{IrqBottom, IrqMayBeEnabled, IrqMayBeEnabled},
	}
	for _, c := range cases {
		if got := unionIrq(c.a, c.b); got != c.want {
			t.Errorf("unionIrq(%v, %v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestLockSetMerge(t *testing.T) {
	a := newLockSet()
	site := CallSite{}
	a.updateState(LockInstance{}, LockMayHold)
	a.addCallSite(LockInstance{}, site)

	b := newLockSet()
	changed := b.merge(a)
	if !changed {
		t.Fatal("merge into empty set should report a change")
	}
	if b.States[LockInstance{}] != LockMayHold {
		t.Fatalf("expected MayHold after merge, got %v", b.States[LockInstance{}])
	}
	if !b.LockSites[LockInstance{}][site] {
		t.Fatal("expected call site to be carried over by merge")
	}

	if changed := b.merge(a); changed {
		t.Fatal("merging the same lockset twice should report no further change")
	}
}
