package pool

import (
	"testing"
	"time"
)

func TestEntryStateDAG(t *testing.T) {
	e := newEntry(nil)

	if got := e.getState(); got != stateNotInUse {
		t.Fatalf("new entry state = %v, want NOT_IN_USE", got)
	}

	if !e.compareAndSetState(stateNotInUse, stateInUse) {
		t.Fatal("borrow CAS NOT_IN_USE->IN_USE failed")
	}
	if e.compareAndSetState(stateNotInUse, stateInUse) {
		t.Fatal("borrow CAS succeeded twice from the same state")
	}

	e.storeState(stateNotInUse)
	if got := e.getState(); got != stateNotInUse {
		t.Fatalf("requite store state = %v, want NOT_IN_USE", got)
	}

	if !e.compareAndSetState(stateNotInUse, stateReserved) {
		t.Fatal("reserve CAS NOT_IN_USE->RESERVED failed")
	}
	if !e.compareAndSetState(stateReserved, stateRemoved) {
		t.Fatal("remove CAS RESERVED->REMOVED failed")
	}

	// Terminal: no transition out of REMOVED is legal.
	if e.compareAndSetState(stateRemoved, stateNotInUse) {
		t.Fatal("REMOVED must be terminal")
	}
}

func TestEntryRemoveFromInUse(t *testing.T) {
	e := newEntry(nil)
	if !e.compareAndSetState(stateNotInUse, stateInUse) {
		t.Fatal("setup borrow failed")
	}
	if !e.compareAndSetState(stateInUse, stateRemoved) {
		t.Fatal("remove CAS IN_USE->REMOVED failed")
	}
}

func TestEntryLastAccessMonotonic(t *testing.T) {
	e := newEntry(nil)
	first := e.idleSince()

	time.Sleep(5 * time.Millisecond)
	e.touchLastAccess()
	second := e.idleSince()

	if second >= first {
		t.Fatalf("idleSince did not shrink after touch: first=%v second=%v", first, second)
	}
}

func TestEntryEvictedAndAbortedFlags(t *testing.T) {
	e := newEntry(nil)

	if e.isEvicted() || e.isAborted() {
		t.Fatal("new entry should not be evicted or aborted")
	}

	e.markEvicted()
	if !e.isEvicted() {
		t.Fatal("markEvicted did not stick")
	}

	e.markAborted()
	if !e.isAborted() {
		t.Fatal("markAborted did not stick")
	}
}

func TestEntryAge(t *testing.T) {
	e := newEntry(nil)
	time.Sleep(2 * time.Millisecond)
	if e.age() <= 0 {
		t.Fatal("age should be positive after a sleep")
	}
}
