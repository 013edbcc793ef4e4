package pool

import (
	"testing"
	"time"
)

func TestScheduleMaxLifeEvictsAfterLifetimePlusJitter(t *testing.T) {
	e := newEntry(nil)
	scheduleMaxLife(e, 50*time.Millisecond)

	time.Sleep(40 * time.Millisecond)
	if e.isEvicted() {
		t.Fatal("entry evicted before maxLifetime elapsed")
	}

	// 50ms + up to 3% jitter (<=1.5ms) must have fired by 70ms total.
	time.Sleep(30 * time.Millisecond)
	if !e.isEvicted() {
		t.Fatal("entry not evicted after maxLifetime + jitter elapsed")
	}
}

func TestScheduleMaxLifeCancelPreventsEviction(t *testing.T) {
	e := newEntry(nil)
	scheduleMaxLife(e, 20*time.Millisecond)

	// Cancel well before the timer (plus jitter) can fire.
	e.cancelMaxLife()

	time.Sleep(40 * time.Millisecond)
	if e.isEvicted() {
		t.Fatal("cancelled max-life timer still evicted the entry")
	}
}

func TestScheduleMaxLifeCancelAfterFireIsSafe(t *testing.T) {
	e := newEntry(nil)
	scheduleMaxLife(e, 10*time.Millisecond)

	// Let the timer fire first, then cancel — the callback's own cancel
	// flag check happens before markEvicted, so a cancel arriving after
	// firing must not un-evict the entry or panic.
	time.Sleep(30 * time.Millisecond)
	if !e.isEvicted() {
		t.Fatal("entry should already be evicted by now")
	}

	e.cancelMaxLife()
	if !e.isEvicted() {
		t.Fatal("a late cancel must not reverse an eviction that already happened")
	}
}

func TestScheduleMaxLifeDisabledWhenZero(t *testing.T) {
	e := newEntry(nil)
	scheduleMaxLife(e, 0)

	if e.cancelMaxLife != nil {
		t.Fatal("cancelMaxLife should stay nil when maxLifetime<=0 (scheduling is a no-op)")
	}

	time.Sleep(20 * time.Millisecond)
	if e.isEvicted() {
		t.Fatal("entry must never be evicted when maxLifetime<=0")
	}
}

func TestScheduleMaxLifeDisabledWhenNegative(t *testing.T) {
	e := newEntry(nil)
	scheduleMaxLife(e, -time.Second)

	if e.cancelMaxLife != nil {
		t.Fatal("cancelMaxLife should stay nil for a negative maxLifetime")
	}
}
