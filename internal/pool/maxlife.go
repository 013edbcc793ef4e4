package pool

import (
	"math/rand"
	"sync/atomic"
	"time"
)

// scheduleMaxLife arms a one-shot timer that marks e evicted once it
// reaches maxLifetime, per spec.md §4.6. A small random jitter (2-3%)
// spreads out what would otherwise be a synchronized cliff of evictions
// for entries opened around the same time (e.g. at pool warm-up).
//
// Cancellation must never race with the callback firing: we read a cancel
// flag from inside the callback rather than trying to stop the timer from
// another goroutine after it may have already fired.
func scheduleMaxLife(e *entry, maxLifetime time.Duration) {
	if maxLifetime <= 0 {
		return
	}

	jitterPct := 0.02 + rand.Float64()*0.01 // 2-3%
	jitter := time.Duration(float64(maxLifetime) * jitterPct)

	var cancelled atomic.Bool
	timer := time.AfterFunc(maxLifetime+jitter, func() {
		if cancelled.Load() {
			return
		}
		e.markEvicted()
	})

	e.cancelMaxLife = func() {
		cancelled.Store(true)
		timer.Stop()
	}
}
