package pool

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"weak"
)

// threadCacheCap bounds the per-goroutine fast-path cache. HikariCP's
// ConcurrentBag keeps this small on purpose: it only needs to hold the
// handful of entries a single goroutine round-trips through borrow/requite,
// not a general-purpose object pool.
const threadCacheCap = 8

// handoffSpins is the bounded number of non-blocking offer attempts requite
// makes before giving up and caching the entry locally, per spec.md §4.1
// step 3 ("~256 spin-yields").
const handoffSpins = 256

// threadCache is the per-goroutine fast path described in spec.md's design
// notes. Go has no public goroutine-local storage, so affinity is modeled
// the same way the runtime's own sync.Pool models it: a sync.Pool of
// threadCache values is P-affine (approximately, not exactly, one per
// OS-thread-ish unit of execution), which gives the same "contention-free
// most of the time, fall back to the shared scan otherwise" property the
// source's ThreadLocal<FastList<>> cache has. Entries are held as
// weak.Pointer so a cached reference never keeps a REMOVED entry reachable.
type threadCache struct {
	entries []weak.Pointer[entry]
}

// ConcurrentBag is the lock-light multi-producer/multi-consumer container
// described in spec.md §4.1. Only borrow may block; every other operation
// completes in a bounded number of CAS attempts.
type ConcurrentBag struct {
	// listMu guards the shared slice only. It is never held across a
	// channel operation; scanShared holds the read lock while it tries the
	// CAS on each entry.
	listMu sync.RWMutex
	shared []*entry

	cache sync.Pool // *threadCache

	// handoff is the zero-capacity rendezvous used by requite to hand an
	// entry directly to a blocked borrower. It carries no ownership: the
	// receiver must still CAS the entry before using it.
	handoff chan *entry

	waiters atomic.Int64

	// listener is notified when a borrow would otherwise have to block,
	// so the pool can kick its add-worker. May be nil.
	listener wantsMoreListener
}

// wantsMoreListener is the single-method trait described in spec.md §4.3,
// replacing the source's inner runnable class.
type wantsMoreListener interface {
	wantsMore()
}

func newConcurrentBag(listener wantsMoreListener) *ConcurrentBag {
	b := &ConcurrentBag{
		handoff:  make(chan *entry),
		listener: listener,
	}
	b.cache.New = func() any { return &threadCache{} }
	return b
}

// borrow obtains an entry in state IN_USE, or times out, or observes ctx
// cancellation (propagated unchanged, per spec.md §5). It never blocks
// past timeout regardless of how many CAS losses or handoff misses it eats
// along the way.
func (b *ConcurrentBag) borrow(ctx context.Context, timeout time.Duration) (*entry, error) {
	deadline := time.Now().Add(timeout)

	if e := b.borrowFromCache(); e != nil {
		return e, nil
	}
	if e := b.scanShared(); e != nil {
		return e, nil
	}

	if timeout <= 0 {
		return nil, ErrPoolTimeout
	}

	b.waiters.Add(1)
	defer b.waiters.Add(-1)

	if b.listener != nil {
		b.listener.wantsMore()
	}

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrPoolTimeout
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case e, ok := <-b.handoff:
			timer.Stop()
			if !ok || e == nil {
				return nil, ErrPoolTimeout
			}
			// A competing borrower may have claimed it via list scan in
			// the gap between offer and receive; CAS is still required.
			if e.compareAndSetState(stateNotInUse, stateInUse) {
				b.cacheForThisGoroutine(e)
				return e, nil
			}
			// Lost the race; keep trying other sources with whatever
			// time remains.
		case <-timer.C:
			return nil, ErrPoolTimeout
		}

		if e := b.scanShared(); e != nil {
			return e, nil
		}
	}
}

// borrowFromCache probes this goroutine's cache first, per spec.md §4.1
// step 1. Dead weak pointers (their Entry already collected, meaning it was
// REMOVED and unlinked) are dropped as they're found.
func (b *ConcurrentBag) borrowFromCache() *entry {
	tc := b.cache.Get().(*threadCache)
	defer b.cache.Put(tc)

	live := tc.entries[:0]
	var won *entry

	for _, wp := range tc.entries {
		e := wp.Value()
		if e == nil {
			continue
		}
		if won == nil && e.compareAndSetState(stateNotInUse, stateInUse) {
			won = e
			live = append(live, wp)
			continue
		}
		live = append(live, wp)
	}
	tc.entries = live
	return won
}

// scanShared attempts the CAS on every NOT_IN_USE entry in iteration order;
// first success wins. This is intentionally unfair (spec.md §4.1 tie-break)
// to keep cache-warm entries at the front of repeated scans.
func (b *ConcurrentBag) scanShared() *entry {
	b.listMu.RLock()
	defer b.listMu.RUnlock()

	for _, e := range b.shared {
		if e.getState() != stateNotInUse {
			continue
		}
		if e.compareAndSetState(stateNotInUse, stateInUse) {
			b.cacheForThisGoroutine(e)
			return e
		}
	}
	return nil
}

func (b *ConcurrentBag) cacheForThisGoroutine(e *entry) {
	tc := b.cache.Get().(*threadCache)
	if len(tc.entries) >= threadCacheCap {
		tc.entries = tc.entries[1:]
	}
	tc.entries = append(tc.entries, weak.Make(e))
	b.cache.Put(tc)
}

// requite returns a borrowed entry to NOT_IN_USE and either hands it
// straight to a blocked borrower or parks it in the caller's cache, per
// spec.md §4.1.
func (b *ConcurrentBag) requite(e *entry) {
	e.touchLastAccess()
	e.storeState(stateNotInUse)

	if b.waiters.Load() > 0 {
		for i := 0; i < handoffSpins; i++ {
			select {
			case b.handoff <- e:
				return
			default:
				runtime.Gosched()
			}
		}
	}

	b.cacheForThisGoroutine(e)
}

// add publishes a newly opened entry into the shared list in state
// NOT_IN_USE and offers it to any blocked borrower.
func (b *ConcurrentBag) add(e *entry) {
	b.listMu.Lock()
	b.shared = append(b.shared, e)
	b.listMu.Unlock()

	if b.waiters.Load() > 0 {
		select {
		case b.handoff <- e:
		default:
		}
	}
}

// remove transitions an entry to REMOVED via CAS from IN_USE or RESERVED
// and unlinks it from the shared list. Plain NOT_IN_USE→REMOVED is
// disallowed — callers must reserve first.
func (b *ConcurrentBag) remove(e *entry) bool {
	if !e.compareAndSetState(stateInUse, stateRemoved) &&
		!e.compareAndSetState(stateReserved, stateRemoved) {
		return false
	}

	b.listMu.Lock()
	for i, other := range b.shared {
		if other == e {
			b.shared = append(b.shared[:i], b.shared[i+1:]...)
			break
		}
	}
	b.listMu.Unlock()
	return true
}

// reserve claims an entry exclusively for inspection or removal without
// making it eligible for borrow.
func (b *ConcurrentBag) reserve(e *entry) bool {
	return e.compareAndSetState(stateNotInUse, stateReserved)
}

// unreserve releases a reservation back to NOT_IN_USE. Safe as a plain
// store: exactly one goroutine ever holds a RESERVED entry at a time.
func (b *ConcurrentBag) unreserve(e *entry) {
	e.storeState(stateNotInUse)

	if b.waiters.Load() > 0 {
		select {
		case b.handoff <- e:
		default:
		}
	}
}

// values returns a point-in-time snapshot of entries whose state currently
// matches filter. Callers (HouseKeeper, eviction, stats) must tolerate the
// weak consistency spec.md §5 promises: an entry's state may have already
// moved on by the time the caller inspects it.
func (b *ConcurrentBag) values(filter entryState) []*entry {
	b.listMu.RLock()
	defer b.listMu.RUnlock()

	out := make([]*entry, 0, len(b.shared))
	for _, e := range b.shared {
		if e.getState() == filter {
			out = append(out, e)
		}
	}
	return out
}

// size returns the number of reachable (non-REMOVED) entries.
func (b *ConcurrentBag) size() int {
	b.listMu.RLock()
	defer b.listMu.RUnlock()
	return len(b.shared)
}

// waiterCount returns the number of goroutines currently blocked in borrow.
func (b *ConcurrentBag) waiterCount() int64 {
	return b.waiters.Load()
}
