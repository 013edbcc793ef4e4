// Package pool implements a bounded database-connection pool: the
// ConcurrentBag (lock-light borrower/returner container) and the Pool
// lifecycle manager that enforces min-idle, max-size, max-lifetime,
// idle-timeout, soft eviction, and forced abort on top of it.
package pool

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joaobrasildev/connpool/internal/metrics"
)

// Config holds the recognized options from spec.md §6.
type Config struct {
	// Name identifies this pool for metrics and logging.
	Name string

	DSN DSN

	MaximumPoolSize int
	MinimumIdle     int // 0 means lazy: no warm-up, add-worker opens on demand.

	ConnectionTimeout time.Duration // borrow timeout
	IdleTimeout       time.Duration // 0 disables idle eviction
	MaxLifetime       time.Duration // 0 disables lifetime eviction
	ValidationTimeout time.Duration

	ConnectionTestQuery    string
	IsolateInternalQueries bool

	HousekeeperPeriod time.Duration
}

func (c *Config) applyDefaults() {
	if c.ConnectionTimeout == 0 {
		c.ConnectionTimeout = 30 * time.Second
	}
	if c.ValidationTimeout == 0 {
		c.ValidationTimeout = 5 * time.Second
	}
	if c.HousekeeperPeriod == 0 {
		c.HousekeeperPeriod = 30 * time.Second
	}
}

// Pool orchestrates borrow/return against a ConcurrentBag: it opens and
// closes real connections, enforces timeouts, and runs validation. It is
// the lifecycle manager from spec.md §4.2-§4.7.
type Pool struct {
	cfg      Config
	driver   DriverFactory
	liveness Liveness

	bag *ConcurrentBag

	total atomic.Int64

	running atomic.Bool

	// add-worker: a coalescing, single-goroutine executor. Sends to
	// wantCh never block — a pending signal that hasn't been drained yet
	// already implies the worker will re-check conditions on its next
	// loop iteration, so further signals are coalesced for free.
	wantCh chan struct{}

	// closeSem bounds concurrent blocking driver closes, standing in for
	// spec.md §4.4's "close executor" (a bounded thread pool).
	closeSem chan struct{}

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a pool and eagerly opens MinimumIdle connections, matching
// the teacher's NewBucketPool warm-up behavior. If any warm-up open fails,
// the pool is shut down and the error is returned.
func New(ctx context.Context, cfg Config, driver DriverFactory, liveness Liveness) (*Pool, error) {
	cfg.applyDefaults()

	// A QueryLiveness probe runs this pool's own configured test query.
	if ql, ok := liveness.(QueryLiveness); ok {
		if cfg.ConnectionTestQuery != "" {
			ql.Query = cfg.ConnectionTestQuery
		}
		ql.IsolateInternalQueries = cfg.IsolateInternalQueries
		liveness = ql
	}

	p := &Pool{
		cfg:      cfg,
		driver:   driver,
		liveness: liveness,
		wantCh:   make(chan struct{}, 1),
		closeSem: make(chan struct{}, 8),
		stopCh:   make(chan struct{}),
	}
	p.bag = newConcurrentBag(p)
	p.running.Store(true)

	for i := 0; i < cfg.MinimumIdle; i++ {
		e, err := p.openEntry(ctx)
		if err != nil {
			log.Printf("[pool] %s: warm-up connection %d/%d failed: %v", cfg.Name, i+1, cfg.MinimumIdle, err)
			p.Shutdown()
			return nil, fmt.Errorf("pool %s: warm-up connection %d/%d: %w", cfg.Name, i+1, cfg.MinimumIdle, err)
		}
		p.bag.add(e)
	}
	p.updateMetrics()
	log.Printf("[pool] %s: initialized with %d idle (max=%d, min_idle=%d)",
		cfg.Name, p.bag.size(), cfg.MaximumPoolSize, cfg.MinimumIdle)

	p.wg.Add(2)
	go p.addWorkerLoop()
	go p.housekeeperLoop()

	return p, nil
}

// Conn is the thin facade spec.md §1 describes as out of scope — it wraps
// a borrowed connection and releases it back to the pool exactly once when
// closed.
type Conn struct {
	pool     *Pool
	entry    *entry
	released atomic.Bool
}

// Raw returns the pool entry backing this connection.
func (c *Conn) Raw() *entry { return c.entry }

// DB returns the borrowed connection handle, for running queries while the
// Conn is held.
func (c *Conn) DB() *sql.DB { return c.entry.conn }

// Close releases the connection back to its pool. Idempotent: a second
// call is a no-op, matching spec.md §8's "idempotent close" law.
func (c *Conn) Close() error {
	if !c.released.CompareAndSwap(false, true) {
		return nil
	}
	c.pool.release(c.entry)
	return nil
}

// Acquire borrows a connection, validating and retrying within the
// configured ConnectionTimeout, per spec.md §4.2.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	if !p.running.Load() {
		return nil, ErrPoolClosed
	}

	deadline := time.Now().Add(p.cfg.ConnectionTimeout)
	waitStart := time.Now()

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrPoolTimeout
		}

		e, err := p.bag.borrow(ctx, remaining)
		if err != nil {
			return nil, err
		}
		metrics.QueueWaitDuration.WithLabelValues(p.cfg.Name).Observe(time.Since(waitStart).Seconds())

		if e.isEvicted() || (p.cfg.MaxLifetime > 0 && e.age() > p.cfg.MaxLifetime) {
			p.closeEntry(e)
			continue
		}

		if p.cfg.ValidationTimeout > 0 && e.idleSince() > p.validationInterval() {
			validationStart := time.Now()
			alive := p.liveness != nil && p.liveness.IsAlive(ctx, e.conn, p.cfg.ValidationTimeout)
			metrics.ValidationDuration.WithLabelValues(p.cfg.Name).Observe(time.Since(validationStart).Seconds())
			if !alive {
				metrics.ConnectionErrors.WithLabelValues(p.cfg.Name, "validation_failed").Inc()
				p.closeEntry(e)
				continue
			}
		}

		return &Conn{pool: p, entry: e}, nil
	}
}

// validationInterval is the idle threshold past which a borrowed entry is
// revalidated before being handed out, matching the teacher's
// lastHealthCheck-gated probe.
func (p *Pool) validationInterval() time.Duration {
	if p.cfg.IdleTimeout > 0 && p.cfg.IdleTimeout < p.cfg.ValidationTimeout {
		return p.cfg.IdleTimeout
	}
	return p.cfg.ValidationTimeout
}

// release returns entry to the bag, or closes it if it was marked evicted
// or aborted while out on loan, per spec.md §4.2. An entry that Shutdown
// already removed while it was on loan stays REMOVED.
func (p *Pool) release(e *entry) {
	if e.isEvicted() || e.isAborted() {
		p.closeEntry(e)
		return
	}
	if e.getState() == stateRemoved {
		return
	}
	p.bag.requite(e)
	p.updateMetrics()
	metrics.ConnectionsTotal.WithLabelValues(p.cfg.Name, "released").Inc()
}

// Kick nudges the add-worker as if a borrow had just blocked. Exported so
// an external signal — e.g. the distributed coordinator's cross-instance
// release notification — can prompt this process to try opening a
// connection sooner than its next HouseKeeper sweep.
func (p *Pool) Kick() { p.wantsMore() }

// wantsMore implements wantsMoreListener: the bag calls this when a borrow
// would otherwise block. The send never blocks — a full channel means a
// signal is already pending, which is exactly the coalescing spec.md §4.3
// and §9's open question ask for.
func (p *Pool) wantsMore() {
	select {
	case p.wantCh <- struct{}{}:
	default:
	}
}

// addWorkerLoop is the single-threaded executor from spec.md §4.3. It
// drains wantCh (coalescing any signals that arrive mid-run) and, while
// pool conditions call for it, opens one connection at a time with
// exponential backoff on failure.
func (p *Pool) addWorkerLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case <-p.wantCh:
		}

		// Drain any signals that piled up while we decide whether to run;
		// they're all satisfied by the same loop below.
		p.drainWantCh()

		p.runAddWorker()
	}
}

func (p *Pool) drainWantCh() {
	for {
		select {
		case <-p.wantCh:
		default:
			return
		}
	}
}

func (p *Pool) runAddWorker() {
	backoff := 200 * time.Millisecond

	for p.shouldKeepAdding() {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ConnectionTimeout)
		e, err := p.openEntry(ctx)
		cancel()

		if err != nil {
			log.Printf("[pool] %s: add-worker open failed, backing off %s: %v", p.cfg.Name, backoff, err)
			select {
			case <-time.After(backoff):
			case <-p.stopCh:
				return
			}
			maxBackoff := p.cfg.ConnectionTimeout / 2
			backoff = time.Duration(float64(backoff) * 1.5)
			if maxBackoff > 0 && backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		p.bag.add(e)
		p.updateMetrics()
		backoff = 200 * time.Millisecond

		if p.cfg.MinimumIdle == 0 {
			// Only one connection was needed to unblock a waiter.
			return
		}
		if p.idleCount() >= p.cfg.MinimumIdle {
			return
		}
	}
}

func (p *Pool) shouldKeepAdding() bool {
	if !p.running.Load() {
		return false
	}
	if int(p.total.Load()) >= p.cfg.MaximumPoolSize {
		return false
	}
	if p.cfg.MinimumIdle == 0 {
		return p.bag.waiterCount() > 0
	}
	return p.idleCount() < p.cfg.MinimumIdle
}

func (p *Pool) idleCount() int {
	return len(p.bag.values(stateNotInUse))
}

func (p *Pool) activeCount() int {
	return len(p.bag.values(stateInUse))
}

// openEntry opens a real connection, creates an entry for it, and arms
// its max-lifetime timer. It does not add the entry to the bag — its
// callers (warm-up in New and the add-worker) do that themselves.
func (p *Pool) openEntry(ctx context.Context) (*entry, error) {
	if int(p.total.Load()) >= p.cfg.MaximumPoolSize {
		return nil, fmt.Errorf("pool %s at maximum size (%d)", p.cfg.Name, p.cfg.MaximumPoolSize)
	}

	conn, err := p.driver.Open(ctx)
	if err != nil {
		metrics.ConnectionErrors.WithLabelValues(p.cfg.Name, "open_failed").Inc()
		return nil, err
	}

	e := newEntry(conn)
	scheduleMaxLife(e, p.cfg.MaxLifetime)
	p.total.Add(1)
	metrics.ConnectionsTotal.WithLabelValues(p.cfg.Name, "opened").Inc()
	return e, nil
}

// closeEntry implements spec.md §4.4's close path: cancel the lifetime
// timer, remove from the bag, decrement totalConnections, hand the
// blocking close off to a bounded executor.
func (p *Pool) closeEntry(e *entry) {
	if e.cancelMaxLife != nil {
		e.cancelMaxLife()
	}

	// The entry may arrive here already RESERVED (from HouseKeeper/soft
	// eviction) or IN_USE (from release); Bag.remove's double-CAS handles
	// both, and loses gracefully to a concurrent competing remove.
	removed := p.bag.remove(e)
	if removed {
		if n := p.total.Add(-1); n < 0 {
			logInvariantViolation(AccountingInvariantViolation{
				Op:     "closeEntry",
				Bucket: p.cfg.Name,
				Detail: fmt.Sprintf("totalConnections went negative (%d)", n),
			})
			p.total.Store(0)
		}
	}

	p.closeSem <- struct{}{}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.closeSem }()
		if err := e.conn.Close(); err != nil {
			log.Printf("[pool] %s: close error (swallowed): %v", p.cfg.Name, err)
		}
	}()

	p.updateMetrics()
}

// housekeeperLoop runs the periodic sweep from spec.md §4.5.
func (p *Pool) housekeeperLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.HousekeeperPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

func (p *Pool) sweep() {
	for _, e := range p.bag.values(stateNotInUse) {
		if !p.bag.reserve(e) {
			continue // lost the race to a concurrent borrower/reserver.
		}

		shouldClose := e.isEvicted() ||
			(p.cfg.IdleTimeout > 0 && e.idleSince() > p.cfg.IdleTimeout)

		if shouldClose {
			p.closeEntry(e)
		} else {
			p.bag.unreserve(e)
		}
	}

	if p.cfg.MinimumIdle > 0 {
		p.wantsMore()
	}
	p.updateMetrics()
}

// SoftEvict marks every IN_USE entry evicted (they close on their next
// release) and immediately reserves+closes every NOT_IN_USE entry, per
// spec.md §4.7.
func (p *Pool) SoftEvict() {
	for _, e := range p.bag.values(stateInUse) {
		e.markEvicted()
	}
	for _, e := range p.bag.values(stateNotInUse) {
		if p.bag.reserve(e) {
			p.closeEntry(e)
		}
	}
	p.updateMetrics()
}

// AbortActive forcibly terminates every IN_USE entry: marks it aborted and
// evicted, closes its connection inline as the abort hook (panics are
// recovered and logged), and always attempts removal/accounting even if
// the abort itself errors, per
// spec.md §4.7.
func (p *Pool) AbortActive(ctx context.Context) {
	for _, e := range p.bag.values(stateInUse) {
		e.markAborted()
		e.markEvicted()

		if e.cancelMaxLife != nil {
			e.cancelMaxLife()
		}

		removed := p.bag.remove(e)

		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[pool] %s: abort hook panicked (swallowed): %v", p.cfg.Name, r)
				}
			}()
			abortCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if abortCtx.Err() == nil {
				_ = e.conn.Close() // best-effort assassin close.
			}
		}()

		if removed {
			if n := p.total.Add(-1); n < 0 {
				logInvariantViolation(AccountingInvariantViolation{
					Op:     "AbortActive",
					Bucket: p.cfg.Name,
					Detail: fmt.Sprintf("totalConnections went negative (%d)", n),
				})
				p.total.Store(0)
			}
		}
	}
	p.updateMetrics()
}

// Shutdown closes every entry and stops background goroutines. Every
// ever-opened connection gets exactly one driver-close, per spec.md §8's
// "no leaks" law.
func (p *Pool) Shutdown() error {
	if !p.running.CompareAndSwap(true, false) {
		return nil
	}
	close(p.stopCh)

	for _, e := range p.bag.values(stateNotInUse) {
		if p.bag.reserve(e) {
			p.closeEntry(e)
		}
	}
	for _, e := range p.bag.values(stateInUse) {
		p.closeEntry(e)
	}

	p.wg.Wait()
	p.updateMetrics()
	log.Printf("[pool] %s: shut down", p.cfg.Name)
	return nil
}

// Stats exposes the read-only counters from spec.md §6.
type Stats struct {
	Name                      string
	TotalConnections          int
	IdleConnections           int
	ActiveConnections         int
	ThreadsAwaitingConnection int
	MaximumPoolSize           int
}

func (p *Pool) Stats() Stats {
	return Stats{
		Name:                      p.cfg.Name,
		TotalConnections:          int(p.total.Load()),
		IdleConnections:           p.idleCount(),
		ActiveConnections:         p.activeCount(),
		ThreadsAwaitingConnection: int(p.bag.waiterCount()),
		MaximumPoolSize:           p.cfg.MaximumPoolSize,
	}
}

// AtCapacity reports whether the pool has no idle entry ready to hand out
// and no room left to open a new one — the condition under which an
// Acquire call would have to block or time out.
func (s Stats) AtCapacity() bool {
	return s.IdleConnections == 0 && s.TotalConnections >= s.MaximumPoolSize
}

func (p *Pool) updateMetrics() {
	s := p.Stats()
	metrics.ConnectionsActive.WithLabelValues(p.cfg.Name).Set(float64(s.ActiveConnections))
	metrics.ConnectionsIdle.WithLabelValues(p.cfg.Name).Set(float64(s.IdleConnections))
	metrics.ConnectionsMax.WithLabelValues(p.cfg.Name).Set(float64(p.cfg.MaximumPoolSize))
	metrics.QueueLength.WithLabelValues(p.cfg.Name).Set(float64(s.ThreadsAwaitingConnection))
}
