package pool

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// Manager owns one Pool per configured target database, keyed by
// Config.Name. It is the main entry point for a process that talks to
// several databases, generalized from the teacher's bucket-keyed Manager.
type Manager struct {
	mu    sync.RWMutex
	pools map[string]*Pool
}

// NewManager creates a Pool for each configuration and fails closed: if
// any pool fails to initialize, every pool already created is shut down
// before the error is returned.
func NewManager(ctx context.Context, configs []Config, driverFor func(Config) DriverFactory, liveness Liveness) (*Manager, error) {
	m := &Manager{pools: make(map[string]*Pool, len(configs))}

	for _, cfg := range configs {
		driver := driverFor(cfg)
		p, err := New(ctx, cfg, driver, liveness)
		if err != nil {
			m.Shutdown()
			return nil, fmt.Errorf("initializing pool %s: %w", cfg.Name, err)
		}
		m.pools[cfg.Name] = p
	}

	log.Printf("[pool] manager initialized: %d pools", len(m.pools))
	return m, nil
}

// Acquire borrows a connection from the named pool.
func (m *Manager) Acquire(ctx context.Context, name string) (*Conn, error) {
	m.mu.RLock()
	p, ok := m.pools[name]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown pool: %s", name)
	}
	return p.Acquire(ctx)
}

// Pool returns the named pool, for callers that want direct access (e.g.
// to call SoftEvict or AbortActive).
func (m *Manager) Pool(name string) (*Pool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[name]
	return p, ok
}

// Stats returns Stats for every managed pool.
func (m *Manager) Stats() []Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make([]Stats, 0, len(m.pools))
	for _, p := range m.pools {
		stats = append(stats, p.Stats())
	}
	return stats
}

// Shutdown shuts down every managed pool and returns the first error, if
// any.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for name, p := range m.pools {
		if err := p.Shutdown(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("shutting down pool %s: %w", name, err)
		}
	}
	m.pools = nil

	log.Println("[pool] manager shut down")
	return firstErr
}
