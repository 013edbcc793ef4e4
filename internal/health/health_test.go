package health

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/joaobrasildev/connpool/internal/config"
	"github.com/joaobrasildev/connpool/internal/coordinator"
	"github.com/joaobrasildev/connpool/internal/pool"
)

// A minimal database/sql driver registration, mirroring the one
// internal/pool's own tests use, so Manager/Pool can be exercised here
// without a live SQL Server.

type healthFakeConn struct{}

func (healthFakeConn) Prepare(query string) (driver.Stmt, error) { return healthFakeStmt{}, nil }
func (healthFakeConn) Close() error                              { return nil }
func (healthFakeConn) Begin() (driver.Tx, error)                 { return healthFakeTx{}, nil }

type healthFakeStmt struct{}

func (healthFakeStmt) Close() error  { return nil }
func (healthFakeStmt) NumInput() int { return 0 }
func (healthFakeStmt) Exec(args []driver.Value) (driver.Result, error) {
	return driver.ResultNoRows, nil
}
func (healthFakeStmt) Query(args []driver.Value) (driver.Rows, error) {
	return nil, sql.ErrNoRows
}

type healthFakeTx struct{}

func (healthFakeTx) Commit() error   { return nil }
func (healthFakeTx) Rollback() error { return nil }

type healthFakeDriver struct{}

func (healthFakeDriver) Open(name string) (driver.Conn, error) { return healthFakeConn{}, nil }

var registerHealthDriverOnce sync.Once

func init() {
	registerHealthDriverOnce.Do(func() { sql.Register("healthtest", healthFakeDriver{}) })
}

type testDriverFactory struct{}

func (testDriverFactory) Open(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("healthtest", "fake")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

type testLiveness struct{}

func (testLiveness) IsAlive(ctx context.Context, conn *sql.DB, timeout time.Duration) bool {
	return true
}

func newTestManager(t *testing.T, maxSize, minIdle int) *pool.Manager {
	t.Helper()
	cfg := pool.Config{
		Name:              "p1",
		MaximumPoolSize:   maxSize,
		MinimumIdle:       minIdle,
		ConnectionTimeout: time.Second,
		HousekeeperPeriod: time.Hour,
	}
	m, err := pool.NewManager(context.Background(), []pool.Config{cfg},
		func(pool.Config) pool.DriverFactory { return testDriverFactory{} },
		testLiveness{})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

func TestCheckHealthyWhenIdleCapacityAvailable(t *testing.T) {
	m := newTestManager(t, 5, 2)
	defer m.Shutdown()

	// No coordinator attached: an empty config.RedisConfig would itself
	// boot in fallback mode (no Addr set), which would make this baseline
	// "everything healthy" case spuriously unhealthy. nil exercises the
	// no-coordinator-configured path instead.
	checker := NewChecker("instance-1", m, nil)
	report := checker.Check()

	if report.Status != StatusHealthy {
		t.Fatalf("report status = %v, want healthy", report.Status)
	}
}

func TestCheckUnhealthyWhenPoolAtCapacity(t *testing.T) {
	m := newTestManager(t, 1, 1)
	defer m.Shutdown()

	conn, err := m.Acquire(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer conn.Close()

	checker := NewChecker("instance-1", m, nil)
	report := checker.Check()

	if report.Status != StatusUnhealthy {
		t.Fatalf("report status = %v, want unhealthy when pool is saturated", report.Status)
	}
}

func TestCheckUnhealthyWhenCoordinatorInFallback(t *testing.T) {
	m := newTestManager(t, 5, 2)
	defer m.Shutdown()

	// Addr set but unreachable: New degrades to fallback mode rather than
	// failing, per internal/coordinator's documented boot behavior.
	rc, err := coordinator.New(context.Background(), config.RedisConfig{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond}, "instance-1")
	if err != nil {
		t.Fatalf("coordinator.New failed: %v", err)
	}
	defer rc.Close(context.Background())

	if !rc.IsFallback() {
		t.Fatal("expected the coordinator to be in fallback mode against an unreachable address")
	}

	checker := NewChecker("instance-1", m, rc)
	report := checker.Check()

	if report.Status != StatusUnhealthy {
		t.Fatalf("report status = %v, want unhealthy when redis coordinator is in fallback", report.Status)
	}
}

func TestHandlerReturns503WhenUnhealthy(t *testing.T) {
	m := newTestManager(t, 1, 1)
	defer m.Shutdown()

	conn, err := m.Acquire(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer conn.Close()

	checker := NewChecker("instance-1", m, nil)
	srv := httptest.NewServer(checker.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status code = %d, want 503", resp.StatusCode)
	}
}

func TestHandlerReturns200WhenHealthy(t *testing.T) {
	m := newTestManager(t, 5, 2)
	defer m.Shutdown()

	checker := NewChecker("instance-1", m, nil)
	srv := httptest.NewServer(checker.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d, want 200", resp.StatusCode)
	}
}

func TestHandlerLiveAlwaysReturns200(t *testing.T) {
	m := newTestManager(t, 1, 1)
	defer m.Shutdown()

	conn, err := m.Acquire(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer conn.Close()

	checker := NewChecker("instance-1", m, nil)
	srv := httptest.NewServer(checker.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health/live")
	if err != nil {
		t.Fatalf("GET /health/live failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d, want 200 even when the pool is saturated", resp.StatusCode)
	}
}
