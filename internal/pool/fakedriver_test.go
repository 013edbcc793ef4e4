package pool

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"sync"
	"sync/atomic"
	"time"
)

// fakeConn and fakeDriver back a database/sql.DB without touching any real
// network or third-party mock library — database/sql's own driver
// registration is the idiomatic way to exercise pool code with no backend.

type fakeConn struct{}

func (fakeConn) Prepare(query string) (driver.Stmt, error) { return fakeStmt{}, nil }
func (fakeConn) Close() error                              { return nil }
func (fakeConn) Begin() (driver.Tx, error)                 { return fakeTx{}, nil }
func (fakeConn) Exec(query string, args []driver.Value) (driver.Result, error) {
	return driver.ResultNoRows, nil
}

type fakeStmt struct{}

func (fakeStmt) Close() error  { return nil }
func (fakeStmt) NumInput() int { return 0 }
func (fakeStmt) Exec(args []driver.Value) (driver.Result, error) {
	return driver.ResultNoRows, nil
}
func (fakeStmt) Query(args []driver.Value) (driver.Rows, error) {
	return nil, sql.ErrNoRows
}

type fakeTx struct{}

func (fakeTx) Commit() error   { return nil }
func (fakeTx) Rollback() error { return nil }

type fakeDriver struct{}

func (fakeDriver) Open(name string) (driver.Conn, error) { return fakeConn{}, nil }

var registerOnce sync.Once

func registerFakeDriver() {
	registerOnce.Do(func() {
		sql.Register("pooltest", fakeDriver{})
	})
}

func init() { registerFakeDriver() }

// fakeDriverFactory opens *sql.DB instances against the registered fake
// driver, one per Open call, matching the one-sql.DB-per-entry contract
// SQLServerDriverFactory follows.
type fakeDriverFactory struct {
	openErr  error
	openedN  atomic.Int64
	dialTime time.Duration
}

func (f *fakeDriverFactory) Open(ctx context.Context) (*sql.DB, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	if f.dialTime > 0 {
		select {
		case <-time.After(f.dialTime):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	db, err := sql.Open("pooltest", "fake")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	f.openedN.Add(1)
	return db, nil
}

// fakeLiveness reports alive/dead according to a flag the test can flip.
type fakeLiveness struct {
	alive atomic.Bool
}

func newFakeLiveness(alive bool) *fakeLiveness {
	l := &fakeLiveness{}
	l.alive.Store(alive)
	return l
}

func (l *fakeLiveness) IsAlive(ctx context.Context, conn *sql.DB, timeout time.Duration) bool {
	return l.alive.Load()
}

// countingLiveness fails the first failFirst probes and reports alive
// thereafter, letting a test drive Acquire's validation-retry branch
// without getting stuck failing forever.
type countingLiveness struct {
	failFirst int64
	calls     atomic.Int64
}

func (l *countingLiveness) IsAlive(ctx context.Context, conn *sql.DB, timeout time.Duration) bool {
	n := l.calls.Add(1)
	return n > l.failFirst
}
