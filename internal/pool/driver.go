package pool

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/microsoft/go-mssqldb"
)

// DriverFactory is the inbound collaborator from spec.md §6: it opens a
// fresh database session and applies session defaults. The pool core is
// oblivious to how this is done; it only ever calls Open.
type DriverFactory interface {
	Open(ctx context.Context) (*sql.DB, error)
}

// Liveness is the inbound validation collaborator from spec.md §6. If the
// driver has no native validity check, it should run the configured test
// query under a statement timeout and report any error as "dead".
type Liveness interface {
	IsAlive(ctx context.Context, conn *sql.DB, timeout time.Duration) bool
}

// DSN describes how to reach one target database. It is driver-specific
// connection detail, deliberately kept outside the pool core.
type DSN struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
}

func (d DSN) sqlServerURL() string {
	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s&connection+timeout=30",
		d.Username, d.Password, d.Host, d.Port, d.Database)
}

// SQLServerDriverFactory opens SQL Server sessions via go-mssqldb. It
// configures the underlying *sql.DB as a single-connection pool
// (MaxOpenConns=1) so each returned *sql.DB maps 1:1 to one physical
// session — the pool core, not database/sql, owns pooling policy.
type SQLServerDriverFactory struct {
	DSN DSN
}

func (f SQLServerDriverFactory) Open(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("sqlserver", f.DSN.sqlServerURL())
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0) // the pool manages lifetime itself.

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return db, nil
}

// QueryLiveness validates a connection by running a configured test query
// (default SELECT 1) under a statement-scoped timeout, per spec.md §6.
type QueryLiveness struct {
	// Query is the SQL run when the driver has no native validity check.
	// Defaults to "SELECT 1".
	Query string

	// IsolateInternalQueries rolls back the probe's transaction after
	// running the test query instead of committing it, so the probe leaves
	// no trace.
	IsolateInternalQueries bool
}

func (v QueryLiveness) IsAlive(ctx context.Context, conn *sql.DB, timeout time.Duration) bool {
	if timeout < time.Second {
		timeout = time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	query := v.Query
	if query == "" {
		query = "SELECT 1"
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		// No explicit transaction support needed for a liveness probe;
		// fall back to a bare exec.
		_, err := conn.ExecContext(ctx, query)
		return err == nil
	}

	_, err = tx.ExecContext(ctx, query)
	if v.IsolateInternalQueries || err != nil {
		tx.Rollback()
	} else {
		tx.Commit()
	}
	return err == nil
}
