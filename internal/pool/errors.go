package pool

import (
	"errors"
	"fmt"
	"log"
)

// Sentinel errors surfaced to callers. ErrPoolTimeout and ErrPoolClosed are
// the pool's own error kinds a caller of Acquire can branch on; context
// cancellation is returned as ctx.Err() unchanged. Dead connections and
// retried opens are absorbed internally and never reach the caller.
var (
	// ErrPoolTimeout means borrow exhausted its time budget without
	// obtaining a usable entry.
	ErrPoolTimeout = errors.New("pool: borrow timed out")

	// ErrPoolClosed means Acquire was called after Shutdown.
	ErrPoolClosed = errors.New("pool: closed")

	// errConnectionDead is internal: validation or open failed and the
	// caller should retry with whatever time budget remains.
	errConnectionDead = errors.New("pool: connection dead")
)

// AccountingInvariantViolation records an impossible bookkeeping state —
// totalConnections going negative, or a state CAS observing a prior value
// the state DAG forbids. It is always logged, never returned as an error:
// the pool keeps serving traffic on the assumption that the invariant
// violation is itself the bug, not a reason to fail requests.
type AccountingInvariantViolation struct {
	Op      string
	Bucket  string
	Detail  string
}

func (v AccountingInvariantViolation) String() string {
	return fmt.Sprintf("accounting invariant violation in %s (pool=%s): %s", v.Op, v.Bucket, v.Detail)
}

func logInvariantViolation(v AccountingInvariantViolation) {
	log.Printf("[pool] ACCOUNTING INVARIANT VIOLATION: %s", v.String())
}
