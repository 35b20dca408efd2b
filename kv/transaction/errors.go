package transaction

import (
	"fmt"

	"github.com/juju/errors"
)

var (
	// ErrKeyConflict is returned by an optimistic commit when a key in the
	// transaction's tracked set was committed by another transaction after
	// this one began. The same logical work may be retried in a new
	// transaction.
	ErrKeyConflict = errors.New("transaction conflict, retry in a new transaction")

	// ErrTxnRetryable is returned when the committed-transaction history
	// needed to validate this transaction has been discarded. The caller
	// should retry with a fresh transaction.
	ErrTxnRetryable = errors.New("validation history exceeded, retry in a new transaction")

	// ErrLockWaitTimeout is returned when a pessimistic lock request waits
	// longer than the configured bound for an incompatible holder.
	ErrLockWaitTimeout = errors.New("lock wait timeout exceeded")

	// ErrTxnExpired is returned once a transaction outlives its TTL. The
	// transaction is rolled back and cannot be used again.
	ErrTxnExpired = errors.New("transaction expired")

	// ErrNoSavepoint is returned by RollbackToSavepoint when no savepoint is
	// set. This is a programmer error, not a retryable condition.
	ErrNoSavepoint = errors.New("no savepoint to roll back to")
)

// ErrDeadlock is returned when granting a lock request would close a cycle
// in the wait-for graph. The caller must retry; waiting longer cannot help.
type ErrDeadlock struct {
	Key []byte
}

func (e *ErrDeadlock) Error() string {
	return fmt.Sprintf("deadlock detected waiting for key %q", e.Key)
}

// ErrMergeInProgress is returned when a transactional read hits a pending
// merge in the transaction's own write buffer. Merge resolution inside an
// uncommitted transaction is ambiguous, so it is surfaced to the caller.
type ErrMergeInProgress struct {
	Cf  string
	Key []byte
}

func (e *ErrMergeInProgress) Error() string {
	return fmt.Sprintf("merge in progress for key %q in CF %s", e.Key, e.Cf)
}

// ErrInvalidState is returned when an operation is attempted on a committed
// or rolled back transaction.
type ErrInvalidState struct {
	State State
	Op    string
}

func (e *ErrInvalidState) Error() string {
	return fmt.Sprintf("cannot %s: transaction is %s", e.Op, e.State)
}

// IsRetryable reports whether the caller may retry the same logical work in
// a new transaction.
func IsRetryable(err error) bool {
	cause := errors.Cause(err)
	if cause == ErrKeyConflict || cause == ErrTxnRetryable || cause == ErrLockWaitTimeout {
		return true
	}
	_, isDeadlock := cause.(*ErrDeadlock)
	return isDeadlock
}
