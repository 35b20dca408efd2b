package transaction

import (
	"time"

	"github.com/juju/errors"
	"github.com/pingcap-incubator/tinytxn/kv/storage"
	"github.com/pingcap-incubator/tinytxn/kv/util/engine_util"
)

// State is the lifecycle state of a transaction. Committed and RolledBack
// are terminal: no operation is valid on a terminal transaction.
type State int

const (
	StateActive State = iota
	StateCommitted
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled back"
	}
	return "unknown"
}

// savepoint marks a point the transaction can partially roll back to: the
// write-buffer log length and the lock-record count at the time it was set.
type savepoint struct {
	bufferLen int
	lockCount int
}

// Txn is one unit of atomic work against a TxnDB. A Txn is owned by one
// goroutine at a time but may be handed between goroutines. It must be
// finished with Commit, Rollback or Discard; Discard after a terminal state
// is a no-op, so `defer txn.Discard()` is the usual pattern.
type Txn struct {
	id     uint64
	db     *TxnDB
	readTs uint64
	state  State

	buffer   *WriteBuffer
	detector conflictDetector
	snapshot storage.StorageReader // nil unless the txn was begun with a snapshot

	savepoints []savepoint
	deadline   time.Time // zero means no expiration
}

// ID returns the transaction's handle, unique within its TxnDB.
func (txn *Txn) ID() uint64 { return txn.id }

// State returns the current lifecycle state.
func (txn *Txn) State() State { return txn.state }

// checkActive gates every operation. It reports InvalidState on a terminal
// transaction, and enforces the TTL: an expired transaction is rolled back
// on the spot and every later operation keeps failing with InvalidState.
func (txn *Txn) checkActive(op string) error {
	if txn.state != StateActive {
		return errors.Trace(&ErrInvalidState{State: txn.state, Op: op})
	}
	if !txn.deadline.IsZero() && time.Now().After(txn.deadline) {
		txn.state = StateRolledBack
		txn.cleanup()
		return errors.Trace(ErrTxnExpired)
	}
	return nil
}

// cleanup releases everything the transaction holds: locks and the
// snapshot. Safe to call once per terminal transition.
func (txn *Txn) cleanup() {
	txn.detector.releaseAll()
	if txn.snapshot != nil {
		txn.snapshot.Close()
		txn.snapshot = nil
	}
}

// readView returns the reader to serve a read from and a release function.
// With a snapshot the transaction's own view is used; otherwise a transient
// latest-state reader is taken and released after the read.
func (txn *Txn) readView() (storage.StorageReader, func(), error) {
	if txn.snapshot != nil {
		return txn.snapshot, func() {}, nil
	}
	reader, err := txn.db.storage.Reader()
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	return reader, reader.Close, nil
}

// Get reads a key from the default CF. See GetCF.
func (txn *Txn) Get(key []byte) ([]byte, error) {
	return txn.GetCF(engine_util.CfDefault, key)
}

// GetCF returns the transaction's view of a key: its own pending operation
// if one exists, else the value in storage at the transaction's snapshot
// (or latest, without one). A missing key yields nil, nil. A pending merge
// yields ErrMergeInProgress.
func (txn *Txn) GetCF(cf string, key []byte) ([]byte, error) {
	if err := txn.checkActive("get"); err != nil {
		return nil, err
	}
	return txn.getCF(cf, key)
}

func (txn *Txn) getCF(cf string, key []byte) ([]byte, error) {
	if op, ok := txn.buffer.Get(cf, key); ok {
		switch op.Type {
		case OpPut:
			return copyBytes(op.Value), nil
		case OpDelete:
			return nil, nil
		case OpMerge:
			return nil, errors.Trace(&ErrMergeInProgress{Cf: cf, Key: key})
		}
	}
	reader, release, err := txn.readView()
	if err != nil {
		return nil, err
	}
	defer release()
	return reader.GetCF(cf, key)
}

// GetForUpdate reads a key from the default CF with write intent. See
// GetForUpdateCF.
func (txn *Txn) GetForUpdate(key []byte, exclusive bool) ([]byte, error) {
	return txn.GetForUpdateCF(engine_util.CfDefault, key, exclusive)
}

// GetForUpdateCF reads a key and registers it with the conflict detector:
// optimistic transactions will validate it at commit, pessimistic ones lock
// it now and may block, time out, or report a deadlock.
func (txn *Txn) GetForUpdateCF(cf string, key []byte, exclusive bool) ([]byte, error) {
	if err := txn.checkActive("get for update"); err != nil {
		return nil, err
	}
	if err := txn.detector.registerRead(cf, key, exclusive); err != nil {
		return nil, err
	}
	return txn.getCF(cf, key)
}

// Put stages a write of key in the default CF. See PutCF.
func (txn *Txn) Put(key, value []byte) error {
	return txn.PutCF(engine_util.CfDefault, key, value)
}

// PutCF stages a write. Nothing reaches storage until Commit.
func (txn *Txn) PutCF(cf string, key, value []byte) error {
	if err := txn.checkActive("put"); err != nil {
		return err
	}
	if err := txn.detector.registerWrite(cf, key); err != nil {
		return err
	}
	txn.buffer.Put(cf, key, value)
	return nil
}

// Delete stages a deletion of key in the default CF. See DeleteCF.
func (txn *Txn) Delete(key []byte) error {
	return txn.DeleteCF(engine_util.CfDefault, key)
}

func (txn *Txn) DeleteCF(cf string, key []byte) error {
	if err := txn.checkActive("delete"); err != nil {
		return err
	}
	if err := txn.detector.registerWrite(cf, key); err != nil {
		return err
	}
	txn.buffer.Delete(cf, key)
	return nil
}

// Merge stages a merge operand for key in the default CF. See MergeCF.
func (txn *Txn) Merge(key, operand []byte) error {
	return txn.MergeCF(engine_util.CfDefault, key, operand)
}

// MergeCF stages a merge operand. The operand is combined with the key's
// existing value by the storage's merge operator when the transaction
// commits; until then reads of the key report ErrMergeInProgress.
func (txn *Txn) MergeCF(cf string, key, operand []byte) error {
	if err := txn.checkActive("merge"); err != nil {
		return err
	}
	if err := txn.detector.registerWrite(cf, key); err != nil {
		return err
	}
	txn.buffer.Merge(cf, key, operand)
	return nil
}

// Iter returns a merged iterator over the default CF. See IterCF.
func (txn *Txn) Iter() (*TxnIterator, error) {
	return txn.IterCF(engine_util.CfDefault)
}

// IterCF returns an iterator over the transaction's view of cf: buffered
// operations merged over storage in ascending key order. The iterator must
// be Closed.
func (txn *Txn) IterCF(cf string) (*TxnIterator, error) {
	return txn.newIter(cf, nil)
}

// PrefixIter constrains traversal to keys sharing prefix, in the default
// CF. See PrefixIterCF.
func (txn *Txn) PrefixIter(prefix []byte) (*TxnIterator, error) {
	return txn.PrefixIterCF(engine_util.CfDefault, prefix)
}

func (txn *Txn) PrefixIterCF(cf string, prefix []byte) (*TxnIterator, error) {
	return txn.newIter(cf, prefix)
}

// FullIter guarantees total-order traversal of the default CF. See
// FullIterCF.
func (txn *Txn) FullIter() (*TxnIterator, error) {
	return txn.FullIterCF(engine_util.CfDefault)
}

// FullIterCF iterates the whole CF in key order with any prefix-based skip
// optimization disabled. The storage engines here are ordered, so this is
// the same traversal as IterCF; the method exists so callers do not have to
// know that.
func (txn *Txn) FullIterCF(cf string) (*TxnIterator, error) {
	return txn.newIter(cf, nil)
}

func (txn *Txn) newIter(cf string, prefix []byte) (*TxnIterator, error) {
	if err := txn.checkActive("iterate"); err != nil {
		return nil, err
	}
	var owned storage.StorageReader
	reader := txn.snapshot
	if reader == nil {
		var err error
		reader, err = txn.db.storage.Reader()
		if err != nil {
			return nil, errors.Trace(err)
		}
		owned = reader
	}
	return newTxnIterator(txn.buffer.iter(cf), reader.IterCF(cf), owned, prefix), nil
}

// SetSavepoint pushes a checkpoint of the write buffer and lock set.
// Savepoints nest; each RollbackToSavepoint consumes the most recent one.
func (txn *Txn) SetSavepoint() error {
	if err := txn.checkActive("set savepoint"); err != nil {
		return err
	}
	txn.savepoints = append(txn.savepoints, savepoint{
		bufferLen: txn.buffer.Len(),
		lockCount: txn.detector.lockCount(),
	})
	return nil
}

// RollbackToSavepoint undoes every buffer and lock mutation made after the
// most recent savepoint and removes it. With no savepoint set it fails with
// ErrNoSavepoint.
func (txn *Txn) RollbackToSavepoint() error {
	if err := txn.checkActive("rollback to savepoint"); err != nil {
		return err
	}
	if len(txn.savepoints) == 0 {
		return errors.Trace(ErrNoSavepoint)
	}
	sp := txn.savepoints[len(txn.savepoints)-1]
	txn.savepoints = txn.savepoints[:len(txn.savepoints)-1]
	txn.buffer.TruncateTo(sp.bufferLen)
	txn.detector.releaseTo(sp.lockCount)
	return nil
}

// Commit validates the transaction with its conflict detector and applies
// the write buffer atomically. On success the transaction is terminal. On a
// conflict, lock-timeout or retryable failure the transaction stays Active
// with storage untouched, so the caller can decide to retry elsewhere.
// Expiration and storage errors are fatal: the transaction is rolled back
// and everything it holds is released.
func (txn *Txn) Commit() error {
	if err := txn.checkActive("commit"); err != nil {
		return err
	}
	if err := txn.detector.commit(txn.buffer.Modifies()); err != nil {
		if !IsRetryable(err) {
			txn.state = StateRolledBack
			txn.cleanup()
		}
		return err
	}
	txn.state = StateCommitted
	txn.cleanup()
	return nil
}

// Rollback discards the write buffer and releases all locks and the
// snapshot. The transaction is terminal afterwards.
func (txn *Txn) Rollback() error {
	if err := txn.checkActive("rollback"); err != nil {
		return err
	}
	txn.state = StateRolledBack
	txn.cleanup()
	return nil
}

// Discard finishes an abandoned transaction, behaving as Rollback when it
// is still active. Calling Discard on a finished transaction is a no-op, so
// it is safe to defer unconditionally; a dropped-without-commit transaction
// never leaks locks or snapshot references.
func (txn *Txn) Discard() {
	if txn.state != StateActive {
		return
	}
	txn.state = StateRolledBack
	txn.cleanup()
}
