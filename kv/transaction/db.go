package transaction

import (
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/ngaut/log"
	"github.com/pingcap-incubator/tinytxn/kv/config"
	"github.com/pingcap-incubator/tinytxn/kv/storage"
)

// TxnDB layers multi-key transactions over a Storage. All cross-transaction
// coordination lives here: the oracle serializes commits and validates
// optimistic transactions, the lock table serializes pessimistic ones.
type TxnDB struct {
	storage storage.Storage
	conf    *config.Config
	oracle  *oracle
	locks   *LockTable

	nextTxnID uint64
}

// Open starts the storage and wires up the transaction machinery.
func Open(s storage.Storage, conf *config.Config) (*TxnDB, error) {
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if err := s.Start(); err != nil {
		return nil, errors.Trace(err)
	}
	return &TxnDB{
		storage: s,
		conf:    conf,
		oracle:  newOracle(conf.DetectConflicts, conf.MaxCommittedTxns),
		locks:   NewLockTable(),
	}, nil
}

func (db *TxnDB) Close() error {
	return errors.Trace(db.storage.Stop())
}

// TxnOptions configures one transaction. Zero values fall back to the
// database configuration.
type TxnOptions struct {
	// Pessimistic selects upfront key locking instead of commit-time
	// validation.
	Pessimistic bool
	// SnapshotOnBegin pins the read view at Begin. Without it every read
	// sees the latest committed state.
	SnapshotOnBegin bool
	// TTL bounds the transaction's lifetime. Zero uses config.TxnTTL.
	TTL time.Duration
	// LockWaitTimeout bounds each pessimistic lock wait. Zero uses
	// config.LockWaitTimeout.
	LockWaitTimeout time.Duration
	// DeadlockDetect overrides config.DeadlockDetect when non-nil.
	DeadlockDetect *bool
}

// Begin opens a transaction. The returned Txn must be finished with Commit,
// Rollback or Discard.
func (db *TxnDB) Begin(opts TxnOptions) (*Txn, error) {
	id := atomic.AddUint64(&db.nextTxnID, 1)
	readTs, snap, err := db.oracle.begin(db.storage, opts.SnapshotOnBegin)
	if err != nil {
		return nil, err
	}

	var detector conflictDetector
	if opts.Pessimistic {
		timeout := opts.LockWaitTimeout
		if timeout == 0 {
			timeout = db.conf.LockWaitTimeout
		}
		detect := db.conf.DeadlockDetect
		if opts.DeadlockDetect != nil {
			detect = *opts.DeadlockDetect
		}
		detector = newPessimisticDetector(db.locks, db.oracle, db.storage, id, timeout, detect)
	} else {
		detector = newOptimisticDetector(db.oracle, db.storage, readTs)
	}

	ttl := opts.TTL
	if ttl == 0 {
		ttl = db.conf.TxnTTL
	}
	var deadline time.Time
	if ttl > 0 {
		deadline = time.Now().Add(ttl)
	}

	txn := &Txn{
		id:       id,
		db:       db,
		readTs:   readTs,
		state:    StateActive,
		buffer:   NewWriteBuffer(),
		detector: detector,
		snapshot: snap,
		deadline: deadline,
	}
	log.Debugf("begin txn %d readTs=%d pessimistic=%v snapshot=%v", id, readTs, opts.Pessimistic, snap != nil)
	return txn, nil
}

// Update runs fn in a fresh optimistic transaction and commits it when fn
// succeeds. The transaction is discarded on any error path, so locks and
// snapshots never leak.
func (db *TxnDB) Update(fn func(txn *Txn) error) error {
	txn, err := db.Begin(TxnOptions{})
	if err != nil {
		return err
	}
	defer txn.Discard()
	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// View runs fn in a read-only snapshot transaction.
func (db *TxnDB) View(fn func(txn *Txn) error) error {
	txn, err := db.Begin(TxnOptions{SnapshotOnBegin: true})
	if err != nil {
		return err
	}
	defer txn.Discard()
	return fn(txn)
}
