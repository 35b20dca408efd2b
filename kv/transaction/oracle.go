package transaction

import (
	"sync"

	"github.com/juju/errors"
	"github.com/pingcap-incubator/tinytxn/kv/storage"
)

// committedTxn remembers which keys one committed transaction wrote, by
// 64-bit fingerprint, so later optimistic commits can be validated against
// it.
type committedTxn struct {
	ts           uint64
	conflictKeys map[uint64]struct{}
}

// oracle hands out read timestamps and serializes commits. Every commit,
// optimistic or pessimistic, applies its batch and records its write set
// under the oracle mutex, so a transaction's readTs fixes exactly which
// commits it observed.
type oracle struct {
	detectConflicts bool
	maxCommitted    int

	sync.Mutex
	nextTs uint64

	// committedTxns holds the most recent commits in ts order. Bounded by
	// maxCommitted; lastCleanupTs is the ts of the newest discarded entry.
	committedTxns []committedTxn
	lastCleanupTs uint64
}

func newOracle(detectConflicts bool, maxCommitted int) *oracle {
	return &oracle{
		detectConflicts: detectConflicts,
		maxCommitted:    maxCommitted,
		nextTs:          1,
	}
}

// begin assigns a read timestamp and, if asked, acquires the storage reader
// while still holding the oracle mutex, so the reader's view matches the
// timestamp exactly.
func (o *oracle) begin(s storage.Storage, withSnapshot bool) (uint64, storage.StorageReader, error) {
	o.Lock()
	defer o.Unlock()
	readTs := o.nextTs - 1
	if !withSnapshot {
		return readTs, nil, nil
	}
	reader, err := s.Reader()
	if err != nil {
		return 0, nil, errors.Trace(err)
	}
	return readTs, reader, nil
}

// commitOptimistic validates the transaction's tracked keys against every
// commit newer than its readTs, then applies the batch. A validation failure
// leaves storage untouched.
func (o *oracle) commitOptimistic(readTs uint64, tracked, writes map[uint64]struct{}, mods []storage.Modify, s storage.Storage) error {
	o.Lock()
	defer o.Unlock()

	if o.detectConflicts {
		if readTs < o.lastCleanupTs {
			return errors.Trace(ErrTxnRetryable)
		}
		for _, ct := range o.committedTxns {
			if ct.ts <= readTs {
				continue
			}
			for fp := range tracked {
				if _, has := ct.conflictKeys[fp]; has {
					return errors.Trace(ErrKeyConflict)
				}
			}
		}
	}
	return o.applyLocked(writes, mods, s)
}

// commitPessimistic applies a batch whose keys are already serialized by
// locks. It still records the write set so concurrent optimistic
// transactions can detect the conflict.
func (o *oracle) commitPessimistic(writes map[uint64]struct{}, mods []storage.Modify, s storage.Storage) error {
	o.Lock()
	defer o.Unlock()
	return o.applyLocked(writes, mods, s)
}

func (o *oracle) applyLocked(writes map[uint64]struct{}, mods []storage.Modify, s storage.Storage) error {
	if len(mods) > 0 {
		if err := s.Write(mods); err != nil {
			return errors.Trace(err)
		}
	}
	commitTs := o.nextTs
	o.nextTs++
	if o.detectConflicts && len(writes) > 0 {
		o.committedTxns = append(o.committedTxns, committedTxn{
			ts:           commitTs,
			conflictKeys: writes,
		})
		o.cleanupLocked()
	}
	return nil
}

func (o *oracle) cleanupLocked() {
	for len(o.committedTxns) > o.maxCommitted {
		o.lastCleanupTs = o.committedTxns[0].ts
		o.committedTxns = o.committedTxns[1:]
	}
}
