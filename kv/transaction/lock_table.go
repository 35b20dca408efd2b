package transaction

import (
	"sync"
	"time"

	"github.com/dgryski/go-farm"
	"github.com/juju/errors"
	"github.com/pingcap-incubator/tinytxn/kv/util/lockwaiter"
)

const lockTableShards = 32

// LockTable is the shared lock state of all pessimistic transactions on one
// database. It is sharded by key fingerprint so unrelated transactions do
// not serialize on a single mutex. Waiting and wake-up go through a
// lockwaiter.Manager; the table itself only ever makes non-blocking grant
// decisions under a shard mutex.
type LockTable struct {
	shards   [lockTableShards]lockShard
	waiters  *lockwaiter.Manager
	detector *deadlockDetector
}

type lockShard struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

// lockEntry tracks the holders of one key. The bool is true for an
// exclusive holder. Shared holders may coexist; an exclusive holder is
// always alone.
type lockEntry struct {
	holders map[uint64]bool
}

func NewLockTable() *LockTable {
	lt := &LockTable{
		waiters:  lockwaiter.NewManager(),
		detector: newDeadlockDetector(),
	}
	for i := range lt.shards {
		lt.shards[i].locks = make(map[string]*lockEntry)
	}
	return lt
}

func (lt *LockTable) shard(hash uint64) *lockShard {
	return &lt.shards[hash%lockTableShards]
}

// Acquire locks key for txnID, blocking up to timeout when another
// transaction holds it in an incompatible mode. A shared holder may upgrade
// to exclusive when it is the only holder. With detect enabled a request
// that would deadlock fails immediately instead of blocking.
func (lt *LockTable) Acquire(txnID uint64, key []byte, exclusive bool, timeout time.Duration, detect bool) error {
	hash := farm.Fingerprint64(key)
	shard := lt.shard(hash)
	deadline := time.Now().Add(timeout)

	for {
		shard.mu.Lock()
		entry, ok := shard.locks[string(key)]
		if !ok {
			entry = &lockEntry{holders: make(map[uint64]bool)}
			shard.locks[string(key)] = entry
		}
		if entry.compatible(txnID, exclusive) {
			entry.holders[txnID] = entry.holders[txnID] || exclusive
			shard.mu.Unlock()
			return nil
		}
		holders := entry.otherHolders(txnID)
		if detect && lt.detector.detectAndRegister(txnID, holders) {
			shard.mu.Unlock()
			return errors.Trace(&ErrDeadlock{Key: key})
		}
		// The waiter is registered before the shard mutex is dropped, so a
		// release between the failed grant and the wait cannot be missed.
		w := lt.waiters.NewWaiter(txnID, hash, time.Until(deadline))
		shard.mu.Unlock()

		pos := w.Wait()
		lt.waiters.CleanUp(w)
		if detect {
			lt.detector.clearWaits(txnID)
		}
		if pos == lockwaiter.WaitTimeout {
			return errors.Trace(ErrLockWaitTimeout)
		}
		// Woken by a release; race for the lock again.
	}
}

// Release drops txnID's hold on key and wakes anyone parked on it.
func (lt *LockTable) Release(txnID uint64, key []byte) {
	hash := farm.Fingerprint64(key)
	shard := lt.shard(hash)
	shard.mu.Lock()
	if entry, ok := shard.locks[string(key)]; ok {
		delete(entry.holders, txnID)
		if len(entry.holders) == 0 {
			delete(shard.locks, string(key))
		}
	}
	shard.mu.Unlock()
	lt.waiters.WakeUp(hash)
}

func (e *lockEntry) compatible(txnID uint64, exclusive bool) bool {
	if len(e.holders) == 0 {
		return true
	}
	if held, ok := e.holders[txnID]; ok {
		if held || !exclusive {
			return true
		}
		// Shared-to-exclusive upgrade is allowed only for a sole holder.
		return len(e.holders) == 1
	}
	if exclusive {
		return false
	}
	for _, heldExclusive := range e.holders {
		if heldExclusive {
			return false
		}
	}
	return true
}

func (e *lockEntry) otherHolders(txnID uint64) []uint64 {
	ids := make([]uint64, 0, len(e.holders))
	for id := range e.holders {
		if id != txnID {
			ids = append(ids, id)
		}
	}
	return ids
}
