package transaction

import (
	"time"

	"github.com/dgryski/go-farm"
	"github.com/pingcap-incubator/tinytxn/kv/storage"
	"github.com/pingcap-incubator/tinytxn/kv/util/engine_util"
)

// conflictDetector is the strategy a transaction uses to coordinate with
// concurrent transactions: record versions and validate at commit time
// (optimistic) or take key locks up front (pessimistic). Selected at Begin.
type conflictDetector interface {
	// registerRead is called on the get-for-update path. It may block in
	// pessimistic mode.
	registerRead(cf string, key []byte, exclusive bool) error
	// registerWrite is called before a put/delete/merge is buffered.
	registerWrite(cf string, key []byte) error
	// commit validates (or relies on held locks) and atomically applies the
	// batch. On error nothing is applied.
	commit(mods []storage.Modify) error
	// lockCount is the number of lock records held, recorded by savepoints.
	lockCount() int
	// releaseTo drops every lock record acquired at index n or later.
	releaseTo(n int)
	releaseAll()
}

// optimisticDetector tracks key fingerprints and defers all conflict
// decisions to the oracle at commit time. No locks are ever held.
type optimisticDetector struct {
	oracle  *oracle
	storage storage.Storage
	readTs  uint64

	// tracked is every fingerprint to validate at commit: keys read for
	// update plus keys written. writes is the subset published for other
	// transactions to validate against.
	tracked map[uint64]struct{}
	writes  map[uint64]struct{}
}

func newOptimisticDetector(o *oracle, s storage.Storage, readTs uint64) *optimisticDetector {
	return &optimisticDetector{
		oracle:  o,
		storage: s,
		readTs:  readTs,
		tracked: make(map[uint64]struct{}),
		writes:  make(map[uint64]struct{}),
	}
}

func fingerprint(cf string, key []byte) uint64 {
	return farm.Fingerprint64(engine_util.KeyWithCF(cf, key))
}

func (d *optimisticDetector) registerRead(cf string, key []byte, exclusive bool) error {
	d.tracked[fingerprint(cf, key)] = struct{}{}
	return nil
}

func (d *optimisticDetector) registerWrite(cf string, key []byte) error {
	fp := fingerprint(cf, key)
	d.tracked[fp] = struct{}{}
	d.writes[fp] = struct{}{}
	return nil
}

func (d *optimisticDetector) commit(mods []storage.Modify) error {
	return d.oracle.commitOptimistic(d.readTs, d.tracked, d.writes, mods, d.storage)
}

func (d *optimisticDetector) lockCount() int { return 0 }

func (d *optimisticDetector) releaseTo(n int) {}

func (d *optimisticDetector) releaseAll() {}

// pessimisticDetector takes key locks as keys are read for update or
// written. Commit needs no version validation for locked keys; it still
// publishes the write set through the oracle so optimistic transactions see
// it.
type pessimisticDetector struct {
	table   *LockTable
	oracle  *oracle
	storage storage.Storage
	txnID   uint64
	timeout time.Duration
	detect  bool

	// held maps lock key to the exclusivity currently held. records keeps
	// acquisition order for savepoint release; an upgrade mutates the
	// original record rather than appending.
	held    map[string]bool
	records []*lockRecord
}

type lockRecord struct {
	key       []byte
	exclusive bool
}

func newPessimisticDetector(lt *LockTable, o *oracle, s storage.Storage, txnID uint64, timeout time.Duration, detect bool) *pessimisticDetector {
	return &pessimisticDetector{
		table:   lt,
		oracle:  o,
		storage: s,
		txnID:   txnID,
		timeout: timeout,
		detect:  detect,
		held:    make(map[string]bool),
	}
}

func (d *pessimisticDetector) registerRead(cf string, key []byte, exclusive bool) error {
	return d.acquire(engine_util.KeyWithCF(cf, key), exclusive)
}

func (d *pessimisticDetector) registerWrite(cf string, key []byte) error {
	return d.acquire(engine_util.KeyWithCF(cf, key), true)
}

func (d *pessimisticDetector) acquire(lockKey []byte, exclusive bool) error {
	if heldExclusive, ok := d.held[string(lockKey)]; ok {
		if heldExclusive || !exclusive {
			return nil
		}
		// Upgrade in place; the savepoint boundary of the original
		// acquisition keeps covering this key.
		if err := d.table.Acquire(d.txnID, lockKey, true, d.timeout, d.detect); err != nil {
			return err
		}
		d.held[string(lockKey)] = true
		for _, r := range d.records {
			if string(r.key) == string(lockKey) {
				r.exclusive = true
				break
			}
		}
		return nil
	}
	if err := d.table.Acquire(d.txnID, lockKey, exclusive, d.timeout, d.detect); err != nil {
		return err
	}
	d.held[string(lockKey)] = exclusive
	d.records = append(d.records, &lockRecord{key: lockKey, exclusive: exclusive})
	return nil
}

func (d *pessimisticDetector) commit(mods []storage.Modify) error {
	writes := make(map[uint64]struct{}, len(mods))
	for i := range mods {
		writes[farm.Fingerprint64(engine_util.KeyWithCF(mods[i].Cf(), mods[i].Key()))] = struct{}{}
	}
	return d.oracle.commitPessimistic(writes, mods, d.storage)
}

func (d *pessimisticDetector) lockCount() int { return len(d.records) }

func (d *pessimisticDetector) releaseTo(n int) {
	for i := len(d.records) - 1; i >= n; i-- {
		r := d.records[i]
		d.table.Release(d.txnID, r.key)
		delete(d.held, string(r.key))
	}
	d.records = d.records[:n]
}

func (d *pessimisticDetector) releaseAll() {
	d.releaseTo(0)
}
