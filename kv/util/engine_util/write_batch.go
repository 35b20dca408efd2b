package engine_util

import (
	"github.com/Connor1996/badger"
	"github.com/juju/errors"
)

type batchEntry struct {
	entry  *badger.Entry
	delete bool
}

type WriteBatch struct {
	entries       []batchEntry
	size          int
	safePoint     int
	safePointSize int
}

// CfDefault is the column family used when the caller does not name one.
const CfDefault string = "default"

func (wb *WriteBatch) Len() int {
	return len(wb.entries)
}

func (wb *WriteBatch) SetCF(cf string, key, val []byte) {
	wb.entries = append(wb.entries, batchEntry{
		entry: &badger.Entry{
			Key:   KeyWithCF(cf, key),
			Value: val,
		},
	})
	wb.size += len(key) + len(val)
}

func (wb *WriteBatch) DeleteCF(cf string, key []byte) {
	wb.entries = append(wb.entries, batchEntry{
		entry: &badger.Entry{
			Key: KeyWithCF(cf, key),
		},
		delete: true,
	})
	wb.size += len(key)
}

func (wb *WriteBatch) SetSafePoint() {
	wb.safePoint = len(wb.entries)
	wb.safePointSize = wb.size
}

func (wb *WriteBatch) RollbackToSafePoint() {
	wb.entries = wb.entries[:wb.safePoint]
	wb.size = wb.safePointSize
}

// WriteToDB applies the whole batch in a single badger transaction, so the
// batch becomes visible atomically or not at all.
func (wb *WriteBatch) WriteToDB(db *badger.DB) error {
	if len(wb.entries) == 0 {
		return nil
	}
	err := db.Update(func(txn *badger.Txn) error {
		for _, be := range wb.entries {
			var err1 error
			if be.delete {
				err1 = txn.Delete(be.entry.Key)
			} else {
				err1 = txn.SetEntry(be.entry)
			}
			if err1 != nil {
				return err1
			}
		}
		return nil
	})
	if err != nil {
		return errors.Trace(err)
	}
	return nil
}

func (wb *WriteBatch) Reset() {
	wb.entries = wb.entries[:0]
	wb.size = 0
	wb.safePoint = 0
	wb.safePointSize = 0
}
