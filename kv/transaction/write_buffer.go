package transaction

import (
	"bytes"

	"github.com/google/btree"
	"github.com/pingcap-incubator/tinytxn/kv/storage"
)

type OpType byte

const (
	OpPut OpType = iota + 1
	OpDelete
	OpMerge
)

// BufferedOp is one pending mutation of a transaction. For OpDelete the
// Value field is unused; for OpMerge it holds the merge operand.
type BufferedOp struct {
	Type  OpType
	Cf    string
	Key   []byte
	Value []byte
}

// bufferEntry is one record of the buffer's append-only log. prev points at
// the previous log entry for the same (cf, key), so truncating the log can
// restore the older pending operation without a scan.
type bufferEntry struct {
	op   BufferedOp
	prev int
}

type bufferIndexItem struct {
	cf  string
	key []byte
	idx int
}

func (a *bufferIndexItem) Less(b btree.Item) bool {
	other := b.(*bufferIndexItem)
	if a.cf != other.cf {
		return a.cf < other.cf
	}
	return bytes.Compare(a.key, other.key) < 0
}

// WriteBuffer is the transaction-local overlay of pending operations. It
// keeps at most one live operation per (cf, key): later operations shadow
// earlier ones. The append-only log exists so savepoints can truncate back
// to an earlier state; the btree index gives key-ordered iteration.
type WriteBuffer struct {
	log   []bufferEntry
	index *btree.BTree
}

func NewWriteBuffer() *WriteBuffer {
	return &WriteBuffer{
		index: btree.New(32),
	}
}

func (wb *WriteBuffer) Put(cf string, key, value []byte) {
	wb.set(BufferedOp{Type: OpPut, Cf: cf, Key: copyBytes(key), Value: copyBytes(value)})
}

func (wb *WriteBuffer) Delete(cf string, key []byte) {
	wb.set(BufferedOp{Type: OpDelete, Cf: cf, Key: copyBytes(key)})
}

func (wb *WriteBuffer) Merge(cf string, key, operand []byte) {
	wb.set(BufferedOp{Type: OpMerge, Cf: cf, Key: copyBytes(key), Value: copyBytes(operand)})
}

func (wb *WriteBuffer) set(op BufferedOp) {
	item := &bufferIndexItem{cf: op.Cf, key: op.Key, idx: len(wb.log)}
	prev := -1
	if existing := wb.index.Get(item); existing != nil {
		prev = existing.(*bufferIndexItem).idx
	}
	wb.log = append(wb.log, bufferEntry{op: op, prev: prev})
	wb.index.ReplaceOrInsert(item)
}

// Get returns the live pending operation for (cf, key), if any.
func (wb *WriteBuffer) Get(cf string, key []byte) (BufferedOp, bool) {
	existing := wb.index.Get(&bufferIndexItem{cf: cf, key: key})
	if existing == nil {
		return BufferedOp{}, false
	}
	return wb.log[existing.(*bufferIndexItem).idx].op, true
}

// Len is the length of the operation log, which is what savepoints record.
func (wb *WriteBuffer) Len() int {
	return len(wb.log)
}

// TruncateTo discards every log entry at index n and beyond, restoring each
// affected key's previous pending operation. Entries are unwound newest
// first so a key written several times past n ends up at its pre-n state.
func (wb *WriteBuffer) TruncateTo(n int) {
	for i := len(wb.log) - 1; i >= n; i-- {
		e := wb.log[i]
		item := &bufferIndexItem{cf: e.op.Cf, key: e.op.Key}
		if e.prev >= 0 {
			item.idx = e.prev
			wb.index.ReplaceOrInsert(item)
		} else {
			wb.index.Delete(item)
		}
	}
	wb.log = wb.log[:n]
}

// Modifies flattens the buffer into a storage batch, one modify per live
// key, in key order.
func (wb *WriteBuffer) Modifies() []storage.Modify {
	mods := make([]storage.Modify, 0, wb.index.Len())
	wb.index.Ascend(func(i btree.Item) bool {
		op := wb.log[i.(*bufferIndexItem).idx].op
		switch op.Type {
		case OpPut:
			mods = append(mods, storage.Modify{
				Type: storage.ModifyTypePut,
				Data: storage.Put{Cf: op.Cf, Key: op.Key, Value: op.Value},
			})
		case OpDelete:
			mods = append(mods, storage.Modify{
				Type: storage.ModifyTypeDelete,
				Data: storage.Delete{Cf: op.Cf, Key: op.Key},
			})
		case OpMerge:
			mods = append(mods, storage.Modify{
				Type: storage.ModifyTypeMerge,
				Data: storage.Merge{Cf: op.Cf, Key: op.Key, Operand: op.Value},
			})
		}
		return true
	})
	return mods
}

// iter returns a lazy cursor over the live operations of one CF in ascending
// key order. The cursor stays valid across buffer mutations because it
// re-seeks the index on every advance.
func (wb *WriteBuffer) iter(cf string) *bufferIter {
	return &bufferIter{wb: wb, cf: cf}
}

type bufferIter struct {
	wb  *WriteBuffer
	cf  string
	cur *bufferIndexItem
}

func (it *bufferIter) Seek(key []byte) {
	it.cur = nil
	it.wb.index.AscendGreaterOrEqual(&bufferIndexItem{cf: it.cf, key: key}, func(i btree.Item) bool {
		item := i.(*bufferIndexItem)
		if item.cf == it.cf {
			it.cur = item
		}
		return false
	})
}

func (it *bufferIter) Valid() bool {
	return it.cur != nil
}

func (it *bufferIter) Key() []byte {
	return it.cur.key
}

func (it *bufferIter) Op() BufferedOp {
	return it.wb.log[it.cur.idx].op
}

// Next advances past the current key. Skipping is by key comparison, not
// position, so the cursor survives the current entry being removed from the
// index (a savepoint rollback mid-iteration).
func (it *bufferIter) Next() {
	oldKey := it.cur.key
	it.cur = nil
	it.wb.index.AscendGreaterOrEqual(&bufferIndexItem{cf: it.cf, key: oldKey}, func(i btree.Item) bool {
		item := i.(*bufferIndexItem)
		if item.cf != it.cf {
			return false
		}
		if bytes.Equal(item.key, oldKey) {
			return true
		}
		it.cur = item
		return false
	})
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}
