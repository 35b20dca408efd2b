package transaction

import (
	"bytes"

	"github.com/Connor1996/badger/y"
	"github.com/pingcap-incubator/tinytxn/kv/storage"
	"github.com/pingcap-incubator/tinytxn/kv/util/engine_util"
)

type curSource int

const (
	curNone curSource = iota
	curBuffer
	curBase
)

// TxnIterator merges a transaction's write buffer over the storage view, in
// ascending key order. Buffered operations win for equal keys; buffered
// deletes hide the storage value entirely. Nothing is materialized: both
// layers are walked lazily.
type TxnIterator struct {
	buf    *bufferIter
	base   engine_util.DBIterator
	reader storage.StorageReader // closed with the iterator when owned
	prefix []byte                // non-nil bounds the traversal
	cur    curSource
	item   engine_util.DBItem
}

func newTxnIterator(buf *bufferIter, base engine_util.DBIterator, owned storage.StorageReader, prefix []byte) *TxnIterator {
	it := &TxnIterator{
		buf:    buf,
		base:   base,
		reader: owned,
		prefix: prefix,
	}
	if len(prefix) > 0 {
		it.Seek(prefix)
	} else {
		it.Seek(nil)
	}
	return it
}

func (it *TxnIterator) Seek(key []byte) {
	if len(it.prefix) > 0 && bytes.Compare(key, it.prefix) < 0 {
		key = it.prefix
	}
	it.buf.Seek(key)
	it.base.Seek(key)
	it.settle()
}

func (it *TxnIterator) Valid() bool {
	return it.cur != curNone
}

func (it *TxnIterator) Item() engine_util.DBItem {
	return it.item
}

func (it *TxnIterator) Next() {
	switch it.cur {
	case curBuffer:
		it.buf.Next()
	case curBase:
		it.base.Next()
	}
	it.settle()
}

func (it *TxnIterator) Close() {
	it.base.Close()
	if it.reader != nil {
		it.reader.Close()
	}
}

func (it *TxnIterator) inBound(key []byte) bool {
	return len(it.prefix) == 0 || bytes.HasPrefix(key, it.prefix)
}

// settle positions the iterator on the next effective pair, resolving
// buffer-versus-storage precedence and skipping buffered deletes.
func (it *TxnIterator) settle() {
	for {
		bufValid := it.buf.Valid() && it.inBound(it.buf.Key())
		baseValid := it.base.Valid() && it.inBound(it.base.Item().Key())
		if !bufValid && !baseValid {
			it.cur = curNone
			it.item = nil
			return
		}
		if bufValid && (!baseValid || bytes.Compare(it.buf.Key(), it.base.Item().Key()) <= 0) {
			// For equal keys the storage entry is shadowed; step the base
			// layer past it now so Next only has to advance one side.
			if baseValid && bytes.Equal(it.buf.Key(), it.base.Item().Key()) {
				it.base.Next()
			}
			op := it.buf.Op()
			if op.Type == OpDelete {
				it.buf.Next()
				continue
			}
			it.cur = curBuffer
			it.item = bufferedItem{op}
			return
		}
		it.cur = curBase
		it.item = it.base.Item()
		return
	}
}

// bufferedItem adapts a pending buffer operation to the DBItem contract. A
// pending merge has no resolvable value, so reading it reports
// ErrMergeInProgress.
type bufferedItem struct {
	op BufferedOp
}

func (i bufferedItem) Key() []byte {
	return i.op.Key
}

func (i bufferedItem) KeyCopy(dst []byte) []byte {
	return y.SafeCopy(dst, i.op.Key)
}

func (i bufferedItem) Value() ([]byte, error) {
	if i.op.Type == OpMerge {
		return nil, &ErrMergeInProgress{Cf: i.op.Cf, Key: i.op.Key}
	}
	return i.op.Value, nil
}

func (i bufferedItem) ValueSize() int {
	return len(i.op.Value)
}

func (i bufferedItem) ValueCopy(dst []byte) ([]byte, error) {
	val, err := i.Value()
	if err != nil {
		return nil, err
	}
	return y.SafeCopy(dst, val), nil
}
