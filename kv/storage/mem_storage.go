package storage

import (
	"bytes"
	"sync"

	"github.com/Connor1996/badger/y"
	"github.com/petar/GoLLRB/llrb"
	"github.com/pingcap-incubator/tinytxn/kv/util/engine_util"
)

// MemStorage is a simple Storage backed by memory for testing. Data is not
// written to disk. Column families are created on demand. Readers see a
// point-in-time copy of the data, so a reader taken before a Write does not
// observe it.
type MemStorage struct {
	mu    sync.RWMutex
	cfs   map[string]*llrb.LLRB
	merge MergeOperator
}

func NewMemStorage() *MemStorage {
	return &MemStorage{
		cfs:   make(map[string]*llrb.LLRB),
		merge: AppendOperator,
	}
}

// NewMemStorageWithMerge uses op to resolve Merge modifies instead of the
// default append operator.
func NewMemStorageWithMerge(op MergeOperator) *MemStorage {
	return &MemStorage{
		cfs:   make(map[string]*llrb.LLRB),
		merge: op,
	}
}

func (s *MemStorage) Start() error {
	return nil
}

func (s *MemStorage) Stop() error {
	return nil
}

func (s *MemStorage) tree(cf string) *llrb.LLRB {
	data, ok := s.cfs[cf]
	if !ok {
		data = llrb.New()
		s.cfs[cf] = data
	}
	return data
}

func (s *MemStorage) Write(batch []Modify) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range batch {
		switch data := m.Data.(type) {
		case Put:
			s.tree(data.Cf).ReplaceOrInsert(memItem{data.Key, data.Value})
		case Delete:
			s.tree(data.Cf).Delete(memItem{key: data.Key})
		case Merge:
			tree := s.tree(data.Cf)
			var existing []byte
			if result := tree.Get(memItem{key: data.Key}); result != nil {
				existing = result.(memItem).value
			}
			tree.ReplaceOrInsert(memItem{data.Key, s.merge(data.Key, existing, data.Operand)})
		}
	}
	return nil
}

// Reader copies every tree so the view stays stable while later batches are
// applied. Fine for tests, far too slow for anything else.
func (s *MemStorage) Reader() (StorageReader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	frozen := make(map[string]*llrb.LLRB, len(s.cfs))
	for cf, data := range s.cfs {
		copied := llrb.New()
		data.AscendGreaterOrEqual(llrb.Inf(-1), func(item llrb.Item) bool {
			copied.ReplaceOrInsert(item)
			return true
		})
		frozen[cf] = copied
	}
	return &memReader{frozen}, nil
}

// Set is a test helper writing directly to the live data.
func (s *MemStorage) Set(cf string, key []byte, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree(cf).ReplaceOrInsert(memItem{key, value})
}

// Get is a test helper reading directly from the live data. Only the write
// path may create a missing CF; reads under the read lock must not touch the
// map.
func (s *MemStorage) Get(cf string, key []byte) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.cfs[cf]
	if !ok {
		return nil
	}
	result := data.Get(memItem{key: key})
	if result == nil {
		return nil
	}
	return result.(memItem).value
}

func (s *MemStorage) Len(cf string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.cfs[cf]
	if !ok {
		return 0
	}
	return data.Len()
}

// memReader is a StorageReader over a frozen copy of a MemStorage.
type memReader struct {
	cfs map[string]*llrb.LLRB
}

func (mr *memReader) data(cf string) *llrb.LLRB {
	if data, ok := mr.cfs[cf]; ok {
		return data
	}
	return llrb.New()
}

func (mr *memReader) GetCF(cf string, key []byte) ([]byte, error) {
	result := mr.data(cf).Get(memItem{key: key})
	if result == nil {
		return nil, nil
	}
	return result.(memItem).value, nil
}

func (mr *memReader) IterCF(cf string) engine_util.DBIterator {
	data := mr.data(cf)
	min := data.Min()
	if min == nil {
		return &memIter{data, memItem{}}
	}
	return &memIter{data, min.(memItem)}
}

func (mr *memReader) Close() {}

type memIter struct {
	data *llrb.LLRB
	item memItem
}

func (it *memIter) Item() engine_util.DBItem {
	return it.item
}
func (it *memIter) Valid() bool {
	return it.item.key != nil
}
func (it *memIter) Next() {
	first := true
	oldItem := it.item
	it.item = memItem{}
	it.data.AscendGreaterOrEqual(oldItem, func(item llrb.Item) bool {
		// Skip the first item, which will be it.item
		if first {
			first = false
			return true
		}

		it.item = item.(memItem)
		return false
	})
}
func (it *memIter) Seek(key []byte) {
	it.item = memItem{}
	it.data.AscendGreaterOrEqual(memItem{key: key}, func(item llrb.Item) bool {
		it.item = item.(memItem)

		return false
	})
}

func (it *memIter) Close() {}

type memItem struct {
	key   []byte
	value []byte
}

func (it memItem) Key() []byte {
	return it.key
}
func (it memItem) KeyCopy(dst []byte) []byte {
	return y.SafeCopy(dst, it.key)
}
func (it memItem) Value() ([]byte, error) {
	return it.value, nil
}
func (it memItem) ValueSize() int {
	return len(it.value)
}
func (it memItem) ValueCopy(dst []byte) ([]byte, error) {
	return y.SafeCopy(dst, it.value), nil
}

func (it memItem) Less(than llrb.Item) bool {
	other := than.(memItem)
	return bytes.Compare(it.key, other.key) < 0
}
