package storage

import (
	"github.com/pingcap-incubator/tinytxn/kv/util/engine_util"
)

// Storage is the contract the transaction layer consumes from an underlying
// engine: durable, ordered key/value storage with point lookups, range
// iteration and point-in-time reads. Implementations must apply a Write batch
// atomically.
type Storage interface {
	Start() error
	Stop() error
	Write(batch []Modify) error
	// Reader returns a view of the data as of the moment of the call. The
	// view is stable against later writes and must be Closed exactly once.
	Reader() (StorageReader, error)
}

type StorageReader interface {
	// GetCF returns nil, nil when the key is absent.
	GetCF(cf string, key []byte) ([]byte, error)
	IterCF(cf string) engine_util.DBIterator
	Close()
}

// MergeOperator combines a pending merge operand with the existing value of a
// key (existing is nil when the key is absent). It is applied by the storage
// when a Merge modify is committed.
type MergeOperator func(key, existing, operand []byte) []byte

// AppendOperator is a trivial merge operator that concatenates operands, used
// as the default and in tests.
func AppendOperator(key, existing, operand []byte) []byte {
	if existing == nil {
		return append([]byte{}, operand...)
	}
	return append(append([]byte{}, existing...), operand...)
}
