package standalone_storage

import (
	"github.com/Connor1996/badger"
	"github.com/juju/errors"
	"github.com/pingcap-incubator/tinytxn/kv/config"
	"github.com/pingcap-incubator/tinytxn/kv/storage"
	"github.com/pingcap-incubator/tinytxn/kv/util/engine_util"
)

// StandAloneStorage is an implementation of `Storage` backed by a single
// local badger instance. Point-in-time reads come from badger transactions
// held open for the lifetime of a reader.
type StandAloneStorage struct {
	engines *engine_util.Engines
	conf    *config.Config
	merge   storage.MergeOperator
}

func NewStandAloneStorage(conf *config.Config) *StandAloneStorage {
	return &StandAloneStorage{
		conf:  conf,
		merge: storage.AppendOperator,
	}
}

// SetMergeOperator replaces the operator used when Merge modifies are
// applied. Must be called before Start.
func (s *StandAloneStorage) SetMergeOperator(op storage.MergeOperator) {
	s.merge = op
}

func (s *StandAloneStorage) Start() error {
	db := engine_util.CreateDB(s.conf.DBPath, &s.conf.Engine)
	s.engines = engine_util.NewEngines(db, s.conf.DBPath)
	return nil
}

func (s *StandAloneStorage) Stop() error {
	return errors.Trace(s.engines.Close())
}

func (s *StandAloneStorage) Write(batch []storage.Modify) error {
	err := s.engines.Kv.Update(func(txn *badger.Txn) error {
		for _, m := range batch {
			var err1 error
			switch data := m.Data.(type) {
			case storage.Put:
				err1 = txn.Set(engine_util.KeyWithCF(data.Cf, data.Key), data.Value)
			case storage.Delete:
				err1 = txn.Delete(engine_util.KeyWithCF(data.Cf, data.Key))
			case storage.Merge:
				err1 = s.applyMerge(txn, data)
			}
			if err1 != nil {
				return err1
			}
		}
		return nil
	})
	return errors.Trace(err)
}

// applyMerge resolves a merge operand against the current value inside the
// same update transaction, so the read-modify-write is atomic with the rest
// of the batch.
func (s *StandAloneStorage) applyMerge(txn *badger.Txn, m storage.Merge) error {
	var existing []byte
	item, err := txn.Get(engine_util.KeyWithCF(m.Cf, m.Key))
	if err == nil {
		existing, err = item.ValueCopy(nil)
		if err != nil {
			return err
		}
	} else if err != badger.ErrKeyNotFound {
		return err
	}
	return txn.Set(engine_util.KeyWithCF(m.Cf, m.Key), s.merge(m.Key, existing, m.Operand))
}

func (s *StandAloneStorage) Reader() (storage.StorageReader, error) {
	// A read-only badger txn pins the current version until discarded.
	return &badgerReader{s.engines.Kv.NewTransaction(false)}, nil
}

type badgerReader struct {
	txn *badger.Txn
}

func (r *badgerReader) GetCF(cf string, key []byte) ([]byte, error) {
	val, err := engine_util.GetCFFromTxn(r.txn, cf, key)
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	return val, err
}

// IterCF returns an iterator over cf. All iterators must be closed before
// the reader itself is.
func (r *badgerReader) IterCF(cf string) engine_util.DBIterator {
	return engine_util.NewCFIterator(cf, r.txn)
}

func (r *badgerReader) Close() {
	r.txn.Discard()
}
