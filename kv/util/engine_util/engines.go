package engine_util

import (
	"os"
	"path/filepath"

	"github.com/Connor1996/badger"
	"github.com/ngaut/log"
	"github.com/pingcap-incubator/tinytxn/kv/config"
)

// Engines keeps references to and data for the engine used by tinytxn.
// The engine is a badger key/value database.
// The Path field is the filesystem path to where the data is stored.
type Engines struct {
	// Data, including committed data and the pending writes of transactions
	// that have not yet been applied.
	Kv     *badger.DB
	KvPath string
}

func NewEngines(kvEngine *badger.DB, kvPath string) *Engines {
	return &Engines{
		Kv:     kvEngine,
		KvPath: kvPath,
	}
}

func (en *Engines) Close() error {
	return en.Kv.Close()
}

func (en *Engines) Destroy() error {
	if err := en.Close(); err != nil {
		return err
	}
	return os.RemoveAll(en.KvPath)
}

// CreateDB creates a new badger DB on disk at subPath.
func CreateDB(subPath string, conf *config.Engine) *badger.DB {
	opts := badger.DefaultOptions
	opts.NumCompactors = conf.NumCompactors
	opts.ValueThreshold = conf.ValueThreshold
	opts.Dir = subPath
	opts.ValueDir = opts.Dir
	opts.ValueLogFileSize = conf.VlogFileSize
	opts.MaxTableSize = conf.MaxTableSize
	opts.NumMemtables = conf.NumMemTables
	opts.NumLevelZeroTables = conf.NumL0Tables
	opts.NumLevelZeroTablesStall = conf.NumL0TablesStall
	opts.SyncWrites = conf.SyncWrites
	opts.MaxCacheSize = conf.BlockCacheSize
	if err := os.MkdirAll(opts.Dir, os.ModePerm); err != nil {
		log.Fatal(err)
	}
	db, err := badger.Open(opts)
	if err != nil {
		log.Fatal(err)
	}
	return db
}

// CreateTestDB creates a throwaway engine under dir for tests.
func CreateTestDB(dir string) *badger.DB {
	conf := config.NewTestConfig()
	return CreateDB(filepath.Join(dir, "kv"), &conf.Engine)
}
