package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/juju/errors"
)

type Config struct {
	LogLevel string

	DBPath string // Directory to store the data in. Should exist and be writable.

	// How long a pessimistic lock request waits for an incompatible holder
	// before failing with a lock-wait timeout.
	LockWaitTimeout time.Duration
	// Maximum lifetime of a transaction. Zero disables expiration.
	TxnTTL time.Duration
	// Whether to run a wait-for graph cycle check before blocking on a lock.
	DeadlockDetect bool
	// Whether optimistic transactions validate their read/write sets at
	// commit time. Turning this off gives last-writer-wins semantics.
	DetectConflicts bool
	// How many committed transactions the conflict oracle remembers. A
	// transaction older than the retained window cannot be validated and must
	// be retried.
	MaxCommittedTxns int

	Engine Engine
}

// Engine holds the tuning knobs passed through to badger.
type Engine struct {
	ValueThreshold   int
	MaxTableSize     int64
	NumMemTables     int
	NumL0Tables      int
	NumL0TablesStall int
	VlogFileSize     int64
	NumCompactors    int
	SyncWrites       bool
	BlockCacheSize   int64
}

func (c *Config) Validate() error {
	if c.LockWaitTimeout <= 0 {
		return fmt.Errorf("lock wait timeout must be greater than 0")
	}
	if c.MaxCommittedTxns <= 0 {
		return fmt.Errorf("committed transaction window must be greater than 0")
	}
	return nil
}

const (
	KB uint64 = 1024
	MB uint64 = 1024 * 1024
)

func getLogLevel() (logLevel string) {
	logLevel = "info"
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		logLevel = l
	}
	return
}

func NewDefaultConfig() *Config {
	return &Config{
		LogLevel:         getLogLevel(),
		DBPath:           "/tmp/tinytxn",
		LockWaitTimeout:  time.Second,
		TxnTTL:           0,
		DeadlockDetect:   true,
		DetectConflicts:  true,
		MaxCommittedTxns: 4096,
		Engine: Engine{
			ValueThreshold:   32,
			MaxTableSize:     64 << 20,
			NumMemTables:     3,
			NumL0Tables:      4,
			NumL0TablesStall: 8,
			VlogFileSize:     256 << 20,
			NumCompactors:    2,
			SyncWrites:       true,
			BlockCacheSize:   int64(512 * MB),
		},
	}
}

func NewTestConfig() *Config {
	return &Config{
		LogLevel:         getLogLevel(),
		DBPath:           "/tmp/tinytxn",
		LockWaitTimeout:  50 * time.Millisecond,
		TxnTTL:           0,
		DeadlockDetect:   true,
		DetectConflicts:  true,
		MaxCommittedTxns: 16,
		Engine: Engine{
			ValueThreshold:   32,
			MaxTableSize:     4 << 20,
			NumMemTables:     2,
			NumL0Tables:      2,
			NumL0TablesStall: 4,
			VlogFileSize:     16 << 20,
			NumCompactors:    1,
			SyncWrites:       false,
			BlockCacheSize:   int64(32 * MB),
		},
	}
}

// LoadFromFile overlays c with values from a TOML file.
func LoadFromFile(path string, c *Config) error {
	if _, err := toml.DecodeFile(path, c); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(c.Validate())
}
