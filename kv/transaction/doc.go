package transaction

// The transaction package implements tinytxn's transaction layer. It turns begin/read/write/commit
// calls into reads and writes of the underlying key/value store (defined by Storage in kv/storage).
// The storage engine handles durability and ordering; this layer provides atomic multi-key
// transactions on top of it, with a choice of concurrency control per transaction.
//
// Every transaction stages its mutations in a write buffer (write_buffer.go). Reads within the
// transaction consult the buffer first, so a transaction always sees its own writes; iterators
// (iterator.go) merge the buffer over the storage view lazily. At commit the buffer is flattened
// into a single storage batch and applied atomically. Rolling back simply discards the buffer.
//
// *Optimistic* transactions (oracle.go) never block. Keys written, or read through GetForUpdate,
// are tracked by fingerprint; at commit the oracle compares the tracked set against every
// transaction that committed after this one began and fails the commit on any overlap. The oracle
// remembers only a bounded number of committed transactions, so a transaction that outlives the
// window fails with a retryable error instead of a wrong answer.
//
// *Pessimistic* transactions (lock_table.go) take shared or exclusive key locks as keys are read
// for update or written. The lock table is sharded by key fingerprint; waiting goes through the
// lockwaiter package, bounded by a timeout, with an optional wait-for-graph cycle check
// (deadlock.go) before ever blocking. Commit needs no validation for locked keys.
//
// Savepoints record the write-buffer length and lock-record count and form a strict stack:
// RollbackToSavepoint undoes exactly the work performed after the most recent savepoint,
// including releasing locks acquired after it.
