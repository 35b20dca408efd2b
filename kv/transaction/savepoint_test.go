package transaction

import (
	"testing"

	"github.com/juju/errors"
	"github.com/pingcap-incubator/tinytxn/kv/util/engine_util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSavepointRestoresBuffer(t *testing.T) {
	db, mem := testDB(t)
	mem.Set(engine_util.CfDefault, []byte("b"), []byte("stored"))

	txn := mustBegin(t, db, TxnOptions{})
	defer txn.Discard()

	require.Nil(t, txn.Put([]byte("a"), []byte("1")))
	require.Nil(t, txn.SetSavepoint())
	require.Nil(t, txn.Put([]byte("a"), []byte("2")))
	require.Nil(t, txn.Delete([]byte("b")))
	require.Nil(t, txn.Put([]byte("c"), []byte("3")))

	require.Nil(t, txn.RollbackToSavepoint())

	val, err := txn.Get([]byte("a"))
	require.Nil(t, err)
	assert.Equal(t, []byte("1"), val)
	val, err = txn.Get([]byte("b"))
	require.Nil(t, err)
	assert.Equal(t, []byte("stored"), val)
	val, err = txn.Get([]byte("c"))
	require.Nil(t, err)
	assert.Nil(t, val)
}

func TestSavepointStackNesting(t *testing.T) {
	db, _ := testDB(t)

	txn := mustBegin(t, db, TxnOptions{})
	defer txn.Discard()

	require.Nil(t, txn.Put([]byte("k"), []byte("1")))
	require.Nil(t, txn.SetSavepoint())
	require.Nil(t, txn.Put([]byte("k"), []byte("2")))
	require.Nil(t, txn.SetSavepoint())
	require.Nil(t, txn.Put([]byte("k"), []byte("3")))

	require.Nil(t, txn.RollbackToSavepoint())
	val, err := txn.Get([]byte("k"))
	require.Nil(t, err)
	assert.Equal(t, []byte("2"), val)

	require.Nil(t, txn.RollbackToSavepoint())
	val, err = txn.Get([]byte("k"))
	require.Nil(t, err)
	assert.Equal(t, []byte("1"), val)

	err = txn.RollbackToSavepoint()
	assert.Equal(t, ErrNoSavepoint, errors.Cause(err))
}

func TestSavepointCommitAfterPartialRollback(t *testing.T) {
	db, mem := testDB(t)

	txn := mustBegin(t, db, TxnOptions{})
	require.Nil(t, txn.Put([]byte("keep"), []byte("1")))
	require.Nil(t, txn.SetSavepoint())
	require.Nil(t, txn.Put([]byte("drop"), []byte("2")))
	require.Nil(t, txn.RollbackToSavepoint())
	require.Nil(t, txn.Commit())

	assert.Equal(t, []byte("1"), mem.Get(engine_util.CfDefault, []byte("keep")))
	assert.Nil(t, mem.Get(engine_util.CfDefault, []byte("drop")))
}

func TestSavepointReleasesPessimisticLocks(t *testing.T) {
	db, _ := testDB(t)

	txn := mustBegin(t, db, TxnOptions{Pessimistic: true})
	defer txn.Discard()

	_, err := txn.GetForUpdate([]byte("early"), true)
	require.Nil(t, err)
	require.Nil(t, txn.SetSavepoint())
	_, err = txn.GetForUpdate([]byte("late"), true)
	require.Nil(t, err)

	require.Nil(t, txn.RollbackToSavepoint())

	other := mustBegin(t, db, TxnOptions{Pessimistic: true})
	defer other.Discard()
	// The lock taken after the savepoint is released, the earlier one is
	// still held.
	_, err = other.GetForUpdate([]byte("late"), true)
	require.Nil(t, err)
	_, err = other.GetForUpdate([]byte("early"), true)
	assert.Equal(t, ErrLockWaitTimeout, errors.Cause(err))
}

func TestSavepointKeepsUpgradedLock(t *testing.T) {
	db, _ := testDB(t)

	txn := mustBegin(t, db, TxnOptions{Pessimistic: true})
	defer txn.Discard()

	// Shared before the savepoint, upgraded after. The rollback does not
	// downgrade: the key stays exclusively locked.
	_, err := txn.GetForUpdate([]byte("k"), false)
	require.Nil(t, err)
	require.Nil(t, txn.SetSavepoint())
	_, err = txn.GetForUpdate([]byte("k"), true)
	require.Nil(t, err)
	require.Nil(t, txn.RollbackToSavepoint())

	other := mustBegin(t, db, TxnOptions{Pessimistic: true})
	defer other.Discard()
	_, err = other.GetForUpdate([]byte("k"), false)
	assert.Equal(t, ErrLockWaitTimeout, errors.Cause(err))
}
