package transaction

import (
	"testing"

	"github.com/pingcap-incubator/tinytxn/kv/storage"
	"github.com/pingcap-incubator/tinytxn/kv/util/engine_util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectKeys(t *testing.T, it *TxnIterator) ([]string, []string) {
	var keys, vals []string
	for ; it.Valid(); it.Next() {
		item := it.Item()
		keys = append(keys, string(item.Key()))
		val, err := item.Value()
		require.Nil(t, err)
		vals = append(vals, string(val))
	}
	return keys, vals
}

func seedStorage(mem *storage.MemStorage, pairs map[string]string) {
	for k, v := range pairs {
		mem.Set(engine_util.CfDefault, []byte(k), []byte(v))
	}
}

func TestIteratorMergesBufferAndStorage(t *testing.T) {
	db, mem := testDB(t)
	seedStorage(mem, map[string]string{"b": "sb", "d": "sd", "f": "sf"})

	txn := mustBegin(t, db, TxnOptions{})
	defer txn.Discard()
	require.Nil(t, txn.Put([]byte("a"), []byte("ba")))
	require.Nil(t, txn.Put([]byte("c"), []byte("bc")))
	require.Nil(t, txn.Put([]byte("e"), []byte("be")))

	it, err := txn.Iter()
	require.Nil(t, err)
	defer it.Close()

	keys, vals := collectKeys(t, it)
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, keys)
	assert.Equal(t, []string{"ba", "sb", "bc", "sd", "be", "sf"}, vals)
}

func TestIteratorBufferShadowsStorage(t *testing.T) {
	db, mem := testDB(t)
	seedStorage(mem, map[string]string{"a": "old", "b": "sb"})

	txn := mustBegin(t, db, TxnOptions{})
	defer txn.Discard()
	require.Nil(t, txn.Put([]byte("a"), []byte("new")))

	it, err := txn.Iter()
	require.Nil(t, err)
	defer it.Close()

	keys, vals := collectKeys(t, it)
	assert.Equal(t, []string{"a", "b"}, keys)
	assert.Equal(t, []string{"new", "sb"}, vals)
}

func TestIteratorSkipsBufferedDeletes(t *testing.T) {
	db, mem := testDB(t)
	seedStorage(mem, map[string]string{"a": "sa", "b": "sb", "c": "sc"})

	txn := mustBegin(t, db, TxnOptions{})
	defer txn.Discard()
	require.Nil(t, txn.Delete([]byte("b")))

	it, err := txn.Iter()
	require.Nil(t, err)
	defer it.Close()

	keys, _ := collectKeys(t, it)
	assert.Equal(t, []string{"a", "c"}, keys)
}

func TestIteratorPrefixBound(t *testing.T) {
	db, mem := testDB(t)
	seedStorage(mem, map[string]string{
		"user/1": "a",
		"user/3": "c",
		"zz":     "z",
	})

	txn := mustBegin(t, db, TxnOptions{})
	defer txn.Discard()
	require.Nil(t, txn.Put([]byte("user/2"), []byte("b")))
	require.Nil(t, txn.Put([]byte("aaa"), []byte("out")))

	it, err := txn.PrefixIter([]byte("user/"))
	require.Nil(t, err)
	defer it.Close()

	keys, vals := collectKeys(t, it)
	assert.Equal(t, []string{"user/1", "user/2", "user/3"}, keys)
	assert.Equal(t, []string{"a", "b", "c"}, vals)

	// A seek below the prefix is clamped to the prefix start.
	it.Seek([]byte("a"))
	require.True(t, it.Valid())
	assert.Equal(t, []byte("user/1"), it.Item().Key())
}

func TestIteratorSeek(t *testing.T) {
	db, mem := testDB(t)
	seedStorage(mem, map[string]string{"a": "1", "c": "3"})

	txn := mustBegin(t, db, TxnOptions{})
	defer txn.Discard()
	require.Nil(t, txn.Put([]byte("b"), []byte("2")))

	it, err := txn.Iter()
	require.Nil(t, err)
	defer it.Close()

	it.Seek([]byte("b"))
	require.True(t, it.Valid())
	assert.Equal(t, []byte("b"), it.Item().Key())
	it.Next()
	require.True(t, it.Valid())
	assert.Equal(t, []byte("c"), it.Item().Key())
	it.Next()
	assert.False(t, it.Valid())
}

func TestIteratorCFScoped(t *testing.T) {
	db, mem := testDB(t)
	mem.Set("lock", []byte("k1"), []byte("l1"))
	mem.Set("write", []byte("k1"), []byte("w1"))

	txn := mustBegin(t, db, TxnOptions{})
	defer txn.Discard()
	require.Nil(t, txn.PutCF("lock", []byte("k2"), []byte("l2")))

	it, err := txn.IterCF("lock")
	require.Nil(t, err)
	defer it.Close()

	keys, vals := collectKeys(t, it)
	assert.Equal(t, []string{"k1", "k2"}, keys)
	assert.Equal(t, []string{"l1", "l2"}, vals)
}

func TestIteratorPendingMergeValueErrors(t *testing.T) {
	db, mem := testDB(t)
	seedStorage(mem, map[string]string{"k": "base"})

	txn := mustBegin(t, db, TxnOptions{})
	defer txn.Discard()
	require.Nil(t, txn.Merge([]byte("k"), []byte("+x")))

	it, err := txn.Iter()
	require.Nil(t, err)
	defer it.Close()

	require.True(t, it.Valid())
	assert.Equal(t, []byte("k"), it.Item().Key())
	_, err = it.Item().Value()
	_, ok := err.(*ErrMergeInProgress)
	assert.True(t, ok)
}

func TestIteratorSeesSnapshotNotLaterCommits(t *testing.T) {
	db, mem := testDB(t)
	seedStorage(mem, map[string]string{"a": "1"})

	txn := mustBegin(t, db, TxnOptions{SnapshotOnBegin: true})
	defer txn.Discard()

	writer := mustBegin(t, db, TxnOptions{})
	require.Nil(t, writer.Put([]byte("b"), []byte("2")))
	require.Nil(t, writer.Commit())

	it, err := txn.Iter()
	require.Nil(t, err)
	defer it.Close()

	keys, _ := collectKeys(t, it)
	assert.Equal(t, []string{"a"}, keys)
}
