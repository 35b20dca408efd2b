package engine_util

import (
	"bytes"
	"io/ioutil"
	"testing"

	"github.com/Connor1996/badger"
	"github.com/stretchr/testify/require"
)

func TestEngineUtil(t *testing.T) {
	dir, err := ioutil.TempDir("", "engine_util")
	require.Nil(t, err)
	opts := badger.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir
	db, err := badger.Open(opts)
	require.Nil(t, err)
	defer db.Close()

	const cfExtra = "extra"

	batch := new(WriteBatch)
	batch.SetCF(CfDefault, []byte("a"), []byte("a1"))
	batch.SetCF(CfDefault, []byte("b"), []byte("b1"))
	batch.SetCF(CfDefault, []byte("c"), []byte("c1"))
	batch.SetCF(CfDefault, []byte("d"), []byte("d1"))
	batch.SetCF(cfExtra, []byte("a"), []byte("a2"))
	batch.SetCF(cfExtra, []byte("b"), []byte("b2"))
	batch.SetCF(cfExtra, []byte("d"), []byte("d2"))
	batch.SetCF(CfDefault, []byte("e"), []byte("e1"))
	batch.DeleteCF(CfDefault, []byte("e"))
	err = batch.WriteToDB(db)
	require.Nil(t, err)

	_, err = GetCF(db, CfDefault, []byte("e"))
	require.Equal(t, err, badger.ErrKeyNotFound)

	err = PutCF(db, CfDefault, []byte("e"), []byte("e2"))
	require.Nil(t, err)
	val, _ := GetCF(db, CfDefault, []byte("e"))
	require.Equal(t, val, []byte("e2"))
	err = DeleteCF(db, CfDefault, []byte("e"))
	require.Nil(t, err)
	_, err = GetCF(db, CfDefault, []byte("e"))
	require.Equal(t, err, badger.ErrKeyNotFound)

	txn := db.NewTransaction(false)
	defer txn.Discard()
	defaultIter := NewCFIterator(CfDefault, txn)
	expected := []struct{ key, val string }{
		{"a", "a1"}, {"b", "b1"}, {"c", "c1"}, {"d", "d1"},
	}
	defaultIter.Seek([]byte("a"))
	for _, exp := range expected {
		item := defaultIter.Item()
		require.True(t, bytes.Equal(item.Key(), []byte(exp.key)))
		val, _ = item.Value()
		require.True(t, bytes.Equal(val, []byte(exp.val)))
		defaultIter.Next()
	}
	require.False(t, defaultIter.Valid())
	defaultIter.Close()

	extraIter := NewCFIterator(cfExtra, txn)
	extraIter.Seek([]byte("b"))
	item := extraIter.Item()
	require.True(t, bytes.Equal(item.Key(), []byte("b")))
	val, _ = item.Value()
	require.True(t, bytes.Equal(val, []byte("b2")))
	extraIter.Next()
	item = extraIter.Item()
	require.True(t, bytes.Equal(item.Key(), []byte("d")))
	extraIter.Next()
	require.False(t, extraIter.Valid())
	extraIter.Close()
}

func TestDeleteRange(t *testing.T) {
	dir, err := ioutil.TempDir("", "engine_util")
	require.Nil(t, err)
	engines := NewEngines(CreateTestDB(dir), dir)
	defer engines.Destroy()
	db := engines.Kv

	for _, key := range []string{"a", "b", "c", "d"} {
		require.Nil(t, PutCF(db, CfDefault, []byte(key), []byte(key)))
		require.Nil(t, PutCF(db, "extra", []byte(key), []byte(key)))
	}

	require.Nil(t, DeleteRange(db, []string{CfDefault, "extra"}, []byte("b"), []byte("d")))

	for _, cf := range []string{CfDefault, "extra"} {
		val, err := GetCF(db, cf, []byte("a"))
		require.Nil(t, err)
		require.Equal(t, []byte("a"), val)
		_, err = GetCF(db, cf, []byte("b"))
		require.Equal(t, badger.ErrKeyNotFound, err)
		_, err = GetCF(db, cf, []byte("c"))
		require.Equal(t, badger.ErrKeyNotFound, err)
		val, err = GetCF(db, cf, []byte("d"))
		require.Nil(t, err)
		require.Equal(t, []byte("d"), val)
	}
}

func TestWriteBatchSafePoint(t *testing.T) {
	batch := new(WriteBatch)
	batch.SetCF(CfDefault, []byte("a"), []byte("a1"))
	batch.SetSafePoint()
	batch.SetCF(CfDefault, []byte("b"), []byte("b1"))
	batch.DeleteCF(CfDefault, []byte("a"))
	require.Equal(t, 3, batch.Len())
	batch.RollbackToSafePoint()
	require.Equal(t, 1, batch.Len())

	batch.Reset()
	require.Equal(t, 0, batch.Len())
}
