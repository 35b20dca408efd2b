package transaction

import (
	"testing"

	"github.com/pingcap-incubator/tinytxn/kv/util/engine_util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteBufferOverwrite(t *testing.T) {
	buf := NewWriteBuffer()
	buf.Put(engine_util.CfDefault, []byte("k"), []byte("1"))
	buf.Put(engine_util.CfDefault, []byte("k"), []byte("2"))
	buf.Delete(engine_util.CfDefault, []byte("k"))
	buf.Put(engine_util.CfDefault, []byte("k"), []byte("3"))

	op, ok := buf.Get(engine_util.CfDefault, []byte("k"))
	require.True(t, ok)
	assert.Equal(t, OpPut, op.Type)
	assert.Equal(t, []byte("3"), op.Value)
	assert.Equal(t, 4, buf.Len())
}

func TestWriteBufferCFsAreIndependent(t *testing.T) {
	buf := NewWriteBuffer()
	buf.Put("lock", []byte("k"), []byte("l"))
	buf.Put("write", []byte("k"), []byte("w"))

	op, ok := buf.Get("lock", []byte("k"))
	require.True(t, ok)
	assert.Equal(t, []byte("l"), op.Value)
	op, ok = buf.Get("write", []byte("k"))
	require.True(t, ok)
	assert.Equal(t, []byte("w"), op.Value)
	_, ok = buf.Get(engine_util.CfDefault, []byte("k"))
	assert.False(t, ok)
}

func TestWriteBufferTruncateRestoresPreviousOps(t *testing.T) {
	buf := NewWriteBuffer()
	buf.Put(engine_util.CfDefault, []byte("a"), []byte("1"))
	mark := buf.Len()
	buf.Put(engine_util.CfDefault, []byte("a"), []byte("2"))
	buf.Delete(engine_util.CfDefault, []byte("b"))

	buf.TruncateTo(mark)

	op, ok := buf.Get(engine_util.CfDefault, []byte("a"))
	require.True(t, ok)
	assert.Equal(t, []byte("1"), op.Value)
	_, ok = buf.Get(engine_util.CfDefault, []byte("b"))
	assert.False(t, ok)
	assert.Equal(t, mark, buf.Len())

	buf.TruncateTo(0)
	_, ok = buf.Get(engine_util.CfDefault, []byte("a"))
	assert.False(t, ok)
	assert.Equal(t, 0, buf.Len())
}

func TestWriteBufferModifiesLatestOnly(t *testing.T) {
	buf := NewWriteBuffer()
	buf.Put(engine_util.CfDefault, []byte("a"), []byte("old"))
	buf.Put(engine_util.CfDefault, []byte("a"), []byte("new"))
	buf.Delete(engine_util.CfDefault, []byte("b"))
	buf.Merge(engine_util.CfDefault, []byte("c"), []byte("op"))

	mods := buf.Modifies()
	require.Len(t, mods, 3)
	// One modify per live key, ordered by (cf, key).
	assert.Equal(t, []byte("a"), mods[0].Key())
	assert.Equal(t, []byte("b"), mods[1].Key())
	assert.Equal(t, []byte("c"), mods[2].Key())
}

func TestWriteBufferIterSurvivesTruncate(t *testing.T) {
	buf := NewWriteBuffer()
	buf.Put(engine_util.CfDefault, []byte("a"), []byte("1"))
	buf.Put(engine_util.CfDefault, []byte("c"), []byte("3"))
	mark := buf.Len()
	buf.Put(engine_util.CfDefault, []byte("b"), []byte("2"))

	it := buf.iter(engine_util.CfDefault)
	it.Seek([]byte("b"))
	require.True(t, it.Valid())
	assert.Equal(t, []byte("b"), it.Key())

	// Dropping the current key must not swallow the one after it.
	buf.TruncateTo(mark)
	it.Next()
	require.True(t, it.Valid())
	assert.Equal(t, []byte("c"), it.Key())
	it.Next()
	assert.False(t, it.Valid())
}

func TestWriteBufferInsulatesCallerSlices(t *testing.T) {
	buf := NewWriteBuffer()
	key := []byte("k")
	val := []byte("v")
	buf.Put(engine_util.CfDefault, key, val)
	key[0] = 'x'
	val[0] = 'x'

	op, ok := buf.Get(engine_util.CfDefault, []byte("k"))
	require.True(t, ok)
	assert.Equal(t, []byte("v"), op.Value)
}
