package bitcask

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTripAndDataFileLayout(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put([]byte("hello"), []byte("world")))

	got, err := db.Get([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, []byte("world"), got)

	raw, err := os.ReadFile(dataFileName(dir, 1))
	require.NoError(t, err)
	crc, _, ksz, vsz, err := decodeDataHeader(raw[:dataHeaderSize])
	require.NoError(t, err)
	require.EqualValues(t, 5, ksz)
	require.EqualValues(t, 5, vsz)
	key := raw[dataHeaderSize : dataHeaderSize+int(ksz)]
	value := raw[dataHeaderSize+int(ksz):]
	require.True(t, verifyDataCRC(crc, raw[:dataHeaderSize], key, value))
}

func TestReopenRecoversFromHintFile(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	require.NoError(t, err)

	keys := [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d")}
	for i, k := range keys {
		require.NoError(t, db.Put(k, []byte(fmt.Sprintf("v%d", i))))
	}
	require.NoError(t, db.Close())

	require.True(t, hintPresent(dir, 1))

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, 4, reopened.Len())
	for i, k := range keys {
		v, err := reopened.Get(k)
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("v%d", i), string(v))
	}
}

func TestReopenFallsBackToDataFileWhenHintIsCorrupt(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, db.Put([]byte("a"), []byte("1")))
	require.NoError(t, db.Put([]byte("b"), []byte("2")))
	require.NoError(t, db.Close())

	hintPath := hintFileName(dir, 1)
	raw, err := os.ReadFile(hintPath)
	require.NoError(t, err)
	raw[0] ^= 0xFF
	require.NoError(t, os.WriteFile(hintPath, raw, 0o644))

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, 2, reopened.Len())
	v, err := reopened.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, "1", string(v))
	v, err = reopened.Get([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, "2", string(v))
}

func TestHintFileTombstonesStayInvisible(t *testing.T) {
	dir := t.TempDir()

	b := &hintBuilder{}
	for i, k := range []string{"a", "b", "c", "d"} {
		b.add(uint32(i), []byte(k), 20, uint64(i*20), false)
	}
	b.add(4, []byte("e"), 20, 80, true)
	require.NoError(t, b.writeAtomic(hintFileName(dir, 1)))

	raw := make([]byte, 100)
	require.NoError(t, os.WriteFile(dataFileName(dir, 1), raw, 0o644))

	db, err := Open(dir)
	require.NoError(t, err)
	defer db.Close()

	require.Equal(t, 4, db.Len())
	require.False(t, db.Contains([]byte("e")))
}

func TestOverwriteAcrossProcessGenerations(t *testing.T) {
	dir := t.TempDir()

	db1, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, db1.Put([]byte("k"), []byte("first")))
	require.NoError(t, db1.Close())

	db2, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, db2.Put([]byte("k"), []byte("second")))
	require.NoError(t, db2.Close())

	db3, err := Open(dir)
	require.NoError(t, err)
	defer db3.Close()

	v, err := db3.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "second", string(v), "the most recent generation's write must win")
}

func TestOpenReapsStaleLockFromDeadProcess(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, writeLockName), []byte("999999 1.bitcask.data"), 0o644))

	db, err := Open(dir)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put([]byte("k"), []byte("v")))
}

func TestDeleteThenGetIsNotFound(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put([]byte("k"), []byte("v")))
	require.NoError(t, db.Delete([]byte("k")))

	_, err = db.Get([]byte("k"))
	require.ErrorIs(t, err, ErrNotFound)
	require.False(t, db.Contains([]byte("k")))
	require.Equal(t, 0, db.Len())
}

func TestDeleteNonexistentKeyIsNoop(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Delete([]byte("ghost")))
}

func TestSecondOpenOfSameDirIsLocked(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	require.NoError(t, err)
	defer db.Close()

	_, err = Open(dir)
	require.ErrorIs(t, err, ErrLocked)
}

func TestRolloverCreatesNewActiveFile(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, WithMaxFileBytes(64))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put([]byte("a"), []byte("xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx")))
	require.NoError(t, db.Put([]byte("b"), []byte("yyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyy")))

	_, err = os.Stat(dataFileName(dir, 2))
	require.NoError(t, err, "a second data file must exist once the threshold is exceeded")

	v, err := db.Get([]byte("a"))
	require.NoError(t, err)
	require.Contains(t, string(v), "xxxx")
}

func TestPutRejectsOversizedKey(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	require.NoError(t, err)
	defer db.Close()

	oversized := make([]byte, 1<<16+1)
	err = db.Put(oversized, []byte("v"))
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestPutRejectsValueLookingLikeTombstone(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	require.NoError(t, err)
	defer db.Close()

	err = db.Put([]byte("k"), []byte("bitcask_tombstone:123"))
	require.ErrorIs(t, err, ErrInvalidValue)
}

func TestCloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())
}
