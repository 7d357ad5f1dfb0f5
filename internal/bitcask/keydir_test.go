package bitcask

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

func TestKeydirPutGetContains(t *testing.T) {
	kd := newKeydir()
	require.False(t, kd.contains([]byte("a")))

	kd.put([]byte("a"), hint{fileID: 1, position: 0, size: 10, timestamp: 1})
	require.True(t, kd.contains([]byte("a")))

	h, ok := kd.get([]byte("a"))
	require.True(t, ok)
	require.Equal(t, hint{fileID: 1, position: 0, size: 10, timestamp: 1}, h)
}

func TestKeydirPutOverwriteLastWriteWins(t *testing.T) {
	kd := newKeydir()
	kd.put([]byte("a"), hint{fileID: 1, position: 0, size: 10, timestamp: 1})
	kd.put([]byte("a"), hint{fileID: 1, position: 50, size: 10, timestamp: 2})

	h, ok := kd.get([]byte("a"))
	require.True(t, ok)
	require.EqualValues(t, 50, h.position)
	require.EqualValues(t, 2, h.timestamp)
	require.Equal(t, 1, kd.len(), "overwrite must not create a second entry")
}

func TestKeydirDelete(t *testing.T) {
	kd := newKeydir()
	kd.put([]byte("a"), hint{fileID: 1})
	kd.put([]byte("b"), hint{fileID: 1})

	kd.delete([]byte("a"))
	require.False(t, kd.contains([]byte("a")))
	require.True(t, kd.contains([]byte("b")))
	require.Equal(t, 1, kd.len())

	kd.delete([]byte("nonexistent"))
	require.Equal(t, 1, kd.len())
}

func TestKeydirKeysMatchesMembership(t *testing.T) {
	kd := newKeydir()
	kd.put([]byte("a"), hint{fileID: 1})
	kd.put([]byte("b"), hint{fileID: 1})
	kd.put([]byte("c"), hint{fileID: 1})
	kd.delete([]byte("b"))

	got := kd.keys()
	want := [][]byte{[]byte("a"), []byte("c")}

	if diff := cmp.Diff(want, got, cmpopts.SortSlices(func(a, b []byte) bool {
		return string(a) < string(b)
	})); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}
	for _, k := range got {
		require.True(t, kd.contains(k))
	}
	require.Len(t, got, kd.len())
}

func TestKeydirKeysPreservesInsertionOrder(t *testing.T) {
	kd := newKeydir()
	kd.put([]byte("c"), hint{fileID: 1})
	kd.put([]byte("a"), hint{fileID: 1})
	kd.put([]byte("b"), hint{fileID: 1})

	got := kd.keys()
	want := [][]byte{[]byte("c"), []byte("a"), []byte("b")}
	require.Equal(t, want, got)
}
