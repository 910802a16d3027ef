package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/IntelLabs/vdms-go/cmn"
)

func newLocal(t *testing.T) *LocalStore {
	t.Helper()
	ls, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	return ls
}

func TestNewLocalCreatesLayout(t *testing.T) {
	root := t.TempDir()
	_, err := NewLocal(root)
	require.NoError(t, err)
	for _, b := range []string{"pmgd", "jpg", "png", "tdb", "bin", "blobs", "videos", "descriptors", "tmp"} {
		fi, err := os.Stat(filepath.Join(root, b))
		require.NoError(t, err)
		require.True(t, fi.IsDir())
	}
	// Manifest survives a second open.
	_, err = NewLocal(root)
	require.NoError(t, err)
}

func TestKeyForBucketsByFormat(t *testing.T) {
	data := []byte("image bytes")
	key := KeyFor(cmn.FormatPNG, data)
	require.True(t, strings.HasPrefix(key, "png/"))
	require.True(t, strings.HasSuffix(key, ".png"))
	require.Equal(t, 3, strings.Count(key, "/"), "two prefix layers: png/xx/yy/hash.png")

	require.True(t, strings.HasPrefix(KeyFor("video", data), "videos/"))
	require.True(t, strings.HasPrefix(KeyFor("descriptor", data), "descriptors/"))
	require.True(t, strings.HasPrefix(KeyFor("blob", data), "blobs/"))

	// Content-derived: same bytes, same key; different bytes, different key.
	require.Equal(t, key, KeyFor(cmn.FormatPNG, data))
	require.NotEqual(t, key, KeyFor(cmn.FormatPNG, []byte("other bytes")))
}

func TestLocalReadWriteDeleteSize(t *testing.T) {
	ls := newLocal(t)
	data := []byte("payload")
	key := KeyFor("blob", data)

	require.NoError(t, ls.Write(key, data))
	got, err := ls.Read(key)
	require.NoError(t, err)
	require.Equal(t, data, got)

	size, err := ls.Size(key)
	require.NoError(t, err)
	require.EqualValues(t, len(data), size)

	// Re-writing the same content-derived key is a no-op, not an overwrite.
	require.NoError(t, ls.Write(key, data))

	require.NoError(t, ls.Delete(key))
	_, err = ls.Read(key)
	require.Error(t, err)
	require.NoError(t, ls.Delete(key)) // idempotent
}

func TestLocalList(t *testing.T) {
	ls := newLocal(t)
	var keys []string
	for _, content := range []string{"a", "b", "c"} {
		key := KeyFor("blob", []byte(content))
		require.NoError(t, ls.Write(key, []byte(content)))
		keys = append(keys, key)
	}
	listed, err := ls.List("blobs")
	require.NoError(t, err)
	require.ElementsMatch(t, keys, listed)

	empty, err := ls.List("videos")
	require.NoError(t, err)
	require.Empty(t, empty)

	missing, err := ls.List("no-such-bucket")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestLocalAvailable(t *testing.T) {
	ls := newLocal(t)
	avail, err := ls.Available()
	require.NoError(t, err)
	require.Positive(t, avail)
}
