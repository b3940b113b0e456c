package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemDBMissingKey(t *testing.T) {
	db := NewMemDB()
	if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	value := []byte("abc")
	require.NoError(t, db.Put([]byte("k"), value))
	value[0] = 'z'
	got, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "abc", string(got))
}

func TestOverlayCommitAndDiscard(t *testing.T) {
	base := NewMemDB()
	require.NoError(t, base.Put([]byte("a"), []byte("1")))

	overlay := NewOverlay(base)
	require.NoError(t, overlay.Put([]byte("a"), []byte("2")))
	require.NoError(t, overlay.Put([]byte("b"), []byte("3")))

	got, err := overlay.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, "2", string(got))

	got, err = base.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, "1", string(got), "base must not see buffered writes")

	require.NoError(t, overlay.Commit())
	got, err = base.Get([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, "3", string(got))
	require.Error(t, overlay.Put([]byte("c"), []byte("4")))

	dropped := NewOverlay(base)
	require.NoError(t, dropped.Put([]byte("c"), []byte("5")))
	dropped.Discard()
	_, err = base.Get([]byte("c"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLevelDBBatchAndPrefixScan(t *testing.T) {
	db, err := NewLevelDB(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Get([]byte("nope"))
	require.ErrorIs(t, err, ErrNotFound)

	overlay := NewOverlay(db)
	require.NoError(t, overlay.Put([]byte("p/1"), []byte("x")))
	require.NoError(t, overlay.Put([]byte("p/2"), []byte("y")))
	require.NoError(t, overlay.Put([]byte("q/1"), []byte("z")))
	require.NoError(t, overlay.Commit())

	keys, err := db.Keys([]byte("p/"))
	require.NoError(t, err)
	require.Len(t, keys, 2)
	require.Equal(t, "p/1", string(keys[0]))
}
