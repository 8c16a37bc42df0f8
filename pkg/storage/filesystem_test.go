package storage

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalStorageSaveOpenDelete(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	path, err := store.SaveStream("donations/don-1/proof.pdf", bytes.NewReader([]byte("%PDF-1.4")))
	require.NoError(t, err)
	require.Equal(t, "donations/don-1/proof.pdf", path)

	file, err := store.Open(path)
	require.NoError(t, err)
	data, err := io.ReadAll(file)
	require.NoError(t, err)
	require.NoError(t, file.Close())
	require.Equal(t, "%PDF-1.4", string(data))

	require.NoError(t, store.Delete(path))
	_, err = os.Stat(store.Path(path))
	require.True(t, os.IsNotExist(err))
	require.NoError(t, store.Delete(path))
}

func TestLocalStorageRejectsEscapingPaths(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.SaveStream("../outside.txt", bytes.NewReader([]byte("x")))
	require.Error(t, err)
	_, err = store.SaveStream("/etc/passwd", bytes.NewReader([]byte("x")))
	require.Error(t, err)
	require.Error(t, store.DeleteDir("."))
}

func TestLocalStorageDeleteDir(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.SaveStream("donations/don-1/a.pdf", bytes.NewReader([]byte("a")))
	require.NoError(t, err)
	_, err = store.SaveStream("donations/don-1/b.png", bytes.NewReader([]byte("b")))
	require.NoError(t, err)

	require.NoError(t, store.DeleteDir("donations/don-1"))
	_, err = os.Stat(store.Path("donations/don-1"))
	require.True(t, os.IsNotExist(err))
}
