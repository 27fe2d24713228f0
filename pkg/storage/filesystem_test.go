package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileObjectStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileObjectStore(dir)
	require.NoError(t, err)

	ok, err := store.ObjectExists(ctx, "audit/2024/03/01.ndjson")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.PutObject(ctx, "audit/2024/03/01.ndjson", strings.NewReader("line\n"), "application/x-ndjson"))

	ok, err = store.ObjectExists(ctx, "audit/2024/03/01.ndjson")
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := os.ReadFile(filepath.Join(dir, "audit", "2024", "03", "01.ndjson"))
	require.NoError(t, err)
	assert.Equal(t, "line\n", string(data))

	r, err := store.GetObject(ctx, "audit/2024/03/01.ndjson")
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "line\n", string(got))

	entries, err := os.ReadDir(filepath.Join(dir, "audit", "2024", "03"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFileObjectStore_KeysStayInsideRoot(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileObjectStore(filepath.Join(dir, "root"))
	require.NoError(t, err)

	require.NoError(t, store.PutObject(ctx, "../escape.txt", strings.NewReader("x"), "text/plain"))
	_, err = os.Stat(filepath.Join(dir, "escape.txt"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "root", "escape.txt"))
	assert.NoError(t, err)

	assert.Error(t, store.PutObject(ctx, "", strings.NewReader("x"), "text/plain"))
	assert.Error(t, store.PutObject(ctx, "dir/", strings.NewReader("x"), "text/plain"))
}
