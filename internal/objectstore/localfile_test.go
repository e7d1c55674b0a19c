package objectstore

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalFileStorePutGetRoundTrip(t *testing.T) {
	store, err := NewLocalFileStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	_, err = store.Put(ctx, "tasks/t1/step-0.json", bytes.NewReader([]byte(`{"ok":true}`)), PutOptions{ContentType: "application/json"})
	require.NoError(t, err)

	r, attrs, err := store.Get(ctx, "tasks/t1/step-0.json")
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, `{"ok":true}`, string(data))
	require.EqualValues(t, len(data), attrs.Size)
}

func TestLocalFileStoreGetMissingReturnsErrNotFound(t *testing.T) {
	store, err := NewLocalFileStore(t.TempDir())
	require.NoError(t, err)

	_, _, err = store.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocalFileStoreRejectsPathTraversal(t *testing.T) {
	store, err := NewLocalFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "../escape", bytes.NewReader(nil), PutOptions{})
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestLocalFileStoreListWithPrefixAndDelimiter(t *testing.T) {
	store, err := NewLocalFileStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	_, _ = store.Put(ctx, "tasks/t1/step-0.json", bytes.NewReader([]byte("a")), PutOptions{})
	_, _ = store.Put(ctx, "tasks/t1/step-1.json", bytes.NewReader([]byte("b")), PutOptions{})
	_, _ = store.Put(ctx, "tasks/t2/step-0.json", bytes.NewReader([]byte("c")), PutOptions{})

	result, err := store.List(ctx, ListOptions{Prefix: "tasks/", Delimiter: "/"})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"tasks/t1/", "tasks/t2/"}, result.CommonPrefixes)
	require.Empty(t, result.Objects)
}

func TestLocalFileStoreExistsAndDelete(t *testing.T) {
	store, err := NewLocalFileStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	_, _ = store.Put(ctx, "k", bytes.NewReader([]byte("v")), PutOptions{})

	ok, err := store.Exists(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.Delete(ctx, "k"))

	ok, err = store.Exists(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}
