package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "userSession", []byte(`{"token":"abc"}`)))
	got, err := s.Get(ctx, "userSession")
	require.NoError(t, err)
	assert.JSONEq(t, `{"token":"abc"}`, string(got))

	require.NoError(t, s.Set(ctx, "userSession", []byte(`{"token":"def"}`)))
	got, err = s.Get(ctx, "userSession")
	require.NoError(t, err)
	assert.JSONEq(t, `{"token":"def"}`, string(got))

	require.NoError(t, s.Delete(ctx, "userSession"))
	_, err = s.Get(ctx, "userSession")
	assert.ErrorIs(t, err, ErrNotFound)

	// deleting an absent key is not an error
	assert.NoError(t, s.Delete(ctx, "userSession"))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	value := []byte("abc")
	require.NoError(t, s.Set(ctx, "k", value))
	value[0] = 'x'

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestFileStore(t *testing.T) {
	exerciseStore(t, NewFileStore(filepath.Join(t.TempDir(), "store")))
}

func TestFileStore_PermissionsAndEscaping(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir)
	require.NoError(t, s.Set(context.Background(), "civic/endpoint", []byte(`{}`)))

	info, err := os.Stat(filepath.Join(dir, "civic%2Fendpoint.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestBadgerStore(t *testing.T) {
	s, err := OpenBadgerStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)

	s, err := NewRedisStore(context.Background(), RedisConfig{Addr: mr.Addr(), Prefix: "civic:"})
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)

	require.NoError(t, s.Set(context.Background(), "user", []byte("x")))
	assert.True(t, mr.Exists("civic:user"))
}

func TestRedisStore_ConnectionFailure(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedisStore(context.Background(), RedisConfig{Addr: addr})
	assert.Error(t, err)
}
