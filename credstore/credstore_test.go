package credstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, ok, err := m.Get(ctx, "access_token")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "access_token", "tok"))
	v, ok, err := m.Get(ctx, "access_token")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tok", v)

	require.NoError(t, m.Delete(ctx, "access_token"))
	_, ok, err = m.Get(ctx, "access_token")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileRoundTripAndReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "creds.enc")
	pass := []byte("correct horse battery staple")

	f, err := NewFile(path, pass)
	require.NoError(t, err)
	require.NoError(t, f.Set(ctx, "access_token", "tok-1"))
	require.NoError(t, f.Set(ctx, "refresh_token", "ref-1"))

	// A fresh handle with the same passphrase sees the same values.
	reopened, err := NewFile(path, pass)
	require.NoError(t, err)
	v, ok, err := reopened.Get(ctx, "access_token")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tok-1", v)

	require.NoError(t, reopened.Delete(ctx, "refresh_token"))
	_, ok, err = reopened.Get(ctx, "refresh_token")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileRejectsWrongPassphrase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "creds.enc")

	f, err := NewFile(path, []byte("right"))
	require.NoError(t, err)
	require.NoError(t, f.Set(ctx, "access_token", "tok"))

	_, err = NewFile(path, []byte("wrong"))
	require.Error(t, err)
}

func TestFileNeverStoresPlaintext(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "creds.enc")

	f, err := NewFile(path, []byte("pass"))
	require.NoError(t, err)
	require.NoError(t, f.Set(ctx, "access_token", "super-secret-token"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "super-secret-token")
}

func TestFileDeleteMissingKeyIsNoop(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "creds.enc")

	f, err := NewFile(path, []byte("pass"))
	require.NoError(t, err)
	require.NoError(t, f.Delete(ctx, "absent"))

	// Nothing was ever written, so no file should exist yet.
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
