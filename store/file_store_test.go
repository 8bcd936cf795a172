package store_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"authkit/store"
)

func TestFileStoreRoundTrip(t *testing.T) {
	fs, err := store.NewFileStore(filepath.Join(t.TempDir(), "credentials.json"))
	require.NoError(t, err)

	creds := store.Credentials{
		AccessToken:  "abc",
		RefreshToken: "def",
		ExpiresAt:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, fs.Write(creds))

	got, err := fs.Read()
	require.NoError(t, err)
	require.Equal(t, creds.AccessToken, got.AccessToken)
	require.Equal(t, creds.RefreshToken, got.RefreshToken)
	require.True(t, got.ExpiresAt.Equal(creds.ExpiresAt))
}

func TestFileStoreReadMissingFileIsEmpty(t *testing.T) {
	fs, err := store.NewFileStore(filepath.Join(t.TempDir(), "credentials.json"))
	require.NoError(t, err)

	got, err := fs.Read()
	require.NoError(t, err)
	require.True(t, got.Empty())
}

func TestFileStoreClear(t *testing.T) {
	fs, err := store.NewFileStore(filepath.Join(t.TempDir(), "credentials.json"))
	require.NoError(t, err)

	require.NoError(t, fs.Write(store.Credentials{AccessToken: "abc", RefreshToken: "def", ExpiresAt: time.Now()}))
	require.NoError(t, fs.Clear())
	require.NoError(t, fs.Clear()) // clearing twice is fine

	got, err := fs.Read()
	require.NoError(t, err)
	require.True(t, got.Empty())
}

func TestFileStorePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	fs, err := store.NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, fs.Write(store.Credentials{AccessToken: "abc"}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileStoreRequiresPath(t *testing.T) {
	_, err := store.NewFileStore("")
	require.Error(t, err)
}
