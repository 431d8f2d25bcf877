package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestDir creates a temporary directory for testing and returns its path.
func newTestDir(t *testing.T) string {
	dir, err := os.MkdirTemp("", "lanchat-test-")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, os.RemoveAll(dir)) })
	return dir
}

func TestGenerateIsUnique(t *testing.T) {
	id1, err := Generate()
	require.NoError(t, err)
	id2, err := Generate()
	require.NoError(t, err)

	require.NotEqual(t, id1.ID, id2.ID)
	require.Equal(t, id1.ID.String(), id1.String())
	require.Len(t, id1.Short(), 12)
}

func TestSaveLoadIdentity(t *testing.T) {
	path := filepath.Join(newTestDir(t), "keys", "identity.key")

	// 1. Key is generated and saved when none exists
	created, err := Load(path)
	require.NoError(t, err)
	require.FileExists(t, path)

	// 2. The same key is loaded back
	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, created.ID, loaded.ID)
	require.True(t, created.PrivKey.Equals(loaded.PrivKey))
}

func TestLoadCorruptIdentity(t *testing.T) {
	path := filepath.Join(newTestDir(t), "identity.key")
	require.NoError(t, os.WriteFile(path, []byte("not a key"), 0600))

	_, err := Load(path)
	require.Error(t, err)
}
