package socp

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/WillLehmann04/secure-programming/wire"
)

func TestServerIDCreatedOnceAndReloaded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server_id.txt")

	first, err := loadOrCreateServerID(path, "")
	require.NoError(t, err)
	require.True(t, wire.IsUUID4(first))

	second, err := loadOrCreateServerID(path, "")
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestExplicitServerIDPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server_id.txt")
	const want = "12345678-1234-4123-8123-123456789012"

	got, err := loadOrCreateServerID(path, want)
	require.NoError(t, err)
	require.Equal(t, want, got)

	reloaded, err := loadOrCreateServerID(path, "")
	require.NoError(t, err)
	require.Equal(t, want, reloaded)
}

func TestExplicitServerIDMustBeUUID4(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server_id.txt")
	_, err := loadOrCreateServerID(path, "not-a-uuid")
	require.Error(t, err)
}

func TestCorruptServerIDFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server_id.txt")
	require.NoError(t, os.WriteFile(path, []byte("garbage\n"), 0o600))
	_, err := loadOrCreateServerID(path, "")
	require.Error(t, err)
}
