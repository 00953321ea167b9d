package socp

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "0.0.0.0", cfg.ListenHost)
	require.Equal(t, 8765, cfg.ListenPort)
	require.Equal(t, "storage", cfg.StorageDir)
	require.False(t, cfg.StrictUserHello)
}

func TestSplitPeers(t *testing.T) {
	require.Nil(t, SplitPeers(""))
	require.Equal(t,
		[]string{"a:1", "b:2"},
		SplitPeers(" a:1, b:2 ,"))
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("LISTEN_HOST", "10.0.0.1")
	t.Setenv("LISTEN_PORT", "9000")
	t.Setenv("BOOTSTRAP_PEERS", "n1:8765,n2:8765")
	t.Setenv("STRICT_USER_HELLO", "1")
	t.Setenv("METRICS_ADDR", ":9100")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadEnv())
	require.Equal(t, "10.0.0.1", cfg.ListenHost)
	require.Equal(t, 9000, cfg.ListenPort)
	require.Equal(t, []string{"n1:8765", "n2:8765"}, cfg.BootstrapPeers)
	require.True(t, cfg.StrictUserHello)
	require.Equal(t, ":9100", cfg.MetricsAddr)
}

func TestLoadEnvRejectsBadPort(t *testing.T) {
	t.Setenv("LISTEN_PORT", "not-a-port")
	cfg := DefaultConfig()
	require.Error(t, cfg.LoadEnv())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "socp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"listen_port: 9001\nbootstrap_peers:\n  - n1:8765\nstrict_user_hello: true\n"), 0o644))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFile(path))
	require.Equal(t, 9001, cfg.ListenPort)
	require.Equal(t, []string{"n1:8765"}, cfg.BootstrapPeers)
	require.True(t, cfg.StrictUserHello)
	// untouched fields keep their defaults
	require.Equal(t, "0.0.0.0", cfg.ListenHost)
}

func TestAdvertisedHost(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "0.0.0.0", cfg.advertisedHost())
	cfg.AdvertiseHost = "node1.example.org"
	require.Equal(t, "node1.example.org", cfg.advertisedHost())
}
