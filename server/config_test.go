package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigMatchesDocumentedDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "0.0.0.0", cfg.BindAddress)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 100, cfg.MaxConnectionsPerDoc)
	assert.Equal(t, 1000, cfg.MaxTotalConnections)
	assert.Equal(t, 30, cfg.PingIntervalSecs)
	assert.Equal(t, 60, cfg.ConnectionTimeoutSecs)
}

func TestSocketAddrFormatsHostPort(t *testing.T) {
	cfg := Config{BindAddress: "127.0.0.1", Port: 9999}
	assert.Equal(t, "127.0.0.1:9999", cfg.SocketAddr())
}

func TestLoadConfigWithoutFileFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	content := "port: 7777\nmax_connections_per_doc: 5\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "crdtcollab.yaml"), []byte(content), 0o600))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Port)
	assert.Equal(t, 5, cfg.MaxConnectionsPerDoc)
	assert.Equal(t, "0.0.0.0", cfg.BindAddress)
}
