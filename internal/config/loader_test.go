package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "dispatchd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoadAppliesDefaultsForUnsetFields(t *testing.T) {
	path := writeConfig(t, `
node:
  name: node-a
store:
  sqlite_path: ./data/a.db
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "node-a", cfg.Node.Name)
	assert.Equal(t, "info", cfg.Node.LogLevel)
	assert.Equal(t, 4, cfg.Worker.Count)
	assert.Equal(t, 200*time.Millisecond, cfg.Worker.TakeTick)
	assert.Equal(t, "127.0.0.1:8080", cfg.API.Listen)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("DISPATCHD_DB_PATH", "/var/lib/dispatchd/node.db")
	path := writeConfig(t, `
store:
  sqlite_path: ${DISPATCHD_DB_PATH}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/dispatchd/node.db", cfg.Store.SQLitePath)
}

func TestLoadRejectsUnresolvedEnvVar(t *testing.T) {
	path := writeConfig(t, `
store:
  sqlite_path: ${DISPATCHD_UNSET_VAR}
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsNegativeWorkerCount(t *testing.T) {
	path := writeConfig(t, `
worker:
  count: -1
store:
  sqlite_path: ./data/a.db
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load("/nonexistent/dispatchd.yaml")
	assert.Error(t, err)
}

func TestClusterSectionParsesPeers(t *testing.T) {
	path := writeConfig(t, `
store:
  sqlite_path: ./data/a.db
cluster:
  leader_addr: 10.0.0.1:9000
  peer_addrs:
    - 10.0.0.2:9000
    - 10.0.0.3:9000
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:9000", cfg.Cluster.LeaderAddr)
	assert.Len(t, cfg.Cluster.PeerAddrs, 2)
}
