package config

import (
	"os"
	"path/filepath"
	"testing"

	"go-recdb/pkg/record"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := New()
	require.Equal(t, record.DefaultOptions.BlockSize, cfg.Storage.BlockSize)
	require.Equal(t, "info", cfg.Log.Level)
	require.False(t, cfg.Metrics)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "recdb.yaml", `
storage:
  block_size: 1024
  record_cache_bytes: 65536
log:
  level: debug
metrics: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 1024, cfg.Storage.BlockSize)
	require.Equal(t, int64(65536), cfg.Storage.RecordCacheBytes)
	require.Equal(t, record.DefaultOptions.CacheBlocks, cfg.Storage.CacheBlocks)
	require.Equal(t, "debug", cfg.Log.Level)

	opts, err := cfg.RecordOptions(prometheus.NewRegistry())
	require.NoError(t, err)
	require.NotNil(t, opts.Metrics)
	require.NotNil(t, opts.Logger)
	require.Equal(t, logrus.DebugLevel, opts.Logger.(*logrus.Logger).GetLevel())

	opts.Logger.(*logrus.Logger).SetLevel(logrus.InfoLevel)
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "recdb.json", `{"storage": {"transactions_per_checkpoint": 3}}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Storage.TransactionsPerCheckpoint)
	require.Equal(t, "info", cfg.Log.Level)

	opts, err := cfg.RecordOptions(nil)
	require.NoError(t, err)
	require.Nil(t, opts.Metrics)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Load(writeFile(t, "bad.yaml", "storage: [1, 2"))
	require.Error(t, err)

	cfg, err := Load(writeFile(t, "level.yaml", "log:\n  level: loud\n"))
	require.NoError(t, err)
	_, err = cfg.RecordOptions(nil)
	require.Error(t, err)
}

func TestConfiguredOptionsOpenStore(t *testing.T) {
	cfg := New()
	cfg.Storage.BlockSize = 512

	opts, err := cfg.RecordOptions(nil)
	require.NoError(t, err)

	rm, err := record.Open(filepath.Join(t.TempDir(), "data"), opts)
	require.NoError(t, err)
	defer rm.Close()
	require.Equal(t, 512, rm.BlockSize())
}
