package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hupe1980/tinycache"
	"github.com/hupe1980/tinycache/distance"
	"github.com/hupe1980/tinycache/wal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
service:
  metrics_addr: "127.0.0.1:0"
  log_level: debug
  sweep_interval: 50ms
  stats_interval: 0s
wal:
  sync: always
  compression: zstd
databases:
  sessions:
    max_size: 64
    shard_count: 4
    eviction_policy: lru
    default_ttl: 30m
  catalog:
    index_mode: registered
    vector_metric: cosine
    vector_dimension: 8
    indexes: [sku, brand]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tinycached.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("TINYCACHE_WAL_DIR", "/var/lib/tinycache")

	cfg, err := Load(writeConfig(t, testConfig))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:0", cfg.Service.MetricsAddr)
	assert.Equal(t, 50*time.Millisecond, cfg.Service.SweepInterval)
	assert.Equal(t, 10*time.Second, cfg.Service.ShutdownTimeout, "default kept")
	assert.Equal(t, "/var/lib/tinycache", cfg.WAL.Dir, "environment overrides file")
	require.Len(t, cfg.Databases, 2)

	sessions, err := cfg.Databases["sessions"].Build()
	require.NoError(t, err)
	assert.Equal(t, 64, sessions.MaxSize)
	assert.Equal(t, tinycache.LRU, sessions.EvictionPolicy)
	assert.Equal(t, 30*time.Minute, sessions.DefaultTTL)

	catalog, err := cfg.Databases["catalog"].Build()
	require.NoError(t, err)
	assert.Equal(t, tinycache.IndexRegisteredFields, catalog.IndexMode)
	assert.Equal(t, distance.MetricCosine, catalog.VectorMetric)
	assert.Equal(t, []string{"sku", "brand"}, cfg.Databases["catalog"].Indexes)

	fns, err := cfg.WALOptions()
	require.NoError(t, err)
	o := wal.DefaultOptions
	for _, fn := range fns {
		fn(&o)
	}
	assert.Equal(t, wal.SyncAlways, o.SyncPolicy)
	assert.Equal(t, wal.CompressionZstd, o.Compression)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Contains(t, cfg.Databases, "default")
	fns, err := cfg.WALOptions()
	require.NoError(t, err)
	assert.Nil(t, fns, "wal disabled without a directory")
}

func TestLoadExampleConfig(t *testing.T) {
	cfg, err := Load("tinycached.example.yaml")
	require.NoError(t, err)

	assert.Equal(t, "minio", cfg.Archive.Type)
	assert.Equal(t, []string{"sku", "brand"}, cfg.Databases["catalog"].Indexes)

	catalog, err := cfg.Databases["catalog"].Build()
	require.NoError(t, err)
	assert.Equal(t, 384, catalog.VectorDimension)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"policy", "databases:\n  d:\n    eviction_policy: fifo\n"},
		{"metric", "databases:\n  d:\n    vector_metric: manhattan\n"},
		{"sync", "wal:\n  dir: /tmp/x\n  sync: sometimes\n"},
		{"archive", "archive:\n  type: ftp\n"},
		{"log level", "service:\n  log_level: loud\n"},
		{"codec", "service:\n  codec: msgpack\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestRunServesMetrics(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfig))
	require.NoError(t, err)
	cfg.WAL.Dir = t.TempDir()
	cfg.Archive = ArchiveConfig{Type: "local", Path: t.TempDir(), Prefix: "wal/"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, cfg, tinycache.NoopLogger(), ready)
	}()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("run exited early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for daemon")
	}

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `tinycache_database_items{database="catalog"} 0`)

	resp, err = http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for shutdown")
	}
}
