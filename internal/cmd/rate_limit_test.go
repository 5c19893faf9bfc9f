package cmd

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subtrack/subtrack/internal/config"
	"github.com/subtrack/subtrack/internal/core"
	"github.com/subtrack/subtrack/internal/core/store/memstore"
	"github.com/subtrack/subtrack/internal/output"
)

var cliNow = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func seededBackend(t *testing.T) *memstore.Store {
	t.Helper()
	backend := memstore.New()
	ctx := context.Background()
	for _, seed := range []struct {
		key string
		at  time.Time
	}{
		{"auth:10.0.0.1", cliNow},
		{"auth:10.0.0.2", cliNow.Add(-time.Hour)},
		{"general:10.0.0.1", cliNow},
	} {
		_, err := backend.IncrementRateLimit(ctx, seed.key, seed.at, 15*time.Minute)
		require.NoError(t, err)
	}
	return backend
}

func TestLookupRecord(t *testing.T) {
	backend := seededBackend(t)
	ctx := context.Background()

	record, err := lookupRecord(ctx, backend, " auth:10.0.0.1 ")
	require.NoError(t, err)
	assert.Equal(t, int64(1), record.TotalHits)

	_, err = lookupRecord(ctx, backend, "auth:unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no rate limit record")

	_, err = lookupRecord(ctx, backend, "  ")
	require.Error(t, err)
}

func TestResetRecords(t *testing.T) {
	ctx := context.Background()

	t.Run("dry run counts without deleting", func(t *testing.T) {
		backend := seededBackend(t)
		summary, err := resetRecords(ctx, backend, core.RateLimitQuery{Prefix: "auth:"}, true)
		require.NoError(t, err)
		assert.Equal(t, output.ResetSummary{Operation: "reset", Matched: 2, DryRun: true}, summary)
		assert.Equal(t, 3, backend.Len())
	})

	t.Run("prefix reset", func(t *testing.T) {
		backend := seededBackend(t)
		summary, err := resetRecords(ctx, backend, core.RateLimitQuery{Prefix: "auth:"}, false)
		require.NoError(t, err)
		assert.Equal(t, 2, summary.Matched)
		assert.Equal(t, int64(2), summary.Deleted)
		assert.Equal(t, 1, backend.Len())
	})
}

func TestCleanupRecords(t *testing.T) {
	ctx := context.Background()

	backend := seededBackend(t)
	summary, err := cleanupRecords(ctx, backend, cliNow, true)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Matched)
	assert.Equal(t, 3, backend.Len())

	summary, err = cleanupRecords(ctx, backend, cliNow, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.Deleted)
	assert.Equal(t, 2, backend.Len())
}

func TestRecordBox(t *testing.T) {
	record := core.RateLimitRecord{Key: "auth:10.0.0.1", TotalHits: 3, ResetTime: cliNow.Add(time.Minute)}
	box := recordBox(record, cliNow)
	assert.Contains(t, box, "auth:10.0.0.1")
	assert.Contains(t, box, "Hits:  3")
	assert.Contains(t, box, "active")
	assert.Contains(t, recordBox(record, cliNow.Add(time.Hour)), "expired")
}

func newOutputCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	c := &cobra.Command{Use: "test"}
	addOutputFlags(c)
	require.NoError(t, c.Flags().Parse(args))
	return c
}

func TestWriteRenderedToOutDir(t *testing.T) {
	dir := t.TempDir()
	c := newOutputCommand(t, "--output-format", "json", "--out-dir", dir)

	records := []core.RateLimitRecord{{Key: "auth:10.0.0.1", TotalHits: 2, ResetTime: cliNow}}
	err := writeRendered(c, "list", func(f output.Formatter) (string, error) {
		return f.FormatRecords(records, cliNow)
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "rate-limit.list.json"))
	require.NoError(t, err)
	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "auth:10.0.0.1", decoded[0]["key"])
}

func TestWriteRenderedRejectsConflictingTargets(t *testing.T) {
	c := newOutputCommand(t, "--out", "a.json", "--out-dir", t.TempDir())
	err := writeRendered(c, "list", func(output.Formatter) (string, error) { return "", nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestServeOverrides(t *testing.T) {
	c := &cobra.Command{Use: "serve"}
	c.Flags().StringVar(&serverHost, "host", "localhost", "")
	c.Flags().IntVarP(&serverPort, "port", "p", 8080, "")

	require.NoError(t, c.Flags().Parse(nil))
	assert.Nil(t, serveOverrides(c))

	require.NoError(t, c.Flags().Parse([]string{"--port", "9000"}))
	assert.Equal(t, map[string]any{"server": map[string]any{"port": 9000}}, serveOverrides(c))
}

func TestStoreLabel(t *testing.T) {
	assert.Equal(t, "redis (localhost:6379)", storeLabel(config.StoreConfig{Driver: "redis"}))
	assert.Equal(t, "postgres", storeLabel(config.StoreConfig{Driver: "postgres", URL: "postgres://u:p@h/db"}))
	assert.Equal(t, "libsql (remote)", storeLabel(config.StoreConfig{URL: "libsql://db.example"}))
	assert.Equal(t, "libsql (/tmp/x.db)", storeLabel(config.StoreConfig{Path: "/tmp/x.db"}))
	assert.True(t, isLocalLibsql(config.StoreConfig{Path: "/tmp/x.db"}))
	assert.False(t, isLocalLibsql(config.StoreConfig{Driver: "redis", Path: "/tmp/x.db"}))
}

func TestBuildInitConfigLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(buildInitConfig("tok")), 0600))

	config.SetConfigFile(path)
	t.Cleanup(func() { config.SetConfigFile("") })

	cfg, err := config.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", cfg.Admin.Token)
	assert.Equal(t, 2*time.Second, cfg.RateLimit.StoreTimeout)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Contains(t, buildInitConfig(""), "SUBTRACK_ADMIN_TOKEN")
}
