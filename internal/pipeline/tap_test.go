package pipeline

import (
	"bytes"
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/SiangbaMM/spacex-data-pipeline/pkg/config"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/errors"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/singer"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/spacex"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/testutil"
)

func sqliteConfig(t *testing.T, baseURL string) (*config.Config, *sql.DB) {
	t.Helper()
	dir := t.TempDir()
	dsn := "file:" + filepath.Join(dir, "warehouse.db")

	raw, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })

	cfg := config.Default()
	cfg.BaseURL = baseURL
	cfg.Destination = config.DestinationConfig{Driver: "sqlite", DSN: dsn, StatementTimeout: 10 * time.Second}
	cfg.HTTP.MaxAttempts = 1
	cfg.Orchestrator.GroupDelay = 0
	cfg.Singer.StateFile = filepath.Join(dir, "state.json")
	cfg.Archive = config.ArchiveConfig{
		Enabled:     true,
		Backend:     "local",
		Path:        filepath.Join(dir, "archive"),
		Compression: "zstd",
	}

	for _, e := range []*spacex.Entity{spacex.Capsules, spacex.Ships} {
		cols := make([]string, 0, len(e.Columns()))
		for _, c := range e.Columns() {
			cols = append(cols, c+" TEXT")
		}
		_, err := raw.Exec("CREATE TABLE " + cfg.Loader.TableName(e.Name) + " (" + strings.Join(cols, ", ") + ")")
		require.NoError(t, err)
	}
	_, err = raw.Exec("CREATE TABLE " + cfg.Loader.ErrorTable +
		" (TABLE_NAME TEXT, ERROR_TIME TEXT, ERROR_MESSAGE TEXT, ERROR_DATA TEXT)")
	require.NoError(t, err)
	return cfg, raw
}

func count(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestTapRunsAgainstSQLite(t *testing.T) {
	api := testutil.NewFakeAPI(t)
	api.JSON("/capsules", `[{"id":"C1","serial":"C101","reuse_count":2},{"serial":"orphan"}]`)
	api.JSON("/ships", `[{"id":"SH1","name":"Of Course I Still Love You","active":true}]`)

	cfg, raw := sqliteConfig(t, api.BaseURL())
	out := &bytes.Buffer{}

	tap, err := Build(context.Background(), cfg, Options{
		RunID:    "run-sqlite",
		Entities: []*spacex.Entity{spacex.Capsules, spacex.Ships},
		Writer:   singer.NewStreamWriter(out, nil),
	}, testutil.TestLogger(t))
	require.NoError(t, err)
	require.NoError(t, tap.Run(context.Background()))

	assert.Equal(t, 1, count(t, raw, "STG_SPACEX_DATA_CAPSULES"))
	assert.Equal(t, 1, count(t, raw, "STG_SPACEX_DATA_SHIPS"))
	assert.Equal(t, 1, count(t, raw, cfg.Loader.ErrorTable))

	var serial string
	require.NoError(t, raw.QueryRow("SELECT SERIAL FROM STG_SPACEX_DATA_CAPSULES WHERE CAPSULE_ID = 'C1'").Scan(&serial))
	assert.Equal(t, "C101", serial)

	var msg string
	require.NoError(t, raw.QueryRow("SELECT ERROR_MESSAGE FROM "+cfg.Loader.ErrorTable).Scan(&msg))
	assert.Contains(t, msg, "Data transformation error")

	sum := tap.Summary()
	assert.Equal(t, Summary{
		Schemas:    2,
		Records:    2,
		States:     2,
		RowsLoaded: 2,
		ErrorRows:  1,
		Requests:   2,
		Bookmarks:  2,
	}, sum)

	reloaded, err := singer.NewStateStore(cfg.Singer.StateFile).Load()
	require.NoError(t, err)
	assert.Contains(t, reloaded.Bookmarks, "capsules")
	assert.Contains(t, reloaded.Bookmarks, "ships")

	matches, err := filepath.Glob(filepath.Join(cfg.Archive.Path, "capsules", "run-sqlite.json"+".zst"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestTapSecondRunReplacesRows(t *testing.T) {
	api := testutil.NewFakeAPI(t)
	api.JSON("/ships", `[{"id":"SH1"},{"id":"SH2"}]`)
	cfg, raw := sqliteConfig(t, api.BaseURL())
	cfg.Archive.Enabled = false

	for i := 0; i < 2; i++ {
		tap, err := Build(context.Background(), cfg, Options{
			Entities: []*spacex.Entity{spacex.Ships},
			Writer:   singer.Discard,
		}, testutil.TestLogger(t))
		require.NoError(t, err)
		assert.NotEmpty(t, tap.RunID)
		require.NoError(t, tap.Run(context.Background()))
	}

	assert.Equal(t, 2, count(t, raw, "STG_SPACEX_DATA_SHIPS"))
}

func TestTapAbortsOnAPIFailure(t *testing.T) {
	api := testutil.NewFakeAPI(t)
	api.Handle("/capsules", testutil.Response{Status: 500, Body: "down"})
	api.JSON("/ships", `[{"id":"SH1"}]`)
	cfg, raw := sqliteConfig(t, api.BaseURL())
	cfg.Archive.Enabled = false

	tap, err := Build(context.Background(), cfg, Options{
		Entities: []*spacex.Entity{spacex.Capsules, spacex.Ships},
		Writer:   singer.Discard,
	}, testutil.TestLogger(t))
	require.NoError(t, err)

	err = tap.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasType(err, errors.ErrorTypeAPI))
	assert.Equal(t, 0, api.Hits("/ships"))

	var msg string
	require.NoError(t, raw.QueryRow("SELECT ERROR_MESSAGE FROM "+cfg.Loader.ErrorTable).Scan(&msg))
	assert.Equal(t, "API response error: status 500", msg)
}

func TestBuildRejectsBadArchiveConfig(t *testing.T) {
	cfg, _ := sqliteConfig(t, "http://127.0.0.1:1/")
	cfg.Archive.Compression = "brotli"

	_, err := Build(context.Background(), cfg, Options{Writer: singer.Discard}, testutil.TestLogger(t))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestHTTPConfigMapping(t *testing.T) {
	out := HTTPConfig(config.HTTPConfig{
		Timeout:         7 * time.Second,
		MaxAttempts:     5,
		InitialBackoff:  time.Second,
		MaxBackoff:      10 * time.Second,
		RateLimitPerSec: 2,
		UserAgent:       "test-agent",
	})
	assert.Equal(t, 7*time.Second, out.RequestTimeout)
	assert.Equal(t, 5, out.Retry.MaxAttempts)
	assert.Equal(t, 10*time.Second, out.Retry.MaxDelay)
	assert.Equal(t, 2.0, out.RateLimit)
	assert.Equal(t, "test-agent", out.UserAgent)
}
