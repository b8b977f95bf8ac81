package warehouse

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SiangbaMM/spacex-data-pipeline/pkg/config"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/testutil"
)

func openSQLite(t *testing.T) (*DB, *sql.DB) {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "warehouse.db")
	db, err := Open(context.Background(), config.DestinationConfig{Driver: "sqlite", DSN: dsn}, testutil.TestLogger(t))
	require.NoError(t, err)

	raw, ok := db.Execer.(*sql.DB)
	require.True(t, ok)

	for _, stmt := range []string{
		`CREATE TABLE STG_SPACEX_DATA_CORES (CORE_ID TEXT, SERIAL TEXT, REUSE_COUNT INTEGER, LAUNCHES TEXT)`,
		`CREATE TABLE STG_SPACEX_DATA_LOAD_ERRORS (TABLE_NAME TEXT, ERROR_TIME TEXT, ERROR_MESSAGE TEXT, ERROR_DATA TEXT)`,
		`INSERT INTO STG_SPACEX_DATA_CORES VALUES ('stale', 'OLD', 0, NULL)`,
	} {
		_, err := raw.Exec(stmt)
		require.NoError(t, err)
	}
	return db, raw
}

func TestSQLiteLoadEndToEnd(t *testing.T) {
	db, raw := openSQLite(t)
	ctx := context.Background()
	sink := NewSink(db, db.Dialect, "STG_SPACEX_DATA_LOAD_ERRORS", testutil.TestLogger(t))
	l := NewLoader(db, sink, LoaderOptions{BatchSize: 2, NullSentinel: true}, testutil.TestLogger(t))
	l.Declare("STG_SPACEX_DATA_CORES", []string{"REUSE_COUNT"})

	launches, err := ToJSON([]interface{}{"5eb87cd9ffd86e000604b32a"})
	require.NoError(t, err)

	records := []Record{
		{"CORE_ID": "c1", "SERIAL": "B1049", "REUSE_COUNT": 9, "LAUNCHES": launches},
		{"CORE_ID": "c2", "SERIAL": "O'Neil", "REUSE_COUNT": nil, "LAUNCHES": nil},
		{"CORE_ID": "c3", "SERIAL": `back\slash`, "REUSE_COUNT": 1, "LAUNCHES": JSON(`[]`)},
	}
	for _, r := range records {
		require.NoError(t, l.Insert(ctx, "STG_SPACEX_DATA_CORES", r))
	}
	sink.LogError(ctx, "STG_SPACEX_DATA_CORES", "Data transformation error: missing id", map[string]interface{}{"serial": "X"})

	require.NoError(t, l.Drain(ctx))

	var count int
	require.NoError(t, raw.QueryRow(`SELECT COUNT(*) FROM STG_SPACEX_DATA_CORES`).Scan(&count))
	assert.Equal(t, 3, count, "stale row removed by truncate")

	var serial string
	var reuse int
	require.NoError(t, raw.QueryRow(`SELECT SERIAL, REUSE_COUNT FROM STG_SPACEX_DATA_CORES WHERE CORE_ID = 'c2'`).Scan(&serial, &reuse))
	assert.Equal(t, "O'Neil", serial)
	assert.Equal(t, -999999999, reuse)

	require.NoError(t, raw.QueryRow(`SELECT SERIAL FROM STG_SPACEX_DATA_CORES WHERE CORE_ID = 'c3'`).Scan(&serial))
	assert.Equal(t, `back\slash`, serial)

	var first string
	require.NoError(t, raw.QueryRow(`SELECT json_extract(LAUNCHES, '$[0]') FROM STG_SPACEX_DATA_CORES WHERE CORE_ID = 'c1'`).Scan(&first))
	assert.Equal(t, "5eb87cd9ffd86e000604b32a", first)

	var msg, data string
	require.NoError(t, raw.QueryRow(`SELECT ERROR_MESSAGE, ERROR_DATA FROM STG_SPACEX_DATA_LOAD_ERRORS`).Scan(&msg, &data))
	assert.Equal(t, "Data transformation error: missing id", msg)
	assert.JSONEq(t, `{"serial":"X"}`, data)

	require.NoError(t, l.Close(ctx))
}
