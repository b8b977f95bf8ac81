package warehouse

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SiangbaMM/spacex-data-pipeline/pkg/errors"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/testutil"
)

func newTestLoader(t *testing.T, exec *testutil.RecordingExecer, batch int) *Loader {
	t.Helper()
	db := NewDB(exec, Snowflake, exec.Close)
	sink := newTestSink(t, exec)
	return NewLoader(db, sink, LoaderOptions{BatchSize: batch, NullSentinel: true}, testutil.TestLogger(t))
}

func rec(id string) Record {
	return Record{"ID": id, "NAME": "name-" + id}
}

// dataInserts returns the bulk inserts into table, skipping error-table rows.
func dataInserts(exec *testutil.RecordingExecer, table string) []string {
	return exec.Matching("INSERT INTO " + table + " (")
}

// rowCount counts rows of a SELECT ... UNION ALL SELECT insert.
func rowCount(stmt string) int {
	return strings.Count(stmt, " UNION ALL ") + 1
}

func TestLoaderTruncatesOncePerTable(t *testing.T) {
	exec := &testutil.RecordingExecer{}
	l := newTestLoader(t, exec, 10)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Insert(ctx, "T", rec(fmt.Sprint(i))))
	}
	require.NoError(t, l.Insert(ctx, "U", rec("u")))
	require.NoError(t, l.Flush(ctx, "T"))
	require.NoError(t, l.Insert(ctx, "T", rec("late")))
	require.NoError(t, l.Close(ctx))

	assert.Len(t, exec.Matching("TRUNCATE TABLE T"), 1)
	assert.Len(t, exec.Matching("TRUNCATE TABLE U"), 1)

	stmts := exec.Statements()
	require.NotEmpty(t, stmts)
	assert.Equal(t, "TRUNCATE TABLE T", stmts[0], "truncate precedes the first insert")
	assert.True(t, l.Truncated("T"))
	assert.True(t, l.Truncated("U"))
}

func TestLoaderBatchThreshold(t *testing.T) {
	exec := &testutil.RecordingExecer{}
	l := newTestLoader(t, exec, 3)
	ctx := context.Background()

	require.NoError(t, l.Insert(ctx, "T", rec("1")))
	require.NoError(t, l.Insert(ctx, "T", rec("2")))
	assert.Empty(t, dataInserts(exec, "T"))
	assert.Equal(t, 2, l.Pending("T"))

	require.NoError(t, l.Insert(ctx, "T", rec("3")))
	inserts := dataInserts(exec, "T")
	require.Len(t, inserts, 1)
	assert.Equal(t, 3, rowCount(inserts[0]))
	assert.Equal(t, 0, l.Pending("T"))
}

func TestLoaderFlushEmptyIsNoop(t *testing.T) {
	exec := &testutil.RecordingExecer{}
	l := newTestLoader(t, exec, 3)
	ctx := context.Background()

	require.NoError(t, l.Flush(ctx, "NEVER_SEEN"))
	assert.Empty(t, exec.Statements())

	require.NoError(t, l.Insert(ctx, "T", rec("1")))
	require.NoError(t, l.Flush(ctx, "T"))
	before := len(exec.Statements())

	require.NoError(t, l.Flush(ctx, "T"))
	require.NoError(t, l.Drain(ctx))
	assert.Len(t, exec.Statements(), before)
}

func TestLoaderFlushesInBatchesAndDrains(t *testing.T) {
	exec := &testutil.RecordingExecer{}
	l := newTestLoader(t, exec, 2)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Insert(ctx, "T", rec(fmt.Sprint(i))))
	}
	inserts := dataInserts(exec, "T")
	require.Len(t, inserts, 2)
	assert.Equal(t, 2, rowCount(inserts[0]))
	assert.Equal(t, 2, rowCount(inserts[1]))
	assert.Equal(t, 1, l.Pending("T"))

	require.NoError(t, l.Drain(ctx))
	inserts = dataInserts(exec, "T")
	require.Len(t, inserts, 3)
	assert.Equal(t, 1, rowCount(inserts[2]))
	assert.Contains(t, inserts[2], "'4'")

	stats := l.Stats()["T"]
	assert.Equal(t, 5, stats.Inserted)
	assert.Equal(t, 5, stats.Loaded)
	assert.Equal(t, 3, stats.Flushes)
}

func TestLoaderRowOrderAndColumns(t *testing.T) {
	exec := &testutil.RecordingExecer{}
	l := newTestLoader(t, exec, 10)
	l.Declare("T", []string{"MASS_KG"})
	ctx := context.Background()

	require.NoError(t, l.Insert(ctx, "T", Record{"ID": "a", "MASS_KG": 1.5, "LINKS": JSON(`{"x":1}`)}))
	require.NoError(t, l.Insert(ctx, "T", Record{"ID": "b", "MASS_KG": nil, "LINKS": nil}))
	require.NoError(t, l.Flush(ctx, "T"))

	inserts := dataInserts(exec, "T")
	require.Len(t, inserts, 1)
	assert.Equal(t,
		`INSERT INTO T (ID, LINKS, MASS_KG) SELECT 'a', PARSE_JSON('{"x":1}'), 1.5 UNION ALL SELECT 'b', NULL, -999999999`,
		inserts[0])
}

func TestLoaderFlushFailureKeepsBuffer(t *testing.T) {
	failing := true
	exec := &testutil.RecordingExecer{
		FailWhen: func(q string) error {
			if failing && strings.HasPrefix(q, "INSERT INTO T (") {
				return fmt.Errorf("warehouse unavailable")
			}
			return nil
		},
	}
	l := newTestLoader(t, exec, 10)
	ctx := context.Background()

	require.NoError(t, l.Insert(ctx, "T", rec("1")))
	require.NoError(t, l.Insert(ctx, "T", rec("2")))

	err := l.Flush(ctx, "T")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeLoad))
	assert.Equal(t, 2, l.Pending("T"))
	assert.Len(t, exec.Matching("INSERT INTO "+errTable, "Bulk insert error"), 1)

	failing = false
	require.NoError(t, l.Flush(ctx, "T"))
	assert.Equal(t, 0, l.Pending("T"))
	inserts := dataInserts(exec, "T")
	assert.Equal(t, 2, rowCount(inserts[len(inserts)-1]))
}

func TestLoaderTruncateFailureAborts(t *testing.T) {
	exec := &testutil.RecordingExecer{
		FailWhen: func(q string) error {
			if strings.HasPrefix(q, "TRUNCATE") {
				return fmt.Errorf("insufficient privileges")
			}
			return nil
		},
	}
	l := newTestLoader(t, exec, 10)

	err := l.Insert(context.Background(), "T", rec("1"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeLoad))
	assert.Equal(t, 0, l.Pending("T"))
	assert.False(t, l.Truncated("T"))
	assert.Len(t, exec.Matching("INSERT INTO "+errTable, "Truncate error"), 1)
	assert.Empty(t, dataInserts(exec, "T"))
}

func TestLoaderRejectsColumnMismatch(t *testing.T) {
	exec := &testutil.RecordingExecer{}
	l := newTestLoader(t, exec, 10)
	ctx := context.Background()

	require.NoError(t, l.Insert(ctx, "T", rec("1")))

	err := l.Insert(ctx, "T", Record{"ID": "2"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	err = l.Insert(ctx, "T", Record{"ID": "2", "OTHER": "x"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	assert.Equal(t, 1, l.Pending("T"))
}

func TestLoaderRejectsBadIdentifiers(t *testing.T) {
	exec := &testutil.RecordingExecer{}
	l := newTestLoader(t, exec, 10)
	ctx := context.Background()

	// bad identifiers fail the whole table, not one record
	err := l.Insert(ctx, "T; DROP TABLE X", rec("1"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeLoad))
	assert.True(t, errors.HasType(err, errors.ErrorTypeValidation))

	err = l.Insert(ctx, "STG-SPACEX_CAPSULES", rec("1"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeLoad))

	err = l.Insert(ctx, "T", Record{"BAD COLUMN": 1})
	assert.True(t, errors.IsType(err, errors.ErrorTypeLoad))

	err = l.Insert(ctx, "T", Record{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	assert.Empty(t, exec.Statements(), "nothing reaches the warehouse")
}

func TestLoaderCloseDrainsAndClosesOnce(t *testing.T) {
	exec := &testutil.RecordingExecer{
		FailWhen: func(q string) error {
			if strings.HasPrefix(q, "INSERT INTO A (") {
				return fmt.Errorf("boom")
			}
			return nil
		},
	}
	l := newTestLoader(t, exec, 10)
	ctx := context.Background()

	require.NoError(t, l.Insert(ctx, "A", rec("1")))
	require.NoError(t, l.Insert(ctx, "B", rec("2")))

	err := l.Close(ctx)
	require.Error(t, err, "drain failure is reported")
	assert.Equal(t, 1, exec.Closed(), "connection closed despite drain failure")
	assert.Len(t, dataInserts(exec, "B"), 1, "other tables still drained")

	assert.NoError(t, l.Close(ctx))
	assert.Equal(t, 1, exec.Closed())

	err = l.Insert(ctx, "B", rec("3"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeState))
}
