package spacex

import (
	"bytes"
	"context"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SiangbaMM/spacex-data-pipeline/pkg/clients"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/errors"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/json"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/singer"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/testutil"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/warehouse"
)

const errTable = "LOAD_ERRORS"

type harness struct {
	api       *testutil.FakeAPI
	exec      *testutil.RecordingExecer
	loader    *warehouse.Loader
	sink      *warehouse.Sink
	out       *bytes.Buffer
	statePath string
	fetcher   *Fetcher
}

func newHarness(t *testing.T, batch int) *harness {
	t.Helper()
	logger := testutil.TestLogger(t)

	h := &harness{
		api:       testutil.NewFakeAPI(t),
		exec:      &testutil.RecordingExecer{},
		out:       &bytes.Buffer{},
		statePath: filepath.Join(t.TempDir(), "state.json"),
	}

	cfg := clients.DefaultHTTPConfig()
	cfg.EnableHTTP2 = false
	cfg.Retry = clients.NoRetryPolicy()
	client := clients.NewHTTPClient(cfg, logger)

	db := warehouse.NewDB(h.exec, warehouse.Snowflake, h.exec.Close)
	h.sink = warehouse.NewSink(h.exec, warehouse.Snowflake, errTable, logger)
	h.loader = warehouse.NewLoader(db, h.sink, warehouse.LoaderOptions{BatchSize: batch, NullSentinel: true}, logger)

	h.fetcher = NewFetcher(client, h.loader, h.sink, FetcherOptions{
		BaseURL: h.api.BaseURL(),
		RunID:   "run-1",
		Emitter: singer.NewEmitter(singer.NewStreamWriter(h.out, nil), logger),
		State:   singer.NewStateStore(h.statePath),
		Now:     func() time.Time { return fixedNow },
	}, logger)
	return h
}

func (h *harness) messages(t *testing.T, typ string) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(h.out.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

func (h *harness) errorRows() []string {
	return h.exec.Matching("INSERT INTO " + errTable + " (")
}

func TestFetchLoadsCapsule(t *testing.T) {
	h := newHarness(t, 100)
	h.api.JSON("/capsules", `[{"id":"C1","serial":"S1","reuse_count":1,"launches":["L1"]}]`)
	ctx := context.Background()

	res, err := h.fetcher.Fetch(ctx, Capsules)
	require.NoError(t, err)
	assert.Equal(t, FetchResult{
		Entity: "capsules", Table: "STG_SPACEX_DATA_CAPSULES",
		Fetched: 1, Loaded: 1, LastSync: fixedNow,
	}, res)

	schemas := h.messages(t, singer.TypeSchema)
	require.Len(t, schemas, 1)
	assert.Equal(t, "STG_SPACEX_DATA_CAPSULES", schemas[0]["stream"])
	assert.Equal(t, []interface{}{"CAPSULE_ID"}, schemas[0]["key_properties"])

	records := h.messages(t, singer.TypeRecord)
	require.Len(t, records, 1)
	assert.Equal(t, "C1", records[0]["record"].(map[string]interface{})["CAPSULE_ID"])

	states := h.messages(t, singer.TypeState)
	require.Len(t, states, 1)
	bookmarks := states[0]["value"].(map[string]interface{})["bookmarks"].(map[string]interface{})
	assert.Equal(t, "2024-06-01T08:30:00Z", bookmarks["capsules"].(map[string]interface{})["last_sync"])

	assert.Equal(t, 1, h.loader.Pending("STG_SPACEX_DATA_CAPSULES"))
	require.NoError(t, h.loader.Drain(ctx))

	inserts := h.exec.Matching("INSERT INTO STG_SPACEX_DATA_CAPSULES (", "'C1'", "'S1'")
	require.Len(t, inserts, 1)
	assert.Contains(t, inserts[0], warehouse.NullNumeric, "null numeric columns get the sentinel")
	assert.Contains(t, inserts[0], `PARSE_JSON('["L1"]')`)
	assert.Len(t, h.exec.Matching("TRUNCATE TABLE STG_SPACEX_DATA_CAPSULES"), 1)
	assert.Empty(t, h.errorRows())

	saved, err := singer.NewStateStore(h.statePath).Load()
	require.NoError(t, err)
	assert.Equal(t, "2024-06-01T08:30:00Z", saved.Bookmarks["capsules"].LastSync)
}

func TestFetchSkipsBadRecord(t *testing.T) {
	h := newHarness(t, 100)
	h.api.JSON("/cores", `[{"id":"A","serial":"B1049"},{"serial":"no-id"},{"id":"C","serial":"B1051"}]`)
	ctx := context.Background()

	res, err := h.fetcher.Fetch(ctx, Cores)
	require.NoError(t, err, "a bad record must not abort the fetch")
	assert.Equal(t, 3, res.Fetched)
	assert.Equal(t, 2, res.Loaded)
	assert.Equal(t, 1, res.Skipped)

	rows := h.errorRows()
	require.Len(t, rows, 1)
	assert.Contains(t, rows[0], "'STG_SPACEX_DATA_CORES'")
	assert.Contains(t, rows[0], "Data transformation error: ")
	assert.Contains(t, rows[0], "missing required field id")
	assert.Contains(t, rows[0], `PARSE_JSON('{"serial":"no-id"}')`)

	require.NoError(t, h.loader.Drain(ctx))
	inserts := h.exec.Matching("INSERT INTO STG_SPACEX_DATA_CORES (")
	require.Len(t, inserts, 1)
	assert.Equal(t, 1, strings.Count(inserts[0], " UNION ALL "), "two rows loaded")
	assert.Len(t, h.messages(t, singer.TypeRecord), 2)
	assert.Len(t, h.messages(t, singer.TypeState), 1)
}

func TestFetchIsolatesAnyFailingItem(t *testing.T) {
	items := []string{`{"id":"1"}`, `{"id":"2"}`, `{"id":"3"}`, `{"id":"4"}`, `{"id":"5"}`}
	for bad := range items {
		t.Run(items[bad], func(t *testing.T) {
			h := newHarness(t, 100)
			body := append([]string(nil), items...)
			body[bad] = `{"id":"x","reuse_count":"many"}`
			h.api.JSON("/capsules", "["+strings.Join(body, ",")+"]")

			res, err := h.fetcher.Fetch(context.Background(), Capsules)
			require.NoError(t, err)
			assert.Equal(t, len(items)-1, res.Loaded)
			assert.Equal(t, len(items)-1, h.loader.Pending("STG_SPACEX_DATA_CAPSULES"))
			require.Len(t, h.errorRows(), 1)
			assert.Contains(t, h.errorRows()[0], `"reuse_count":"many"`)
		})
	}
}

func TestFetchAPIErrorAborts(t *testing.T) {
	h := newHarness(t, 100)
	h.api.Handle("/launches", testutil.Response{Status: http.StatusInternalServerError})

	_, err := h.fetcher.Fetch(context.Background(), Launches)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAPI))

	rows := h.errorRows()
	require.Len(t, rows, 1)
	assert.Contains(t, rows[0], "'STG_SPACEX_DATA_LAUNCHES'")
	assert.Contains(t, rows[0], "API response error: status 500")

	assert.Empty(t, h.messages(t, singer.TypeSchema))
	assert.Empty(t, h.messages(t, singer.TypeState))
	assert.Empty(t, h.exec.Matching("TRUNCATE"))
}

func TestFetchMalformedBodyAborts(t *testing.T) {
	h := newHarness(t, 100)
	h.api.JSON("/ships", `{"not":"an array"}`)

	_, err := h.fetcher.Fetch(context.Background(), Ships)
	require.Error(t, err)
	require.Len(t, h.errorRows(), 1)
	assert.Contains(t, h.errorRows()[0], "API decode error")
}

func TestFetchSingleton(t *testing.T) {
	h := newHarness(t, 100)
	h.api.JSON("/company", `{"id":"SPX","name":"SpaceX","founded":2002,"headquarters":{"city":"Hawthorne"}}`)

	res, err := h.fetcher.Fetch(context.Background(), Company)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Loaded)

	require.NoError(t, h.loader.Drain(context.Background()))
	inserts := h.exec.Matching("INSERT INTO STG_SPACEX_DATA_COMPANY (", "'SPX'", "2002", `PARSE_JSON('{"city":"Hawthorne"}')`)
	assert.Len(t, inserts, 1)
}

func TestFetchSingletonWithoutIDIsSkipped(t *testing.T) {
	h := newHarness(t, 100)
	h.api.JSON("/roadster", `{"name":"Elon Musk's Tesla Roadster"}`)

	res, err := h.fetcher.Fetch(context.Background(), Roadster)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Loaded)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, h.errorRows(), 1)
	assert.Contains(t, h.errorRows()[0], `Elon Musk''s Tesla Roadster`)
}

func TestFetchLoadErrorAborts(t *testing.T) {
	h := newHarness(t, 2)
	h.api.JSON("/crew", `[{"id":"1"},{"id":"2"},{"id":"3"}]`)
	h.exec.FailWhen = func(q string) error {
		if strings.HasPrefix(q, "INSERT INTO STG_SPACEX_DATA_CREW") {
			return errors.New(errors.ErrorTypeConnection, "warehouse gone")
		}
		return nil
	}

	res, err := h.fetcher.Fetch(context.Background(), Crew)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeLoad))
	assert.Equal(t, 1, res.Loaded)
	assert.Equal(t, 2, h.loader.Pending("STG_SPACEX_DATA_CREW"), "failed batch stays buffered")
	assert.Empty(t, h.messages(t, singer.TypeState))
}

func TestFetchInvalidTableNameAborts(t *testing.T) {
	h := newHarness(t, 100)
	h.api.JSON("/capsules", `[{"id":"C1"},{"id":"C2"}]`)

	cfg := clients.DefaultHTTPConfig()
	cfg.EnableHTTP2 = false
	cfg.Retry = clients.NoRetryPolicy()
	f := NewFetcher(clients.NewHTTPClient(cfg, testutil.TestLogger(t)), h.loader, h.sink, FetcherOptions{
		BaseURL:   h.api.BaseURL(),
		TableName: func(entity string) string { return "STG-SPACEX_" + strings.ToUpper(entity) },
		Now:       func() time.Time { return fixedNow },
	}, testutil.TestLogger(t))

	res, err := f.Fetch(context.Background(), Capsules)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeLoad))
	assert.Equal(t, 0, res.Loaded)
	assert.Equal(t, 0, res.Skipped)
	assert.Empty(t, h.errorRows(), "a table fault is not a per-record gap")
	assert.Empty(t, h.exec.Statements())
}

func TestFetchCancelled(t *testing.T) {
	h := newHarness(t, 100)
	h.api.JSON("/dragons", `[{"id":"D1"}]`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.fetcher.Fetch(ctx, Dragons)
	require.Error(t, err)
	assert.Empty(t, h.exec.Matching("TRUNCATE"))
}

type memArchiver struct {
	keys   []string
	bodies map[string][]byte
	err    error
}

func (m *memArchiver) Archive(_ context.Context, entity, runID string, body []byte) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	key := entity + "/" + runID + ".json"
	m.keys = append(m.keys, key)
	if m.bodies == nil {
		m.bodies = make(map[string][]byte)
	}
	m.bodies[key] = body
	return key, nil
}

func TestFetchArchivesRawBody(t *testing.T) {
	h := newHarness(t, 100)
	archive := &memArchiver{}
	h.fetcher.opts.Archiver = archive
	h.api.JSON("/history", `[{"id":"H1","title":"Falcon reaches Earth orbit"}]`)

	_, err := h.fetcher.Fetch(context.Background(), History)
	require.NoError(t, err)
	assert.Equal(t, []string{"history/run-1.json"}, archive.keys)
	assert.JSONEq(t, `[{"id":"H1","title":"Falcon reaches Earth orbit"}]`, string(archive.bodies["history/run-1.json"]))
}

func TestFetchArchiveFailureDoesNotAbort(t *testing.T) {
	h := newHarness(t, 100)
	h.fetcher.opts.Archiver = &memArchiver{err: errors.New(errors.ErrorTypeConnection, "bucket missing")}
	h.api.JSON("/landpads", `[{"id":"LZ-1"}]`)

	res, err := h.fetcher.Fetch(context.Background(), Landpads)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Loaded)
}

func TestApiErrorMessage(t *testing.T) {
	assert.Equal(t, "API response error: status 404",
		apiErrorMessage(errors.Wrap(&clients.StatusError{StatusCode: 404}, errors.ErrorTypeAPI, "x")))
	assert.True(t, strings.HasPrefix(
		apiErrorMessage(errors.New(errors.ErrorTypeConnection, "dial tcp: refused")), "API request error: "))
}
