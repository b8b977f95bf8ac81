package singer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SiangbaMM/spacex-data-pipeline/pkg/config"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/errors"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/json"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/testutil"
)

func lines(buf *bytes.Buffer) []map[string]interface{} {
	var out []map[string]interface{}
	for _, l := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if l == "" {
			continue
		}
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(l), &m); err != nil {
			panic(err)
		}
		out = append(out, m)
	}
	return out
}

func TestEmitterMessages(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(NewStreamWriter(&buf, nil), testutil.TestLogger(t))
	ctx := context.Background()

	schema := &Schema{
		Type: []string{"object"},
		Properties: map[string]*Schema{
			"CAPSULE_ID":  Nullable("string"),
			"REUSE_COUNT": Nullable("integer"),
		},
	}
	extracted := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, e.WriteSchema(ctx, "STG_SPACEX_DATA_CAPSULES", schema, []string{"CAPSULE_ID"}))
	require.NoError(t, e.WriteRecord(ctx, "STG_SPACEX_DATA_CAPSULES",
		map[string]interface{}{"CAPSULE_ID": "C1", "REUSE_COUNT": 2}, extracted))
	state := NewState()
	state.Bookmarks["capsules"] = Bookmark{LastSync: "2024-05-01T12:00:00Z"}
	require.NoError(t, e.WriteState(ctx, state))
	require.NoError(t, e.Close())

	msgs := lines(&buf)
	require.Len(t, msgs, 3)

	assert.Equal(t, "SCHEMA", msgs[0]["type"])
	assert.Equal(t, "STG_SPACEX_DATA_CAPSULES", msgs[0]["stream"])
	assert.Equal(t, []interface{}{"CAPSULE_ID"}, msgs[0]["key_properties"])
	props := msgs[0]["schema"].(map[string]interface{})["properties"].(map[string]interface{})
	assert.Equal(t, []interface{}{"integer", "null"}, props["REUSE_COUNT"].(map[string]interface{})["type"])

	assert.Equal(t, "RECORD", msgs[1]["type"])
	assert.Equal(t, "C1", msgs[1]["record"].(map[string]interface{})["CAPSULE_ID"])
	assert.Equal(t, "2024-05-01T12:00:00Z", msgs[1]["time_extracted"])

	assert.Equal(t, "STATE", msgs[2]["type"])
	bookmarks := msgs[2]["value"].(map[string]interface{})["bookmarks"].(map[string]interface{})
	assert.Equal(t, "2024-05-01T12:00:00Z", bookmarks["capsules"].(map[string]interface{})["last_sync"])

	schemas, records, states := e.Counts()
	assert.EqualValues(t, 1, schemas)
	assert.EqualValues(t, 1, records)
	assert.EqualValues(t, 1, states)
}

func TestEmitterEmptyKeyProperties(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(NewStreamWriter(&buf, nil), nil)

	require.NoError(t, e.WriteSchema(context.Background(), "S", Nullable("object"), nil))
	assert.Contains(t, buf.String(), `"key_properties":[]`)
}

func TestKafkaWriter(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if !bytes.Contains(val, []byte(`"RECORD"`)) {
			return errors.New(errors.ErrorTypeValidation, "expected a RECORD message")
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	w := newKafkaWriter(producer, "spacex", testutil.TestLogger(t))
	e := NewEmitter(w, nil)
	ctx := context.Background()

	require.NoError(t, e.WriteRecord(ctx, "STG_SPACEX_DATA_SHIPS", map[string]interface{}{"SHIP_ID": "S1"}, time.Time{}))

	err := e.WriteState(ctx, NewState())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))

	require.NoError(t, e.Close())
}

func TestOpenWriter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.jsonl")

	w, err := OpenWriter(config.SingerConfig{Output: "file", Path: path}, testutil.TestLogger(t))
	require.NoError(t, err)
	require.NoError(t, w.Write(context.Background(), "S", []byte(`{"type":"STATE"}`)))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\"type\":\"STATE\"}\n", string(data))

	w, err = OpenWriter(config.SingerConfig{Output: "none"}, testutil.TestLogger(t))
	require.NoError(t, err)
	assert.Equal(t, Discard, w)

	_, err = OpenWriter(config.SingerConfig{Output: "pigeon"}, testutil.TestLogger(t))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestStateStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewStateStore(path)

	state, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, state.Bookmarks)

	when := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	merged := store.Merge("capsules", when)
	assert.Equal(t, "2024-05-01T11:00:00Z", merged.Bookmarks["capsules"].LastSync)
	require.NoError(t, store.Save())

	store.Merge("cores", when)
	require.NoError(t, store.Save())

	reloaded := NewStateStore(path)
	state, err = reloaded.Load()
	require.NoError(t, err)
	assert.Len(t, state.Bookmarks, 2)
	assert.Equal(t, "2024-05-01T11:00:00Z", state.Bookmarks["cores"].LastSync)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")

	// Returned states are copies
	state.Bookmarks["crew"] = Bookmark{LastSync: "x"}
	assert.NotContains(t, reloaded.Snapshot().Bookmarks, "crew")
}

func TestStateStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewStateStore(path).Load()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeState))
}

func TestStateStoreInMemory(t *testing.T) {
	store := NewStateStore("")
	store.Merge("company", time.Now())
	require.NoError(t, store.Save())
	assert.Contains(t, store.Snapshot().Bookmarks, "company")
}
