package singer

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/SiangbaMM/spacex-data-pipeline/pkg/errors"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/json"
)

// Emitter encodes messages and hands them to a Writer
type Emitter struct {
	w      Writer
	logger *zap.Logger

	schemas int64
	records int64
	states  int64
}

// NewEmitter creates an emitter writing to w
func NewEmitter(w Writer, logger *zap.Logger) *Emitter {
	if w == nil {
		w = Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{w: w, logger: logger}
}

// WriteSchema emits the SCHEMA message of stream
func (e *Emitter) WriteSchema(ctx context.Context, stream string, schema *Schema, keyProperties []string) error {
	if keyProperties == nil {
		keyProperties = []string{}
	}
	err := e.write(ctx, stream, SchemaMessage{
		Type:          TypeSchema,
		Stream:        stream,
		Schema:        schema,
		KeyProperties: keyProperties,
	})
	if err == nil {
		atomic.AddInt64(&e.schemas, 1)
	}
	return err
}

// WriteRecord emits one RECORD message
func (e *Emitter) WriteRecord(ctx context.Context, stream string, record map[string]interface{}, extracted time.Time) error {
	msg := RecordMessage{Type: TypeRecord, Stream: stream, Record: record}
	if !extracted.IsZero() {
		t := extracted.UTC()
		msg.TimeExtracted = &t
	}
	err := e.write(ctx, stream, msg)
	if err == nil {
		atomic.AddInt64(&e.records, 1)
	}
	return err
}

// WriteState emits a STATE message
func (e *Emitter) WriteState(ctx context.Context, state State) error {
	err := e.write(ctx, "", StateMessage{Type: TypeState, Value: state})
	if err == nil {
		atomic.AddInt64(&e.states, 1)
	}
	return err
}

// Counts returns how many SCHEMA, RECORD and STATE messages were written
func (e *Emitter) Counts() (schemas, records, states int64) {
	return atomic.LoadInt64(&e.schemas), atomic.LoadInt64(&e.records), atomic.LoadInt64(&e.states)
}

// Close closes the writer
func (e *Emitter) Close() error {
	return e.w.Close()
}

func (e *Emitter) write(ctx context.Context, stream string, msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode message").
			WithDetail("stream", stream)
	}
	return e.w.Write(ctx, stream, data)
}
