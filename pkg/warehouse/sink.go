package warehouse

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/SiangbaMM/spacex-data-pipeline/pkg/json"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/metrics"
)

// DefaultSinkTimeout bounds a single error-table write
const DefaultSinkTimeout = 30 * time.Second

// ErrorColumns are the columns of the error table, in insert order
var ErrorColumns = []string{"TABLE_NAME", "ERROR_TIME", "ERROR_MESSAGE", "ERROR_DATA"}

// Sink appends failure rows to the error table. LogError never returns an
// error and never panics; when the warehouse itself is the problem the row
// goes to the process log instead.
type Sink struct {
	db      Execer
	dialect *Dialect
	table   string
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time

	written atomic.Int64
	failed  atomic.Int64
}

// NewSink creates a sink writing to table
func NewSink(db Execer, dialect *Dialect, table string, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{
		db:      db,
		dialect: dialect,
		table:   table,
		timeout: DefaultSinkTimeout,
		logger:  logger,
		now:     time.Now,
	}
}

// WithTimeout sets the per-write timeout
func (s *Sink) WithTimeout(d time.Duration) *Sink {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// Table returns the error table name
func (s *Sink) Table() string {
	return s.table
}

// LogError records one failure. data is optional context such as the raw
// item that failed to transform; nil stores NULL.
func (s *Sink) LogError(ctx context.Context, table, message string, data interface{}) {
	defer func() {
		if r := recover(); r != nil {
			s.failed.Add(1)
			metrics.SinkWrites.WithLabelValues("failure").Inc()
			s.logger.Error("error sink panicked",
				zap.String("table", table),
				zap.String("error_message", message),
				zap.Any("panic", r))
		}
	}()

	// The error row must land even when the triggering operation was
	// cancelled.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	query := s.dialect.InsertSQL(s.table, ErrorColumns, [][]string{{
		s.dialect.QuoteString(table),
		s.dialect.QuoteString(s.now().UTC().Format(time.RFC3339Nano)),
		s.dialect.QuoteString(message),
		s.payload(data),
	}})

	if _, err := s.db.ExecContext(writeCtx, query); err != nil {
		s.failed.Add(1)
		metrics.SinkWrites.WithLabelValues("failure").Inc()
		s.logger.Error("failed to write to error table",
			zap.String("error_table", s.table),
			zap.String("table", table),
			zap.String("error_message", message),
			zap.Error(err))
		return
	}

	s.written.Add(1)
	metrics.SinkWrites.WithLabelValues("success").Inc()
	s.logger.Warn("error recorded",
		zap.String("table", table),
		zap.String("error_message", message))
}

// Written returns the number of rows written to the error table
func (s *Sink) Written() int64 {
	return s.written.Load()
}

// Failed returns the number of error rows that could not be written
func (s *Sink) Failed() int64 {
	return s.failed.Load()
}

func (s *Sink) payload(data interface{}) string {
	if KindOf(data) == KindNull {
		return "NULL"
	}

	var text []byte
	switch d := data.(type) {
	case JSON:
		text = d
	case []byte:
		if json.Valid(d) {
			text = d
		}
	}
	if text == nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			// Keep something readable rather than losing the context.
			encoded, _ = json.Marshal(map[string]string{"unserializable": fmt.Sprintf("%+v", data)})
		}
		text = encoded
	}
	return s.dialect.WrapJSON(s.dialect.QuoteString(string(text)))
}
