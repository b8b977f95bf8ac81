package warehouse

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/SiangbaMM/spacex-data-pipeline/pkg/errors"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/metrics"
)

// DefaultBatchSize is the flush threshold when none is configured
const DefaultBatchSize = 1000

// Record maps an upper-case column name to a scalar or a JSON value.
// Records are not modified after Insert.
type Record map[string]interface{}

// Columns returns the record's column names in sorted order
func (r Record) Columns() []string {
	cols := make([]string, 0, len(r))
	for k := range r {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// LoaderOptions configures a Loader
type LoaderOptions struct {
	BatchSize int
	// NullSentinel writes NullNumeric for nil values in declared numeric columns
	NullSentinel bool
	// StatementTimeout bounds each truncate and insert, 0 means none
	StatementTimeout time.Duration
}

// TableStats counts loader activity for one table
type TableStats struct {
	Inserted  int
	Loaded    int
	Flushes   int
	Truncated bool
}

// Loader buffers records per table and writes them in bulk. Each table is
// truncated once, before its first record is buffered. A Loader lives for
// exactly one run and is not shared between runs.
type Loader struct {
	db          *DB
	coercer     *Coercer
	sink        *Sink
	logger      *zap.Logger
	batchSize   int
	stmtTimeout time.Duration

	mu        sync.Mutex
	buffer    map[string][]Record
	columns   map[string][]string
	numeric   map[string]map[string]bool
	truncated map[string]bool
	stats     map[string]*TableStats
	closed    bool
}

// NewLoader creates a Loader writing through db and reporting truncate and
// flush failures to sink
func NewLoader(db *DB, sink *Sink, opts LoaderOptions, logger *zap.Logger) *Loader {
	if opts.BatchSize < 1 {
		opts.BatchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		db:          db,
		coercer:     &Coercer{Dialect: db.Dialect, NullSentinel: opts.NullSentinel},
		sink:        sink,
		logger:      logger,
		batchSize:   opts.BatchSize,
		stmtTimeout: opts.StatementTimeout,
		buffer:      make(map[string][]Record),
		columns:     make(map[string][]string),
		numeric:     make(map[string]map[string]bool),
		truncated:   make(map[string]bool),
		stats:       make(map[string]*TableStats),
	}
}

// Declare registers the numeric columns of table so nil values in them get
// the numeric null treatment
func (l *Loader) Declare(table string, numericColumns []string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	set := make(map[string]bool, len(numericColumns))
	for _, c := range numericColumns {
		set[c] = true
	}
	l.numeric[table] = set
}

// Insert buffers rec for table, truncating the table first if this is the
// first insert of the run, and flushes once the batch size is reached.
//
// A record whose column set differs from the first record of the table is
// rejected with a validation error and nothing is buffered. An invalid table
// or column name fails every record alike and is a load error.
func (l *Loader) Insert(ctx context.Context, table string, rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return errors.New(errors.ErrorTypeState, "loader is closed")
	}
	if err := ValidateTable(table); err != nil {
		return errors.Wrap(err, errors.ErrorTypeLoad, "cannot load table")
	}
	if len(rec) == 0 {
		return errors.New(errors.ErrorTypeValidation, "record has no columns").
			WithDetail("table", table)
	}

	cols, known := l.columns[table]
	if known {
		if err := sameColumns(cols, rec); err != nil {
			return err.WithDetail("table", table)
		}
	} else {
		cols = rec.Columns()
		for _, c := range cols {
			if err := ValidateColumn(c); err != nil {
				return errors.Wrap(err, errors.ErrorTypeLoad, "cannot load table").
					WithDetail("table", table)
			}
		}
	}

	if !l.truncated[table] {
		if err := l.truncate(ctx, table); err != nil {
			return err
		}
	}
	if !known {
		l.columns[table] = cols
	}

	l.buffer[table] = append(l.buffer[table], rec)
	l.tableStats(table).Inserted++
	metrics.BufferedRecords.WithLabelValues(table).Set(float64(len(l.buffer[table])))

	if len(l.buffer[table]) >= l.batchSize {
		return l.flushLocked(ctx, table)
	}
	return nil
}

// Flush writes the buffered records of table in one statement. An empty
// buffer issues no statement. On failure the buffer is kept intact.
func (l *Loader) Flush(ctx context.Context, table string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushLocked(ctx, table)
}

// Drain flushes every table with buffered records, in table name order.
// It keeps going after a failure and returns all failures joined.
func (l *Loader) Drain(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drainLocked(ctx)
}

// Close drains the buffers and closes the connection. The connection is
// closed even when draining fails. Calls after the first return nil.
func (l *Loader) Close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	drainErr := l.drainLocked(ctx)
	var closeErr error
	if err := l.db.Close(); err != nil {
		closeErr = errors.Wrap(err, errors.ErrorTypeConnection, "failed to close warehouse connection")
	}

	l.logger.Info("loader closed", zap.Bool("drain_failed", drainErr != nil))
	return errors.Join(drainErr, closeErr)
}

// Pending returns the number of buffered records for table
func (l *Loader) Pending(table string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buffer[table])
}

// Truncated reports whether table was truncated in this run
func (l *Loader) Truncated(table string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.truncated[table]
}

// Stats returns a copy of the per-table counters
func (l *Loader) Stats() map[string]TableStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]TableStats, len(l.stats))
	for table, s := range l.stats {
		out[table] = *s
	}
	return out
}

func (l *Loader) drainLocked(ctx context.Context) error {
	tables := make([]string, 0, len(l.buffer))
	for table, recs := range l.buffer {
		if len(recs) > 0 {
			tables = append(tables, table)
		}
	}
	sort.Strings(tables)

	var errs []error
	for _, table := range tables {
		if err := l.flushLocked(ctx, table); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (l *Loader) truncate(ctx context.Context, table string) error {
	stmtCtx, cancel := l.statementContext(ctx)
	defer cancel()

	if _, err := l.db.ExecContext(stmtCtx, l.db.Dialect.TruncateSQL(table)); err != nil {
		metrics.Truncates.WithLabelValues(table, "failure").Inc()
		l.sink.LogError(ctx, table, "Truncate error: "+err.Error(), nil)
		return errors.Wrap(err, errors.ErrorTypeLoad, "failed to truncate table").
			WithDetail("table", table)
	}

	l.truncated[table] = true
	l.tableStats(table).Truncated = true
	metrics.Truncates.WithLabelValues(table, "success").Inc()
	l.logger.Info("table truncated", zap.String("table", table))
	return nil
}

func (l *Loader) flushLocked(ctx context.Context, table string) error {
	records := l.buffer[table]
	if len(records) == 0 {
		return nil
	}

	cols := l.columns[table]
	numeric := l.numeric[table]
	rows := make([][]string, len(records))
	for i, rec := range records {
		row := make([]string, len(cols))
		for j, col := range cols {
			lit, err := l.coercer.Literal(rec[col], numeric[col])
			if err != nil {
				metrics.Flushes.WithLabelValues(table, "failure").Inc()
				l.sink.LogError(ctx, table, "Bulk insert error: "+err.Error(),
					map[string]interface{}{"column": col, "row": i})
				return errors.Wrapf(err, errors.ErrorTypeLoad, "failed to render column %s", col).
					WithDetail("table", table)
			}
			row[j] = lit
		}
		rows[i] = row
	}

	stmtCtx, cancel := l.statementContext(ctx)
	defer cancel()

	timer := prometheus.NewTimer(metrics.FlushDuration.WithLabelValues(table))
	_, err := l.db.ExecContext(stmtCtx, l.db.Dialect.InsertSQL(table, cols, rows))
	timer.ObserveDuration()
	if err != nil {
		metrics.Flushes.WithLabelValues(table, "failure").Inc()
		l.sink.LogError(ctx, table, "Bulk insert error: "+err.Error(),
			map[string]interface{}{"rows": len(records)})
		return errors.Wrap(err, errors.ErrorTypeLoad, "failed to flush buffer").
			WithDetail("table", table).
			WithDetail("rows", len(records))
	}

	l.buffer[table] = nil
	stats := l.tableStats(table)
	stats.Loaded += len(records)
	stats.Flushes++
	metrics.Flushes.WithLabelValues(table, "success").Inc()
	metrics.RecordsLoaded.WithLabelValues(table).Add(float64(len(records)))
	metrics.BufferedRecords.WithLabelValues(table).Set(0)
	l.logger.Debug("buffer flushed",
		zap.String("table", table),
		zap.Int("rows", len(records)),
		zap.Int("flush", stats.Flushes))
	return nil
}

func (l *Loader) statementContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.stmtTimeout > 0 {
		return context.WithTimeout(ctx, l.stmtTimeout)
	}
	return context.WithCancel(ctx)
}

func (l *Loader) tableStats(table string) *TableStats {
	s, ok := l.stats[table]
	if !ok {
		s = &TableStats{}
		l.stats[table] = s
	}
	return s
}

func sameColumns(cols []string, rec Record) *errors.Error {
	if len(cols) != len(rec) {
		return errors.Newf(errors.ErrorTypeValidation,
			"record has %d columns, table expects %d", len(rec), len(cols))
	}
	for _, c := range cols {
		if _, ok := rec[c]; !ok {
			return errors.New(errors.ErrorTypeValidation, "record is missing column "+strconv.Quote(c))
		}
	}
	return nil
}
