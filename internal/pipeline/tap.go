package pipeline

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SiangbaMM/spacex-data-pipeline/pkg/archive"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/clients"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/config"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/errors"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/logger"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/singer"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/spacex"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/warehouse"
)

// Options adjusts a Tap built from configuration
type Options struct {
	// RunID identifies the run in logs, archive keys and the error table.
	// A random UUID is used when empty.
	RunID string
	// Entities restricts the run to a single group of these entities
	Entities []*spacex.Entity
	// Writer replaces the Singer writer selected by the configuration
	Writer singer.Writer
}

// Tap is one fully wired run: HTTP client, warehouse connection, loader,
// error sink, Singer output and optional archive
type Tap struct {
	RunID   string
	Runner  *Runner
	Emitter *singer.Emitter
	State   *singer.StateStore
	Loader  *warehouse.Loader
	Sink    *warehouse.Sink

	client   *clients.HTTPClient
	archiver *archive.Archiver
	logger   *zap.Logger
}

// Build connects to the warehouse and wires every component of a run
func Build(ctx context.Context, cfg *config.Config, opts Options, log *zap.Logger) (*Tap, error) {
	if log == nil {
		log = zap.NewNop()
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	ctx = logger.ContextWith(ctx, logger.RunIDKey, runID)
	// The fetcher and runner add run_id from the context themselves.
	base := log
	log = logger.FromContext(ctx, log)

	state := singer.NewStateStore(cfg.Singer.StateFile)
	if _, err := state.Load(); err != nil {
		return nil, err
	}

	writer := opts.Writer
	if writer == nil {
		w, err := singer.OpenWriter(cfg.Singer, log)
		if err != nil {
			return nil, err
		}
		writer = w
	}
	emitter := singer.NewEmitter(writer, log)

	archiver, err := archive.New(ctx, cfg.Archive, log)
	if err != nil {
		_ = emitter.Close()
		return nil, err
	}

	db, err := warehouse.Open(ctx, cfg.Destination, log)
	if err != nil {
		_ = emitter.Close()
		if archiver != nil {
			_ = archiver.Close()
		}
		return nil, err
	}

	sink := warehouse.NewSink(db, db.Dialect, cfg.Loader.ErrorTable, log).
		WithTimeout(cfg.Destination.StatementTimeout)
	loader := warehouse.NewLoader(db, sink, warehouse.LoaderOptions{
		BatchSize:        cfg.Loader.BatchSize,
		NullSentinel:     cfg.Loader.NullNumericSentinel,
		StatementTimeout: cfg.Destination.StatementTimeout,
	}, log)

	client := clients.NewHTTPClient(HTTPConfig(cfg.HTTP), log)

	fetcherOpts := spacex.FetcherOptions{
		BaseURL:   cfg.BaseURL,
		TableName: cfg.Loader.TableName,
		RunID:     runID,
		Emitter:   emitter,
		State:     state,
	}
	if archiver != nil {
		fetcherOpts.Archiver = archiver
	}
	fetcher := spacex.NewFetcher(client, loader, sink, fetcherOpts, base)

	runnerCfg := Config{GroupDelay: cfg.Orchestrator.GroupDelay}
	if len(opts.Entities) > 0 {
		runnerCfg.Groups = [][]*spacex.Entity{opts.Entities}
	}

	return &Tap{
		RunID:    runID,
		Runner:   NewRunner(fetcher, loader, runnerCfg, base),
		Emitter:  emitter,
		State:    state,
		Loader:   loader,
		Sink:     sink,
		client:   client,
		archiver: archiver,
		logger:   log,
	}, nil
}

// Run executes the run and releases every resource. The loader is drained
// and the warehouse connection closed even when a fetcher fails.
func (t *Tap) Run(ctx context.Context) error {
	ctx = logger.ContextWith(ctx, logger.RunIDKey, t.RunID)
	err := t.Runner.Run(ctx)

	if cerr := t.Emitter.Close(); cerr != nil {
		err = errors.Join(err, errors.Wrap(cerr, errors.ErrorTypeConnection, "failed to close singer output"))
	}
	if t.archiver != nil {
		if cerr := t.archiver.Close(); cerr != nil {
			t.logger.Warn("failed to close archive store", zap.Error(cerr))
		}
	}
	_ = t.client.Close()

	sum := t.Summary()
	t.logger.Info("tap finished",
		zap.Int64("schemas", sum.Schemas),
		zap.Int64("records", sum.Records),
		zap.Int64("states", sum.States),
		zap.Int("rows_loaded", sum.RowsLoaded),
		zap.Int64("error_rows", sum.ErrorRows),
		zap.Int64("api_requests", sum.Requests),
		zap.Int64("api_failures", sum.FailedRequests),
		zap.Int64("api_retries", sum.Retries),
		zap.Int("bookmarks", sum.Bookmarks))
	return err
}

// Summary counts what a run did
type Summary struct {
	Schemas, Records, States int64
	RowsLoaded               int
	ErrorRows                int64
	Requests                 int64
	FailedRequests           int64
	Retries                  int64
	Bookmarks                int
}

// Summary reports the counters of the run so far
func (t *Tap) Summary() Summary {
	var sum Summary
	sum.Schemas, sum.Records, sum.States = t.Emitter.Counts()
	for _, s := range t.Loader.Stats() {
		sum.RowsLoaded += s.Loaded
	}
	sum.ErrorRows = t.Sink.Written()

	api := t.client.Stats()
	sum.Requests = api.TotalRequests
	sum.FailedRequests = api.FailedRequests
	sum.Retries = api.Retries

	sum.Bookmarks = len(t.State.Snapshot().Bookmarks)
	return sum
}

// HTTPConfig maps the source API settings onto the HTTP client
func HTTPConfig(cfg config.HTTPConfig) *clients.HTTPConfig {
	out := clients.DefaultHTTPConfig()
	if cfg.Timeout > 0 {
		out.RequestTimeout = cfg.Timeout
		out.ResponseHeaderTimeout = cfg.Timeout
	}
	if cfg.MaxAttempts > 0 {
		out.Retry = clients.NewRetryPolicy(cfg.MaxAttempts, cfg.InitialBackoff, cfg.MaxBackoff)
	}
	out.RateLimit = cfg.RateLimitPerSec
	if cfg.UserAgent != "" {
		out.UserAgent = cfg.UserAgent
	}
	return out
}
