package spacex

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/SiangbaMM/spacex-data-pipeline/pkg/clients"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/errors"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/json"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/logger"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/metrics"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/observability"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/singer"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/warehouse"
)

// Getter fetches a URL and returns a 2xx body
type Getter interface {
	GetJSON(ctx context.Context, label, url string) ([]byte, error)
}

// RecordLoader buffers records for a table
type RecordLoader interface {
	Declare(table string, numericColumns []string)
	Insert(ctx context.Context, table string, rec warehouse.Record) error
}

// ErrorLogger records a failure durably. It never fails.
type ErrorLogger interface {
	LogError(ctx context.Context, table, message string, data interface{})
}

// Archiver stores a raw response body
type Archiver interface {
	Archive(ctx context.Context, entity, runID string, body []byte) (string, error)
}

// FetcherOptions wires a Fetcher. Emitter, State and Archiver are optional.
type FetcherOptions struct {
	BaseURL   string
	TableName func(entity string) string
	RunID     string
	Emitter   *singer.Emitter
	State     *singer.StateStore
	Archiver  Archiver
	Now       func() time.Time
}

// FetchResult summarizes one entity fetch
type FetchResult struct {
	Entity   string
	Table    string
	Fetched  int
	Loaded   int
	Skipped  int
	LastSync time.Time
}

// Fetcher pulls an entity from the API and feeds it to the loader
type Fetcher struct {
	client  Getter
	loader  RecordLoader
	sink    ErrorLogger
	opts    FetcherOptions
	emitter *singer.Emitter
	logger  *zap.Logger
}

// NewFetcher creates a Fetcher
func NewFetcher(client Getter, loader RecordLoader, sink ErrorLogger, opts FetcherOptions, log *zap.Logger) *Fetcher {
	if opts.TableName == nil {
		opts.TableName = func(entity string) string { return "STG_SPACEX_DATA_" + strings.ToUpper(entity) }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if !strings.HasSuffix(opts.BaseURL, "/") {
		opts.BaseURL += "/"
	}
	emitter := opts.Emitter
	if emitter == nil {
		emitter = singer.NewEmitter(singer.Discard, nil)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Fetcher{
		client:  client,
		loader:  loader,
		sink:    sink,
		opts:    opts,
		emitter: emitter,
		logger:  log.With(zap.String("component", "fetcher")),
	}
}

// Fetch syncs one entity. API failures, load failures and output failures
// abort the fetch and are returned. A record that cannot be transformed is
// logged to the error sink with its raw item and skipped.
func (f *Fetcher) Fetch(ctx context.Context, entity *Entity) (res FetchResult, err error) {
	table := f.opts.TableName(entity.Name)
	res = FetchResult{Entity: entity.Name, Table: table}

	ctx = logger.ContextWith(ctx, logger.EntityKey, entity.Name)
	ctx = logger.ContextWith(ctx, logger.TableKey, table)
	log := logger.FromContext(ctx, f.logger)

	ctx, span := observability.StartSpan(ctx, "fetch",
		attribute.String("entity", entity.Name),
		attribute.String("table", table))
	defer func() {
		span.SetAttribute("fetched", res.Fetched)
		span.SetAttribute("loaded", res.Loaded)
		span.SetAttribute("skipped", res.Skipped)
		span.End(err)
	}()

	url := f.opts.BaseURL + entity.Path
	body, err := f.client.GetJSON(ctx, entity.Name, url)
	if err != nil {
		f.sink.LogError(ctx, table, apiErrorMessage(err), map[string]interface{}{"url": url})
		return res, errors.Wrapf(err, errors.ErrorTypeAPI, "fetch %s", entity.Name)
	}

	if f.opts.Archiver != nil {
		if key, aerr := f.opts.Archiver.Archive(ctx, entity.Name, f.opts.RunID, body); aerr != nil {
			log.Warn("failed to archive response", zap.Error(aerr))
		} else {
			log.Debug("archived response", zap.String("key", key))
		}
	}

	items, err := splitItems(body, entity.Singleton)
	if err != nil {
		f.sink.LogError(ctx, table, "API decode error: "+err.Error(), map[string]interface{}{"url": url})
		return res, errors.Wrapf(err, errors.ErrorTypeAPI, "decode %s response", entity.Name)
	}
	res.Fetched = len(items)
	metrics.RecordsFetched.WithLabelValues(entity.Name).Add(float64(len(items)))

	if err := f.emitter.WriteSchema(ctx, table, entity.Schema(), []string{entity.Key()}); err != nil {
		return res, err
	}
	f.loader.Declare(table, entity.NumericColumns())

	extracted := f.opts.Now().UTC()
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return res, errors.Wrapf(err, errors.ErrorTypeAPI, "fetch %s cancelled", entity.Name)
		}

		rec, terr := entity.Map(item, extracted)
		if terr == nil {
			terr = f.loader.Insert(ctx, table, rec)
			if terr != nil && !errors.IsType(terr, errors.ErrorTypeValidation) {
				return res, terr
			}
		}
		if terr != nil {
			res.Skipped++
			metrics.RecordsSkipped.WithLabelValues(entity.Name).Inc()
			f.sink.LogError(ctx, table, "Data transformation error: "+terr.Error(), warehouse.JSON(item))
			continue
		}

		if err := f.emitter.WriteRecord(ctx, table, rec, extracted); err != nil {
			return res, err
		}
		res.Loaded++
	}

	res.LastSync = extracted
	var state singer.State
	if f.opts.State != nil {
		state = f.opts.State.Merge(entity.Name, extracted)
		if err := f.opts.State.Save(); err != nil {
			return res, err
		}
	} else {
		state = singer.NewState()
		state.Bookmarks[entity.Name] = singer.Bookmark{LastSync: extracted.Format(time.RFC3339)}
	}
	if err := f.emitter.WriteState(ctx, state); err != nil {
		return res, err
	}

	log.Info("fetched entity",
		zap.Int("fetched", res.Fetched),
		zap.Int("loaded", res.Loaded),
		zap.Int("skipped", res.Skipped))
	return res, nil
}

func apiErrorMessage(err error) string {
	var se *clients.StatusError
	if errors.As(err, &se) {
		return fmt.Sprintf("API response error: status %d", se.StatusCode)
	}
	return "API request error: " + err.Error()
}

// splitItems returns the raw items of an array body, or the body itself
// for a singleton endpoint
func splitItems(body []byte, singleton bool) ([][]byte, error) {
	trimmed := bytes.TrimSpace(body)
	if singleton {
		if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
			return nil, errors.New(errors.ErrorTypeAPI, "expected a JSON object")
		}
		return [][]byte{trimmed}, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeAPI, "expected a JSON array")
	}
	items := make([][]byte, len(raw))
	for i, r := range raw {
		items[i] = r
	}
	return items, nil
}
