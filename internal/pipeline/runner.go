// Package pipeline orchestrates a run of the tap: three fixed groups of
// entity fetchers executed in order, with a pause between groups, sharing
// one loader and one warehouse connection.
//
// # Lifecycle
//
// A Runner moves through
//
//	idle -> running_group_1 -> running_group_2 -> running_group_3 -> closed
//
// Any failure moves it straight to closed, skipping the remaining fetchers
// and groups. The loader is drained and the connection closed exactly once,
// whether the run succeeds or fails. A Runner is used for one run only.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/SiangbaMM/spacex-data-pipeline/pkg/errors"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/logger"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/metrics"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/observability"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/spacex"
)

// State is the position of a Runner in its lifecycle
type State string

// Runner states
const (
	StateIdle    State = "idle"
	StateClosed  State = "closed"
	statePrefix        = "running_group_"
)

// RunningGroup returns the state of a runner executing group n
func RunningGroup(n int) State {
	return State(fmt.Sprintf("%s%d", statePrefix, n))
}

// Fetcher syncs one entity
type Fetcher interface {
	Fetch(ctx context.Context, entity *spacex.Entity) (spacex.FetchResult, error)
}

// Closer drains buffered records and releases the warehouse connection
type Closer interface {
	Close(ctx context.Context) error
}

// Config configures a Runner
type Config struct {
	// GroupDelay separates successive groups
	GroupDelay time.Duration
	// CloseTimeout bounds the final drain, which runs even after the run
	// context is cancelled
	CloseTimeout time.Duration
	// Groups overrides the default partition, e.g. to fetch one entity
	Groups [][]*spacex.Entity
}

// DefaultConfig returns the default runner configuration
func DefaultConfig() Config {
	return Config{
		GroupDelay:   5 * time.Second,
		CloseTimeout: 5 * time.Minute,
	}
}

// Groups returns the fixed partition of entities into three groups
func Groups() [][]*spacex.Entity {
	return [][]*spacex.Entity{
		{spacex.Company, spacex.Capsules, spacex.Cores, spacex.Crew, spacex.Dragons},
		{spacex.History, spacex.Launches, spacex.Launchpads, spacex.Landpads, spacex.Payloads},
		{spacex.Roadster, spacex.Rockets, spacex.Starlink, spacex.Ships},
	}
}

// Runner executes the groups of one run
type Runner struct {
	fetcher Fetcher
	closer  Closer
	config  Config
	groups  [][]*spacex.Entity
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	state    State
	results  []spacex.FetchResult
	closed   bool
	closeErr error
}

// NewRunner creates a Runner fetching with fetcher and closing closer at
// the end of the run
func NewRunner(fetcher Fetcher, closer Closer, config Config, log *zap.Logger) *Runner {
	groups := config.Groups
	if len(groups) == 0 {
		groups = Groups()
	}
	if config.CloseTimeout <= 0 {
		config.CloseTimeout = DefaultConfig().CloseTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		fetcher: fetcher,
		closer:  closer,
		config:  config,
		groups:  groups,
		logger:  log.With(zap.String("component", "runner")),
		sleep:   sleepContext,
		state:   StateIdle,
	}
}

// Run executes every group in order and closes the runner. The first
// failing fetcher aborts the run; its error is returned joined with any
// close failure.
func (r *Runner) Run(ctx context.Context) (err error) {
	r.mu.Lock()
	if r.state != StateIdle {
		state := r.state
		r.mu.Unlock()
		return errors.Newf(errors.ErrorTypeState, "runner cannot start from state %s", state)
	}
	r.mu.Unlock()

	log := logger.FromContext(ctx, r.logger)
	ctx, span := observability.StartSpan(ctx, "run", attribute.Int("groups", len(r.groups)))
	start := time.Now()

	defer func() {
		if cerr := r.Close(ctx); cerr != nil {
			err = errors.Join(err, cerr)
		}
		status := "success"
		if err != nil {
			status = "failure"
		}
		metrics.RunsTotal.WithLabelValues(status).Inc()
		span.End(err)
		log.Info("run finished",
			zap.String("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
	}()

	log.Info("run started", zap.Int("groups", len(r.groups)))
	for i := range r.groups {
		if i > 0 && r.config.GroupDelay > 0 {
			log.Debug("waiting before next group", zap.Duration("delay", r.config.GroupDelay))
			if err := r.sleep(ctx, r.config.GroupDelay); err != nil {
				return errors.Wrap(err, errors.ErrorTypeState, "run cancelled between groups")
			}
		}
		if err := r.RunGroup(ctx, i+1); err != nil {
			return err
		}
	}
	return nil
}

// RunGroup runs the fetchers of group n (1-based) in order, stopping at
// the first failure
func (r *Runner) RunGroup(ctx context.Context, n int) error {
	if n < 1 || n > len(r.groups) {
		return errors.Newf(errors.ErrorTypeValidation, "group %d out of range 1..%d", n, len(r.groups))
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.New(errors.ErrorTypeState, "runner is closed")
	}
	r.state = RunningGroup(n)
	r.mu.Unlock()

	label := fmt.Sprintf("%d", n)
	log := logger.FromContext(ctx, r.logger).With(zap.Int("group", n))
	ctx, span := observability.StartSpan(ctx, "group", attribute.Int("group", n))
	start := time.Now()

	var err error
	defer func() {
		metrics.GroupDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
		if serr := metrics.SampleProcess(); serr != nil {
			log.Debug("failed to sample process stats", zap.Error(serr))
		}
		span.End(err)
	}()

	for _, entity := range r.groups[n-1] {
		var res spacex.FetchResult
		res, err = r.fetcher.Fetch(ctx, entity)
		if err != nil {
			log.Error("fetcher failed, aborting group",
				zap.String("entity", entity.Name),
				zap.Error(err))
			err = errors.Wrapf(err, errors.GetType(err), "group %d: %s", n, entity.Name)
			return err
		}

		r.mu.Lock()
		r.results = append(r.results, res)
		r.mu.Unlock()
	}

	log.Info("group completed", zap.Duration("duration", time.Since(start)))
	return nil
}

// Close drains the loader and closes the connection. Only the first call
// does work; later calls return its result.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return r.closeErr
	}
	r.closed = true
	r.state = StateClosed

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.CloseTimeout)
	defer cancel()

	if err := r.closer.Close(closeCtx); err != nil {
		r.closeErr = errors.Wrap(err, errors.GetType(err), "failed to close loader")
		r.logger.Error("failed to close loader", zap.Error(err))
	}
	return r.closeErr
}

// State returns the current lifecycle state
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Results returns the results of the fetches completed so far
func (r *Runner) Results() []spacex.FetchResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]spacex.FetchResult(nil), r.results...)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
