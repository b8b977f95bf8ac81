package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/SiangbaMM/spacex-data-pipeline/internal/pipeline"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/config"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/errors"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/json"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/logger"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/metrics"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/observability"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/spacex"
)

var version = "0.1.0"

// globalFlags are shared by every command that touches the warehouse
type globalFlags struct {
	configFile  string
	logLevel    string
	metricsAddr string
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	var flags globalFlags

	root := &cobra.Command{
		Use:   "spacex-tap",
		Short: "Extract the SpaceX API into a data warehouse",
		Long: `spacex-tap pulls every entity of the public SpaceX v4 API, flattens each
item into a warehouse row and bulk-loads it into staging tables, replacing the
previous contents. Records that fail to transform are written to an error table
and skipped. Singer SCHEMA, RECORD and STATE messages are written to stdout.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "Path to JSON or YAML configuration file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the configuration")
	root.PersistentFlags().StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "spacex-tap v%s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "Go version: %s\n", runtime.Version())
			fmt.Fprintf(cmd.OutOrStdout(), "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the entities and their fetcher groups",
		Run: func(cmd *cobra.Command, args []string) {
			for i, group := range pipeline.Groups() {
				fmt.Fprintf(cmd.OutOrStdout(), "Group %d:\n", i+1)
				for _, e := range group {
					fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", e.Name)
				}
			}
		},
	})

	var format string
	discoverCmd := &cobra.Command{
		Use:   "discover",
		Short: "Print the catalog of streams and their schemas",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := catalogConfig(flags.configFile, cmd.ErrOrStderr())
			return writeCatalog(cmd.OutOrStdout(), spacex.Catalog(cfg.Loader.TableName), format)
		},
	}
	discoverCmd.Flags().StringVarP(&format, "format", "f", "json", "Output format (json, yaml)")
	root.AddCommand(discoverCmd)

	var schedule string
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run all fetcher groups once, or on a schedule",
		Long: `Run the three fetcher groups in order and load every entity.

Example:
  spacex-tap run --config config_snowflake.json
  spacex-tap run --config config.yaml --schedule "0 */6 * * *"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd.Context(), flags, schedule, nil)
		},
	}
	runCmd.Flags().StringVar(&schedule, "schedule", "", "Cron expression for repeated runs; overrides orchestrator.schedule")
	root.AddCommand(runCmd)

	root.AddCommand(&cobra.Command{
		Use:   "fetch <entity>",
		Short: "Fetch and load a single entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, err := spacex.Lookup(args[0])
			if err != nil {
				return err
			}
			return execute(cmd.Context(), flags, "", []*spacex.Entity{entity})
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// execute loads configuration, starts observability and performs one run,
// or one run per schedule tick until interrupted
func execute(ctx context.Context, flags globalFlags, schedule string, entities []*spacex.Entity) error {
	cfg, err := config.Load(flags.configFile)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = flags.metricsAddr
	}
	if schedule == "" {
		schedule = cfg.Orchestrator.Schedule
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		Encoding:    cfg.Logging.Encoding,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get().With(zap.String("component", "spacex-tap"))

	shutdown, err := observability.InitTracing(observability.TracingConfig{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    "spacex-tap",
		ServiceVersion: version,
		SamplingRate:   cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() { _ = shutdown(context.WithoutCancel(ctx)) }()

	if cfg.Metrics.Enabled {
		metrics.NewServer(cfg.Metrics.Addr, log).Start(ctx)
	}

	runOnce := func(ctx context.Context) error {
		tap, err := pipeline.Build(ctx, cfg, pipeline.Options{Entities: entities}, log)
		if err != nil {
			return err
		}
		log.Info("starting run",
			zap.String("run_id", tap.RunID),
			zap.String("driver", cfg.Destination.Driver),
			zap.String("base_url", cfg.BaseURL))
		return tap.Run(ctx)
	}

	if schedule == "" {
		return runOnce(ctx)
	}
	return runScheduled(ctx, schedule, runOnce, log)
}

// runScheduled runs fn on every tick of the cron expression until ctx is
// done. Overlapping ticks are skipped. A configuration error stops the
// scheduler, since every later tick would fail the same way.
func runScheduled(ctx context.Context, schedule string, fn func(context.Context) error, log *zap.Logger) error {
	fatal := make(chan error, 1)

	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{log}),
		cron.SkipIfStillRunning(cronLogger{log}),
	))
	if _, err := c.AddFunc(schedule, func() {
		err := fn(ctx)
		if err == nil {
			return
		}
		log.Error("scheduled run failed", zap.Error(err))
		if errors.HasType(err, errors.ErrorTypeConfig) {
			select {
			case fatal <- err:
			default:
			}
		}
	}); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	log.Info("scheduler started", zap.String("schedule", schedule))
	c.Start()

	var err error
	select {
	case <-ctx.Done():
	case err = <-fatal:
	}
	<-c.Stop().Done()
	log.Info("scheduler stopped", zap.Error(err))
	return err
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}

// catalogConfig loads the configuration for discover. The catalog only needs
// table naming, so a configuration that fails to load falls back to the
// defaults after a warning on w.
func catalogConfig(path string, w io.Writer) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(w, "warning: %v; using default table names\n", err)
		return config.Default()
	}
	return cfg
}

func writeCatalog(w io.Writer, catalog []spacex.CatalogEntry, format string) error {
	doc := map[string]interface{}{"streams": catalog}
	switch format {
	case "json":
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q, want json or yaml", format)
	}
}
