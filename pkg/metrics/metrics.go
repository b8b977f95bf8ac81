// Package metrics exposes Prometheus collectors for the tap.
//
// All collectors are registered on the default registry through promauto
// and are safe for concurrent use.
//
// # Basic Usage
//
//	metrics.RecordsLoaded.WithLabelValues("STG_SPACEX_DATA_LAUNCHES").Add(float64(n))
//
//	timer := prometheus.NewTimer(metrics.FlushDuration.WithLabelValues(table))
//	defer timer.ObserveDuration()
package metrics

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

var (
	// APIRequests counts HTTP calls to the source API.
	// Labels: entity, status (HTTP status code or "error")
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spacex_tap_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"entity", "status"},
	)

	// APIRetries counts retried API calls.
	// Labels: entity, reason (rate_limit/unavailable/timeout)
	APIRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spacex_tap_api_retries_total",
			Help: "Total number of retried API requests",
		},
		[]string{"entity", "reason"},
	)

	// APILatency tracks API request latency in seconds
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spacex_tap_api_latency_seconds",
			Help:    "API request latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"entity"},
	)

	// RecordsFetched counts raw items returned by the API
	RecordsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spacex_tap_records_fetched_total",
			Help: "Total number of raw items returned by the API",
		},
		[]string{"entity"},
	)

	// RecordsSkipped counts items dropped by a transform failure
	RecordsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spacex_tap_records_skipped_total",
			Help: "Total number of items skipped due to transform errors",
		},
		[]string{"entity"},
	)

	// RecordsLoaded counts rows committed to the warehouse
	RecordsLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spacex_tap_records_loaded_total",
			Help: "Total number of rows committed to the warehouse",
		},
		[]string{"table"},
	)

	// Flushes counts bulk insert statements by outcome.
	// Labels: table, status (success/failure)
	Flushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spacex_tap_flushes_total",
			Help: "Total number of bulk insert statements",
		},
		[]string{"table", "status"},
	)

	// FlushDuration tracks bulk insert latency in seconds
	FlushDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spacex_tap_flush_duration_seconds",
			Help:    "Bulk insert latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"table"},
	)

	// Truncates counts TRUNCATE statements by outcome
	Truncates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spacex_tap_truncates_total",
			Help: "Total number of table truncations",
		},
		[]string{"table", "status"},
	)

	// SinkWrites counts error-table writes.
	// Labels: status (success/failure)
	SinkWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spacex_tap_error_sink_writes_total",
			Help: "Total number of rows written to the error table",
		},
		[]string{"status"},
	)

	// BufferedRecords tracks records waiting for a flush
	BufferedRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "spacex_tap_buffered_records",
			Help: "Records buffered and not yet flushed",
		},
		[]string{"table"},
	)

	// RunsTotal counts orchestrated runs by outcome
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spacex_tap_runs_total",
			Help: "Total number of orchestrated runs",
		},
		[]string{"status"},
	)

	// GroupDuration tracks the duration of each fetcher group
	GroupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spacex_tap_group_duration_seconds",
			Help:    "Fetcher group duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
		[]string{"group"},
	)

	// ProcessMemory tracks the resident set size of the process
	ProcessMemory = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "spacex_tap_process_resident_bytes",
			Help: "Resident set size of the tap process",
		},
	)

	// ProcessCPU tracks the CPU percentage of the process
	ProcessCPU = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "spacex_tap_process_cpu_percent",
			Help: "CPU usage of the tap process in percent",
		},
	)
)

// SampleProcess updates the process gauges from the OS
func SampleProcess() error {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return err
	}
	ProcessMemory.Set(float64(mem.RSS))

	cpu, err := p.CPUPercent()
	if err != nil {
		return err
	}
	ProcessCPU.Set(cpu)
	return nil
}

// Server serves /metrics until its context is cancelled
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer creates a metrics server listening on addr
func NewServer(addr string, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start serves in the background and shuts down when ctx is done
func (s *Server) Start(ctx context.Context) {
	go func() {
		s.logger.Info("metrics server listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()
}
