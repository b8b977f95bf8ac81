// Package clients provides the HTTP client used to call the source API
package clients

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/SiangbaMM/spacex-data-pipeline/pkg/errors"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/metrics"
)

// HTTPClient performs GET requests with per-request timeouts, rate
// limiting and bounded retries
type HTTPClient struct {
	config      *HTTPConfig
	logger      *zap.Logger
	httpClient  *http.Client
	transport   *http.Transport
	rateLimiter *RateLimiter
	retry       *RetryPolicy

	totalRequests  int64
	failedRequests int64
	retries        int64
}

// HTTPConfig configures the HTTP client
type HTTPConfig struct {
	// Connection settings
	MaxIdleConns        int           `json:"max_idle_conns"`
	MaxIdleConnsPerHost int           `json:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `json:"idle_conn_timeout"`

	// HTTP/2 settings
	EnableHTTP2 bool `json:"enable_http2"`

	// Timeouts
	DialTimeout           time.Duration `json:"dial_timeout"`
	TLSHandshakeTimeout   time.Duration `json:"tls_handshake_timeout"`
	ResponseHeaderTimeout time.Duration `json:"response_header_timeout"`
	// RequestTimeout bounds one attempt including reading the body
	RequestTimeout time.Duration `json:"request_timeout"`
	KeepAlive      time.Duration `json:"keep_alive"`

	// Rate limiting
	RateLimit float64 `json:"rate_limit"`
	RateBurst int     `json:"rate_burst"`

	// Retry covers 429, 502, 503, 504, timeouts and connection failures
	Retry *RetryPolicy `json:"-"`

	UserAgent    string `json:"user_agent"`
	MaxBodyBytes int64  `json:"max_body_bytes"`
}

// DefaultHTTPConfig returns default configuration
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
		EnableHTTP2:           true,
		DialTimeout:           10 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		RequestTimeout:        30 * time.Second,
		KeepAlive:             30 * time.Second,
		Retry:                 DefaultRetryPolicy(),
		UserAgent:             "spacex-tap",
		MaxBodyBytes:          64 << 20,
	}
}

// StatusError is a non-2xx response
type StatusError struct {
	StatusCode int
	// RetryAfter is the server's Retry-After hint, zero when absent
	RetryAfter time.Duration
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("status %d", e.StatusCode)
}

// NewHTTPClient creates a new HTTP client
func NewHTTPClient(config *HTTPConfig, logger *zap.Logger) *HTTPClient {
	if config == nil {
		config = DefaultHTTPConfig()
	}
	if config.Retry == nil {
		config.Retry = NoRetryPolicy()
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 64 << 20
	}

	client := &HTTPClient{
		config: config,
		logger: logger.With(zap.String("component", "http_client")),
		retry:  config.Retry,
	}

	client.transport = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: config.KeepAlive,
		}).DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	// Enable HTTP/2 if configured
	if config.EnableHTTP2 {
		if err := http2.ConfigureTransport(client.transport); err != nil {
			client.logger.Warn("failed to configure HTTP/2", zap.Error(err))
		}
	}

	client.httpClient = &http.Client{
		Transport: client.transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}

	if config.RateLimit > 0 {
		client.rateLimiter = NewRateLimiter("source_api", config.RateLimit, config.RateBurst)
	}

	return client
}

// GetJSON fetches url and returns the response body of a 2xx response.
// label names the caller in metrics and logs. Retryable failures are
// retried per the retry policy; other failures return at once.
func (c *HTTPClient) GetJSON(ctx context.Context, label, url string) ([]byte, error) {
	var body []byte

	err := c.retry.Execute(ctx,
		func(attempt int) error {
			b, err := c.getOnce(ctx, label, url)
			if err != nil {
				return err
			}
			body = b
			return nil
		},
		errors.IsRetryable,
		func(attempt int, err error, delay time.Duration) {
			atomic.AddInt64(&c.retries, 1)
			metrics.APIRetries.WithLabelValues(label, string(errors.GetType(err))).Inc()
			c.logger.Warn("retrying request",
				zap.String("entity", label),
				zap.String("url", url),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(err))
		})
	if err != nil {
		atomic.AddInt64(&c.failedRequests, 1)
		return nil, err
	}
	return body, nil
}

func (c *HTTPClient) getOnce(ctx context.Context, label, url string) ([]byte, error) {
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeAPI, "rate limiter")
		}
	}

	attemptCtx := ctx
	if c.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeAPI, "failed to build request")
	}
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	atomic.AddInt64(&c.totalRequests, 1)
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.APILatency.WithLabelValues(label).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.APIRequests.WithLabelValues(label, "error").Inc()
		return nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()
	metrics.APIRequests.WithLabelValues(label, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		se := &StatusError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			Body:       string(snippet),
		}
		return nil, errors.Wrap(se, statusErrorType(resp.StatusCode), "unexpected response").
			WithDetail("status", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxBodyBytes+1))
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	if int64(len(body)) > c.config.MaxBodyBytes {
		return nil, errors.Newf(errors.ErrorTypeAPI, "response body exceeds %d bytes", c.config.MaxBodyBytes)
	}
	return body, nil
}

// Stats returns request counters
func (c *HTTPClient) Stats() HTTPStats {
	return HTTPStats{
		TotalRequests:  atomic.LoadInt64(&c.totalRequests),
		FailedRequests: atomic.LoadInt64(&c.failedRequests),
		Retries:        atomic.LoadInt64(&c.retries),
	}
}

// Close releases idle connections
func (c *HTTPClient) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}

// HTTPStats represents HTTP client statistics
type HTTPStats struct {
	TotalRequests  int64 `json:"total_requests"`
	FailedRequests int64 `json:"failed_requests"`
	Retries        int64 `json:"retries"`
}

func statusErrorType(status int) errors.ErrorType {
	switch status {
	case http.StatusTooManyRequests:
		return errors.ErrorTypeRateLimit
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return errors.ErrorTypeConnection
	case http.StatusGatewayTimeout:
		return errors.ErrorTypeTimeout
	default:
		return errors.ErrorTypeAPI
	}
}

// classifyTransportError separates caller cancellation, which must not be
// retried, from timeouts and network failures, which may be.
func classifyTransportError(parent context.Context, err error) error {
	if parent.Err() != nil {
		return errors.Wrap(err, errors.ErrorTypeAPI, "request cancelled")
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return errors.Wrap(err, errors.ErrorTypeTimeout, "request timed out")
	}
	return errors.Wrap(err, errors.ErrorTypeConnection, "request failed")
}

// parseRetryAfter reads delay-seconds or an HTTP date
func parseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
