package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ClickHouse/ch-go"
	"github.com/ClickHouse/ch-go/chpool"
	"github.com/ClickHouse/ch-go/compress"
	"github.com/ClickHouse/ch-go/proto"
	"github.com/creasty/defaults"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/execution-tracer/pkg/common"
)

const (
	statusSuccess = "success"
	statusFailed  = "failed"
)

var ErrNotStarted = errors.New("clickhouse client not started")

// Compile-time check that Client implements ClientInterface.
var _ ClientInterface = (*Client)(nil)

// Client implements the ClientInterface using ch-go native protocol.
type Client struct {
	pool        *chpool.Pool
	config      *Config
	compression ch.Compression
	tracer      string
	log         logrus.FieldLogger
	lock        sync.RWMutex

	// Metrics collection
	metricsDone chan struct{}
	metricsWg   sync.WaitGroup
}

// isRetryableError checks if an error is transient and can be retried.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Check for context errors - these should not be retried
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Check for ch-go sentinel errors - client permanently closed
	if errors.Is(err, ch.ErrClosed) {
		return false
	}

	if exc, ok := ch.AsException(err); ok {
		// Server exceptions other than these are syntax or data errors.
		return exc.IsCode(
			proto.ErrTimeoutExceeded,            // 159 - server timeout
			proto.ErrNoFreeConnection,           // 203 - server pool exhausted
			proto.ErrTooManySimultaneousQueries, // 202 - rate limited
			proto.ErrSocketTimeout,              // 209 - network timeout
			proto.ErrNetworkError,               // 210 - generic network
		)
	}

	// Check for data corruption - never retry
	var corruptedErr *compress.CorruptedDataErr
	if errors.As(err, &corruptedErr) {
		return false
	}

	// Checked before net.Error since syscall.Errno implements net.Error.
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// Fallback for errors that lost their type on the way up.
	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset",
		"connection refused",
		"broken pipe",
		"eof",
		"timeout",
		"temporary failure",
		"server is overloaded",
		"too many connections",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// withQueryTimeout returns a context with the configured query timeout applied.
// If the context already has a deadline, the original context is returned unchanged.
func (c *Client) withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.config.QueryTimeout == 0 {
		return ctx, func() {}
	}

	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, c.config.QueryTimeout)
}

// retryDelay is the wait before the given attempt, doubling from the base delay.
func retryDelay(cfg *Config, attempt int) time.Duration {
	delay := cfg.RetryBaseDelay * time.Duration(1<<(attempt-1))
	if cfg.RetryMaxDelay > 0 && delay > cfg.RetryMaxDelay {
		delay = cfg.RetryMaxDelay
	}

	return delay
}

// doWithRetry executes fn until it succeeds, fails permanently or runs out of
// attempts. Each attempt gets its own query timeout.
func doWithRetry(ctx context.Context, log logrus.FieldLogger, cfg *Config, operation string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay(cfg, attempt)

			log.WithFields(logrus.Fields{
				"attempt":   attempt,
				"max":       cfg.MaxRetries,
				"delay":     delay,
				"operation": operation,
				"error":     lastErr,
			}).Debug("Retrying after transient error")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		lastErr = err

		if !isRetryableError(err) {
			return err
		}
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", cfg.MaxRetries, lastErr)
}

// New creates a new ch-go native ClickHouse client. Unset fields take their
// defaults. The client is not connected until Start() is called.
func New(log logrus.FieldLogger, cfg *Config, tracer string) (*Client, error) {
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	compression := ch.CompressionLZ4

	switch cfg.Compression {
	case "zstd":
		compression = ch.CompressionZSTD
	case "none":
		compression = ch.CompressionDisabled
	}

	return &Client{
		config:      cfg,
		compression: compression,
		tracer:      tracer,
		log:         log.WithField("component", "clickhouse-native"),
	}, nil
}

// Start dials ClickHouse, retrying transient connection failures.
func (c *Client) Start(ctx context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.pool != nil {
		c.log.Debug("Start() already completed successfully, skipping")

		return nil
	}

	var pool *chpool.Pool

	err := doWithRetry(ctx, c.log, c.config, "dial", func(ctx context.Context) error {
		dialCtx, cancel := context.WithTimeout(ctx, c.config.DialTimeout)
		defer cancel()

		var dialErr error

		pool, dialErr = chpool.Dial(dialCtx, chpool.Options{
			ClientOptions: ch.Options{
				Address:     c.config.Addr,
				Database:    c.config.Database,
				User:        c.config.Username,
				Password:    c.config.Password,
				Compression: c.compression,
				DialTimeout: c.config.DialTimeout,
			},
			MaxConns:          c.config.MaxConns,
			MinConns:          c.config.MinConns,
			MaxConnLifetime:   c.config.ConnMaxLifetime,
			MaxConnIdleTime:   c.config.ConnMaxIdleTime,
			HealthCheckPeriod: c.config.HealthCheckPeriod,
		})

		return dialErr
	})
	if err != nil {
		return fmt.Errorf("failed to dial clickhouse: %w", err)
	}

	c.pool = pool
	c.metricsDone = make(chan struct{})

	c.metricsWg.Add(1)

	go c.collectPoolMetrics(pool)

	c.log.WithFields(logrus.Fields{
		"addr":     c.config.Addr,
		"database": c.config.Database,
	}).Info("Connected to ClickHouse native interface")

	return nil
}

// Stop closes the connection pool.
func (c *Client) Stop() error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.metricsDone != nil {
		close(c.metricsDone)
		c.metricsWg.Wait()

		c.metricsDone = nil
	}

	if c.pool != nil {
		c.pool.Close()
		c.pool = nil

		c.log.Info("Closed ClickHouse connection pool")
	}

	return nil
}

// Insert writes the columns in input to table.
func (c *Client) Insert(ctx context.Context, table string, input proto.Input) error {
	c.lock.RLock()
	pool := c.pool
	c.lock.RUnlock()

	if pool == nil {
		return ErrNotStarted
	}

	start := time.Now()
	status := statusSuccess

	defer func() {
		c.recordMetrics("insert", table, status, time.Since(start))
	}()

	rows := 0
	if len(input) > 0 {
		rows = input[0].Data.Rows()
	}

	err := doWithRetry(ctx, c.log, c.config, "insert", func(ctx context.Context) error {
		attemptCtx, cancel := c.withQueryTimeout(ctx)
		defer cancel()

		return pool.Do(attemptCtx, ch.Query{
			Body:  input.Into(table),
			Input: input,
		})
	})
	if err != nil {
		status = statusFailed

		return fmt.Errorf("insert into %s failed: %w", table, err)
	}

	common.ClickHouseInsertsRows.WithLabelValues(c.tracer, table).Add(float64(rows))

	return nil
}

func (c *Client) recordMetrics(operation, table, status string, duration time.Duration) {
	common.ClickHouseOperationDuration.WithLabelValues(c.tracer, operation, table, status).Observe(duration.Seconds())
	common.ClickHouseOperationTotal.WithLabelValues(c.tracer, operation, table, status).Inc()
}

// collectPoolMetrics periodically collects pool statistics and updates Prometheus metrics.
func (c *Client) collectPoolMetrics(pool *chpool.Pool) {
	defer c.metricsWg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	var prevEmptyAcquireCount int64

	for {
		select {
		case <-c.metricsDone:
			return
		case <-ticker.C:
			stat := pool.Stat()

			common.ClickHousePoolAcquiredResources.WithLabelValues(c.tracer).Set(float64(stat.AcquiredResources()))
			common.ClickHousePoolIdleResources.WithLabelValues(c.tracer).Set(float64(stat.IdleResources()))
			common.ClickHousePoolTotalResources.WithLabelValues(c.tracer).Set(float64(stat.TotalResources()))

			current := stat.EmptyAcquireCount()
			if delta := current - prevEmptyAcquireCount; delta > 0 {
				common.ClickHousePoolEmptyAcquireTotal.WithLabelValues(c.tracer).Add(float64(delta))
			}

			prevEmptyAcquireCount = current
		}
	}
}
