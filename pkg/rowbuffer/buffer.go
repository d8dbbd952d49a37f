// Package rowbuffer batches export rows produced by concurrent replays and
// hands them to a sink in bulk. A batch is flushed when it reaches the row
// limit, when the flush interval elapses, or when the buffer stops.
package rowbuffer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/execution-tracer/pkg/common"
)

const (
	defaultMaxRows       = 10000
	defaultFlushInterval = time.Second
	defaultWaiterCap     = 64
)

// ErrNotStarted is returned by Submit when the buffer is not running.
var ErrNotStarted = errors.New("row buffer is not started")

// FlushFunc writes a batch of rows to the sink. It is never called
// concurrently with itself for the same size or timer trigger.
type FlushFunc[R any] func(ctx context.Context, rows []R) error

// Config holds configuration for the row buffer.
type Config struct {
	MaxRows       int           // Flush threshold (default: 10000)
	FlushInterval time.Duration // Max wait before flush (default: 1s)
	Tracer        string        // For metrics
	Sink          string        // For metrics
}

// waiter is a submitter blocked until its rows are flushed.
type waiter struct {
	resultCh chan<- error
	rowCount int
}

// Buffer pools rows from many submitters and flushes them together.
type Buffer[R any] struct {
	mu      sync.Mutex
	rows    []R
	waiters []waiter

	config  Config
	flushFn FlushFunc[R]
	log     logrus.FieldLogger

	stopChan chan struct{}
	wg       sync.WaitGroup
	started  bool
}

// New creates a Buffer with the given configuration and flush function.
func New[R any](cfg Config, flushFn FlushFunc[R], log logrus.FieldLogger) *Buffer[R] {
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = defaultMaxRows
	}

	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}

	return &Buffer[R]{
		rows:     make([]R, 0, cfg.MaxRows),
		waiters:  make([]waiter, 0, defaultWaiterCap),
		config:   cfg,
		flushFn:  flushFn,
		log:      log.WithFields(logrus.Fields{"component": "rowbuffer", "sink": cfg.Sink}),
		stopChan: make(chan struct{}),
	}
}

// Start starts the flush timer goroutine.
func (b *Buffer[R]) Start(ctx context.Context) error {
	b.mu.Lock()

	if b.started {
		b.mu.Unlock()

		return nil
	}

	b.started = true
	b.mu.Unlock()

	b.wg.Go(func() { b.runFlushTimer(ctx) })

	b.log.WithFields(logrus.Fields{
		"max_rows":       b.config.MaxRows,
		"flush_interval": b.config.FlushInterval,
	}).Debug("Row buffer started")

	return nil
}

// Stop stops the timer and flushes whatever is still buffered.
func (b *Buffer[R]) Stop(ctx context.Context) error {
	b.mu.Lock()

	if !b.started {
		b.mu.Unlock()

		return nil
	}

	b.started = false
	b.mu.Unlock()

	close(b.stopChan)
	b.wg.Wait()

	b.mu.Lock()
	rows, waiters := b.takeLocked()
	b.mu.Unlock()

	if err := b.doFlush(ctx, rows, waiters, "shutdown"); err != nil {
		b.log.WithError(err).Error("Failed to flush remaining rows on shutdown")

		return err
	}

	b.log.Debug("Row buffer stopped")

	return nil
}

// Submit adds rows to the buffer and blocks until the batch containing them
// has been flushed. It returns the flush error, or the context error when ctx
// ends first.
func (b *Buffer[R]) Submit(ctx context.Context, rows []R) error {
	if len(rows) == 0 {
		return nil
	}

	resultCh := make(chan error, 1)

	b.mu.Lock()

	if !b.started {
		b.mu.Unlock()

		return ErrNotStarted
	}

	b.rows = append(b.rows, rows...)
	b.waiters = append(b.waiters, waiter{resultCh: resultCh, rowCount: len(rows)})
	b.updatePendingLocked()

	var (
		flushRows    []R
		flushWaiters []waiter
	)

	shouldFlush := len(b.rows) >= b.config.MaxRows
	if shouldFlush {
		flushRows, flushWaiters = b.takeLocked()
	}

	b.mu.Unlock()

	if shouldFlush {
		go func() {
			_ = b.doFlush(context.Background(), flushRows, flushWaiters, "size")
		}()
	}

	select {
	case err := <-resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-b.stopChan:
		select {
		case err := <-resultCh:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runFlushTimer runs the periodic flush timer.
func (b *Buffer[R]) runFlushTimer(ctx context.Context) {
	ticker := time.NewTicker(b.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.mu.Lock()
			rows, waiters := b.takeLocked()
			b.mu.Unlock()

			_ = b.doFlush(ctx, rows, waiters, "timer")
		}
	}
}

// takeLocked detaches the pending batch. b.mu must be held.
func (b *Buffer[R]) takeLocked() ([]R, []waiter) {
	if len(b.rows) == 0 {
		return nil, nil
	}

	rows, waiters := b.rows, b.waiters
	b.rows = make([]R, 0, b.config.MaxRows)
	b.waiters = make([]waiter, 0, defaultWaiterCap)

	return rows, waiters
}

// updatePendingLocked publishes the pending gauges. b.mu must be held.
func (b *Buffer[R]) updatePendingLocked() {
	common.RowBufferPendingRows.WithLabelValues(b.config.Tracer, b.config.Sink).Set(float64(len(b.rows)))
	common.RowBufferPendingTasks.WithLabelValues(b.config.Tracer, b.config.Sink).Set(float64(len(b.waiters)))
}

// doFlush writes one batch and notifies its waiters.
func (b *Buffer[R]) doFlush(ctx context.Context, rows []R, waiters []waiter, trigger string) error {
	if len(rows) == 0 {
		return nil
	}

	start := time.Now()
	err := b.flushFn(ctx, rows)
	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = "failed"
	}

	common.RowBufferFlushTotal.WithLabelValues(b.config.Tracer, b.config.Sink, trigger, status).Inc()
	common.RowBufferFlushDuration.WithLabelValues(b.config.Tracer, b.config.Sink).Observe(duration.Seconds())
	common.RowBufferFlushSize.WithLabelValues(b.config.Tracer, b.config.Sink).Observe(float64(len(rows)))

	b.mu.Lock()
	b.updatePendingLocked()
	b.mu.Unlock()

	fields := logrus.Fields{
		"rows":     len(rows),
		"waiters":  len(waiters),
		"trigger":  trigger,
		"duration": duration,
	}

	if err != nil {
		b.log.WithError(err).WithFields(fields).Error("Row flush failed")
	} else {
		b.log.WithFields(fields).Debug("Row flush completed")
	}

	for _, w := range waiters {
		select {
		case w.resultCh <- err:
		default:
			// Submitter already gave up.
		}
	}

	return err
}

// Len returns the current number of buffered rows.
func (b *Buffer[R]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.rows)
}

// WaiterCount returns the current number of blocked submitters.
func (b *Buffer[R]) WaiterCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.waiters)
}
