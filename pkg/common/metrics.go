package common

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TracesFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "execution_tracer_traces_finalized_total",
		Help: "Total number of traces finalized, by root frame outcome",
	}, []string{"tracer", "status"})

	TracesTruncated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "execution_tracer_traces_truncated_total",
		Help: "Total number of traces whose step recording hit the step limit",
	}, []string{"tracer"})

	FramesSealed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "execution_tracer_frames_sealed_total",
		Help: "Total number of call frames sealed, by outcome",
	}, []string{"tracer", "outcome"})

	StepsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "execution_tracer_steps_recorded_total",
		Help: "Total number of steps kept in finalized traces",
	}, []string{"tracer"})

	ContractViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "execution_tracer_contract_violations_total",
		Help: "Total number of observer contract violations, by offending event",
	}, []string{"tracer", "event"})

	IntegrityWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "execution_tracer_integrity_warnings_total",
		Help: "Total number of integrity warnings raised while assembling traces",
	}, []string{"tracer", "kind"})

	ReplayDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "execution_tracer_replay_duration_seconds",
		Help:    "Time taken to replay a recorded structlog trace through a collector",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"tracer", "status"})

	ReplayErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "execution_tracer_replay_errors_total",
		Help: "Total number of replay failures",
	}, []string{"tracer", "error_type"})

	RPCCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "execution_tracer_rpc_call_duration_seconds",
		Help:    "Duration of RPC calls to Ethereum nodes",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"chain_id", "node", "method", "status"})

	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "execution_tracer_rpc_calls_total",
		Help: "Total RPC calls made to Ethereum nodes",
	}, []string{"chain_id", "node", "method", "status"})

	RPCRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "execution_tracer_rpc_retries_total",
		Help: "Total RPC calls retried after a failure",
	}, []string{"node", "method"})

	ClickHouseOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "execution_tracer_clickhouse_operation_duration_seconds",
		Help:    "Duration of ClickHouse operations",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	}, []string{"tracer", "operation", "table", "status"})

	ClickHouseOperationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "execution_tracer_clickhouse_operation_total",
		Help: "Total number of ClickHouse operations",
	}, []string{"tracer", "operation", "table", "status"})

	ClickHouseInsertsRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "execution_tracer_clickhouse_inserted_rows_total",
		Help: "Total number of rows inserted into ClickHouse",
	}, []string{"tracer", "table"})

	// ClickHouse pool metrics - gauges for current state.
	ClickHousePoolAcquiredResources = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "execution_tracer_clickhouse_pool_acquired_resources",
		Help: "Number of currently acquired resources in the ClickHouse connection pool",
	}, []string{"tracer"})

	ClickHousePoolIdleResources = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "execution_tracer_clickhouse_pool_idle_resources",
		Help: "Number of currently idle resources in the ClickHouse connection pool",
	}, []string{"tracer"})

	ClickHousePoolTotalResources = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "execution_tracer_clickhouse_pool_total_resources",
		Help: "Total number of resources in the ClickHouse connection pool",
	}, []string{"tracer"})

	ClickHousePoolEmptyAcquireTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "execution_tracer_clickhouse_pool_empty_acquire_total",
		Help: "Total number of acquisitions that waited for a resource to be released or constructed",
	}, []string{"tracer"})

	// Row buffer metrics for batched frame row output.
	RowBufferFlushTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "execution_tracer_row_buffer_flush_total",
		Help: "Total number of row buffer flushes",
	}, []string{"tracer", "sink", "trigger", "status"})

	RowBufferFlushDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "execution_tracer_row_buffer_flush_duration_seconds",
		Help:    "Duration of row buffer flushes",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	}, []string{"tracer", "sink"})

	RowBufferFlushSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "execution_tracer_row_buffer_flush_size_rows",
		Help:    "Number of rows per flush",
		Buckets: prometheus.ExponentialBuckets(1, 2, 16),
	}, []string{"tracer", "sink"})

	RowBufferPendingRows = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "execution_tracer_row_buffer_pending_rows",
		Help: "Current number of rows waiting in the buffer",
	}, []string{"tracer", "sink"})

	RowBufferPendingTasks = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "execution_tracer_row_buffer_pending_tasks",
		Help: "Current number of submitters waiting for their rows to be flushed",
	}, []string{"tracer", "sink"})
)
