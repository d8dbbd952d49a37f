package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ClickHouse/ch-go/proto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ethpandaops/execution-tracer/internal/version"
	"github.com/ethpandaops/execution-tracer/pkg/clickhouse"
	"github.com/ethpandaops/execution-tracer/pkg/config"
	"github.com/ethpandaops/execution-tracer/pkg/ethereum/execution"
	"github.com/ethpandaops/execution-tracer/pkg/export"
	"github.com/ethpandaops/execution-tracer/pkg/plugin"
	"github.com/ethpandaops/execution-tracer/pkg/replay"
	"github.com/ethpandaops/execution-tracer/pkg/rowbuffer"
	"github.com/ethpandaops/execution-tracer/pkg/tracer"
)

// outputUsage is the help text of the --output flag.
const outputUsage = "output format: " + config.OutputSummary + ", " + config.OutputJSON + ", " +
	config.OutputRows + ", " + config.OutputParity + " or " + config.OutputClickHouse + " (overrides config)"

// loaded is a struct-log trace ready to be replayed.
type loaded struct {
	trace *execution.TraceTransaction
	opts  replay.Options
	// receiptGas is zero when no receipt is available.
	receiptGas uint64
}

// loader resolves a source, a file name or a transaction hash, to a trace.
type loader func(ctx context.Context, source string) (*loaded, error)

// batch replays many traces concurrently, one session per trace.
type batch struct {
	log      logrus.FieldLogger
	cfg      *config.Config
	load     loader
	plugin   *plugin.Plugin
	replayer *replay.Replayer

	outMu sync.Mutex
	out   io.Writer

	rows *rowbuffer.Buffer[sourcedRow]
	cols *export.Columns
	// ch is set for the clickhouse output, which inserts flushed rows
	// instead of printing them.
	ch clickhouse.ClientInterface
}

// newClickHouse creates the ClickHouse client for the clickhouse output.
var newClickHouse = func(log logrus.FieldLogger, cfg *clickhouse.Config, tracer string) (clickhouse.ClientInterface, error) {
	return clickhouse.New(log, cfg, tracer)
}

// sourcedRow is a frame row tagged with the source it came from.
type sourcedRow struct {
	source string
	row    export.CallFrameRow
}

func runBatch(ctx context.Context, log logrus.FieldLogger, cfg *config.Config, sources []string, load loader, out io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	p := plugin.New(log, cfg.Plugin)
	if err := p.Init(); err != nil {
		return fmt.Errorf("failed to init plugin: %w", err)
	}

	b := &batch{
		log:      log.WithField("component", "batch"),
		cfg:      cfg,
		load:     load,
		plugin:   p,
		replayer: replay.New(log, p.Name()),
		out:      out,
	}

	b.log.WithFields(logrus.Fields{
		"sources":     len(sources),
		"concurrency": cfg.Concurrency,
		"output":      cfg.Output,
		"version":     version.Short(),
	}).Info("Starting replay")

	if cfg.MetricsAddr != nil {
		srv := startMetricsServer(b.log, *cfg.MetricsAddr)

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				b.log.WithError(err).Error("failed to shutdown metrics server")
			}
		}()
	}

	if cfg.Output == config.OutputClickHouse {
		client, err := newClickHouse(log, &cfg.ClickHouse, p.Name())
		if err != nil {
			return fmt.Errorf("failed to create clickhouse client: %w", err)
		}

		if err := client.Start(ctx); err != nil {
			return fmt.Errorf("failed to start clickhouse client: %w", err)
		}

		defer func() {
			if err := client.Stop(); err != nil {
				b.log.WithError(err).Error("failed to stop clickhouse client")
			}
		}()

		b.ch = client
	}

	if cfg.Output == config.OutputRows || cfg.Output == config.OutputClickHouse {
		sink := "stdout"
		if b.ch != nil {
			sink = "clickhouse"
		}

		b.cols = export.NewColumns()
		b.rows = rowbuffer.New(rowbuffer.Config{
			MaxRows:       cfg.RowBuffer.MaxRows,
			FlushInterval: cfg.RowBuffer.FlushInterval,
			Tracer:        p.Name(),
			Sink:          sink,
		}, b.flushRows, log)

		if err := b.rows.Start(ctx); err != nil {
			return fmt.Errorf("failed to start row buffer: %w", err)
		}
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)

	for _, source := range sources {
		g.Go(func() error {
			if err := b.replaySource(gCtx, source); err != nil {
				return fmt.Errorf("%s: %w", source, err)
			}

			return nil
		})
	}

	err := g.Wait()

	if b.rows != nil {
		if stopErr := b.rows.Stop(context.Background()); stopErr != nil && err == nil {
			err = fmt.Errorf("failed to flush rows: %w", stopErr)
		}
	}

	if err != nil {
		return err
	}

	b.log.WithField("sources", len(sources)).Info("Replay complete")

	return nil
}

func (b *batch) replaySource(ctx context.Context, source string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	in, err := b.load(ctx, source)
	if err != nil {
		return err
	}

	session, err := b.plugin.NewSession(b.log.WithField("source", source))
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	if err := b.replayer.Run(in.trace, session.Observer(), in.opts); err != nil {
		return fmt.Errorf("failed to replay trace: %w", err)
	}

	result, err := session.Finalize()
	if err != nil {
		return fmt.Errorf("failed to finalize trace: %w", err)
	}

	return b.emit(ctx, source, in, result)
}

func (b *batch) emit(ctx context.Context, source string, in *loaded, trace *tracer.Trace) error {
	switch b.cfg.Output {
	case config.OutputRows, config.OutputClickHouse:
		rows := export.FrameRows(trace)
		export.SetRootGas(rows, replay.MaxRefund(in.trace), in.receiptGas)

		sourced := make([]sourcedRow, len(rows))

		for i, row := range rows {
			sourced[i] = sourcedRow{source: source, row: row}
		}

		return b.rows.Submit(ctx, sourced)
	case config.OutputJSON:
		return b.writeJSON(map[string]any{"source": source, "trace": trace})
	case config.OutputParity:
		return b.writeJSON(map[string]any{"source": source, "traces": export.ParityTraces(trace)})
	default:
		b.outMu.Lock()
		defer b.outMu.Unlock()

		_, err := fmt.Fprintf(b.out, "%s\tstatus=%s\tframes=%d\tsteps=%d\tgas=%d\tlogs=%d\twarnings=%d\texhaustive=%t\n",
			source,
			trace.Root.Outcome.Status,
			trace.FrameCount,
			trace.RecordedSteps,
			trace.TotalGasUsed,
			len(trace.AllLogs),
			len(trace.Warnings),
			trace.Exhaustive(),
		)

		return err
	}
}

func (b *batch) writeJSON(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}

	b.outMu.Lock()
	defer b.outMu.Unlock()

	_, err = fmt.Fprintln(b.out, string(raw))

	return err
}

// flushRows moves a batch into the columns and writes it out.
func (b *batch) flushRows(ctx context.Context, rows []sourcedRow) error {
	b.outMu.Lock()
	defer b.outMu.Unlock()

	now := time.Now()

	for _, r := range rows {
		b.cols.Append(now, r.source, r.row)
	}

	defer b.cols.Reset()

	if b.ch != nil {
		return b.ch.Insert(ctx, b.cfg.ClickHouse.Table, b.cols.Input())
	}

	return writeColumns(b.out, b.cols)
}

// writeColumns renders the columns as tab separated lines. Null values are
// written as "-".
func writeColumns(w io.Writer, cols *export.Columns) error {
	for i := range cols.Rows() {
		parent := nullable(cols.ParentCallFrameID.Row(i))

		target := "-"
		if t := cols.TargetAddress.Row(i); t.Set {
			target = t.Value
		}

		callType := cols.CallType.Row(i)
		if callType == "" {
			callType = "ROOT"
		}

		if _, err := fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%s\t%s\t%d\t%d\t%s\t%t\t%d\t%s\t%s\n",
			cols.Source.Row(i),
			cols.CallFrameID.Row(i),
			parent,
			cols.Depth.Row(i),
			callType,
			target,
			cols.Gas.Row(i),
			cols.GasCumulative.Row(i),
			cols.Status.Row(i),
			cols.Reverted.Row(i),
			cols.LogCount.Row(i),
			nullable(cols.GasRefund.Row(i)),
			nullable(cols.IntrinsicGas.Row(i)),
		); err != nil {
			return err
		}
	}

	return nil
}

func nullable[T uint32 | uint64](v proto.Nullable[T]) string {
	if !v.Set {
		return "-"
	}

	return strconv.FormatUint(uint64(v.Value), 10)
}

func startMetricsServer(log logrus.FieldLogger, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		log.WithField("addr", addr).Info("Starting metrics server")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Metrics server failed")
		}
	}()

	return srv
}
