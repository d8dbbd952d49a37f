package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/execution-tracer/pkg/config"
	"github.com/ethpandaops/execution-tracer/pkg/ethereum/execution"
	"github.com/ethpandaops/execution-tracer/pkg/replay"
)

var (
	replayOutput string
	replayFrom   string
	replayTo     string
	replayValue  string
	replayStack  bool
)

var replayCmd = &cobra.Command{
	Use:   "replay [files...]",
	Short: "Replays debug_traceTransaction struct-log files into traces.",
	Long:  `Replays debug_traceTransaction struct-log files into traces. Use "-" to read from stdin.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if replayOutput != "" {
			cfg.Output = replayOutput
		}

		opts, err := replayOptions()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return runReplay(ctx, log, cfg, opts, args, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayOutput, "output", "", outputUsage)
	replayCmd.Flags().StringVar(&replayFrom, "from", "", "transaction sender")
	replayCmd.Flags().StringVar(&replayTo, "to", "", "transaction recipient, empty for a contract creation")
	replayCmd.Flags().StringVar(&replayValue, "value", "0", "transaction value in wei")
	replayCmd.Flags().BoolVar(&replayStack, "stack", false, "forward struct-log stacks to the tracer")

	rootCmd.AddCommand(replayCmd)
}

// replayOptions builds the transaction description from the flags.
func replayOptions() (replay.Options, error) {
	opts := replay.Options{Stack: replayStack}

	if replayFrom != "" {
		if !common.IsHexAddress(replayFrom) {
			return opts, fmt.Errorf("invalid --from address %q", replayFrom)
		}

		opts.From = common.HexToAddress(replayFrom)
	}

	if replayTo != "" {
		if !common.IsHexAddress(replayTo) {
			return opts, fmt.Errorf("invalid --to address %q", replayTo)
		}

		to := common.HexToAddress(replayTo)
		opts.To = &to
	}

	value, err := uint256.FromDecimal(replayValue)
	if err != nil {
		return opts, fmt.Errorf("invalid --value %q: %w", replayValue, err)
	}

	opts.Value = value

	return opts, nil
}

func runReplay(ctx context.Context, log logrus.FieldLogger, cfg *config.Config, opts replay.Options, files []string, stdin io.Reader, out io.Writer) error {
	load := func(_ context.Context, file string) (*loaded, error) {
		trace, err := readTrace(file, stdin)
		if err != nil {
			return nil, err
		}

		return &loaded{trace: trace, opts: opts}, nil
	}

	return runBatch(ctx, log, cfg, files, load, out)
}

// readTrace decodes a struct-log trace file, or stdin for "-".
func readTrace(file string, stdin io.Reader) (*execution.TraceTransaction, error) {
	if file == "-" {
		return replay.ParseTrace(stdin)
	}

	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return replay.ParseTrace(f)
}
