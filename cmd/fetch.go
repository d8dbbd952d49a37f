package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/execution-tracer/pkg/config"
	"github.com/ethpandaops/execution-tracer/pkg/ethereum/execution"
	"github.com/ethpandaops/execution-tracer/pkg/ethereum/execution/geth"
	"github.com/ethpandaops/execution-tracer/pkg/replay"
)

var (
	fetchOutput string
	fetchRPC    string
	fetchStack  bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [tx hashes...]",
	Short: "Fetches transactions from an execution node and traces them.",
	Long:  `Fetches transactions, their receipts and their struct-log traces from an execution node and replays them into traces.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if fetchOutput != "" {
			cfg.Output = fetchOutput
		}

		if fetchRPC != "" {
			cfg.Execution.NodeAddress = fetchRPC
		}

		if err := cfg.Execution.Validate(); err != nil {
			return fmt.Errorf("invalid execution configuration: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		node := geth.NewRPCNode(log, &cfg.Execution)
		if err := node.Start(ctx); err != nil {
			return fmt.Errorf("failed to start execution node: %w", err)
		}

		defer func() {
			if err := node.Stop(context.Background()); err != nil {
				log.WithError(err).Error("Failed to stop execution node")
			}
		}()

		return runFetch(ctx, log, cfg, node, args, fetchStack, cmd.OutOrStdout())
	},
}

func init() {
	fetchCmd.Flags().StringVar(&fetchOutput, "output", "", outputUsage)
	fetchCmd.Flags().StringVar(&fetchRPC, "rpc", "", "execution node JSON-RPC address (overrides config)")
	fetchCmd.Flags().BoolVar(&fetchStack, "stack", false, "forward struct-log stacks to the tracer")

	rootCmd.AddCommand(fetchCmd)
}

// runFetch traces each transaction hash with data fetched from node.
func runFetch(ctx context.Context, log logrus.FieldLogger, cfg *config.Config, node execution.Node, hashes []string, stack bool, out io.Writer) error {
	for _, hash := range hashes {
		if len(common.FromHex(hash)) != common.HashLength {
			return fmt.Errorf("invalid transaction hash %q", hash)
		}
	}

	load := func(ctx context.Context, source string) (*loaded, error) {
		hash := common.HexToHash(source)

		tx, err := node.Transaction(ctx, hash)
		if err != nil {
			return nil, err
		}

		// Call targets, logs and storage accesses are read from the stack.
		trace, err := node.DebugTraceTransaction(ctx, hash, execution.StackTraceOptions())
		if err != nil {
			return nil, err
		}

		log.WithFields(logrus.Fields{
			"tx":           hash.Hex(),
			"block_number": tx.BlockNumber,
			"struct_logs":  len(trace.Structlogs),
			"chain_id":     node.ChainID(),
		}).Debug("Fetched transaction")

		return &loaded{
			trace: trace,
			opts: replay.Options{
				From:    tx.From,
				To:      tx.To,
				Value:   tx.Value,
				Input:   tx.Input,
				Created: tx.ContractAddress,
				Stack:   stack,
			},
			receiptGas: tx.ReceiptGasUsed,
		}, nil
	}

	return runBatch(ctx, log, cfg, hashes, load, out)
}
