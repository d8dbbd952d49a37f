package execution

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Node fetches transactions and their struct-log traces from an execution
// client.
//
// All methods must be safe for concurrent use by multiple goroutines.
type Node interface {
	// Start connects to the execution client and resolves its chain ID.
	Start(ctx context.Context) error

	// Stop releases the connection.
	Stop(ctx context.Context) error

	// Transaction returns the transaction with the given hash joined with
	// its receipt.
	Transaction(ctx context.Context, hash common.Hash) (*Transaction, error)

	// DebugTraceTransaction returns the struct-log trace for the transaction.
	DebugTraceTransaction(ctx context.Context, hash common.Hash, opts TraceOptions) (*TraceTransaction, error)

	// ChainID returns the chain ID reported by the execution client.
	ChainID() int64

	// Name returns the configured name for this node.
	Name() string
}
