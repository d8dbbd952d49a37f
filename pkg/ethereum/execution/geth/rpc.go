package geth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	pcommon "github.com/ethpandaops/execution-tracer/pkg/common"
	"github.com/ethpandaops/execution-tracer/pkg/ethereum/execution"
)

const (
	statusError   = "error"
	statusSuccess = "success"
)

// call runs fn under the node's retry policy, recording metrics for every
// attempt. Not-found, JSON-RPC and client-side HTTP errors are returned
// without retrying.
func call[T any](ctx context.Context, n *RPCNode, method string, fn func(ctx context.Context) (T, error)) (T, error) {
	attempt := func() (T, error) {
		start := time.Now()

		res, err := fn(ctx)

		duration := time.Since(start)

		// Record RPC metrics
		status := statusSuccess
		if err != nil {
			status = statusError
		}

		chainID := strconv.FormatInt(n.ChainID(), 10)

		pcommon.RPCCallDuration.WithLabelValues(chainID, n.config.Name, method, status).Observe(duration.Seconds())
		pcommon.RPCCallsTotal.WithLabelValues(chainID, n.config.Name, method, status).Inc()

		if err != nil && !retryable(err) {
			return res, backoff.Permanent(err)
		}

		return res, err
	}

	notify := func(err error, wait time.Duration) {
		pcommon.RPCRetriesTotal.WithLabelValues(n.config.Name, method).Inc()

		n.log.WithError(err).WithFields(logrus.Fields{
			"method": method,
			"wait":   wait,
		}).Warn("RPC call failed, will retry")
	}

	return backoff.RetryNotifyWithData(attempt, backoff.WithContext(n.retryPolicy(), ctx), notify)
}

func (n *RPCNode) retryPolicy() backoff.BackOff {
	if n.config.MaxRetryElapsed <= 0 {
		return &backoff.StopBackOff{}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = n.config.MaxRetryElapsed

	return b
}

func retryable(err error) bool {
	if errors.Is(err, ethereum.NotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= http.StatusInternalServerError || httpErr.StatusCode == http.StatusTooManyRequests
	}

	var rpcErr rpc.Error

	return !errors.As(err, &rpcErr)
}

// Transaction fetches the transaction, its receipt and its sender.
func (n *RPCNode) Transaction(ctx context.Context, hash common.Hash) (*execution.Transaction, error) {
	client, _, err := n.clients()
	if err != nil {
		return nil, err
	}

	type byHash struct {
		tx      *types.Transaction
		pending bool
	}

	got, err := call(ctx, n, "eth_getTransactionByHash", func(ctx context.Context) (byHash, error) {
		tx, pending, err := client.TransactionByHash(ctx, hash)

		return byHash{tx: tx, pending: pending}, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transaction %s: %w", hash.Hex(), err)
	}

	if got.pending {
		return nil, fmt.Errorf("%w: %s", ErrTransactionPending, hash.Hex())
	}

	receipt, err := call(ctx, n, "eth_getTransactionReceipt", func(ctx context.Context) (*types.Receipt, error) {
		return client.TransactionReceipt(ctx, hash)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch receipt %s: %w", hash.Hex(), err)
	}

	// The sender cached from the by-hash response is used when present.
	from, err := call(ctx, n, "eth_getTransactionByBlockHashAndIndex", func(ctx context.Context) (common.Address, error) {
		return client.TransactionSender(ctx, got.tx, receipt.BlockHash, receipt.TransactionIndex)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sender of %s: %w", hash.Hex(), err)
	}

	value, overflow := uint256.FromBig(got.tx.Value())
	if overflow {
		return nil, fmt.Errorf("transaction %s value overflows 256 bits", hash.Hex())
	}

	result := &execution.Transaction{
		Hash:           hash,
		Index:          receipt.TransactionIndex,
		From:           from,
		To:             got.tx.To(),
		Value:          value,
		Input:          got.tx.Data(),
		ReceiptGasUsed: receipt.GasUsed,
		Succeeded:      receipt.Status == types.ReceiptStatusSuccessful,
	}

	if receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}

	if result.To == nil {
		created := receipt.ContractAddress
		result.ContractAddress = &created
	}

	return result, nil
}

// getTraceParams returns VM trace parameters with configurable options.
func getTraceParams(hash string, options execution.TraceOptions) []any {
	return []any{
		hash,
		map[string]any{
			"disableStorage":   options.DisableStorage,
			"disableStack":     options.DisableStack,
			"disableMemory":    options.DisableMemory,
			"enableReturnData": options.EnableReturnData,
		},
	}
}

// DebugTraceTransaction fetches the struct-log trace of a transaction.
func (n *RPCNode) DebugTraceTransaction(ctx context.Context, hash common.Hash, options execution.TraceOptions) (*execution.TraceTransaction, error) {
	_, rpcClient, err := n.clients()
	if err != nil {
		return nil, err
	}

	rsp, err := call(ctx, n, "debug_traceTransaction", func(ctx context.Context) (*structLogResult, error) {
		if n.config.TraceTimeout > 0 {
			var cancel context.CancelFunc

			ctx, cancel = context.WithTimeout(ctx, n.config.TraceTimeout)
			defer cancel()
		}

		var rsp structLogResult

		if err := rpcClient.CallContext(ctx, &rsp, "debug_traceTransaction", getTraceParams(hash.Hex(), options)...); err != nil {
			return nil, err
		}

		return &rsp, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to trace transaction %s: %w", hash.Hex(), err)
	}

	return rsp.toTrace(), nil
}

// structLogResult is the struct logger's debug_traceTransaction result.
type structLogResult struct {
	Gas         uint64             `json:"gas"`
	Failed      bool               `json:"failed"`
	ReturnValue *string            `json:"returnValue"`
	StructLogs  []structLogMessage `json:"structLogs"`
}

type structLogMessage struct {
	PC         uint32         `json:"pc"`
	Op         string         `json:"op"`
	Gas        uint64         `json:"gas"`
	GasCost    uint64         `json:"gasCost"`
	Depth      uint64         `json:"depth"`
	ReturnData *hexutil.Bytes `json:"returnData"`
	Refund     *uint64        `json:"refund"`
	Error      *string        `json:"error"`
	Stack      *[]string      `json:"stack"`
}

func (r *structLogResult) toTrace() *execution.TraceTransaction {
	returnValue := r.ReturnValue
	if returnValue != nil && (*returnValue == "" || *returnValue == "0x") {
		returnValue = nil
	}

	result := &execution.TraceTransaction{
		Gas:         r.Gas,
		Failed:      r.Failed,
		ReturnValue: returnValue,
		Structlogs:  make([]execution.StructLog, 0, len(r.StructLogs)),
	}

	// Empty array on transfer
	for _, log := range r.StructLogs {
		var returnData *string

		if log.ReturnData != nil {
			encoded := log.ReturnData.String()
			returnData = &encoded
		}

		result.Structlogs = append(result.Structlogs, execution.StructLog{
			PC:         log.PC,
			Op:         log.Op,
			Gas:        log.Gas,
			GasCost:    log.GasCost,
			Depth:      log.Depth,
			ReturnData: returnData,
			Refund:     log.Refund,
			Error:      log.Error,
			Stack:      log.Stack,
		})
	}

	return result
}
