package geth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/execution-tracer/internal/testutil"
	pcommon "github.com/ethpandaops/execution-tracer/pkg/common"
	"github.com/ethpandaops/execution-tracer/pkg/ethereum/execution"
)

var (
	callHash   = testutil.Hash(0x1)
	createHash = testutil.Hash(0x2)
	blockHash  = testutil.Hash(0xb10c)
	sender     = testutil.Addr(0xa11ce)
	recipient  = testutil.Addr(0xc0de)
	deployed   = testutil.Addr(0xd3)
)

const emptyBloom = "0x" + "00000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000" +
	"00000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000" +
	"00000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000" +
	"00000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000"

type ethAPI struct{}

func (ethAPI) ChainId() hexutil.Uint64 {
	return 1337
}

func (ethAPI) GetTransactionByHash(hash common.Hash) (json.RawMessage, error) {
	to := `"to": "` + recipient.Hex() + `",`
	input := "0xa9059cbb"

	switch hash {
	case callHash:
	case createHash:
		to = ""
		input = "0x6000"
	default:
		return nil, nil
	}

	return json.RawMessage(fmt.Sprintf(`{
		"type": "0x0",
		"nonce": "0x1",
		"gasPrice": "0x1",
		"gas": "0x30000",
		%s
		"value": "0x3e8",
		"input": %q,
		"v": "0x1b",
		"r": "0x1",
		"s": "0x1",
		"hash": %q,
		"blockHash": %q,
		"blockNumber": "0x10",
		"transactionIndex": "0x2",
		"from": %q
	}`, to, input, hash.Hex(), blockHash.Hex(), sender.Hex())), nil
}

func (ethAPI) GetTransactionReceipt(hash common.Hash) (json.RawMessage, error) {
	contract := ""
	if hash == createHash {
		contract = `"contractAddress": "` + deployed.Hex() + `",`
	}

	return json.RawMessage(fmt.Sprintf(`{
		"type": "0x0",
		"status": "0x1",
		"cumulativeGasUsed": "0x5208",
		"gasUsed": "0x5208",
		"logsBloom": %q,
		"logs": [],
		%s
		"transactionHash": %q,
		"blockHash": %q,
		"blockNumber": "0x10",
		"transactionIndex": "0x2"
	}`, emptyBloom, contract, hash.Hex(), blockHash.Hex())), nil
}

type debugAPI struct {
	mu      sync.Mutex
	configs []map[string]any
}

func (d *debugAPI) TraceTransaction(hash common.Hash, cfg map[string]any) (json.RawMessage, error) {
	d.mu.Lock()
	d.configs = append(d.configs, cfg)
	d.mu.Unlock()

	if hash != callHash {
		return nil, errors.New("transaction not found")
	}

	return json.RawMessage(`{
		"gas": 712,
		"failed": false,
		"returnValue": "0x",
		"structLogs": [
			{"pc": 0, "op": "CALL", "gas": 997, "gasCost": 700, "depth": 1, "stack": ["0x0", "0xbb", "0x100"]},
			{"pc": 0, "op": "STOP", "gas": 250, "gasCost": 0, "depth": 2, "stack": []},
			{"pc": 1, "op": "POP", "gas": 290, "gasCost": 2, "depth": 1, "returnData": "0xbeef", "refund": 4800, "stack": ["0x1"]}
		]
	}`), nil
}

type testNode struct {
	node    *RPCNode
	debug   *debugAPI
	headers atomic.Value
	failing atomic.Int32
}

// newTestNode serves an in-process JSON-RPC server. The first failures
// requests are answered with 503.
func newTestNode(t *testing.T, conf *execution.Config, failures int32) *testNode {
	t.Helper()

	tn := &testNode{debug: &debugAPI{}}
	tn.failing.Store(failures)

	srv := rpc.NewServer()
	require.NoError(t, srv.RegisterName("eth", ethAPI{}))
	require.NoError(t, srv.RegisterName("debug", tn.debug))

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tn.headers.Store(r.Header.Clone())

		if tn.failing.Add(-1) >= 0 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		srv.ServeHTTP(w, r)
	}))

	t.Cleanup(func() {
		ts.Close()
		srv.Stop()
	})

	conf.NodeAddress = ts.URL
	if conf.Name == "" {
		conf.Name = t.Name()
	}

	log, _ := testutil.NewLogger(t)
	tn.node = NewRPCNode(log, conf)

	return tn
}

func (tn *testNode) start(t *testing.T) {
	t.Helper()

	require.NoError(t, tn.node.Start(context.Background()))

	t.Cleanup(func() { _ = tn.node.Stop(context.Background()) })
}

func TestRPCNode_StartResolvesChainID(t *testing.T) {
	tn := newTestNode(t, &execution.Config{NodeHeaders: map[string]string{"Authorization": "Bearer token"}}, 0)
	tn.start(t)

	assert.Equal(t, int64(1337), tn.node.ChainID())
	assert.Equal(t, t.Name(), tn.node.Name())

	headers, ok := tn.headers.Load().(http.Header)
	require.True(t, ok)
	assert.Equal(t, "Bearer token", headers.Get("Authorization"))
}

func TestRPCNode_NotStarted(t *testing.T) {
	tn := newTestNode(t, &execution.Config{}, 0)

	_, err := tn.node.Transaction(context.Background(), callHash)
	require.ErrorIs(t, err, ErrNotStarted)

	_, err = tn.node.DebugTraceTransaction(context.Background(), callHash, execution.StackTraceOptions())
	require.ErrorIs(t, err, ErrNotStarted)
}

func TestRPCNode_Transaction(t *testing.T) {
	tn := newTestNode(t, &execution.Config{}, 0)
	tn.start(t)

	tx, err := tn.node.Transaction(context.Background(), callHash)
	require.NoError(t, err)

	assert.Equal(t, callHash, tx.Hash)
	assert.Equal(t, uint64(16), tx.BlockNumber)
	assert.Equal(t, uint(2), tx.Index)
	assert.Equal(t, sender, tx.From)
	require.NotNil(t, tx.To)
	assert.Equal(t, recipient, *tx.To)
	assert.Equal(t, uint64(1000), tx.Value.Uint64())
	assert.Equal(t, common.FromHex("0xa9059cbb"), tx.Input)
	assert.Nil(t, tx.ContractAddress)
	assert.Equal(t, uint64(21000), tx.ReceiptGasUsed)
	assert.True(t, tx.Succeeded)
}

func TestRPCNode_TransactionCreate(t *testing.T) {
	tn := newTestNode(t, &execution.Config{}, 0)
	tn.start(t)

	tx, err := tn.node.Transaction(context.Background(), createHash)
	require.NoError(t, err)

	assert.Nil(t, tx.To)
	require.NotNil(t, tx.ContractAddress)
	assert.Equal(t, deployed, *tx.ContractAddress)
}

func TestRPCNode_TransactionNotFound(t *testing.T) {
	tn := newTestNode(t, &execution.Config{MaxRetryElapsed: time.Minute}, 0)
	tn.start(t)

	_, err := tn.node.Transaction(context.Background(), testutil.Hash(0xdead))
	require.ErrorIs(t, err, ethereum.NotFound)
}

func TestRPCNode_DebugTraceTransaction(t *testing.T) {
	tn := newTestNode(t, &execution.Config{}, 0)
	tn.start(t)

	trace, err := tn.node.DebugTraceTransaction(context.Background(), callHash, execution.StackTraceOptions())
	require.NoError(t, err)

	assert.Equal(t, uint64(712), trace.Gas)
	assert.Nil(t, trace.ReturnValue, "empty return values are dropped")
	require.Len(t, trace.Structlogs, 3)

	pop := trace.Structlogs[2]
	require.NotNil(t, pop.ReturnData)
	assert.Equal(t, "0xbeef", *pop.ReturnData)
	require.NotNil(t, pop.Refund)
	assert.Equal(t, uint64(4800), *pop.Refund)

	top, ok := trace.Structlogs[0].StackBack(1)
	require.True(t, ok)
	assert.Equal(t, "0xbb", top)

	require.Len(t, tn.debug.configs, 1)
	assert.Equal(t, false, tn.debug.configs[0]["disableStack"])
	assert.Equal(t, true, tn.debug.configs[0]["enableReturnData"])
}

func TestRPCNode_DebugTraceTransactionRPCError(t *testing.T) {
	tn := newTestNode(t, &execution.Config{MaxRetryElapsed: time.Minute}, 0)
	tn.start(t)

	before := promtestutil.ToFloat64(pcommon.RPCRetriesTotal.WithLabelValues(t.Name(), "debug_traceTransaction"))

	_, err := tn.node.DebugTraceTransaction(context.Background(), createHash, execution.DefaultTraceOptions())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "transaction not found"))

	var rpcErr rpc.Error

	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, before, promtestutil.ToFloat64(pcommon.RPCRetriesTotal.WithLabelValues(t.Name(), "debug_traceTransaction")))
	assert.Len(t, tn.debug.configs, 1, "JSON-RPC errors are not retried")
}

func TestRPCNode_RetriesUnavailable(t *testing.T) {
	tn := newTestNode(t, &execution.Config{MaxRetryElapsed: 10 * time.Second}, 2)
	tn.start(t)

	assert.Equal(t, int64(1337), tn.node.ChainID())
	assert.Equal(t, float64(2), promtestutil.ToFloat64(pcommon.RPCRetriesTotal.WithLabelValues(t.Name(), "eth_chainId")))
	assert.Equal(t, float64(2), promtestutil.ToFloat64(pcommon.RPCCallsTotal.WithLabelValues("0", t.Name(), "eth_chainId", statusError)))
}

func TestRPCNode_NoRetriesWhenDisabled(t *testing.T) {
	tn := newTestNode(t, &execution.Config{}, 1)

	err := tn.node.Start(context.Background())
	require.Error(t, err)

	var httpErr rpc.HTTPError

	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "not found", err: ethereum.NotFound, want: false},
		{name: "cancelled", err: context.Canceled, want: false},
		{name: "server unavailable", err: rpc.HTTPError{StatusCode: http.StatusServiceUnavailable}, want: true},
		{name: "rate limited", err: rpc.HTTPError{StatusCode: http.StatusTooManyRequests}, want: true},
		{name: "unauthorized", err: rpc.HTTPError{StatusCode: http.StatusUnauthorized}, want: false},
		{name: "transport", err: errors.New("connection refused"), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, retryable(tt.err))
		})
	}
}
