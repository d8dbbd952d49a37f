package cmd

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/execution-tracer/internal/testutil"
	"github.com/ethpandaops/execution-tracer/pkg/config"
	"github.com/ethpandaops/execution-tracer/pkg/ethereum/execution"
	"github.com/ethpandaops/execution-tracer/pkg/replay"
)

// fakeNode serves the call trace for every known hash.
type fakeNode struct {
	txs map[common.Hash]*execution.Transaction

	mu      sync.Mutex
	options []execution.TraceOptions
}

var _ execution.Node = (*fakeNode)(nil)

func (f *fakeNode) Start(context.Context) error { return nil }
func (f *fakeNode) Stop(context.Context) error  { return nil }
func (f *fakeNode) ChainID() int64              { return 1 }
func (f *fakeNode) Name() string                { return "fake" }

func (f *fakeNode) Transaction(_ context.Context, hash common.Hash) (*execution.Transaction, error) {
	tx, ok := f.txs[hash]
	if !ok {
		return nil, ethereum.NotFound
	}

	return tx, nil
}

func (f *fakeNode) DebugTraceTransaction(_ context.Context, _ common.Hash, opts execution.TraceOptions) (*execution.TraceTransaction, error) {
	f.mu.Lock()
	f.options = append(f.options, opts)
	f.mu.Unlock()

	return replay.ParseTrace(strings.NewReader(callTrace))
}

func newFakeNode(hashes ...common.Hash) *fakeNode {
	node := &fakeNode{txs: make(map[common.Hash]*execution.Transaction, len(hashes))}

	for _, hash := range hashes {
		to := testutil.Addr(0xc0de)

		node.txs[hash] = &execution.Transaction{
			Hash:           hash,
			From:           testutil.Addr(0xa11ce),
			To:             &to,
			Value:          uint256.NewInt(0),
			ReceiptGasUsed: 21712,
			Succeeded:      true,
		}
	}

	return node
}

func TestRunFetch_Rows(t *testing.T) {
	log, _ := testutil.NewLogger(t)
	hash := testutil.Hash(0x1)
	node := newFakeNode(hash)

	var out bytes.Buffer

	require.NoError(t, runFetch(context.Background(), log, testConfig(t, config.OutputRows), node, []string{hash.Hex()}, false, &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	root := strings.Split(lines[0], "\t")
	require.Len(t, root, 13)
	assert.Equal(t, hash.Hex(), root[0])
	assert.Equal(t, "ROOT", root[4])
	assert.Equal(t, strings.ToLower(testutil.Addr(0xc0de).Hex()), root[5])
	// 21712 receipt gas - 712 execution gas
	assert.Equal(t, "21000", root[12])

	require.Len(t, node.options, 1)
	assert.False(t, node.options[0].DisableStack, "replays need the stack")
}

func TestRunFetch_Summary(t *testing.T) {
	log, _ := testutil.NewLogger(t)
	hashes := []common.Hash{testutil.Hash(0x1), testutil.Hash(0x2)}

	var out bytes.Buffer

	require.NoError(t, runFetch(context.Background(), log, testConfig(t, config.OutputSummary), newFakeNode(hashes...), []string{hashes[0].Hex(), hashes[1].Hex()}, true, &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	for _, line := range lines {
		assert.Contains(t, line, "status=success")
		assert.Contains(t, line, "frames=2")
	}
}

func TestRunFetch_Errors(t *testing.T) {
	log, _ := testutil.NewLogger(t)

	err := runFetch(context.Background(), log, testConfig(t, config.OutputSummary), newFakeNode(), []string{"0x1234"}, false, &bytes.Buffer{})
	require.ErrorContains(t, err, "invalid transaction hash")

	err = runFetch(context.Background(), log, testConfig(t, config.OutputSummary), newFakeNode(), []string{testutil.Hash(0x9).Hex()}, false, &bytes.Buffer{})
	require.ErrorIs(t, err, ethereum.NotFound)
}
