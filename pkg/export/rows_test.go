package export

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRows_Tree(t *testing.T) {
	rows := FrameRows(buildTrace(t))

	require.Len(t, rows, 4)

	root := rows[0]
	assert.Equal(t, uint32(0), root.CallFrameID)
	assert.Nil(t, root.ParentCallFrameID)
	assert.Equal(t, []uint32{0}, root.CallFramePath)
	assert.Equal(t, uint32(0), root.Depth)
	assert.Empty(t, root.CallType)
	require.NotNil(t, root.TargetAddress)
	assert.Equal(t, strings.ToLower(contract.Hex()), *root.TargetAddress)
	assert.Equal(t, uint64(3), root.OpcodeCount)
	assert.Equal(t, uint64(40000), root.GasCumulative)
	assert.Equal(t, uint64(28000), root.Gas)
	assert.Equal(t, "success", root.Status)
	assert.False(t, root.Reverted)

	call := rows[1]
	require.NotNil(t, call.ParentCallFrameID)
	assert.Equal(t, uint32(0), *call.ParentCallFrameID)
	assert.Equal(t, "CALL", call.CallType)
	assert.Equal(t, uint64(1500), call.Gas)
	assert.Equal(t, uint64(2000), call.GasCumulative)
	assert.Equal(t, "revert", call.Status)
	assert.True(t, call.Reverted)
	assert.Equal(t, uint64(0), call.ErrorCount)

	static := rows[2]
	assert.Equal(t, []uint32{0, 1, 2}, static.CallFramePath)
	assert.Equal(t, uint32(2), static.Depth)
	assert.Equal(t, "STATICCALL", static.CallType)
	assert.Equal(t, "success", static.Status)
	assert.True(t, static.Reverted, "success inside a reverted frame is discarded")
	assert.Equal(t, uint64(1), static.LogCount)

	create := rows[3]
	assert.Equal(t, "CREATE2", create.CallType)
	require.NotNil(t, create.TargetAddress)
	assert.Equal(t, strings.ToLower(created.Hex()), *create.TargetAddress)
	assert.False(t, create.Reverted)
}

func TestFrameRows_Halt(t *testing.T) {
	rows := FrameRows(buildHaltedTrace(t))

	require.Len(t, rows, 1)
	assert.Equal(t, uint64(1), rows[0].ErrorCount)
	assert.Equal(t, "exceptional_halt", rows[0].Status)
	assert.True(t, rows[0].Reverted)
}

func TestFrameRows_Nil(t *testing.T) {
	assert.Nil(t, FrameRows(nil))
}

func TestFrameRows_PathIsCopied(t *testing.T) {
	trace := buildTrace(t)
	rows := FrameRows(trace)

	rows[2].CallFramePath[0] = 99

	assert.Equal(t, uint32(0), trace.Root.Children[0].Children[0].Path[0])
}

func TestSetRootGas(t *testing.T) {
	rows := FrameRows(buildTrace(t))

	SetRootGas(rows, 4800, 0)

	require.NotNil(t, rows[0].GasRefund)
	assert.Equal(t, uint64(4800), *rows[0].GasRefund)
	assert.Nil(t, rows[0].IntrinsicGas, "no receipt, no intrinsic gas")
	assert.Nil(t, rows[1].GasRefund)

	// 50000 - 40000 + 4800
	SetRootGas(rows, 4800, 50000)

	require.NotNil(t, rows[0].IntrinsicGas)
	assert.Equal(t, uint64(14800), *rows[0].IntrinsicGas)

	SetRootGas(nil, 1, 1)
	SetRootGas(rows[1:], 1, 1)
	assert.Nil(t, rows[1].GasRefund, "only a root row is filled")
}

func TestComputeIntrinsicGas(t *testing.T) {
	tests := []struct {
		name          string
		gasCumulative uint64
		gasRefund     uint64
		receiptGas    uint64
		want          uint64
	}{
		// 100000 - 80000 + 10000
		{name: "uncapped", gasCumulative: 80000, gasRefund: 10000, receiptGas: 100000, want: 30000},
		// 100000 * 5/4 - 80000
		{name: "capped", gasCumulative: 80000, gasRefund: 30000, receiptGas: 100000, want: 45000},
		{name: "zero receipt", gasCumulative: 1000, gasRefund: 100, receiptGas: 0, want: 0},
		{name: "receipt below cumulative", gasCumulative: 1000, gasRefund: 100, receiptGas: 500, want: 0},
		{name: "refund covers the gap", gasCumulative: 1000, gasRefund: 200, receiptGas: 900, want: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, computeIntrinsicGas(tt.gasCumulative, tt.gasRefund, tt.receiptGas))
		})
	}
}
