package export

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/execution-tracer/pkg/ethereum/execution"
)

func TestParityTraces_Tree(t *testing.T) {
	traces := ParityTraces(buildTrace(t))

	require.Len(t, traces, 4)

	tests := []struct {
		traceAddress []uint32
		typ          string
		callType     string
		subtraces    uint32
		failed       bool
	}{
		{[]uint32{}, ParityTypeCall, "call", 2, false},
		{[]uint32{0}, ParityTypeCall, "call", 1, true},
		{[]uint32{0, 0}, ParityTypeCall, "staticcall", 0, false},
		{[]uint32{1}, ParityTypeCreate, "", 0, false},
	}

	for i, tt := range tests {
		pt := traces[i]

		assert.Equal(t, tt.traceAddress, pt.TraceAddress, "case %d", i)
		assert.Equal(t, tt.typ, pt.Type, "case %d", i)
		assert.Equal(t, tt.subtraces, pt.Subtraces, "case %d", i)

		if tt.callType != "" {
			require.NotNil(t, pt.Action.CallType, "case %d", i)
			assert.Equal(t, tt.callType, *pt.Action.CallType, "case %d", i)
		} else {
			assert.Nil(t, pt.Action.CallType, "case %d", i)
		}

		if tt.failed {
			require.NotNil(t, pt.Error, "case %d", i)
			assert.Nil(t, pt.Result, "case %d", i)
		} else {
			assert.Nil(t, pt.Error, "case %d", i)
			require.NotNil(t, pt.Result, "case %d", i)
		}
	}

	root := traces[0]
	assert.Equal(t, strings.ToLower(sender.Hex()), root.Action.From)
	require.NotNil(t, root.Action.To)
	assert.Equal(t, strings.ToLower(contract.Hex()), *root.Action.To)
	assert.Equal(t, "0x186a0", root.Action.Gas)
	assert.Equal(t, "0x1", root.Action.Value)
	assert.Equal(t, "0x01", root.Action.Input)
	assert.Equal(t, "0x9c40", root.Result.GasUsed)

	assert.Equal(t, "Reverted", *traces[1].Error)

	static := traces[2]
	assert.Equal(t, "0x0", static.Action.Value)
	assert.Equal(t, "0x01", static.Result.Output)

	create := traces[3]
	assert.Nil(t, create.Action.To)
	require.NotNil(t, create.Action.CreationType)
	assert.Equal(t, "create2", *create.Action.CreationType)
	require.NotNil(t, create.Action.Init)
	assert.Equal(t, "0x60", *create.Action.Init)
	assert.Equal(t, "0x5", create.Action.Value)
	require.NotNil(t, create.Result.Code)
	assert.Equal(t, "0x6000", *create.Result.Code)
	require.NotNil(t, create.Result.Address)
	assert.Equal(t, strings.ToLower(created.Hex()), *create.Result.Address)
}

func TestParityTraces_Halt(t *testing.T) {
	traces := ParityTraces(buildHaltedTrace(t))

	require.Len(t, traces, 1)
	require.NotNil(t, traces[0].Error)
	assert.Equal(t, "out of gas", *traces[0].Error)
	assert.Nil(t, traces[0].Result)
}

func TestParityTraces_JSON(t *testing.T) {
	raw, err := json.Marshal(ParityTraces(buildTrace(t)))
	require.NoError(t, err)

	var decoded []execution.ParityTrace
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded, 4)
	assert.Equal(t, []uint32{0, 0}, decoded[2].TraceAddress)

	var fields []map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &fields))

	for i, f := range fields {
		assert.NotContains(t, f, "blockHash", "case %d", i)
		assert.Contains(t, f, "traceAddress", "case %d", i)
	}
}
