package export

import (
	"testing"
	"time"

	"github.com/ClickHouse/ch-go/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColumns_AppendAndReset(t *testing.T) {
	cols := NewColumns()
	now := time.Now()

	rows := FrameRows(buildTrace(t))
	SetRootGas(rows, 4800, 50000)

	for _, row := range rows {
		cols.Append(now, "trace.json", row)
	}

	assert.Equal(t, 4, cols.Rows())
	assert.Equal(t, 4, cols.ParentCallFrameID.Rows())
	assert.Equal(t, 4, cols.CallFramePath.Rows())
	assert.Equal(t, "trace.json", cols.Source.Row(0))
	assert.Equal(t, "CREATE2", cols.CallType.Row(3))
	assert.True(t, cols.Reverted.Row(1))
	assert.Equal(t, uint64(28000), cols.Gas.Row(0))
	assert.Equal(t, proto.NewNullable(uint64(4800)), cols.GasRefund.Row(0))
	assert.Equal(t, proto.NewNullable(uint64(14800)), cols.IntrinsicGas.Row(0))
	assert.False(t, cols.IntrinsicGas.Row(1).Set)

	cols.Reset()

	assert.Equal(t, 0, cols.Rows())
	assert.Equal(t, 0, cols.CallFramePath.Rows())
}

func TestColumns_Input(t *testing.T) {
	cols := NewColumns()
	input := cols.Input()

	require.Len(t, input, 17)

	seen := make(map[string]bool, len(input))
	for _, col := range input {
		assert.False(t, seen[col.Name], "duplicate column %s", col.Name)
		seen[col.Name] = true
	}

	assert.True(t, seen["call_frame_path"])
	assert.True(t, seen["parent_call_frame_id"])
}
