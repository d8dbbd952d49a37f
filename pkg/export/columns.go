package export

import (
	"time"

	"github.com/ClickHouse/ch-go/proto"
)

// Columns holds call frame rows in ch-go columnar form for batch inserts.
type Columns struct {
	UpdatedDateTime   proto.ColDateTime
	Source            proto.ColStr
	CallFrameID       proto.ColUInt32
	ParentCallFrameID *proto.ColNullable[uint32]
	CallFramePath     *proto.ColArr[uint32] // Path from root to this frame
	Depth             proto.ColUInt32
	TargetAddress     *proto.ColNullable[string]
	CallType          proto.ColStr
	OpcodeCount       proto.ColUInt64
	ErrorCount        proto.ColUInt64
	Gas               proto.ColUInt64
	GasCumulative     proto.ColUInt64
	Status            proto.ColStr
	Reverted          proto.ColBool
	LogCount          proto.ColUInt64
	GasRefund         *proto.ColNullable[uint64]
	IntrinsicGas      *proto.ColNullable[uint64]
}

// NewColumns creates a new Columns instance with all columns initialized.
func NewColumns() *Columns {
	return &Columns{
		ParentCallFrameID: new(proto.ColUInt32).Nullable(),
		CallFramePath:     new(proto.ColUInt32).Array(),
		TargetAddress:     new(proto.ColStr).Nullable(),
		GasRefund:         new(proto.ColUInt64).Nullable(),
		IntrinsicGas:      new(proto.ColUInt64).Nullable(),
	}
}

// Append adds a row to all columns. source identifies the trace the row
// belongs to, such as a transaction hash or file name.
func (c *Columns) Append(updatedDateTime time.Time, source string, row CallFrameRow) {
	c.UpdatedDateTime.Append(updatedDateTime)
	c.Source.Append(source)
	c.CallFrameID.Append(row.CallFrameID)
	c.ParentCallFrameID.Append(nullableUint32(row.ParentCallFrameID))
	c.CallFramePath.Append(row.CallFramePath)
	c.Depth.Append(row.Depth)
	c.TargetAddress.Append(nullableStr(row.TargetAddress))
	c.CallType.Append(row.CallType)
	c.OpcodeCount.Append(row.OpcodeCount)
	c.ErrorCount.Append(row.ErrorCount)
	c.Gas.Append(row.Gas)
	c.GasCumulative.Append(row.GasCumulative)
	c.Status.Append(row.Status)
	c.Reverted.Append(row.Reverted)
	c.LogCount.Append(row.LogCount)
	c.GasRefund.Append(nullableUint64(row.GasRefund))
	c.IntrinsicGas.Append(nullableUint64(row.IntrinsicGas))
}

// Reset clears all columns for reuse.
func (c *Columns) Reset() {
	c.UpdatedDateTime.Reset()
	c.Source.Reset()
	c.CallFrameID.Reset()
	c.ParentCallFrameID.Reset()
	c.CallFramePath.Reset()
	c.Depth.Reset()
	c.TargetAddress.Reset()
	c.CallType.Reset()
	c.OpcodeCount.Reset()
	c.ErrorCount.Reset()
	c.Gas.Reset()
	c.GasCumulative.Reset()
	c.Status.Reset()
	c.Reverted.Reset()
	c.LogCount.Reset()
	c.GasRefund.Reset()
	c.IntrinsicGas.Reset()
}

// Input returns the proto.Input for inserting data.
func (c *Columns) Input() proto.Input {
	return proto.Input{
		{Name: "updated_date_time", Data: &c.UpdatedDateTime},
		{Name: "source", Data: &c.Source},
		{Name: "call_frame_id", Data: &c.CallFrameID},
		{Name: "parent_call_frame_id", Data: c.ParentCallFrameID},
		{Name: "call_frame_path", Data: c.CallFramePath},
		{Name: "depth", Data: &c.Depth},
		{Name: "target_address", Data: c.TargetAddress},
		{Name: "call_type", Data: &c.CallType},
		{Name: "opcode_count", Data: &c.OpcodeCount},
		{Name: "error_count", Data: &c.ErrorCount},
		{Name: "gas", Data: &c.Gas},
		{Name: "gas_cumulative", Data: &c.GasCumulative},
		{Name: "status", Data: &c.Status},
		{Name: "reverted", Data: &c.Reverted},
		{Name: "log_count", Data: &c.LogCount},
		{Name: "gas_refund", Data: c.GasRefund},
		{Name: "intrinsic_gas", Data: c.IntrinsicGas},
	}
}

// Rows returns the number of rows in the columns.
func (c *Columns) Rows() int {
	return c.CallFrameID.Rows()
}

// nullableStr converts a *string to proto.Nullable[string].
func nullableStr(s *string) proto.Nullable[string] {
	if s == nil {
		return proto.Null[string]()
	}

	return proto.NewNullable(*s)
}

// nullableUint32 converts a *uint32 to proto.Nullable[uint32].
func nullableUint32(v *uint32) proto.Nullable[uint32] {
	if v == nil {
		return proto.Null[uint32]()
	}

	return proto.NewNullable(*v)
}

// nullableUint64 converts a *uint64 to proto.Nullable[uint64].
func nullableUint64(v *uint64) proto.Nullable[uint64] {
	if v == nil {
		return proto.Null[uint64]()
	}

	return proto.NewNullable(*v)
}
