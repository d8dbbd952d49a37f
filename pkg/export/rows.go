// Package export converts assembled traces into row and trace formats for
// storage and interchange.
package export

import (
	"strings"

	"github.com/ethpandaops/execution-tracer/pkg/tracer"
)

// CallFrameRow is the flattened form of a single frame.
type CallFrameRow struct {
	CallFrameID       uint32
	ParentCallFrameID *uint32  // nil for root frame
	CallFramePath     []uint32 // Path from root to this frame
	Depth             uint32
	TargetAddress     *string
	CallType          string // CALL/DELEGATECALL/STATICCALL/CALLCODE/CREATE/CREATE2 (empty for root)
	OpcodeCount       uint64
	ErrorCount        uint64
	Gas               uint64 // Self gas (excludes children)
	GasCumulative     uint64 // Self + all descendants
	Status            string
	Reverted          bool // Effects discarded by this frame or an ancestor
	LogCount          uint64
	GasRefund         *uint64 // Root frame only (max refund from trace)
	IntrinsicGas      *uint64 // Root frame only (computed from the receipt)
}

// FrameRows returns one row per frame in enter order.
func FrameRows(trace *tracer.Trace) []CallFrameRow {
	if trace == nil || trace.Root == nil {
		return nil
	}

	frames := trace.Frames()
	rows := make([]CallFrameRow, 0, len(frames))

	for _, f := range frames {
		var parentFrameID *uint32

		if !f.IsRoot() {
			parent := f.ParentID
			parentFrameID = &parent
		}

		var target *string

		if f.Target != nil {
			addr := strings.ToLower(f.Target.Hex())
			target = &addr
		}

		row := CallFrameRow{
			CallFrameID:       f.ID,
			ParentCallFrameID: parentFrameID,
			CallFramePath:     append([]uint32(nil), f.Path...),
			Depth:             uint32(f.Depth), //nolint:gosec // depth is bounded by EVM
			TargetAddress:     target,
			CallType:          callType(f.Kind),
			OpcodeCount:       f.StepCount,
			Gas:               f.GasSelf,
			GasCumulative:     f.GasUsed,
			Status:            f.Outcome.Status.String(),
			Reverted:          !trace.Committed(f.ID),
			LogCount:          uint64(len(f.Logs)),
		}

		// The halting opcode is the only erroring opcode a frame can have.
		if f.Outcome.Status == tracer.StatusExceptionalHalt && f.StepCount > 0 {
			row.ErrorCount = 1
		}

		rows = append(rows, row)
	}

	return rows
}

// callType maps a frame kind to its row call type. The root has none.
func callType(kind tracer.Kind) string {
	if kind == tracer.KindRoot {
		return ""
	}

	return kind.String()
}

// SetRootGas fills the root row's refund and, when the receipt gas is known,
// its intrinsic gas. The root row must be first, as FrameRows returns it.
func SetRootGas(rows []CallFrameRow, gasRefund, receiptGas uint64) {
	if len(rows) == 0 || rows[0].ParentCallFrameID != nil {
		return
	}

	root := &rows[0]
	root.GasRefund = &gasRefund

	if receiptGas > 0 {
		intrinsic := computeIntrinsicGas(root.GasCumulative, gasRefund, receiptGas)
		root.IntrinsicGas = &intrinsic
	}
}

// computeIntrinsicGas computes the gas consumed before EVM execution begins
// (21000 base + calldata and access list costs).
//
// The receipt charges intrinsic + gas_cumulative - applied_refund, where the
// applied refund is capped at a fifth of the pre-refund total:
//
//	IF gas_refund >= receipt_gas / 4 THEN
//	  intrinsic = receipt_gas * 5 / 4 - gas_cumulative  (refund was capped)
//	ELSE
//	  intrinsic = receipt_gas - gas_cumulative + gas_refund  (uncapped)
func computeIntrinsicGas(gasCumulative, gasRefund, receiptGas uint64) uint64 {
	if receiptGas == 0 {
		return 0
	}

	var intrinsic uint64

	if gasRefund >= receiptGas/4 {
		cappedValue := receiptGas * 5 / 4
		if cappedValue >= gasCumulative {
			intrinsic = cappedValue - gasCumulative
		}
	} else if receiptGas+gasRefund >= gasCumulative {
		// Reordered so the subtraction never underflows.
		intrinsic = (receiptGas + gasRefund) - gasCumulative
	}

	return intrinsic
}
