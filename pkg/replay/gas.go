package replay

import (
	"math"

	"github.com/ethpandaops/execution-tracer/pkg/ethereum/execution"
)

// hasPrecomputedGasUsed detects whether the tracer that produced the struct
// logs already filled in GasUsed.
func hasPrecomputedGasUsed(structlogs []execution.StructLog) bool {
	if len(structlogs) == 0 {
		return false
	}

	return structlogs[0].GasUsed > 0
}

// computeGasUsed returns the gas actually consumed by each struct log, using
// the difference between consecutive gas values at the same depth.
//
// The last opcode of each call context keeps its reported GasCost since the
// next gas value at that depth belongs to the parent.
func computeGasUsed(structlogs []execution.StructLog) []uint64 {
	if len(structlogs) == 0 {
		return nil
	}

	gasUsed := make([]uint64, len(structlogs))

	if hasPrecomputedGasUsed(structlogs) {
		for i := range structlogs {
			gasUsed[i] = structlogs[i].GasUsed
		}

		return gasUsed
	}

	for i := range structlogs {
		gasUsed[i] = structlogs[i].GasCost
	}

	// pendingIdx[depth] is the index of the last opcode seen at that depth, -1 if none.
	pendingIdx := make([]int, 0, 16)

	for i := range structlogs {
		depthU64 := structlogs[i].Depth
		if depthU64 > math.MaxInt {
			depthU64 = math.MaxInt
		}

		depth := int(depthU64) //nolint:gosec // G115: overflow guarded above

		for len(pendingIdx) <= depth {
			pendingIdx = append(pendingIdx, -1)
		}

		// Returned from calls: deeper pending opcodes were the last in their context.
		for d := len(pendingIdx) - 1; d > depth; d-- {
			pendingIdx[d] = -1
		}

		if prevIdx := pendingIdx[depth]; prevIdx >= 0 {
			// Out of order gas values keep the reported cost instead of underflowing.
			if structlogs[prevIdx].Gas >= structlogs[i].Gas {
				gasUsed[prevIdx] = structlogs[prevIdx].Gas - structlogs[i].Gas
			}
		}

		pendingIdx[depth] = i
	}

	return gasUsed
}

// frameGasUsed applies gas = first_gas - last_gas + last_gas_used over the
// struct logs of one frame, which covers the frame and all its descendants.
func frameGasUsed(first, last *execution.StructLog, lastGasUsed uint64) uint64 {
	if first.Gas >= last.Gas {
		return first.Gas - last.Gas + lastGasUsed
	}

	return lastGasUsed
}
