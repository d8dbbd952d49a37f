package export

import (
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ethpandaops/execution-tracer/pkg/ethereum/execution"
	"github.com/ethpandaops/execution-tracer/pkg/tracer"
)

// Parity trace and call types.
const (
	ParityTypeCall   = "call"
	ParityTypeCreate = "create"

	parityErrorReverted = "Reverted"
)

// ParityTraces flattens the frame tree into parity-style traces in depth
// first order.
func ParityTraces(trace *tracer.Trace) []execution.ParityTrace {
	if trace == nil || trace.Root == nil {
		return nil
	}

	out := make([]execution.ParityTrace, 0, trace.FrameCount)

	var walk func(f *tracer.Frame, traceAddress []uint32)

	walk = func(f *tracer.Frame, traceAddress []uint32) {
		out = append(out, parityTrace(f, traceAddress))

		for i, child := range f.Children {
			childAddress := make([]uint32, len(traceAddress)+1)
			copy(childAddress, traceAddress)
			childAddress[len(traceAddress)] = uint32(i) //nolint:gosec // bounded by frame count

			walk(child, childAddress)
		}
	}

	walk(trace.Root, []uint32{})

	return out
}

func parityTrace(f *tracer.Frame, traceAddress []uint32) execution.ParityTrace {
	pt := execution.ParityTrace{
		Subtraces:    uint32(len(f.Children)), //nolint:gosec // bounded by frame count
		TraceAddress: traceAddress,
	}

	pt.Action = execution.ParityTraceAction{
		From:  lowerHex(f.Caller.Hex()),
		Gas:   hexutil.EncodeUint64(f.GasLimit),
		Value: "0x0",
	}

	if f.Value != nil {
		pt.Action.Value = f.Value.Hex()
	}

	input := hexutil.Encode(f.Input)

	if f.Kind.IsCreate() {
		pt.Type = ParityTypeCreate
		creationType := strings.ToLower(f.Kind.String())
		pt.Action.CreationType = &creationType
		pt.Action.Init = &input
	} else {
		pt.Type = ParityTypeCall
		callType := strings.ToLower(tracer.KindCall.String())

		if f.Kind != tracer.KindRoot {
			callType = strings.ToLower(f.Kind.String())
		}

		pt.Action.CallType = &callType
		pt.Action.Input = input

		if f.Target != nil {
			to := lowerHex(f.Target.Hex())
			pt.Action.To = &to
		}
	}

	switch f.Outcome.Status {
	case tracer.StatusRevert:
		msg := parityErrorReverted
		pt.Error = &msg
	case tracer.StatusExceptionalHalt:
		msg := "exceptional halt"
		if f.Outcome.Cause != nil {
			msg = f.Outcome.Cause.Error()
		}

		pt.Error = &msg
	default:
		pt.Result = parityResult(f)
	}

	return pt
}

func parityResult(f *tracer.Frame) *execution.ParityTraceResult {
	result := &execution.ParityTraceResult{
		GasUsed: hexutil.EncodeUint64(f.GasUsed),
		Output:  hexutil.Encode(f.Outcome.Output),
	}

	if f.Kind.IsCreate() {
		code := hexutil.Encode(f.DeployedCode)
		result.Code = &code
		result.Output = ""

		if f.Target != nil {
			addr := lowerHex(f.Target.Hex())
			result.Address = &addr
		}
	}

	return result
}

func lowerHex(s string) string {
	return strings.ToLower(s)
}
