// Package replay drives a tracer.Observer from a recorded struct-log trace,
// reconstructing call and create frames from depth changes.
package replay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	pcommon "github.com/ethpandaops/execution-tracer/pkg/common"
	"github.com/ethpandaops/execution-tracer/pkg/ethereum/execution"
	"github.com/ethpandaops/execution-tracer/pkg/tracer"
)

var (
	// ErrDepthJump indicates a struct log more than one level deeper than its predecessor.
	ErrDepthJump = errors.New("struct log depth increased by more than one")

	// ErrUnknownEntry indicates a depth increase not preceded by a call or create opcode.
	ErrUnknownEntry = errors.New("depth increase without a call or create opcode")

	// ErrDepthUnderflow indicates a struct log shallower than the first one.
	ErrDepthUnderflow = errors.New("struct log depth below root depth")

	// ErrRPCError indicates the input was a JSON-RPC error response.
	ErrRPCError = errors.New("trace response carries an RPC error")

	// ErrExecutionFailed is the halt cause for a failed trace without an error message.
	ErrExecutionFailed = errors.New("execution failed")

	// ErrCallFailed is the halt cause for a code-less call that pushed zero.
	ErrCallFailed = errors.New("call failed")

	// ErrCreateFailed is the halt cause for a creation that pushed a zero
	// address, such as a failed code deposit or a rejected entry.
	ErrCreateFailed = errors.New("contract creation failed")
)

// Options describe the transaction the trace belongs to.
type Options struct {
	From common.Address
	// To is nil for a contract creation.
	To    *common.Address
	Value *uint256.Int
	Input []byte
	// Created is the deployed address of a contract creation, if known.
	Created *common.Address
	// Stack decodes and forwards the stack with every step.
	Stack bool
}

// frame is an open frame during replay.
type frame struct {
	kind tracer.Kind
	// address is the account whose storage and logs the frame acts on.
	address  common.Address
	entryIdx int // CALL/CREATE opcode in the parent, -1 for the root
	firstIdx int
	lastIdx  int
}

// Replayer replays struct-log traces into observers.
type Replayer struct {
	log  logrus.FieldLogger
	name string
}

// New creates a Replayer. name labels its metrics.
func New(log logrus.FieldLogger, name string) *Replayer {
	return &Replayer{
		log:  log.WithField("component", "replay"),
		name: name,
	}
}

// run is the state of a single replay.
type run struct {
	r       *Replayer
	obs     tracer.Observer
	opts    Options
	logs    []execution.StructLog
	gasUsed []uint64
	created map[int]common.Address

	stack     []*frame
	baseDepth uint64
}

// Run replays trace into obs. The trace's gas costs are sanitized in place.
// Every frame entered is exited before Run returns nil.
func (r *Replayer) Run(trace *execution.TraceTransaction, obs tracer.Observer, opts Options) (err error) {
	start := time.Now()

	defer func() {
		status := "success"
		if err != nil {
			status = "failed"

			pcommon.ReplayErrors.WithLabelValues(r.name, errorType(err)).Inc()
		}

		pcommon.ReplayDuration.WithLabelValues(r.name, status).Observe(time.Since(start).Seconds())
	}()

	if corrected := execution.SanitizeStructLogs(trace.Structlogs); corrected > 0 {
		r.log.WithField("corrected", corrected).Debug("Sanitized corrupted gas costs")
	}

	s := &run{
		r:         r,
		obs:       obs,
		opts:      opts,
		logs:      trace.Structlogs,
		gasUsed:   computeGasUsed(trace.Structlogs),
		created:   createAddresses(trace.Structlogs),
		stack:     make([]*frame, 0, 16),
		baseDepth: 1,
	}

	if len(s.logs) > 0 {
		s.baseDepth = s.logs[0].Depth
	}

	s.enterRoot(trace)

	for i := range s.logs {
		if err := s.process(i); err != nil {
			return err
		}
	}

	for len(s.stack) > 1 {
		s.exitTop(nil)
	}

	s.exitRoot(trace)

	r.log.WithFields(logrus.Fields{
		"struct_logs": len(s.logs),
		"gas":         trace.Gas,
		"failed":      trace.Failed,
	}).Debug("Replayed trace")

	return nil
}

func (s *run) depth() uint64 {
	return s.baseDepth + uint64(len(s.stack)) - 1
}

func (s *run) top() *frame {
	return s.stack[len(s.stack)-1]
}

func (s *run) enterRoot(trace *execution.TraceTransaction) {
	gas := trace.Gas
	if len(s.logs) > 0 {
		gas = s.logs[0].Gas
	}

	root := &frame{entryIdx: -1, firstIdx: -1, lastIdx: -1}

	if s.opts.To == nil {
		root.kind = tracer.KindCreate

		if s.opts.Created != nil {
			root.address = *s.opts.Created
		}

		s.obs.OnCreateEnter(tracer.KindCreate, s.opts.From, s.opts.Value, s.opts.Input, gas)
	} else {
		root.kind = tracer.KindRoot
		root.address = *s.opts.To

		s.obs.OnCallEnter(tracer.KindRoot, s.opts.From, *s.opts.To, s.opts.Value, s.opts.Input, gas)
	}

	s.stack = append(s.stack, root)
}

func (s *run) process(i int) error {
	sl := &s.logs[i]

	switch cur := s.depth(); {
	case sl.Depth > cur:
		if sl.Depth != cur+1 {
			return fmt.Errorf("%w: %d to %d at struct log %d", ErrDepthJump, cur, sl.Depth, i)
		}

		if err := s.enterChild(i); err != nil {
			return err
		}
	case sl.Depth < cur:
		if sl.Depth < s.baseDepth {
			return fmt.Errorf("%w: %d at struct log %d", ErrDepthUnderflow, sl.Depth, i)
		}

		for s.depth() > sl.Depth {
			s.exitTop(sl)
		}
	}

	top := s.top()
	if top.firstIdx < 0 {
		top.firstIdx = i
	}

	top.lastIdx = i

	return s.step(i, top)
}

// enterChild opens the frame whose first struct log is at index i.
func (s *run) enterChild(i int) error {
	if i == 0 {
		return fmt.Errorf("%w: at struct log 0", ErrUnknownEntry)
	}

	entry := &s.logs[i-1]
	op := vm.StringToOp(entry.Op)

	kind, ok := tracer.KindFromOpCode(op)
	if !ok {
		return fmt.Errorf("%w: %s at struct log %d", ErrUnknownEntry, entry.Op, i-1)
	}

	parent := s.top()
	child := &frame{kind: kind, entryIdx: i - 1, firstIdx: i, lastIdx: i}
	gas := s.logs[i].Gas

	if kind.IsCreate() {
		child.address = s.created[i-1]
		s.obs.OnCreateEnter(kind, parent.address, callValue(entry, op), nil, gas)
	} else {
		target, _ := callTarget(entry)

		child.address = target
		if kind == tracer.KindDelegateCall || kind == tracer.KindCallCode {
			child.address = parent.address
		}

		s.obs.OnCallEnter(kind, parent.address, target, callValue(entry, op), nil, gas)
	}

	s.stack = append(s.stack, child)

	return nil
}

// exitTop closes the innermost open frame. resume is the first struct log
// back in the parent, or nil at the end of the trace.
func (s *run) exitTop(resume *execution.StructLog) {
	f := s.top()
	s.stack = s.stack[:len(s.stack)-1]

	first := &s.logs[f.firstIdx]
	last := &s.logs[f.lastIdx]

	var output []byte
	if resume != nil && resume.ReturnData != nil {
		output = common.FromHex(*resume.ReturnData)
	}

	var (
		outcome tracer.Outcome
		gasUsed = frameGasUsed(first, last, s.gasUsed[f.lastIdx])
	)

	switch {
	case last.Op == vm.REVERT.String():
		outcome = tracer.Revert(output)
	case last.Error != nil && *last.Error != "":
		outcome = tracer.Halt(errors.New(*last.Error))
		// An exceptional halt consumes all gas given to the frame.
		gasUsed = first.Gas
	default:
		outcome = tracer.Success(output)
	}

	if f.kind.IsCreate() {
		if outcome.Status == tracer.StatusSuccess && f.address == (common.Address{}) {
			outcome = tracer.Halt(ErrCreateFailed)
		}

		if outcome.Status == tracer.StatusSuccess {
			s.obs.OnCreateExit(tracer.Success(nil), f.address, gasUsed, nil)
		} else {
			s.obs.OnCreateExit(outcome, common.Address{}, gasUsed, nil)
		}

		return
	}

	s.obs.OnCallExit(outcome, gasUsed)
}

func (s *run) exitRoot(trace *execution.TraceTransaction) {
	root := s.top()
	s.stack = s.stack[:0]

	var output []byte
	if trace.ReturnValue != nil {
		output = common.FromHex(*trace.ReturnValue)
	}

	outcome := tracer.Success(output)

	if trace.Failed {
		var last *execution.StructLog
		if root.lastIdx >= 0 {
			last = &s.logs[root.lastIdx]
		}

		switch {
		case last != nil && last.Op == vm.REVERT.String():
			outcome = tracer.Revert(output)
		case last != nil && last.Error != nil && *last.Error != "":
			outcome = tracer.Halt(errors.New(*last.Error))
		default:
			outcome = tracer.Halt(ErrExecutionFailed)
		}
	}

	if root.kind.IsCreate() {
		if outcome.Status == tracer.StatusSuccess {
			s.obs.OnCreateExit(tracer.Success(nil), root.address, trace.Gas, output)
		} else {
			s.obs.OnCreateExit(outcome, common.Address{}, trace.Gas, nil)
		}

		return
	}

	s.obs.OnCallExit(outcome, trace.Gas)
}

// step reports the struct log at index i and the events it implies.
func (s *run) step(i int, f *frame) error {
	sl := &s.logs[i]
	op := vm.StringToOp(sl.Op)

	var stack []uint256.Int

	if s.opts.Stack {
		parsed, err := parseStack(sl)
		if err != nil {
			return fmt.Errorf("struct log %d: %w", i, err)
		}

		stack = parsed
	}

	s.obs.OnStep(uint64(sl.PC), op, sl.Gas, sl.GasCost, stack, nil)

	if sl.Error != nil && *sl.Error != "" {
		return nil
	}

	switch {
	case op >= vm.LOG0 && op <= vm.LOG4:
		s.emitLog(sl, f, int(op-vm.LOG0))
	case op == vm.SELFDESTRUCT:
		// Stack: [..., beneficiary]
		if raw, ok := sl.StackBack(0); ok {
			s.obs.OnSelfDestruct(f.address, parseAddress(raw), nil)
		}
	case op == vm.SLOAD:
		s.emitLoad(i, f)
	case op == vm.SSTORE:
		// Stack: [..., value, slot]
		slot, okSlot := stackHash(sl, 0)
		value, okValue := stackHash(sl, 1)

		if okSlot && okValue {
			s.obs.OnStorageAccess(tracer.StorageAccess{Contract: f.address, Slot: slot, Value: value, Write: true})
		}
	case isCall(op):
		s.emitCodelessCall(i, f, op)
	case op == vm.CREATE || op == vm.CREATE2:
		s.emitCodelessCreate(i, f, op)
	}

	return nil
}

// emitLog reports LOGn. Stack: [..., topicN-1, ..., topic0, size, offset].
// The log data lives in memory, which struct logs do not carry.
func (s *run) emitLog(sl *execution.StructLog, f *frame, n int) {
	if !sl.HasStack(2 + n) {
		return
	}

	topics := make([]common.Hash, n)

	for k := range n {
		topics[k], _ = stackHash(sl, 2+k)
	}

	s.obs.OnLog(f.address, topics, nil)
}

// emitLoad reports SLOAD. The loaded value is the top of the stack at the
// next struct log in the same frame.
func (s *run) emitLoad(i int, f *frame) {
	slot, ok := stackHash(&s.logs[i], 0)
	if !ok {
		return
	}

	access := tracer.StorageAccess{Contract: f.address, Slot: slot}

	if i+1 < len(s.logs) && s.logs[i+1].Depth == s.logs[i].Depth {
		access.Value, _ = stackHash(&s.logs[i+1], 0)
	}

	s.obs.OnStorageAccess(access)
}

// returnsInPlace reports whether the opcode at index i was followed by an
// opcode at the same depth, meaning the frame it opened executed no code.
func (s *run) returnsInPlace(i int) bool {
	return i+1 < len(s.logs) && s.logs[i+1].Depth == s.logs[i].Depth
}

// emitCodelessCall reports a frame for a call that returned without
// executing bytecode, such as a transfer to an externally owned account or
// a precompile call.
func (s *run) emitCodelessCall(i int, f *frame, op vm.OpCode) {
	if !s.returnsInPlace(i) {
		return
	}

	sl := &s.logs[i]

	target, ok := callTarget(sl)
	if !ok {
		return
	}

	kind, _ := tracer.KindFromOpCode(op)

	s.obs.OnCallEnter(kind, f.address, target, callValue(sl, op), nil, 0)

	outcome := tracer.Success(nil)
	if pushed, ok := stackWord(&s.logs[i+1], 0); ok && pushed.IsZero() {
		outcome = tracer.Halt(ErrCallFailed)
	}

	s.obs.OnCallExit(outcome, 0)
}

// emitCodelessCreate reports a frame for a creation that executed no init
// code: an empty init code, or one rejected before entry by the depth limit
// or an insufficient balance.
func (s *run) emitCodelessCreate(i int, f *frame, op vm.OpCode) {
	if !s.returnsInPlace(i) {
		return
	}

	kind, _ := tracer.KindFromOpCode(op)

	s.obs.OnCreateEnter(kind, f.address, callValue(&s.logs[i], op), nil, 0)

	deployed := s.created[i]
	if deployed == (common.Address{}) {
		s.obs.OnCreateExit(tracer.Halt(ErrCreateFailed), common.Address{}, 0, nil)

		return
	}

	s.obs.OnCreateExit(tracer.Success(nil), deployed, 0, nil)
}

func isCall(op vm.OpCode) bool {
	switch op {
	case vm.CALL, vm.CALLCODE, vm.DELEGATECALL, vm.STATICCALL:
		return true
	default:
		return false
	}
}

func errorType(err error) string {
	switch {
	case errors.Is(err, ErrDepthJump):
		return "depth_jump"
	case errors.Is(err, ErrUnknownEntry):
		return "unknown_entry"
	case errors.Is(err, ErrDepthUnderflow):
		return "depth_underflow"
	default:
		return "other"
	}
}

// MaxRefund returns the highest refund counter seen in the trace, which is
// the refund the transaction accrued.
func MaxRefund(trace *execution.TraceTransaction) uint64 {
	var refund uint64

	for i := range trace.Structlogs {
		if r := trace.Structlogs[i].Refund; r != nil && *r > refund {
			refund = *r
		}
	}

	return refund
}

// ParseTrace decodes a debug_traceTransaction struct-log result. Both the bare
// result object and a full JSON-RPC response are accepted.
func ParseTrace(r io.Reader) (*execution.TraceTransaction, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode trace: %w", err)
	}

	if envelope.Error != nil {
		return nil, fmt.Errorf("%w: %d %s", ErrRPCError, envelope.Error.Code, envelope.Error.Message)
	}

	if len(envelope.Result) > 0 {
		raw = envelope.Result
	}

	var trace execution.TraceTransaction
	if err := json.Unmarshal(raw, &trace); err != nil {
		return nil, fmt.Errorf("failed to decode trace: %w", err)
	}

	return &trace, nil
}
