package tracer

import (
	"encoding/json"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"
)

// Kind is the kind of invocation that opened a frame.
type Kind uint8

const (
	KindRoot Kind = iota
	KindCall
	KindStaticCall
	KindDelegateCall
	KindCallCode
	KindCreate
	KindCreate2
)

// String returns the opcode-style name of the kind.
func (k Kind) String() string {
	switch k {
	case KindRoot:
		return "ROOT"
	case KindCall:
		return "CALL"
	case KindStaticCall:
		return "STATICCALL"
	case KindDelegateCall:
		return "DELEGATECALL"
	case KindCallCode:
		return "CALLCODE"
	case KindCreate:
		return "CREATE"
	case KindCreate2:
		return "CREATE2"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// IsCreate returns true for CREATE and CREATE2 frames.
func (k Kind) IsCreate() bool {
	return k == KindCreate || k == KindCreate2
}

// IsCall returns true for the CALL family.
func (k Kind) IsCall() bool {
	switch k {
	case KindCall, KindStaticCall, KindDelegateCall, KindCallCode:
		return true
	default:
		return false
	}
}

// carriesValue reports whether frames of this kind transfer their own call value.
func (k Kind) carriesValue() bool {
	return k != KindStaticCall && k != KindDelegateCall
}

// KindFromOpCode maps a frame-spawning opcode to its Kind.
func KindFromOpCode(op vm.OpCode) (Kind, bool) {
	switch op {
	case vm.CALL:
		return KindCall, true
	case vm.STATICCALL:
		return KindStaticCall, true
	case vm.DELEGATECALL:
		return KindDelegateCall, true
	case vm.CALLCODE:
		return KindCallCode, true
	case vm.CREATE:
		return KindCreate, true
	case vm.CREATE2:
		return KindCreate2, true
	default:
		return KindRoot, false
	}
}

// Status is the lifecycle state of a frame.
type Status uint8

const (
	StatusPending Status = iota
	StatusSuccess
	StatusRevert
	StatusExceptionalHalt
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSuccess:
		return "success"
	case StatusRevert:
		return "revert"
	case StatusExceptionalHalt:
		return "exceptional_halt"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal returns true once the status can no longer change.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// Outcome is the result of a frame. Output holds the return data on success and
// the revert reason bytes on revert. Cause is only set for exceptional halts.
type Outcome struct {
	Status Status
	Output []byte
	Cause  error
}

// Success builds a successful outcome.
func Success(output []byte) Outcome {
	return Outcome{Status: StatusSuccess, Output: output}
}

// Revert builds a reverted outcome carrying the revert reason bytes.
func Revert(reason []byte) Outcome {
	return Outcome{Status: StatusRevert, Output: reason}
}

// Halt builds an exceptional halt outcome.
func Halt(cause error) Outcome {
	if cause == nil {
		cause = errors.New("exceptional halt")
	}

	return Outcome{Status: StatusExceptionalHalt, Cause: cause}
}

// MarshalJSON renders the outcome with a hex encoded output and the cause as a string.
func (o Outcome) MarshalJSON() ([]byte, error) {
	out := struct {
		Status Status        `json:"status"`
		Output hexutil.Bytes `json:"output,omitempty"`
		Cause  string        `json:"cause,omitempty"`
	}{
		Status: o.Status,
		Output: o.Output,
	}

	if o.Cause != nil {
		out.Cause = o.Cause.Error()
	}

	return json.Marshal(out)
}

// StorageAccess is a storage read or write observed during a step.
// Prev is only meaningful for writes.
type StorageAccess struct {
	Contract common.Address `json:"contract"`
	Slot     common.Hash    `json:"slot"`
	Prev     common.Hash    `json:"prev,omitempty"`
	Value    common.Hash    `json:"value"`
	Write    bool           `json:"write"`
}

// Step is one instruction execution within a frame.
type Step struct {
	// Seq is the position of the step among all steps delivered to its frame,
	// including steps that sampling skipped.
	Seq   uint64    `json:"seq"`
	PC    uint64    `json:"pc"`
	Op    vm.OpCode `json:"-"`
	Gas   uint64    `json:"gas"`
	Cost  uint64    `json:"gasCost"`
	Depth int       `json:"depth"`

	// Full verbosity only.
	Stack      []uint256.Int   `json:"stack,omitempty"`
	Memory     hexutil.Bytes   `json:"memory,omitempty"`
	MemorySize int             `json:"memSize,omitempty"`
	Storage    []StorageAccess `json:"storage,omitempty"`
}

// MarshalJSON adds the opcode name to the step.
func (s Step) MarshalJSON() ([]byte, error) {
	type plain Step

	return json.Marshal(struct {
		plain
		OpName string `json:"op"`
	}{plain(s), s.Op.String()})
}

// LogEvent is a log emitted while a frame was open.
type LogEvent struct {
	Index    uint64         `json:"index"`
	FrameID  uint32         `json:"frameId"`
	Emitter  common.Address `json:"address"`
	Topics   []common.Hash  `json:"topics"`
	Data     hexutil.Bytes  `json:"data"`
	Reverted bool           `json:"reverted"`
}

// SelfDestructEvent is a self-destruct executed while a frame was open.
type SelfDestructEvent struct {
	Index       uint64         `json:"index"`
	FrameID     uint32         `json:"frameId"`
	Contract    common.Address `json:"contract"`
	Beneficiary common.Address `json:"beneficiary"`
	Value       *uint256.Int   `json:"value,omitempty"`
	Reverted    bool           `json:"reverted"`
}

// Frame is one call or create invocation.
type Frame struct {
	ID       uint32   `json:"id"`
	ParentID uint32   `json:"parentId"`
	Path     []uint32 `json:"path"`
	Depth    int      `json:"depth"`
	Kind     Kind     `json:"kind"`

	Caller common.Address `json:"from"`
	// Target is nil for a create frame until the creation succeeds.
	Target   *common.Address `json:"to,omitempty"`
	Input    hexutil.Bytes   `json:"input,omitempty"`
	Value    *uint256.Int    `json:"value"`
	GasLimit uint64          `json:"gas"`
	GasUsed  uint64          `json:"gasUsed"`
	// GasSelf is GasUsed minus the gas used by direct children.
	GasSelf uint64 `json:"gasSelf"`

	Outcome      Outcome       `json:"outcome"`
	DeployedCode hexutil.Bytes `json:"deployedCode,omitempty"`

	// StepCount counts every step delivered to the frame, recorded or not.
	StepCount uint64   `json:"stepCount"`
	Steps     []Step   `json:"steps,omitempty"`
	Children  []*Frame `json:"children,omitempty"`

	Logs          []*LogEvent          `json:"logs,omitempty"`
	SelfDestructs []*SelfDestructEvent `json:"selfDestructs,omitempty"`

	lastRecorded bool
}

// IsRoot returns true for the outermost frame.
func (f *Frame) IsRoot() bool {
	return f.Depth == 0
}

// Trace is the frozen result of one execution. It is read-only once returned
// by Collector.Finalize.
type Trace struct {
	Root             *Frame               `json:"root"`
	AllLogs          []*LogEvent          `json:"logs"`
	AllSelfDestructs []*SelfDestructEvent `json:"selfDestructs"`
	TotalGasUsed     uint64               `json:"totalGasUsed"`

	FrameCount    int    `json:"frameCount"`
	RecordedSteps uint64 `json:"recordedSteps"`
	// Sampled is set when a sampling policy dropped steps.
	Sampled bool `json:"sampled"`
	// Truncated is set when the step limit stopped step recording.
	Truncated bool               `json:"truncated"`
	Verbosity Verbosity          `json:"verbosity"`
	Warnings  []IntegrityWarning `json:"warnings,omitempty"`

	frames    []*Frame
	committed []bool
}

// Exhaustive returns true when every delivered step is present in the trace.
func (t *Trace) Exhaustive() bool {
	return t.Verbosity != VerbosityOff && !t.Sampled && !t.Truncated
}

// Frame returns the frame with the given id.
func (t *Trace) Frame(id uint32) (*Frame, bool) {
	if int(id) >= len(t.frames) {
		return nil, false
	}

	return t.frames[id], true
}

// Committed reports whether the effects of the frame with the given id
// survive, taking the revert scope the trace was collected with into account.
func (t *Trace) Committed(id uint32) bool {
	if int(id) >= len(t.committed) {
		return false
	}

	return t.committed[id]
}

// Frames returns all frames in enter order.
func (t *Trace) Frames() []*Frame {
	out := make([]*Frame, len(t.frames))
	copy(out, t.frames)

	return out
}

// TruncationErr returns ErrStepLimitReached when step recording was cut short.
func (t *Trace) TruncationErr() error {
	if t.Truncated {
		return ErrStepLimitReached
	}

	return nil
}
