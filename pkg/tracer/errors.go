package tracer

import (
	"errors"
	"fmt"
)

// Sentinel errors for collector operations.
var (
	// ErrContractViolation indicates the host or VM broke the observer contract.
	ErrContractViolation = errors.New("observer contract violation")

	// ErrTraceNotSealed indicates Finalize was called before the root frame exited.
	ErrTraceNotSealed = errors.New("trace not sealed: root frame still open")

	// ErrStepLimitReached indicates step recording stopped at the configured limit.
	ErrStepLimitReached = errors.New("step limit reached")
)

// ContractViolation describes a callback that broke the ordering guarantees
// the VM must uphold. It is an integration bug, not a property of the traced
// transaction.
type ContractViolation struct {
	Event  string
	Reason string
	Depth  int
}

func (v *ContractViolation) Error() string {
	return fmt.Sprintf("%s: %s at %s (open frames: %d)", ErrContractViolation, v.Reason, v.Event, v.Depth)
}

func (v *ContractViolation) Unwrap() error {
	return ErrContractViolation
}

// Integrity warning kinds.
const (
	WarningGasMismatch           = "gas_mismatch"
	WarningChildGasExceedsParent = "child_gas_exceeds_parent"
)

// IntegrityWarning is a non-fatal inconsistency found while assembling a trace.
type IntegrityWarning struct {
	Kind    string `json:"kind"`
	FrameID uint32 `json:"frameId"`
	Message string `json:"message"`
}

func (w IntegrityWarning) String() string {
	return fmt.Sprintf("%s (frame %d): %s", w.Kind, w.FrameID, w.Message)
}
