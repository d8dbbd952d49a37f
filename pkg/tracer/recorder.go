package tracer

import (
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"
)

// OnStep records one instruction against the open top frame, subject to the
// configured verbosity, sampling policy and step limit. The basic path copies
// nothing from the VM; only full verbosity snapshots stack and memory.
func (c *Collector) OnStep(pc uint64, op vm.OpCode, gas, cost uint64, stack []uint256.Int, memory []byte) {
	if c.state != stateCollecting {
		if c.state != stateViolated {
			c.violate("step", "step after root frame sealed")
		}

		return
	}

	top := c.stack.top()
	if top == nil {
		c.violate("step", "step with no open frame")

		return
	}

	seq := top.StepCount
	top.StepCount++
	c.stats.StepsDelivered++
	top.lastRecorded = false

	if c.cfg.Verbosity == VerbosityOff || c.truncated {
		return
	}

	if !c.sample(seq, op) {
		c.sampled = true

		return
	}

	if c.cfg.StepLimit != nil && c.stats.StepsRecorded >= *c.cfg.StepLimit {
		c.truncated = true
		c.log.WithField("step_limit", *c.cfg.StepLimit).Debug("Step limit reached, recording stopped")

		return
	}

	top.Steps = append(top.Steps, Step{
		Seq:   seq,
		PC:    pc,
		Op:    op,
		Gas:   gas,
		Cost:  cost,
		Depth: top.Depth,
	})

	if c.cfg.Verbosity == VerbosityFull {
		step := &top.Steps[len(top.Steps)-1]

		if len(stack) > 0 {
			step.Stack = make([]uint256.Int, len(stack))
			copy(step.Stack, stack)
		}

		step.Memory = copyBytes(memory)
		step.MemorySize = len(memory)
	}

	top.lastRecorded = true
	c.stats.StepsRecorded++
}

// OnStorageAccess attaches a storage read or write to the step that caused it.
// Accesses are only kept at full verbosity and when that step was recorded.
func (c *Collector) OnStorageAccess(access StorageAccess) {
	if !c.accepting("storage_access") {
		return
	}

	top := c.stack.top()
	if top == nil {
		c.violate("storage_access", "storage access with no open frame")

		return
	}

	if c.cfg.Verbosity != VerbosityFull || !top.lastRecorded || len(top.Steps) == 0 {
		return
	}

	step := &top.Steps[len(top.Steps)-1]
	step.Storage = append(step.Storage, access)
}

// sample applies the sampling policy to the step at per-frame index seq.
func (c *Collector) sample(seq uint64, op vm.OpCode) bool {
	switch c.cfg.Sampling.Mode {
	case SamplingEveryN:
		return seq%c.cfg.Sampling.EveryN == 0
	case SamplingOpcodes:
		return c.opcodes[op]
	default:
		return true
	}
}
