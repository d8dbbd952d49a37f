package tracer

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	pcommon "github.com/ethpandaops/execution-tracer/pkg/common"
)

// OnCallExit seals the open top frame, which must be a call or the root.
func (c *Collector) OnCallExit(outcome Outcome, gasUsed uint64) {
	if !c.accepting("call_exit") {
		return
	}

	f := c.popForExit("call_exit", func(k Kind) bool { return !k.IsCreate() })
	if f == nil {
		return
	}

	c.seal(f, outcome, gasUsed)
}

// OnCreateExit seals the open top frame, which must be a create or the root.
// deployed and deployedCode are only kept when the creation succeeded.
func (c *Collector) OnCreateExit(outcome Outcome, deployed common.Address, gasUsed uint64, deployedCode []byte) {
	if !c.accepting("create_exit") {
		return
	}

	f := c.popForExit("create_exit", func(k Kind) bool { return !k.IsCall() })
	if f == nil {
		return
	}

	if outcome.Status == StatusSuccess {
		addr := deployed
		f.Target = &addr
		f.DeployedCode = copyBytes(deployedCode)
	}

	c.seal(f, outcome, gasUsed)
}

// ForceCloseAll seals every open frame with an exceptional halt caused by
// reason, innermost first, and assembles the trace. Hosts call it from their
// error path when the VM cannot deliver the remaining exit events.
func (c *Collector) ForceCloseAll(reason error) {
	if c.state != stateCollecting {
		return
	}

	if reason == nil {
		reason = errors.New("execution aborted")
	}

	open := c.stack.depth()
	if open == 0 {
		return
	}

	c.log.WithError(reason).WithField("open_frames", open).Warn("Force closing open frames")

	for c.stack.depth() > 0 && c.state == stateCollecting {
		f := c.stack.pop()
		c.seal(f, Halt(reason), f.GasLimit)
	}
}

// popForExit validates and pops the frame an exit event refers to.
func (c *Collector) popForExit(event string, matches func(Kind) bool) *Frame {
	top := c.stack.top()
	if top == nil {
		c.violate(event, "exit with no open frame")

		return nil
	}

	if top.Kind != KindRoot && !matches(top.Kind) {
		c.violate(event, fmt.Sprintf("exit does not match open %s frame %d", top.Kind, top.ID))

		return nil
	}

	return c.stack.pop()
}

// seal resolves a popped frame and folds it into its parent, or assembles the
// trace when it is the root.
func (c *Collector) seal(f *Frame, outcome Outcome, gasUsed uint64) {
	if outcome.Status == StatusPending {
		outcome = Halt(errors.New("exit reported pending outcome"))
	}

	outcome.Output = copyBytes(outcome.Output)

	f.Outcome = outcome
	f.GasUsed = gasUsed
	f.lastRecorded = false

	c.stats.FramesSealed++
	pcommon.FramesSealed.WithLabelValues(c.name, outcome.Status.String()).Inc()

	if parent := c.stack.top(); parent != nil {
		parent.Children = append(parent.Children, f)

		return
	}

	c.trace = assemble(f, c.stack.all, c.logs, c.selfDestructs, c.cfg)
	c.trace.RecordedSteps = c.stats.StepsRecorded
	c.trace.Sampled = c.sampled
	c.trace.Truncated = c.truncated
	c.state = stateSealed

	pcommon.StepsRecorded.WithLabelValues(c.name).Add(float64(c.stats.StepsRecorded))

	if c.truncated {
		pcommon.TracesTruncated.WithLabelValues(c.name).Inc()
	}

	for _, w := range c.trace.Warnings {
		c.warn(w)
	}

	c.log.WithFields(logrus.Fields{
		"frames":   c.trace.FrameCount,
		"outcome":  outcome.Status.String(),
		"gas_used": gasUsed,
	}).Debug("Root frame sealed")
}

// crossCheckGas compares the root gas with the VM-reported total.
func (c *Collector) crossCheckGas() {
	if c.reportedGas == nil || *c.reportedGas == c.trace.TotalGasUsed {
		return
	}

	w := IntegrityWarning{
		Kind:    WarningGasMismatch,
		FrameID: c.trace.Root.ID,
		Message: fmt.Sprintf("root gas used %d differs from reported %d", c.trace.TotalGasUsed, *c.reportedGas),
	}

	c.trace.Warnings = append(c.trace.Warnings, w)
	c.warn(w)
}

func (c *Collector) warn(w IntegrityWarning) {
	pcommon.IntegrityWarnings.WithLabelValues(c.name, w.Kind).Inc()
	c.log.WithFields(logrus.Fields{
		"kind":     w.Kind,
		"frame_id": w.FrameID,
	}).Warn(w.Message)
}
