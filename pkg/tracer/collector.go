package tracer

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	pcommon "github.com/ethpandaops/execution-tracer/pkg/common"
)

// collectorState is the whole-trace state machine.
type collectorState uint8

const (
	stateCollecting collectorState = iota // root not yet closed
	stateSealed                           // root closed, trace assembled
	stateFrozen                           // trace handed out by Finalize
	stateViolated                         // contract violation before sealing
)

// Stats are live counters of the events a collector has observed.
type Stats struct {
	StepsDelivered uint64
	StepsRecorded  uint64
	FramesOpened   uint64
	FramesSealed   uint64
	Calls          uint64
	Creates        uint64
	Logs           uint64
	SelfDestructs  uint64
}

// Collector builds a Trace from the Observer callbacks of one execution.
//
// A Collector belongs to exactly one execution and must only be driven from
// the goroutine running it. Create a new Collector per transaction.
type Collector struct {
	log  logrus.FieldLogger
	name string
	cfg  Config

	opcodes *[256]bool

	stack         *frameStack
	logs          []*LogEvent
	selfDestructs []*SelfDestructEvent
	eventSeq      uint64

	stats     Stats
	truncated bool
	sampled   bool

	reportedGas *uint64

	state     collectorState
	violation *ContractViolation
	trace     *Trace
}

var (
	_ Observer    = (*Collector)(nil)
	_ ForceCloser = (*Collector)(nil)
	_ GasReporter = (*Collector)(nil)
)

// NewCollector creates a Collector. The configuration is validated and copied.
func NewCollector(log logrus.FieldLogger, name string, cfg Config) (*Collector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tracer config: %w", err)
	}

	c := &Collector{
		log:   log.WithFields(logrus.Fields{"component": "collector", "tracer": name}),
		name:  name,
		cfg:   cfg,
		stack: newFrameStack(),
	}

	if cfg.StepLimit != nil {
		limit := *cfg.StepLimit
		c.cfg.StepLimit = &limit
	}

	if cfg.Sampling.Mode == SamplingOpcodes {
		set, err := cfg.Sampling.opcodeSet()
		if err != nil {
			return nil, err
		}

		c.opcodes = set
	}

	return c, nil
}

// Config returns the collector configuration.
func (c *Collector) Config() Config {
	return c.cfg
}

// Stats returns the current event counters.
func (c *Collector) Stats() Stats {
	return c.stats
}

// Depth returns the number of open frames.
func (c *Collector) Depth() int {
	return c.stack.depth()
}

// Err returns the first contract violation observed, if any.
func (c *Collector) Err() error {
	if c.violation == nil {
		return nil
	}

	return c.violation
}

// ReportGasUsed records the VM-reported gas used by the root frame for the
// cross-check performed on the first Finalize. The hooks adapter reports it
// from the outermost exit; other hosts call it themselves. Totals that
// include intrinsic gas, such as a receipt's, are not comparable.
func (c *Collector) ReportGasUsed(gas uint64) {
	if c.state == stateFrozen {
		c.log.WithField("gas", gas).Warn("Ignoring reported gas for frozen trace")

		return
	}

	c.reportedGas = &gas
}

// OnCallEnter opens a call frame. The first enter of an execution opens the root.
func (c *Collector) OnCallEnter(kind Kind, caller, target common.Address, value *uint256.Int, input []byte, gas uint64) {
	if !c.accepting("call_enter") {
		return
	}

	if kind.IsCreate() {
		c.violate("call_enter", fmt.Sprintf("call enter with create kind %s", kind))

		return
	}

	if !c.enterAllowed("call_enter", kind) {
		return
	}

	to := target

	c.push(&Frame{
		Kind:     kind,
		Caller:   caller,
		Target:   &to,
		Input:    copyBytes(input),
		Value:    frameValue(kind, value),
		GasLimit: gas,
	})

	c.stats.Calls++
}

// OnCreateEnter opens a create frame. Its target stays unknown until the
// creation succeeds.
func (c *Collector) OnCreateEnter(kind Kind, caller common.Address, value *uint256.Int, initCode []byte, gas uint64) {
	if !c.accepting("create_enter") {
		return
	}

	if kind.IsCall() {
		c.violate("create_enter", fmt.Sprintf("create enter with call kind %s", kind))

		return
	}

	if !c.enterAllowed("create_enter", kind) {
		return
	}

	c.push(&Frame{
		Kind:     kind,
		Caller:   caller,
		Input:    copyBytes(initCode),
		Value:    frameValue(kind, value),
		GasLimit: gas,
	})

	c.stats.Creates++
}

// OnLog records a log against the open top frame.
func (c *Collector) OnLog(emitter common.Address, topics []common.Hash, data []byte) {
	if !c.accepting("log") {
		return
	}

	top := c.stack.top()
	if top == nil {
		c.violate("log", "log with no open frame")

		return
	}

	topicsCopy := make([]common.Hash, len(topics))
	copy(topicsCopy, topics)

	ev := &LogEvent{
		Index:   c.eventSeq,
		FrameID: top.ID,
		Emitter: emitter,
		Topics:  topicsCopy,
		Data:    copyBytes(data),
	}

	c.eventSeq++
	c.logs = append(c.logs, ev)
	top.Logs = append(top.Logs, ev)
	c.stats.Logs++
}

// OnSelfDestruct records a self-destruct against the open top frame.
func (c *Collector) OnSelfDestruct(contract, beneficiary common.Address, value *uint256.Int) {
	if !c.accepting("self_destruct") {
		return
	}

	top := c.stack.top()
	if top == nil {
		c.violate("self_destruct", "self-destruct with no open frame")

		return
	}

	ev := &SelfDestructEvent{
		Index:       c.eventSeq,
		FrameID:     top.ID,
		Contract:    contract,
		Beneficiary: beneficiary,
	}

	if value != nil {
		ev.Value = new(uint256.Int).Set(value)
	}

	c.eventSeq++
	c.selfDestructs = append(c.selfDestructs, ev)
	top.SelfDestructs = append(top.SelfDestructs, ev)
	c.stats.SelfDestructs++
}

// Finalize returns the frozen trace once the root frame has exited. Repeated
// calls return the same trace.
func (c *Collector) Finalize() (*Trace, error) {
	switch c.state {
	case stateViolated:
		return nil, c.violation
	case stateCollecting:
		return nil, ErrTraceNotSealed
	case stateSealed:
		c.crossCheckGas()
		c.state = stateFrozen

		pcommon.TracesFinalized.WithLabelValues(c.name, c.trace.Root.Outcome.Status.String()).Inc()

		c.log.WithFields(logrus.Fields{
			"frames":         c.trace.FrameCount,
			"recorded_steps": c.trace.RecordedSteps,
			"gas_used":       c.trace.TotalGasUsed,
			"logs":           len(c.trace.AllLogs),
			"warnings":       len(c.trace.Warnings),
		}).Debug("Trace finalized")
	}

	return c.trace, nil
}

// accepting reports whether an event may be processed. Events after a
// violation are dropped; events after sealing are violations themselves.
func (c *Collector) accepting(event string) bool {
	switch c.state {
	case stateCollecting:
		return true
	case stateViolated:
		return false
	default:
		c.violate(event, "event after root frame sealed")

		return false
	}
}

// enterAllowed checks root placement rules for an enter event.
func (c *Collector) enterAllowed(event string, kind Kind) bool {
	if kind == KindRoot && c.stack.depth() > 0 {
		c.violate(event, "root kind entered below the root frame")

		return false
	}

	return true
}

func (c *Collector) push(f *Frame) {
	c.stack.push(f)
	c.stats.FramesOpened++
}

// violate records a contract violation. Before sealing it poisons the trace;
// after sealing the frozen trace stays valid and the violation is only reported.
func (c *Collector) violate(event, reason string) {
	v := &ContractViolation{Event: event, Reason: reason, Depth: c.stack.depth()}

	pcommon.ContractViolations.WithLabelValues(c.name, event).Inc()
	c.log.WithError(v).Error("Observer contract violated")

	if c.violation == nil {
		c.violation = v
	}

	if c.state == stateCollecting {
		c.state = stateViolated
		c.trace = nil
	}
}

func copyBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}

	out := make([]byte, len(b))
	copy(out, b)

	return out
}

func frameValue(kind Kind, value *uint256.Int) *uint256.Int {
	if value == nil || !kind.carriesValue() {
		return new(uint256.Int)
	}

	return new(uint256.Int).Set(value)
}
