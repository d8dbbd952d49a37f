package plugin

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/execution-tracer/pkg/tracer"
)

// progressInterval is the number of steps between progress logs.
const progressInterval = 100

// Counts are the totals a Counter has observed.
type Counts struct {
	Steps         uint64
	Calls         uint64
	Creates       uint64
	Logs          uint64
	SelfDestructs uint64
}

// Counter counts execution events and logs progress when verbose.
type Counter struct {
	tracer.NoopObserver

	log     logrus.FieldLogger
	verbose bool
	counts  Counts
}

var _ tracer.Observer = (*Counter)(nil)

// NewCounter creates a new Counter.
func NewCounter(log logrus.FieldLogger, verbose bool) *Counter {
	return &Counter{
		log:     log.WithField("observer", "counter"),
		verbose: verbose,
	}
}

// Counts returns the totals observed so far.
func (c *Counter) Counts() Counts {
	return c.counts
}

func (c *Counter) OnStep(pc uint64, op vm.OpCode, gas, _ uint64, _ []uint256.Int, _ []byte) {
	c.counts.Steps++

	if c.verbose && c.counts.Steps%progressInterval == 0 {
		c.log.WithFields(logrus.Fields{
			"steps": c.counts.Steps,
			"pc":    pc,
			"op":    op.String(),
			"gas":   gas,
		}).Info("Execution progress")
	}
}

func (c *Counter) OnCallEnter(tracer.Kind, common.Address, common.Address, *uint256.Int, []byte, uint64) {
	c.counts.Calls++
}

func (c *Counter) OnCreateEnter(tracer.Kind, common.Address, *uint256.Int, []byte, uint64) {
	c.counts.Creates++
}

func (c *Counter) OnLog(common.Address, []common.Hash, []byte) {
	c.counts.Logs++
}

func (c *Counter) OnSelfDestruct(common.Address, common.Address, *uint256.Int) {
	c.counts.SelfDestructs++
}
