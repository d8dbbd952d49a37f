package plugin

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/execution-tracer/pkg/tracer"
)

// CallLogger logs frames and state events at debug level as they happen.
type CallLogger struct {
	tracer.NoopObserver

	log   logrus.FieldLogger
	depth int
}

var (
	_ tracer.Observer    = (*CallLogger)(nil)
	_ tracer.ForceCloser = (*CallLogger)(nil)
)

// NewCallLogger creates a new CallLogger.
func NewCallLogger(log logrus.FieldLogger) *CallLogger {
	return &CallLogger{log: log.WithField("observer", "calls")}
}

func (l *CallLogger) OnCallEnter(kind tracer.Kind, caller, target common.Address, value *uint256.Int, input []byte, gas uint64) {
	fields := logrus.Fields{
		"kind":  kind.String(),
		"from":  caller.Hex(),
		"to":    target.Hex(),
		"gas":   gas,
		"input": len(input),
		"depth": l.depth,
		"value": "0",
	}

	if value != nil {
		fields["value"] = value.Dec()
	}

	l.depth++
	l.log.WithFields(fields).Debug("Call entered")
}

func (l *CallLogger) OnCallExit(outcome tracer.Outcome, gasUsed uint64) {
	l.exit(outcome, gasUsed, nil)
}

func (l *CallLogger) OnCreateEnter(kind tracer.Kind, caller common.Address, value *uint256.Int, initCode []byte, gas uint64) {
	fields := logrus.Fields{
		"kind":      kind.String(),
		"from":      caller.Hex(),
		"gas":       gas,
		"init_code": len(initCode),
		"depth":     l.depth,
		"value":     "0",
	}

	if value != nil {
		fields["value"] = value.Dec()
	}

	l.depth++
	l.log.WithFields(fields).Debug("Create entered")
}

func (l *CallLogger) OnCreateExit(outcome tracer.Outcome, deployed common.Address, gasUsed uint64, _ []byte) {
	var addr *common.Address
	if outcome.Status == tracer.StatusSuccess {
		addr = &deployed
	}

	l.exit(outcome, gasUsed, addr)
}

func (l *CallLogger) OnLog(emitter common.Address, topics []common.Hash, data []byte) {
	l.log.WithFields(logrus.Fields{
		"address": emitter.Hex(),
		"topics":  len(topics),
		"data":    len(data),
		"depth":   l.depth - 1,
	}).Debug("Log emitted")
}

func (l *CallLogger) OnSelfDestruct(contract, beneficiary common.Address, _ *uint256.Int) {
	l.log.WithFields(logrus.Fields{
		"contract":    contract.Hex(),
		"beneficiary": beneficiary.Hex(),
		"depth":       l.depth - 1,
	}).Debug("Self-destruct")
}

// ForceCloseAll drops the frames that will never see their exits.
func (l *CallLogger) ForceCloseAll(reason error) {
	entry := l.log.WithField("open_frames", l.depth)
	if reason != nil {
		entry = entry.WithError(reason)
	}

	entry.Debug("Frames force closed")

	l.depth = 0
}

func (l *CallLogger) exit(outcome tracer.Outcome, gasUsed uint64, deployed *common.Address) {
	if l.depth > 0 {
		l.depth--
	}

	fields := logrus.Fields{
		"status":   outcome.Status.String(),
		"gas_used": gasUsed,
		"depth":    l.depth,
	}

	if deployed != nil {
		fields["deployed"] = deployed.Hex()
	}

	entry := l.log.WithFields(fields)
	if outcome.Cause != nil {
		entry = entry.WithError(outcome.Cause)
	}

	entry.Debug("Frame exited")
}
