// Package hooks bridges go-ethereum's live tracing hooks to a tracer.Observer.
package hooks

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/execution-tracer/pkg/tracer"
)

// stateReader is the part of the VM state the adapter reads SLOAD values from.
type stateReader interface {
	GetState(addr common.Address, slot common.Hash) common.Hash
}

type entryKind uint8

const (
	entryCall entryKind = iota
	entryCreate
	entrySkipped
)

// entry mirrors one OnEnter so the matching OnExit can be routed.
type entry struct {
	kind    entryKind
	created common.Address
}

// Adapter translates go-ethereum tracing hooks into Observer callbacks.
// It is bound to one execution at a time, like the observer it drives.
type Adapter struct {
	log      logrus.FieldLogger
	obs      tracer.Observer
	closer   tracer.ForceCloser
	reporter tracer.GasReporter

	entries []entry
	state   stateReader
}

// New creates an Adapter driving obs. When obs is also a tracer.ForceCloser
// or tracer.GasReporter, such as a Collector or a Multi fan-out, it is force
// closed on failed transactions and receives the root frame's gas used.
func New(log logrus.FieldLogger, obs tracer.Observer) *Adapter {
	a := &Adapter{
		log:     log.WithField("component", "hooks"),
		obs:     obs,
		entries: make([]entry, 0, 64),
	}

	if c, ok := obs.(tracer.ForceCloser); ok {
		a.closer = c
	}

	if r, ok := obs.(tracer.GasReporter); ok {
		a.reporter = r
	}

	return a
}

// SetForceCloser registers the target that is force closed when a
// transaction ends with an error while frames are still open.
func (a *Adapter) SetForceCloser(c tracer.ForceCloser) {
	a.closer = c
}

// Hooks returns the go-ethereum hook set bound to this adapter.
func (a *Adapter) Hooks() *tracing.Hooks {
	return &tracing.Hooks{
		OnTxStart:       a.OnTxStart,
		OnTxEnd:         a.OnTxEnd,
		OnEnter:         a.OnEnter,
		OnExit:          a.OnExit,
		OnOpcode:        a.OnOpcode,
		OnLog:           a.OnLog,
		OnStorageChange: a.OnStorageChange,
	}
}

// OnTxStart resets per-transaction state.
func (a *Adapter) OnTxStart(env *tracing.VMContext, _ *types.Transaction, _ common.Address) {
	a.entries = a.entries[:0]
	a.state = nil

	if env != nil && env.StateDB != nil {
		a.state = env.StateDB
	}
}

// OnTxEnd force closes frames left open by a failed transaction.
func (a *Adapter) OnTxEnd(_ *types.Receipt, err error) {
	if err == nil || len(a.entries) == 0 {
		return
	}

	a.log.WithError(err).WithField("open_frames", len(a.entries)).Warn("Transaction ended with open frames")

	a.entries = a.entries[:0]

	if a.closer != nil {
		a.closer.ForceCloseAll(err)
	}
}

// OnEnter opens a call or create frame. SELFDESTRUCT is reported as a
// self-destruct event and its paired exit is dropped.
func (a *Adapter) OnEnter(depth int, typ byte, from, to common.Address, input []byte, gas uint64, value *big.Int) {
	op := vm.OpCode(typ)

	if op == vm.SELFDESTRUCT {
		a.obs.OnSelfDestruct(from, to, toUint256(value))
		a.entries = append(a.entries, entry{kind: entrySkipped})

		return
	}

	kind, ok := tracer.KindFromOpCode(op)
	if !ok {
		a.log.WithFields(logrus.Fields{
			"type":  op.String(),
			"depth": depth,
		}).Debug("Ignoring unknown enter type")

		a.entries = append(a.entries, entry{kind: entrySkipped})

		return
	}

	if kind.IsCreate() {
		a.obs.OnCreateEnter(kind, from, toUint256(value), input, gas)
		a.entries = append(a.entries, entry{kind: entryCreate, created: to})

		return
	}

	if depth == 0 {
		kind = tracer.KindRoot
	}

	a.obs.OnCallEnter(kind, from, to, toUint256(value), input, gas)
	a.entries = append(a.entries, entry{kind: entryCall})
}

// OnExit closes the frame opened by the matching OnEnter.
// The outermost exit also reports its gas used for the collector's cross-check.
func (a *Adapter) OnExit(depth int, output []byte, gasUsed uint64, err error, _ bool) {
	if len(a.entries) == 0 {
		// Let the observer report the unmatched exit.
		a.obs.OnCallExit(outcome(output, err), gasUsed)

		return
	}

	e := a.entries[len(a.entries)-1]
	a.entries = a.entries[:len(a.entries)-1]

	if depth == 0 && e.kind != entrySkipped && a.reporter != nil {
		a.reporter.ReportGasUsed(gasUsed)
	}

	switch e.kind {
	case entrySkipped:
		return
	case entryCreate:
		if err == nil {
			a.obs.OnCreateExit(tracer.Success(nil), e.created, gasUsed, output)

			return
		}

		a.obs.OnCreateExit(outcome(output, err), common.Address{}, gasUsed, nil)
	default:
		a.obs.OnCallExit(outcome(output, err), gasUsed)
	}
}

// OnOpcode reports the step and, for SLOAD, the storage slot being read.
func (a *Adapter) OnOpcode(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, _ []byte, _ int, _ error) {
	var (
		stack  []uint256.Int
		memory []byte
	)

	if scope != nil {
		stack = scope.StackData()
		memory = scope.MemoryData()
	}

	opcode := vm.OpCode(op)
	a.obs.OnStep(pc, opcode, gas, cost, stack, memory)

	if opcode != vm.SLOAD || a.state == nil || scope == nil || len(stack) == 0 {
		return
	}

	contract := scope.Address()
	slot := common.Hash(stack[len(stack)-1].Bytes32())

	a.obs.OnStorageAccess(tracer.StorageAccess{
		Contract: contract,
		Slot:     slot,
		Value:    a.state.GetState(contract, slot),
	})
}

// OnLog forwards an emitted log.
func (a *Adapter) OnLog(l *types.Log) {
	if l == nil {
		return
	}

	a.obs.OnLog(l.Address, l.Topics, l.Data)
}

// OnStorageChange forwards an SSTORE write.
func (a *Adapter) OnStorageChange(addr common.Address, slot, prev, value common.Hash) {
	a.obs.OnStorageAccess(tracer.StorageAccess{
		Contract: addr,
		Slot:     slot,
		Prev:     prev,
		Value:    value,
		Write:    true,
	})
}

func outcome(output []byte, err error) tracer.Outcome {
	switch {
	case err == nil:
		return tracer.Success(output)
	case errors.Is(err, vm.ErrExecutionReverted):
		return tracer.Revert(output)
	default:
		return tracer.Halt(err)
	}
}

func toUint256(v *big.Int) *uint256.Int {
	if v == nil {
		return nil
	}

	out, overflow := uint256.FromBig(v)
	if overflow {
		return new(uint256.Int).SetAllOne()
	}

	return out
}
