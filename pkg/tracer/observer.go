package tracer

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"
)

// Observer is the callback interface a VM drives while executing one
// transaction. Every hook is synchronous and purely observational.
//
// Ordering the VM must uphold:
//   - enter/exit pairs nest LIFO across all frames
//   - OnStep, OnLog, OnSelfDestruct and OnStorageAccess only occur while the
//     frame they belong to is the open top frame
//   - every entered frame receives exactly one exit, including on aborts
type Observer interface {
	// OnStep is called before each instruction executes. stack and memory are
	// views owned by the VM and must not be retained or mutated.
	OnStep(pc uint64, op vm.OpCode, gas, cost uint64, stack []uint256.Int, memory []byte)

	OnCallEnter(kind Kind, caller, target common.Address, value *uint256.Int, input []byte, gas uint64)
	OnCallExit(outcome Outcome, gasUsed uint64)

	OnCreateEnter(kind Kind, caller common.Address, value *uint256.Int, initCode []byte, gas uint64)
	// OnCreateExit closes a create frame. deployed is only meaningful on success.
	OnCreateExit(outcome Outcome, deployed common.Address, gasUsed uint64, deployedCode []byte)

	OnLog(emitter common.Address, topics []common.Hash, data []byte)
	OnSelfDestruct(contract, beneficiary common.Address, value *uint256.Int)
	OnStorageAccess(access StorageAccess)
}

// ForceCloser seals every open frame when execution aborts without
// delivering the remaining exits. *Collector implements it.
type ForceCloser interface {
	ForceCloseAll(reason error)
}

// GasReporter accepts the gas used by the whole execution as reported by the
// VM. *Collector implements it.
type GasReporter interface {
	ReportGasUsed(gas uint64)
}

// NoopObserver implements every hook as a no-op. Embed it to implement only
// the hooks an observer cares about.
type NoopObserver struct{}

var _ Observer = NoopObserver{}

func (NoopObserver) OnStep(uint64, vm.OpCode, uint64, uint64, []uint256.Int, []byte) {}

func (NoopObserver) OnCallEnter(Kind, common.Address, common.Address, *uint256.Int, []byte, uint64) {
}

func (NoopObserver) OnCallExit(Outcome, uint64) {}

func (NoopObserver) OnCreateEnter(Kind, common.Address, *uint256.Int, []byte, uint64) {}

func (NoopObserver) OnCreateExit(Outcome, common.Address, uint64, []byte) {}

func (NoopObserver) OnLog(common.Address, []common.Hash, []byte) {}

func (NoopObserver) OnSelfDestruct(common.Address, common.Address, *uint256.Int) {}

func (NoopObserver) OnStorageAccess(StorageAccess) {}

// multiObserver fans each event out to its observers in order.
type multiObserver []Observer

var (
	_ ForceCloser = multiObserver(nil)
	_ GasReporter = multiObserver(nil)
)

// Multi returns an Observer that invokes each observer in the given order for
// every event. Nil observers are skipped. The result also implements
// ForceCloser and GasReporter, forwarding to the observers that do.
func Multi(observers ...Observer) Observer {
	out := make(multiObserver, 0, len(observers))

	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}

	return out
}

func (m multiObserver) OnStep(pc uint64, op vm.OpCode, gas, cost uint64, stack []uint256.Int, memory []byte) {
	for _, o := range m {
		o.OnStep(pc, op, gas, cost, stack, memory)
	}
}

func (m multiObserver) OnCallEnter(kind Kind, caller, target common.Address, value *uint256.Int, input []byte, gas uint64) {
	for _, o := range m {
		o.OnCallEnter(kind, caller, target, value, input, gas)
	}
}

func (m multiObserver) OnCallExit(outcome Outcome, gasUsed uint64) {
	for _, o := range m {
		o.OnCallExit(outcome, gasUsed)
	}
}

func (m multiObserver) OnCreateEnter(kind Kind, caller common.Address, value *uint256.Int, initCode []byte, gas uint64) {
	for _, o := range m {
		o.OnCreateEnter(kind, caller, value, initCode, gas)
	}
}

func (m multiObserver) OnCreateExit(outcome Outcome, deployed common.Address, gasUsed uint64, deployedCode []byte) {
	for _, o := range m {
		o.OnCreateExit(outcome, deployed, gasUsed, deployedCode)
	}
}

func (m multiObserver) OnLog(emitter common.Address, topics []common.Hash, data []byte) {
	for _, o := range m {
		o.OnLog(emitter, topics, data)
	}
}

func (m multiObserver) OnSelfDestruct(contract, beneficiary common.Address, value *uint256.Int) {
	for _, o := range m {
		o.OnSelfDestruct(contract, beneficiary, value)
	}
}

func (m multiObserver) OnStorageAccess(access StorageAccess) {
	for _, o := range m {
		o.OnStorageAccess(access)
	}
}

func (m multiObserver) ForceCloseAll(reason error) {
	for _, o := range m {
		if fc, ok := o.(ForceCloser); ok {
			fc.ForceCloseAll(reason)
		}
	}
}

func (m multiObserver) ReportGasUsed(gas uint64) {
	for _, o := range m {
		if r, ok := o.(GasReporter); ok {
			r.ReportGasUsed(gas)
		}
	}
}
