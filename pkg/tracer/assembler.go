package tracer

import (
	"fmt"
)

// assemble builds the trace once the root frame has been sealed. frames holds
// every frame in enter order, so a parent is always visited before its
// children.
func assemble(root *Frame, frames []*Frame, logs []*LogEvent, selfDestructs []*SelfDestructEvent, cfg Config) *Trace {
	t := &Trace{
		Root:             root,
		AllLogs:          make([]*LogEvent, 0, len(logs)),
		AllSelfDestructs: make([]*SelfDestructEvent, 0, len(selfDestructs)),
		TotalGasUsed:     root.GasUsed,
		FrameCount:       len(frames),
		Verbosity:        cfg.Verbosity,
		frames:           frames,
	}

	committed := make([]bool, len(frames))

	for _, f := range frames {
		ok := f.Outcome.Status == StatusSuccess
		if cfg.RevertScope == RevertScopeTransitive && !f.IsRoot() {
			ok = ok && committed[f.ParentID]
		}

		committed[f.ID] = ok

		// gas = gas_cumulative - sum(children.gas_cumulative)
		var childGasSum uint64
		for _, child := range f.Children {
			childGasSum += child.GasUsed
		}

		if f.GasUsed >= childGasSum {
			f.GasSelf = f.GasUsed - childGasSum
		} else {
			t.Warnings = append(t.Warnings, IntegrityWarning{
				Kind:    WarningChildGasExceedsParent,
				FrameID: f.ID,
				Message: fmt.Sprintf("children used %d gas, frame reported %d", childGasSum, f.GasUsed),
			})
		}
	}

	t.committed = committed

	for _, ev := range logs {
		ev.Reverted = !committed[ev.FrameID]
		if !ev.Reverted {
			t.AllLogs = append(t.AllLogs, ev)
		}
	}

	for _, ev := range selfDestructs {
		ev.Reverted = !committed[ev.FrameID]
		if !ev.Reverted {
			t.AllSelfDestructs = append(t.AllSelfDestructs, ev)
		}
	}

	return t
}
