package export

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/execution-tracer/internal/testutil"
	"github.com/ethpandaops/execution-tracer/pkg/tracer"
)

var (
	sender   = testutil.Addr(0xa11ce)
	contract = testutil.Addr(0xc0de)
	other    = testutil.Addr(0xbeef)
	third    = testutil.Addr(0x3333)
	created  = testutil.Addr(0xd00d)
)

func newCollector(t *testing.T) *tracer.Collector {
	t.Helper()

	log, _ := testutil.NewLogger(t)

	c, err := tracer.NewCollector(log, t.Name(), tracer.DefaultConfig())
	require.NoError(t, err)

	return c
}

// buildTrace produces:
//
//	0 ROOT contract
//	├── 1 CALL other (reverts)
//	│   └── 2 STATICCALL third (logs)
//	└── 3 CREATE2 created
func buildTrace(t *testing.T) *tracer.Trace {
	t.Helper()

	c := newCollector(t)

	c.OnCallEnter(tracer.KindRoot, sender, contract, uint256.NewInt(1), []byte{0x01}, 100000)
	c.OnStep(0, vm.PUSH1, 100000, 3, nil, nil)
	c.OnStep(2, vm.CALL, 99997, 700, nil, nil)

	c.OnCallEnter(tracer.KindCall, contract, other, uint256.NewInt(0), nil, 50000)
	c.OnStep(0, vm.STATICCALL, 50000, 100, nil, nil)

	c.OnCallEnter(tracer.KindStaticCall, other, third, nil, []byte{0xaa}, 20000)
	c.OnStep(0, vm.LOG1, 20000, 375, nil, nil)
	c.OnLog(third, []common.Hash{testutil.Hash(1)}, []byte{0x01})
	c.OnCallExit(tracer.Success([]byte{0x01}), 500)

	c.OnStep(1, vm.REVERT, 49000, 0, nil, nil)
	c.OnCallExit(tracer.Revert([]byte{0xde}), 2000)

	c.OnCreateEnter(tracer.KindCreate2, contract, uint256.NewInt(5), []byte{0x60}, 30000)
	c.OnStep(0, vm.RETURN, 30000, 0, nil, nil)
	c.OnCreateExit(tracer.Success(nil), created, 10000, []byte{0x60, 0x00})

	c.OnStep(3, vm.STOP, 50000, 0, nil, nil)
	c.OnCallExit(tracer.Success(nil), 40000)

	trace, err := c.Finalize()
	require.NoError(t, err)

	return trace
}

func buildHaltedTrace(t *testing.T) *tracer.Trace {
	t.Helper()

	c := newCollector(t)

	c.OnCallEnter(tracer.KindRoot, sender, contract, nil, nil, 1000)
	c.OnStep(0, vm.SSTORE, 1000, 20000, nil, nil)
	c.OnCallExit(tracer.Halt(errors.New("out of gas")), 1000)

	trace, err := c.Finalize()
	require.NoError(t, err)

	return trace
}
