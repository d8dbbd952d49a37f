package replay

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"

	"github.com/ethpandaops/execution-tracer/pkg/ethereum/execution"
)

// parseWord decodes a hex stack word. Both minimal ("0x1") and zero padded
// encodings are accepted.
func parseWord(s string) (*uint256.Int, error) {
	b := common.FromHex(s)
	if len(b) > 32 {
		return nil, fmt.Errorf("stack word %q exceeds 32 bytes", s)
	}

	return new(uint256.Int).SetBytes(b), nil
}

// parseAddress decodes an address from a hex string, keeping the low 20 bytes
// of longer stack words.
func parseAddress(s string) common.Address {
	return common.BytesToAddress(common.FromHex(s))
}

// stackWord returns the n-th stack word from the top as a number.
func stackWord(sl *execution.StructLog, n int) (*uint256.Int, bool) {
	raw, ok := sl.StackBack(n)
	if !ok {
		return nil, false
	}

	w, err := parseWord(raw)
	if err != nil {
		return nil, false
	}

	return w, true
}

// stackHash returns the n-th stack word from the top as a hash.
func stackHash(sl *execution.StructLog, n int) (common.Hash, bool) {
	w, ok := stackWord(sl, n)
	if !ok {
		return common.Hash{}, false
	}

	return common.Hash(w.Bytes32()), true
}

// parseStack decodes the full stack of a struct log, bottom first.
func parseStack(sl *execution.StructLog) ([]uint256.Int, error) {
	if sl.Stack == nil {
		return nil, nil
	}

	out := make([]uint256.Int, len(*sl.Stack))

	for i, raw := range *sl.Stack {
		w, err := parseWord(raw)
		if err != nil {
			return nil, err
		}

		out[i] = *w
	}

	return out, nil
}

// callTarget resolves the target of a CALL-family opcode, preferring the
// tracer supplied address over the stack operand.
func callTarget(sl *execution.StructLog) (common.Address, bool) {
	if sl.CallToAddress != nil {
		return parseAddress(*sl.CallToAddress), true
	}

	// Stack: [..., addr, gas] for every CALL-family opcode.
	raw, ok := sl.StackBack(1)
	if !ok {
		return common.Address{}, false
	}

	return parseAddress(raw), true
}

// callValue returns the value operand of a value carrying call or create.
func callValue(sl *execution.StructLog, op vm.OpCode) *uint256.Int {
	var (
		w  *uint256.Int
		ok bool
	)

	switch op {
	case vm.CALL, vm.CALLCODE:
		// Stack: [..., value, addr, gas]
		w, ok = stackWord(sl, 2)
	case vm.CREATE, vm.CREATE2:
		// Stack: [..., size, offset, value]
		w, ok = stackWord(sl, 0)
	}

	if !ok {
		return nil
	}

	return w
}

// createAddresses resolves the address deployed by every CREATE/CREATE2 in
// the trace. The address is the top of the stack at the first opcode back at
// the creating depth, which is zero when the creation failed.
func createAddresses(structlogs []execution.StructLog) map[int]common.Address {
	result := make(map[int]common.Address)

	type pendingCreate struct {
		index int
		depth uint64
	}

	var pending []pendingCreate

	for i := range structlogs {
		sl := &structlogs[i]

		for len(pending) > 0 {
			last := pending[len(pending)-1]
			if sl.Depth > last.depth || i <= last.index {
				break
			}

			if precomputed := structlogs[last.index].CallToAddress; precomputed != nil {
				result[last.index] = parseAddress(*precomputed)
			} else if raw, ok := sl.StackBack(0); ok {
				result[last.index] = parseAddress(raw)
			}

			pending = pending[:len(pending)-1]
		}

		if sl.Op == vm.CREATE.String() || sl.Op == vm.CREATE2.String() {
			pending = append(pending, pendingCreate{index: i, depth: sl.Depth})
		}
	}

	return result
}
