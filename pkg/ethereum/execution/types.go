package execution

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// TraceOptions configures debug_traceTransaction parameters.
type TraceOptions struct {
	DisableStorage   bool
	DisableStack     bool
	DisableMemory    bool
	EnableReturnData bool
}

// DefaultTraceOptions returns standard options.
func DefaultTraceOptions() TraceOptions {
	return TraceOptions{
		DisableStorage:   true,
		DisableStack:     true,
		DisableMemory:    true,
		EnableReturnData: true,
	}
}

// StackTraceOptions returns options with stack enabled.
func StackTraceOptions() TraceOptions {
	return TraceOptions{
		DisableStorage:   true,
		DisableStack:     false,
		DisableMemory:    true,
		EnableReturnData: true,
	}
}

// Transaction is a mined transaction joined with the parts of its receipt a
// replay needs.
type Transaction struct {
	Hash        common.Hash
	BlockNumber uint64
	Index       uint

	From  common.Address
	To    *common.Address
	Value *uint256.Int
	Input []byte

	// ContractAddress is the deployed address for contract creations.
	ContractAddress *common.Address
	// ReceiptGasUsed is the gas charged for the transaction, including
	// intrinsic gas and after refunds.
	ReceiptGasUsed uint64
	// Succeeded is the receipt status.
	Succeeded bool
}
