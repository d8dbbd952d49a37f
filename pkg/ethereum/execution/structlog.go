package execution

// TraceTransaction is the result of debug_traceTransaction with the struct
// logger.
type TraceTransaction struct {
	Gas         uint64  `json:"gas"`
	Failed      bool    `json:"failed"`
	ReturnValue *string `json:"returnValue"`

	Structlogs []StructLog `json:"structLogs"`
}

// StructLog is one opcode execution as reported by the struct logger.
type StructLog struct {
	PC         uint32  `json:"pc"`
	Op         string  `json:"op"`
	Gas        uint64  `json:"gas"`
	GasCost    uint64  `json:"gasCost"`
	Depth      uint64  `json:"depth"`
	ReturnData *string `json:"returnData"`
	Refund     *uint64 `json:"refund,omitempty"`
	Error      *string `json:"error,omitempty"`

	// Stack is only present when the trace was taken with the stack enabled.
	// Words are hex encoded with the top of the stack last.
	Stack *[]string `json:"stack,omitempty"`

	// MemSize is the memory size in bytes before the opcode executed.
	MemSize uint64 `json:"memSize,omitempty"`

	// CallToAddress is set by tracers that resolve call and create targets
	// inline. Replays fall back to the stack when it is nil.
	CallToAddress *string `json:"callToAddress,omitempty"`

	// GasUsed is set by tracers that pre-compute the actual gas consumed by
	// each opcode. Zero means it has to be derived from consecutive gas values.
	GasUsed uint64 `json:"gasUsed,omitempty"`
}

// HasStack reports whether the struct log carries at least n stack words.
func (s *StructLog) HasStack(n int) bool {
	return s.Stack != nil && len(*s.Stack) >= n
}

// StackBack returns the n-th word from the top of the stack, 0 being the top.
func (s *StructLog) StackBack(n int) (string, bool) {
	if !s.HasStack(n + 1) {
		return "", false
	}

	stack := *s.Stack

	return stack[len(stack)-1-n], true
}
