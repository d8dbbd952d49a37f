package execution

// ParityTrace is one frame of a collected trace in the flat parity
// trace_transaction layout. TraceAddress holds the child index at every level
// below the root, so the root's is empty.
type ParityTrace struct {
	// Type is "call" or "create".
	Type         string             `json:"type"`
	Action       ParityTraceAction  `json:"action"`
	Result       *ParityTraceResult `json:"result"`
	Error        *string            `json:"error"`
	Subtraces    uint32             `json:"subtraces"`
	TraceAddress []uint32           `json:"traceAddress"`
}

// ParityTraceAction describes what a frame was asked to do. Numbers and byte
// strings are hex encoded.
type ParityTraceAction struct {
	From  string `json:"from"`
	Gas   string `json:"gas"`
	// Value is "0x0" for frames that carry no value.
	Value string `json:"value"`

	// Call frames only.
	To       *string `json:"to"`
	CallType *string `json:"callType"`
	Input    string  `json:"input"`

	// Create frames only.
	Init         *string `json:"init"`
	CreationType *string `json:"creationType"`
}

// ParityTraceResult is set for frames that succeeded.
type ParityTraceResult struct {
	GasUsed string  `json:"gasUsed"`
	// Output is empty for create frames, which report Code instead.
	Output  string  `json:"output"`
	Code    *string `json:"code"`
	Address *string `json:"address"`
}
