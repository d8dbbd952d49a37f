package execution

// SanitizeGasCost corrects a gasCost that exceeds the gas available at the
// opcode and reports whether it changed anything.
//
// Some clients underflow `availableGas - base` when computing call gas,
// producing huge values such as 18158513697557845033. A cost can never exceed
// the available gas, so it is clamped to Gas, which matches clients that
// report failed calls as consuming everything.
func SanitizeGasCost(log *StructLog) bool {
	if log.GasCost > log.Gas {
		log.GasCost = log.Gas

		return true
	}

	return false
}

// SanitizeStructLogs applies gas cost sanitization to all struct logs and
// returns the number of corrected entries.
func SanitizeStructLogs(logs []StructLog) int {
	corrected := 0

	for i := range logs {
		if SanitizeGasCost(&logs[i]) {
			corrected++
		}
	}

	return corrected
}
