package contextmgr

// Budget returns the effective per-model token budget the Context Manager
// may send, after subtracting a safety reserve from the context window.
func Budget(contextWindow int) int {
	switch {
	case contextWindow >= 1_000_000:
		return contextWindow - 300_000
	case contextWindow >= 400_000:
		return contextWindow - 64_000
	case contextWindow >= 200_000:
		return contextWindow - 32_000
	case contextWindow >= 100_000:
		return contextWindow - 16_000
	default:
		return int(float64(contextWindow) * 0.84)
	}
}

// Target is the hysteresis goal after compression: 60% of budget.
func Target(budget int) int {
	return (budget * 6) / 10
}
