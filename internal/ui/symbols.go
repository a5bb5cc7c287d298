package ui

// Unicode symbols for status indicators.
const (
	SymbolSuccess  = "✓" // Script completed successfully
	SymbolFail     = "✗" // Script failed
	SymbolPending  = "○" // Download queued but never fetched
	SymbolComplete = "●" // Phase done
	SymbolSkipped  = "⊘" // Run aborted
)
