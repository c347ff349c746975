package ui

// Unicode symbols for status indicators.
const (
	SymbolSuccess  = "✓" // Installed
	SymbolFail     = "✗" // Failed or unreachable
	SymbolPending  = "○" // Not yet decided
	SymbolProgress = "◐" // Installing
	SymbolComplete = "●" // Already installed
	SymbolSkipped  = "⊘" // Batch cancelled before dispatch
	SymbolWarning  = "⚠" // Needs a credential
)

// StateSymbol returns the symbol for an install state as printed by
// State.String (e.g. "INSTALLED").
func StateSymbol(state string) string {
	switch state {
	case "INSTALLED", "READY":
		return SymbolSuccess
	case "ALREADY_INSTALLED":
		return SymbolComplete
	case "NEEDS_CREDENTIAL":
		return SymbolWarning
	case "UNREACHABLE", "FAILED":
		return SymbolFail
	case "INSTALLING":
		return SymbolProgress
	case "SKIPPED":
		return SymbolSkipped
	default:
		return SymbolPending
	}
}
