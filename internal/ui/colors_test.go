package ui

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
)

func TestStylesRender(t *testing.T) {
	styles := []struct {
		name  string
		style lipgloss.Style
	}{
		{"Success", SuccessStyle()},
		{"Error", ErrorStyle()},
		{"Warning", WarningStyle()},
		{"Info", InfoStyle()},
		{"Muted", MutedStyle()},
	}

	for _, tt := range styles {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, tt.style.Render("text"), "text")
		})
	}
}

func TestDisableColors(t *testing.T) {
	DisableColors()
	assert.Equal(t, "ok", SuccessStyle().Render("ok"))
	assert.Equal(t, "FAILED", StateStyle("FAILED").Render("FAILED"))
}

func TestStateStyle(t *testing.T) {
	assert.Equal(t, ColorSuccess, StateStyle("INSTALLED").GetForeground())
	assert.Equal(t, ColorError, StateStyle("UNREACHABLE").GetForeground())
	assert.Equal(t, ColorWarning, StateStyle("NEEDS_CREDENTIAL").GetForeground())
	assert.Equal(t, ColorMuted, StateStyle("ALREADY_INSTALLED").GetForeground())
	assert.Equal(t, ColorSecondary, StateStyle("INSTALLING").GetForeground())
}

func TestStateSymbol(t *testing.T) {
	tests := map[string]string{
		"INSTALLED":         SymbolSuccess,
		"ALREADY_INSTALLED": SymbolComplete,
		"NEEDS_CREDENTIAL":  SymbolWarning,
		"UNREACHABLE":       SymbolFail,
		"FAILED":            SymbolFail,
		"INSTALLING":        SymbolProgress,
		"SKIPPED":           SymbolSkipped,
		"UNKNOWN":           SymbolPending,
		"":                  SymbolPending,
	}
	for state, want := range tests {
		assert.Equal(t, want, StateSymbol(state), state)
	}
}
