package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

// TableStyle provides consistent styling for tables across the CLI.
type TableStyle struct {
	Header   lipgloss.Style
	Cell     lipgloss.Style
	Selected lipgloss.Style
	Border   lipgloss.Style
}

// DefaultTableStyle returns the default table styling.
func DefaultTableStyle() TableStyle {
	return TableStyle{
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(string(ColorPrimary))),
		Cell: lipgloss.NewStyle().
			Foreground(lipgloss.Color(string(ColorPrimary))),
		Selected: lipgloss.NewStyle().
			Foreground(lipgloss.Color(string(ColorPrimary))).
			Background(lipgloss.Color(string(ColorMuted))),
		Border: lipgloss.NewStyle().
			Foreground(lipgloss.Color(string(ColorMuted))),
	}
}

// TableColumn defines a table column with name and width.
type TableColumn struct {
	Title string
	Width int
}

// NewTable creates a new Bubbles table with default styling.
func NewTable(columns []TableColumn, rows []table.Row) table.Model {
	cols := make([]table.Column, len(columns))
	for i, c := range columns {
		cols[i] = table.Column{
			Title: c.Title,
			Width: c.Width,
		}
	}

	t := table.New(
		table.WithColumns(cols),
		table.WithRows(rows),
		table.WithFocused(false),
		table.WithHeight(len(rows)+1), // +1 for header
	)

	// Apply styling
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color(string(ColorMuted))).
		BorderBottom(true).
		Bold(true).
		Foreground(lipgloss.Color(string(ColorPrimary)))
	s.Cell = s.Cell.
		Foreground(lipgloss.Color(string(ColorPrimary)))
	s.Selected = s.Selected.
		Foreground(lipgloss.Color(string(ColorPrimary))).
		Background(lipgloss.Color(string(ColorMuted))).
		Bold(false)

	t.SetStyles(s)
	return t
}

// RenderSimpleTable renders a non-interactive table string.
// This is for CLI output (not TUI), producing a simple formatted table.
func RenderSimpleTable(columns []TableColumn, rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}

	// Create the table
	tableRows := make([]table.Row, len(rows))
	for i, row := range rows {
		tableRows[i] = table.Row(row)
	}

	t := NewTable(columns, tableRows)
	return t.View()
}

// HostRow is one ssh_config alias with its cached ledger status.
type HostRow struct {
	Alias           string
	Accessible      string // "yes", "no" or "unknown"
	NeedsCredential string
	LastChecked     string
}

// RenderHostsTable renders the hosts command output.
func RenderHostsTable(rows []HostRow) string {
	if len(rows) == 0 {
		return "No hosts found in ssh config"
	}

	var b strings.Builder
	b.WriteString(headerStyle().Render("  " + padRight("HOST", 25) + padRight("ACCESSIBLE", 13) + padRight("NEEDS SUDO PW", 16) + "LAST CHECKED"))
	b.WriteString("\n")

	for _, row := range rows {
		b.WriteString("  " + padRight(row.Alias, 25) +
			padRight(triCell(row.Accessible, true), 13) +
			padRight(triCell(row.NeedsCredential, false), 16) +
			MutedStyle().Render(row.LastChecked) + "\n")
	}
	return b.String()
}

// triCell colors a tri-state value. good says which of yes/no is the
// healthy answer.
func triCell(v string, good bool) string {
	switch v {
	case "yes", "no":
		if (v == "yes") == good {
			return SuccessStyle().Render(v)
		}
		return WarningStyle().Render(v)
	default:
		return MutedStyle().Render(v)
	}
}

// ProbeRow is one fresh probe result.
type ProbeRow struct {
	Alias      string
	Reachable  bool
	Credential string // "not needed", "required" or "unknown"
	Detail     string // Failure reason or duration
}

// RenderProbeTable renders probe results.
func RenderProbeTable(rows []ProbeRow) string {
	if len(rows) == 0 {
		return "No hosts probed"
	}

	var b strings.Builder
	b.WriteString(headerStyle().Render("  STATUS   " + padRight("HOST", 25) + padRight("SUDO PASSWORD", 16) + "DETAIL"))
	b.WriteString("\n")

	for _, row := range rows {
		icon := SuccessStyle().Render(SymbolComplete)
		detail := MutedStyle().Render(row.Detail)
		if !row.Reachable {
			icon = ErrorStyle().Render(SymbolFail)
			detail = ErrorStyle().Render(row.Detail)
		}
		cred := row.Credential
		switch cred {
		case "required":
			cred = WarningStyle().Render(cred)
		case "not needed":
			cred = SuccessStyle().Render(cred)
		default:
			cred = MutedStyle().Render(cred)
		}
		b.WriteString("  " + icon + "        " + padRight(row.Alias, 25) + padRight(cred, 16) + detail + "\n")
	}
	return b.String()
}

// OutcomeRow is one host's final state after an install batch.
type OutcomeRow struct {
	Host       string
	State      string
	Diagnostic string
}

// RenderOutcomeTable renders an install batch, one line per host plus the
// first line of each diagnostic. Multi-line diagnostics are indented below.
func RenderOutcomeTable(tool string, rows []OutcomeRow) string {
	if len(rows) == 0 {
		return "No hosts"
	}

	var b strings.Builder
	b.WriteString(headerStyle().Render("  " + padRight("HOST", 25) + padRight("STATE", 20) + strings.ToUpper(tool)))
	b.WriteString("\n")

	for _, row := range rows {
		style := StateStyle(row.State)
		first, rest, _ := strings.Cut(row.Diagnostic, "\n")
		b.WriteString("  " + padRight(row.Host, 25) +
			padRight(style.Render(StateSymbol(row.State)+" "+row.State), 20) +
			MutedStyle().Render(first) + "\n")
		if rest != "" {
			for _, line := range strings.Split(rest, "\n") {
				b.WriteString("      " + MutedStyle().Render(line) + "\n")
			}
		}
	}
	return b.String()
}

// RenderStateLine renders a single progress event.
func RenderStateLine(host, state, diagnostic string) string {
	line := StateStyle(state).Render(StateSymbol(state)) + " " + padRight(host, 25) + StateStyle(state).Render(state)
	if diagnostic != "" {
		first, _, _ := strings.Cut(diagnostic, "\n")
		line += "  " + MutedStyle().Render(first)
	}
	return line
}

// RenderWarnings renders batch warnings, or "" when there are none.
func RenderWarnings(warnings []string) string {
	if len(warnings) == 0 {
		return ""
	}
	var b strings.Builder
	for _, w := range warnings {
		b.WriteString(WarningStyle().Render(SymbolWarning+" "+w) + "\n")
	}
	return b.String()
}

func headerStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorPrimary).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(ColorMuted)
}

// padRight pads a string to the specified width.
func padRight(s string, width int) string {
	// Account for ANSI codes when calculating visible length
	visibleLen := lipgloss.Width(s)
	if visibleLen >= width {
		return s
	}
	return s + strings.Repeat(" ", width-visibleLen)
}
