package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/rileyhilliard/fleetup/internal/ledger"
	"github.com/rileyhilliard/fleetup/internal/ui"
	"github.com/rileyhilliard/fleetup/internal/util"
)

// HostStatusOutput is one row of `hosts --json`.
type HostStatusOutput struct {
	Alias           string     `json:"alias"`
	Accessible      ledger.Tri `json:"accessible"`
	NeedsCredential ledger.Tri `json:"needs_credential"`
	LastCheckedAt   *time.Time `json:"last_checked_at,omitempty"`
	Tools           []string   `json:"tools"`
}

// hostsCommand lists ssh_config aliases merged with whatever the ledger
// knows about them. Hosts known only to the ledger are listed too.
func hostsCommand(ctx context.Context, app *App, asJSON bool, out io.Writer) error {
	rows, err := hostStatuses(ctx, app)
	if err != nil {
		return err
	}

	if asJSON {
		return WriteJSONSuccess(out, rows)
	}

	tableRows := make([]ui.HostRow, len(rows))
	for i, r := range rows {
		checked := "never"
		if r.LastCheckedAt != nil {
			checked = formatAge(time.Since(*r.LastCheckedAt))
		}
		tableRows[i] = ui.HostRow{
			Alias:           r.Alias,
			Accessible:      r.Accessible.String(),
			NeedsCredential: r.NeedsCredential.String(),
			LastChecked:     checked,
		}
	}
	fmt.Fprint(out, ui.RenderHostsTable(tableRows))
	return nil
}

func hostStatuses(ctx context.Context, app *App) ([]HostStatusOutput, error) {
	aliases, err := app.Source.Aliases()
	if err != nil {
		return nil, err
	}
	records, err := app.Ledger.ListHostStatuses(ctx)
	if err != nil {
		return nil, err
	}

	byAlias := make(map[string]*HostStatusOutput)
	for _, a := range aliases {
		byAlias[a] = &HostStatusOutput{Alias: a, Tools: []string{}}
	}
	for _, rec := range records {
		row, ok := byAlias[rec.Alias]
		if !ok {
			row = &HostStatusOutput{Alias: rec.Alias, Tools: []string{}}
			byAlias[rec.Alias] = row
		}
		row.Accessible = rec.Accessible
		row.NeedsCredential = rec.NeedsCredential
		if !rec.LastCheckedAt.IsZero() {
			t := rec.LastCheckedAt
			row.LastCheckedAt = &t
		}
	}

	installs, err := app.Ledger.ListInstallations(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, in := range installs {
		row, ok := byAlias[in.Host]
		if !ok {
			row = &HostStatusOutput{Alias: in.Host, Tools: []string{}}
			byAlias[in.Host] = row
		}
		row.Tools = append(row.Tools, in.Tool)
	}

	rows := make([]HostStatusOutput, 0, len(byAlias))
	for _, row := range byAlias {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Alias < rows[j].Alias })
	return rows, nil
}

// ProbeOutput is one row of `probe --json`.
type ProbeOutput struct {
	Alias              string     `json:"alias"`
	Reachable          bool       `json:"reachable"`
	CredentialRequired ledger.Tri `json:"credential_required"`
	Code               string     `json:"code,omitempty"`
	Diagnostic         string     `json:"diagnostic,omitempty"`
	DurationMs         int64      `json:"duration_ms"`
}

// probeCommand probes aliases fresh, records the results, and prints them
// in the order given.
func probeCommand(ctx context.Context, app *App, aliases []string, asJSON bool, out io.Writer) error {
	orch := app.Orchestrator(app.InstallConfig(), nil, nil)
	results := orch.ProbeHosts(ctx, aliases)

	var rows []ProbeOutput
	seen := make(map[string]bool)
	for _, a := range aliases {
		o, ok := results[a]
		if !ok || seen[a] {
			continue
		}
		seen[a] = true
		rows = append(rows, ProbeOutput{
			Alias:              a,
			Reachable:          o.Reachable,
			CredentialRequired: o.CredentialRequired,
			Code:               o.Reason.Code(),
			Diagnostic:         o.Diagnostic,
			DurationMs:         o.Duration.Milliseconds(),
		})
	}

	if asJSON {
		return WriteJSONSuccess(out, rows)
	}

	tableRows := make([]ui.ProbeRow, len(rows))
	for i, r := range rows {
		detail := fmt.Sprintf("%dms", r.DurationMs)
		if r.Code != "" {
			detail = r.Diagnostic
		}
		tableRows[i] = ui.ProbeRow{
			Alias:      r.Alias,
			Reachable:  r.Reachable,
			Credential: credentialLabel(r.CredentialRequired),
			Detail:     detail,
		}
	}
	fmt.Fprint(out, ui.RenderProbeTable(tableRows))
	if skipped := len(dedupeStrings(aliases)) - len(rows); skipped > 0 {
		fmt.Fprintln(out, ui.WarningStyle().Render(fmt.Sprintf("%s %d %s not probed: interrupted", ui.SymbolSkipped, skipped, util.Pluralize(skipped, "host", "hosts"))))
	}
	return nil
}

func credentialLabel(t ledger.Tri) string {
	switch t {
	case ledger.True:
		return "required"
	case ledger.False:
		return "not needed"
	default:
		return "unknown"
	}
}

// formatAge renders a duration as a short "ago" string.
func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

