package cli

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rileyhilliard/fleetup/internal/errors"
	"github.com/rileyhilliard/fleetup/internal/require"
	"github.com/rileyhilliard/fleetup/internal/ui"
)

// CheckOutput compares what the ledger believes with what the host reports.
type CheckOutput struct {
	Host    string `json:"host"`
	Ledger  bool   `json:"ledger"`
	Remote  *bool  `json:"remote"` // nil when the host couldn't be inspected
	Path    string `json:"path,omitempty"`
	Version string `json:"version,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Drift reports whether the ledger and the host disagree.
func (c CheckOutput) Drift() bool {
	return c.Remote != nil && *c.Remote != c.Ledger
}

// checkCommand inspects hosts for tool without changing anything.
func checkCommand(ctx context.Context, app *App, tool string, hosts []string, asJSON bool, out io.Writer) error {
	if !require.ValidateToolName(tool) {
		return errors.New(errors.ErrInvalidInstallInput,
			fmt.Sprintf("'%s' isn't a valid tool name", tool),
			"Tool names are role directory names, e.g. nginx or node_exporter.")
	}
	hosts = dedupeStrings(hosts)

	rows := make([]CheckOutput, len(hosts))
	sem := make(chan struct{}, app.Config.Install.MaxParallel)
	var wg sync.WaitGroup
	for i, h := range hosts {
		wg.Add(1)
		go func(i int, h string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			rows[i] = checkHost(ctx, app, tool, h)
		}(i, h)
	}
	wg.Wait()

	if asJSON {
		return WriteJSONSuccess(out, rows)
	}

	table := make([][]string, len(rows))
	for i, r := range rows {
		remote := "?"
		detail := r.Error
		if r.Remote != nil {
			remote = yesNo(*r.Remote)
			if *r.Remote {
				detail = r.Path
				if r.Version != "" {
					detail += " (" + r.Version + ")"
				}
			}
		}
		if r.Drift() {
			detail = "drift: " + detail
		}
		table[i] = []string{r.Host, yesNo(r.Ledger), remote, detail}
	}
	fmt.Fprintln(out, ui.RenderSimpleTable([]ui.TableColumn{
		{Title: "HOST", Width: 24},
		{Title: "LEDGER", Width: 8},
		{Title: "REMOTE", Width: 8},
		{Title: "DETAIL", Width: 48},
	}, table))
	return nil
}

func checkHost(ctx context.Context, app *App, tool, h string) CheckOutput {
	row := CheckOutput{Host: h}

	installed, err := app.Ledger.IsInstalled(ctx, h, tool)
	if err != nil {
		row.Error = errors.Describe(err)
		return row
	}
	row.Ledger = installed

	res, err := app.Prober.CheckTool(ctx, h, tool)
	if err != nil {
		row.Error = errors.Describe(err)
		return row
	}
	row.Remote = &res.Satisfied
	row.Path = res.Path
	row.Version = res.Version
	return row
}

// toolsCommand lists the role catalog.
func toolsCommand(app *App, out io.Writer) error {
	tools, err := app.Catalog.ListTools()
	if err != nil {
		return err
	}
	if len(tools) == 0 {
		fmt.Fprintln(out, ui.MutedStyle().Render("No roles found in:"))
		for _, d := range app.Catalog.Dirs {
			fmt.Fprintln(out, ui.MutedStyle().Render("  "+d))
		}
		return nil
	}
	for _, t := range tools {
		fmt.Fprintln(out, t)
	}
	return nil
}

// forgetCommand drops the installation records for tool on hosts. Nothing
// on the hosts changes; the next install re-runs the role there.
func forgetCommand(ctx context.Context, app *App, tool string, hosts []string, out io.Writer) error {
	for _, h := range dedupeStrings(hosts) {
		if err := app.Ledger.RemoveInstallation(ctx, h, tool); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s forgot %s on %s\n", ui.MutedStyle().Render(ui.SymbolSkipped), tool, h)
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// resetCommand drops cached host statuses so the next install probes again.
func resetCommand(ctx context.Context, app *App, hosts []string, out io.Writer) error {
	for _, h := range dedupeStrings(hosts) {
		if err := app.Ledger.ForgetHost(ctx, h); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s cleared cached status for %s\n", ui.MutedStyle().Render(ui.SymbolSkipped), h)
	}
	return nil
}
