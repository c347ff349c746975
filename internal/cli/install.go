package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rileyhilliard/fleetup/internal/errors"
	"github.com/rileyhilliard/fleetup/internal/install"
	"github.com/rileyhilliard/fleetup/internal/ui"
)

// installOptions are the install command's flags. Zero values defer to
// config.
type installOptions struct {
	Refresh        bool
	VerifyRemote   bool
	Group          bool
	MaxParallel    int
	Timeout        time.Duration
	NonInteractive bool
	JSON           bool
}

// batchConfig layers the flags over the configured defaults.
func (o installOptions) batchConfig(base install.Config) install.Config {
	cfg := base
	cfg.Refresh = cfg.Refresh || o.Refresh
	cfg.VerifyRemote = cfg.VerifyRemote || o.VerifyRemote
	cfg.GroupHosts = cfg.GroupHosts || o.Group
	if o.MaxParallel > 0 {
		cfg.MaxParallel = o.MaxParallel
	}
	if o.Timeout > 0 {
		cfg.Timeout = o.Timeout
	}
	return cfg
}

// consoleReporter prints progress events. While a password prompt owns the
// terminal, lines are held back and printed once it closes; events keep
// draining so installs on other hosts never wait for the prompt.
type consoleReporter struct {
	mu        sync.Mutex
	out       io.Writer
	prompting bool
	held      []string
}

func (r *consoleReporter) drain(events <-chan install.Event, done chan<- struct{}) {
	defer close(done)
	for ev := range events {
		r.print(ui.RenderStateLine(ev.Host, ev.State.String(), ev.Diagnostic))
	}
}

func (r *consoleReporter) print(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.prompting {
		r.held = append(r.held, line)
		return
	}
	fmt.Fprintln(r.out, line)
}

// exclusive wraps a credential provider so progress output is held back
// while it runs.
func (r *consoleReporter) exclusive(p install.CredentialProvider) install.CredentialProvider {
	return install.CredentialFunc(func(ctx context.Context, hosts []string) (map[string]string, error) {
		r.mu.Lock()
		r.prompting = true
		r.mu.Unlock()

		defer func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.prompting = false
			for _, line := range r.held {
				fmt.Fprintln(r.out, line)
			}
			r.held = nil
		}()
		return p.RequestCredential(ctx, hosts)
	})
}

// credentialProvider prompts on a terminal and otherwise offers the
// become-password environment variable to every host.
func credentialProvider(app *App, opts installOptions) install.CredentialProvider {
	env := app.Config.Backend.BecomePasswordEnv
	if opts.NonInteractive || opts.JSON || !ui.IsTerminal(os.Stdin) {
		return install.CredentialFunc(func(_ context.Context, hosts []string) (map[string]string, error) {
			app.Log.Debug("offering $%s to %d host(s)", env, len(hosts))
			return ui.EnvPasswords(env, hosts), nil
		})
	}
	return install.CredentialFunc(ui.PasswordPrompt{Output: os.Stderr}.Ask)
}

// installCommand installs tool on hosts and prints the outcome. A batch
// where any host did not end with the tool installed exits 1.
func installCommand(ctx context.Context, app *App, tool string, hosts []string, opts installOptions, creds install.CredentialProvider, out io.Writer) error {
	cfg := opts.batchConfig(app.InstallConfig())

	var (
		events chan install.Event
		done   chan struct{}
	)
	if !opts.JSON {
		reporter := &consoleReporter{out: out}
		events = make(chan install.Event)
		done = make(chan struct{})
		go reporter.drain(events, done)
		if creds != nil {
			creds = reporter.exclusive(creds)
		}
	}

	var orchEvents chan<- install.Event
	if events != nil {
		orchEvents = events
	}
	result, err := app.Orchestrator(cfg, creds, orchEvents).InstallTool(ctx, tool, hosts)
	if events != nil {
		close(events)
		<-done
	}

	if err != nil {
		if opts.JSON {
			_ = WriteJSONFromError(out, err)
			return errors.NewExitError(1)
		}
		return err
	}

	if opts.JSON {
		if werr := WriteJSONResult(out, result.Success(), result); werr != nil {
			return werr
		}
	} else {
		printInstallResult(out, result)
	}

	if !result.Success() {
		return errors.NewExitError(1)
	}
	return nil
}

func printInstallResult(out io.Writer, r *install.Result) {
	rows := make([]ui.OutcomeRow, len(r.Outcomes))
	for i, o := range r.Outcomes {
		rows[i] = ui.OutcomeRow{Host: o.Host, State: o.State.String(), Diagnostic: o.Diagnostic}
	}

	fmt.Fprintln(out)
	fmt.Fprint(out, ui.RenderOutcomeTable(r.Tool, rows))
	fmt.Fprint(out, ui.RenderWarnings(r.Warnings))

	summary := fmt.Sprintf("%d installed, %d already installed", r.Installed, r.AlreadyInstalled)
	if n := r.NeedsCredential + r.Unreachable + r.Failed + r.Skipped; n > 0 {
		summary += fmt.Sprintf(", %d not installed", n)
	}
	summary += fmt.Sprintf(" (%s)", r.Duration.Round(time.Millisecond))

	if r.Success() {
		fmt.Fprintln(out, ui.SuccessStyle().Render(ui.SymbolSuccess+" "+summary))
	} else {
		fmt.Fprintln(out, ui.ErrorStyle().Render(ui.SymbolFail+" "+summary))
	}
	if r.NeedsCredential > 0 {
		fmt.Fprintln(out, ui.MutedStyle().Render("  Hosts marked NEEDS_CREDENTIAL need a sudo password: rerun on a terminal, or export the become password variable."))
	}
}
