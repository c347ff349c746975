package ui

import (
	"context"
	stderrors "errors"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"

	"github.com/rileyhilliard/fleetup/internal/errors"
)

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// PasswordPrompt asks for sudo passwords with a single huh form.
type PasswordPrompt struct {
	Input  io.Reader // Defaults to the terminal
	Output io.Writer

	// Accessible renders plain prompts instead of the TUI, for screen
	// readers and piped input.
	Accessible bool
}

// Ask shows one form asking for the sudo password of every host in hosts.
// With more than one host it first offers to reuse a single password.
// Empty answers are left out of the result. Cancelling the form is not an
// error; it yields no passwords.
func (p PasswordPrompt) Ask(ctx context.Context, hosts []string) (map[string]string, error) {
	if len(hosts) == 0 {
		return map[string]string{}, nil
	}

	var (
		shared  = len(hosts) > 1
		common  string
		answers = make([]string, len(hosts))
	)

	form := huh.NewForm(passwordGroups(hosts, &shared, &common, answers)...).
		WithAccessible(p.Accessible)
	if p.Input != nil {
		form = form.WithInput(p.Input)
	}
	if p.Output != nil {
		form = form.WithOutput(p.Output)
	}

	if err := form.RunWithContext(ctx); err != nil {
		if stderrors.Is(err, huh.ErrUserAborted) {
			return map[string]string{}, nil
		}
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Password prompt failed",
			"Export the become password and rerun with --non-interactive")
	}

	if shared {
		return sharedPasswords(hosts, common), nil
	}
	return collectPasswords(hosts, answers), nil
}

// passwordGroups builds the form: an optional "same password" confirm, then
// either one shared field or one field per host.
func passwordGroups(hosts []string, shared *bool, common *string, answers []string) []*huh.Group {
	perHost := make([]huh.Field, len(hosts))
	for i, h := range hosts {
		perHost[i] = huh.NewInput().
			Title("sudo password for " + h).
			EchoMode(huh.EchoModePassword).
			Value(&answers[i])
	}

	if len(hosts) == 1 {
		return []*huh.Group{huh.NewGroup(perHost...)}
	}

	return []*huh.Group{
		huh.NewGroup(
			huh.NewConfirm().
				Title("Use the same sudo password for all hosts?").
				Description(strings.Join(hosts, ", ")).
				Value(shared),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("sudo password").
				EchoMode(huh.EchoModePassword).
				Value(common),
		).WithHideFunc(func() bool { return !*shared }),
		huh.NewGroup(perHost...).WithHideFunc(func() bool { return *shared }),
	}
}

func sharedPasswords(hosts []string, pw string) map[string]string {
	out := make(map[string]string, len(hosts))
	if pw == "" {
		return out
	}
	for _, h := range hosts {
		out[h] = pw
	}
	return out
}

func collectPasswords(hosts []string, answers []string) map[string]string {
	out := make(map[string]string, len(hosts))
	for i, h := range hosts {
		if answers[i] != "" {
			out[h] = answers[i]
		}
	}
	return out
}

// EnvPasswords offers the password in env var name to every host, for
// non-interactive runs. An unset or empty variable offers nothing.
func EnvPasswords(name string, hosts []string) map[string]string {
	return sharedPasswords(hosts, os.Getenv(name))
}
