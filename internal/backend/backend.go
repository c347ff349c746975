// Package backend drives the automation tool that applies a work unit.
package backend

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rileyhilliard/fleetup/internal/errors"
	"github.com/rileyhilliard/fleetup/internal/logger"
	"github.com/rileyhilliard/fleetup/internal/util"
	"github.com/rileyhilliard/fleetup/internal/workunit"
)

// DefaultCommand is the playbook runner binary.
const DefaultCommand = "ansible-playbook"

const sshCommonArgsEnv = "ANSIBLE_SSH_COMMON_ARGS"

// Result is what one backend run produced. Err is set when the run failed
// for any reason, including a non-zero exit.
type Result struct {
	Success  bool
	ExitCode int
	Output   string
	Recap    map[string]HostRecap
	Duration time.Duration
	Err      error
}

// Runner applies a work unit.
type Runner interface {
	Run(ctx context.Context, unit *workunit.Unit) Result
}

// AnsibleRunner runs ansible-playbook inside the unit directory.
type AnsibleRunner struct {
	// Command defaults to ansible-playbook.
	Command   string
	ExtraArgs []string

	// SSHConfig is added to ANSIBLE_SSH_COMMON_ARGS when set, so Ansible's
	// default ssh_args (ControlMaster, ControlPersist) still apply.
	SSHConfig string

	// BecomePasswordEnv carries the unit's credential. Defaults to
	// workunit.DefaultBecomePasswordEnv.
	BecomePasswordEnv string

	// Env is the base environment. os.Environ() when nil.
	Env []string

	Log logger.Logger
}

// NewAnsibleRunner creates a runner with defaults.
func NewAnsibleRunner(log logger.Logger) *AnsibleRunner {
	if log == nil {
		log = logger.Noop()
	}
	return &AnsibleRunner{
		Command:           DefaultCommand,
		BecomePasswordEnv: workunit.DefaultBecomePasswordEnv,
		Log:               log,
	}
}

// Args returns the argument list for unit, relative to its directory.
func (r *AnsibleRunner) Args() []string {
	args := []string{"-i", "inventory/hosts", "project/playbook.yml"}
	return append(args, r.ExtraArgs...)
}

// Environ returns the process environment for unit. The credential appears
// here and nowhere else.
func (r *AnsibleRunner) Environ(unit *workunit.Unit) []string {
	base := r.Env
	if base == nil {
		base = os.Environ()
	}

	passEnv := r.BecomePasswordEnv
	if passEnv == "" {
		passEnv = workunit.DefaultBecomePasswordEnv
	}

	overrides := map[string]string{
		"ANSIBLE_ROLES_PATH":            unit.RolesDir(),
		"ANSIBLE_NOCOLOR":               "1",
		"ANSIBLE_RETRY_FILES_ENABLED":   "0",
		"ANSIBLE_DISPLAY_SKIPPED_HOSTS": "0",
	}
	if r.SSHConfig != "" {
		common := "-F " + util.ShellQuote(r.SSHConfig)
		if prev := lookupEnv(base, sshCommonArgsEnv); prev != "" {
			common = prev + " " + common
		}
		overrides[sshCommonArgsEnv] = common
	}

	env := make([]string, 0, len(base)+len(overrides)+1)
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[key]; ok || key == passEnv {
			continue
		}
		env = append(env, kv)
	}
	for k, v := range overrides {
		env = append(env, k+"="+v)
	}
	if unit.HasCredential() {
		env = append(env, passEnv+"="+unit.Credential())
	}
	return env
}

// Run implements Runner. Cancelling ctx kills the process.
func (r *AnsibleRunner) Run(ctx context.Context, unit *workunit.Unit) Result {
	start := time.Now()
	command := r.Command
	if command == "" {
		command = DefaultCommand
	}
	log := r.Log
	if log == nil {
		log = logger.Noop()
	}

	cmd := exec.CommandContext(ctx, command, r.Args()...)
	cmd.Dir = unit.Dir
	cmd.Env = r.Environ(unit)
	cmd.WaitDelay = time.Second

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	log.Debug("backend: %s %s for %s on %v", command, strings.Join(r.Args(), " "), unit.Tool, unit.Hosts)
	runErr := cmd.Run()

	result := Result{
		Output:   out.String(),
		Duration: time.Since(start),
	}
	result.Recap = ParseRecap(result.Output)

	if runErr == nil {
		result.Success = true
		return result
	}

	if ctx.Err() != nil {
		result.ExitCode = -1
		result.Err = errors.WrapWithCode(ctx.Err(), errors.ErrBackendFailed,
			fmt.Sprintf("Installing %s was stopped after %s", unit.Tool, result.Duration.Round(time.Second)),
			"Raise install.timeout in fleetup.yaml if the role needs longer.")
		return result
	}

	var exitErr *exec.ExitError
	if stderrors.As(runErr, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		result.Err = errors.New(errors.ErrBackendFailed,
			fmt.Sprintf("%s exited with status %d while installing %s", command, result.ExitCode, unit.Tool),
			lastLines(result.Output, 5))
		return result
	}

	result.ExitCode = -1
	result.Err = errors.WrapWithCode(runErr, errors.ErrBackendFailed,
		fmt.Sprintf("Couldn't start %s", command),
		"Install Ansible (pip install ansible) or set backend.command in fleetup.yaml.")
	return result
}

// lastLines returns up to n trailing non-empty lines of output.
func lastLines(output string, n int) string {
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	var kept []string
	for i := len(lines) - 1; i >= 0 && len(kept) < n; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			kept = append([]string{lines[i]}, kept...)
		}
	}
	return strings.Join(kept, "\n")
}

var _ Runner = (*AnsibleRunner)(nil)

func lookupEnv(env []string, key string) string {
	for i := len(env) - 1; i >= 0; i-- {
		if k, v, ok := strings.Cut(env[i], "="); ok && k == key {
			return v
		}
	}
	return ""
}
