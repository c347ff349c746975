// Package host probes SSH hosts for reachability and for whether privileged
// commands need a password.
package host

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rileyhilliard/fleetup/internal/errors"
	"github.com/rileyhilliard/fleetup/internal/ledger"
	"github.com/rileyhilliard/fleetup/internal/logger"
	"github.com/rileyhilliard/fleetup/internal/require"
	"github.com/rileyhilliard/fleetup/pkg/sshutil"
)

// ProbeError represents a failed probe with categorized failure reason.
type ProbeError struct {
	SSHAlias string
	Reason   ProbeFailReason
	Cause    error
}

// ProbeFailReason categorizes why a probe failed.
type ProbeFailReason int

const (
	ProbeFailNone ProbeFailReason = iota
	ProbeFailUnknown
	ProbeFailTimeout
	ProbeFailRefused
	ProbeFailUnreachable
	ProbeFailAuth
	ProbeFailHostKey
	ProbeFailUnresolvable
	ProbeFailAmbiguous
)

// String returns a human-readable description of the failure reason.
func (r ProbeFailReason) String() string {
	switch r {
	case ProbeFailNone:
		return "ok"
	case ProbeFailTimeout:
		return "connection timed out"
	case ProbeFailRefused:
		return "connection refused"
	case ProbeFailUnreachable:
		return "host unreachable"
	case ProbeFailAuth:
		return "authentication failed"
	case ProbeFailHostKey:
		return "host key verification failed"
	case ProbeFailUnresolvable:
		return "unresolvable host"
	case ProbeFailAmbiguous:
		return "ambiguous privilege probe"
	default:
		return "unknown error"
	}
}

// Code maps the reason onto the error taxonomy.
func (r ProbeFailReason) Code() string {
	switch r {
	case ProbeFailNone:
		return ""
	case ProbeFailTimeout, ProbeFailRefused, ProbeFailUnreachable:
		return errors.ErrNetworkUnreachable
	case ProbeFailAuth:
		return errors.ErrAuthFailed
	case ProbeFailUnresolvable:
		return errors.ErrUnresolvableHost
	case ProbeFailAmbiguous:
		return errors.ErrAmbiguousProbe
	default:
		return errors.ErrSSH
	}
}

func (e *ProbeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("probe %s failed: %s (%s)", e.SSHAlias, e.Reason, errors.Describe(e.Cause))
	}
	return fmt.Sprintf("probe %s failed: %s", e.SSHAlias, e.Reason)
}

func (e *ProbeError) Unwrap() error {
	return e.Cause
}

// Outcome is the result of probing one host. CredentialRequired is Unknown
// whenever the probe couldn't reach a verdict.
type Outcome struct {
	Alias              string          `json:"alias"`
	Reachable          bool            `json:"reachable"`
	CredentialRequired ledger.Tri      `json:"credential_required"`
	Reason             ProbeFailReason `json:"-"`
	Diagnostic         string          `json:"diagnostic,omitempty"`
	Duration           time.Duration   `json:"duration"`
}

// Config tunes the prober. Zero durations fall back to DefaultConfig values.
type Config struct {
	SettleDelay      time.Duration
	ReadWait         time.Duration
	PrivilegeCommand string
	ValidateCommand  string
	LoopbackAliases  []string
	Classifier       Classifier
}

// DefaultConfig returns the stock probe settings.
func DefaultConfig() Config {
	return Config{
		SettleDelay:      2 * time.Second,
		ReadWait:         3 * time.Second,
		PrivilegeCommand: "sudo -n true",
		ValidateCommand:  "sudo -S -p '' true",
		LoopbackAliases:  []string{"localhost", "127.0.0.1", "::1"},
		Classifier:       NewMarkerClassifier(DefaultPromptMarkers),
	}
}

// Prober runs probes against hosts named by ssh_config aliases. It never
// returns transport errors; they are folded into Outcome.
type Prober struct {
	source sshutil.ConfigSource
	dialer sshutil.Dialer
	cfg    Config
	log    logger.Logger
}

// NewProber creates a prober. Unset config fields take their defaults.
func NewProber(source sshutil.ConfigSource, dialer sshutil.Dialer, cfg Config, log logger.Logger) *Prober {
	def := DefaultConfig()
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = def.SettleDelay
	}
	if cfg.ReadWait <= 0 {
		cfg.ReadWait = def.ReadWait
	}
	if cfg.PrivilegeCommand == "" {
		cfg.PrivilegeCommand = def.PrivilegeCommand
	}
	if cfg.ValidateCommand == "" {
		cfg.ValidateCommand = def.ValidateCommand
	}
	if cfg.LoopbackAliases == nil {
		cfg.LoopbackAliases = def.LoopbackAliases
	}
	if cfg.Classifier == nil {
		cfg.Classifier = def.Classifier
	}
	if log == nil {
		log = logger.Noop()
	}
	return &Prober{source: source, dialer: dialer, cfg: cfg, log: log}
}

// IsLoopback reports whether alias refers to this machine.
func (p *Prober) IsLoopback(alias string) bool {
	return IsLoopback(alias, p.cfg.LoopbackAliases)
}

// IsLoopback reports whether alias is one of loopbacks.
func IsLoopback(alias string, loopbacks []string) bool {
	for _, l := range loopbacks {
		if strings.EqualFold(alias, l) {
			return true
		}
	}
	return false
}

// Probe determines whether alias is reachable and whether privileged
// execution on it needs a password.
func (p *Prober) Probe(ctx context.Context, alias string) Outcome {
	start := time.Now()
	out := p.probe(ctx, alias)
	out.Alias = alias
	out.Duration = time.Since(start)

	if out.Reason == ProbeFailNone {
		p.log.Debug("probe %s: reachable, credential required: %s (%s)", alias, out.CredentialRequired, out.Duration)
	} else {
		p.log.Debug("probe %s: %s", alias, out.Diagnostic)
	}
	return out
}

func (p *Prober) probe(ctx context.Context, alias string) Outcome {
	if p.IsLoopback(alias) {
		return Outcome{Reachable: true, CredentialRequired: ledger.False, Diagnostic: "loopback"}
	}

	params, err := p.source.Lookup(alias)
	if err != nil {
		return failed(alias, false, ProbeFailUnresolvable, err)
	}

	if err := p.dialer.CheckTCP(ctx, params.Address()); err != nil {
		return failed(alias, false, categorizeProbeError(alias, err).Reason, err)
	}

	client, err := p.dialer.DialKey(ctx, params)
	if err != nil {
		reason := categorizeProbeError(alias, err).Reason
		if reason == ProbeFailUnknown {
			reason = ProbeFailAuth
		}
		return failed(alias, true, reason, err)
	}
	defer client.Close()

	output, err := client.ShellProbe(ctx, sshutil.ShellProbeOptions{
		Input:       probeInput(p.cfg.PrivilegeCommand),
		SettleDelay: p.cfg.SettleDelay,
		ReadWait:    p.cfg.ReadWait,
		Done: func(b []byte) bool {
			return sentinelSeen(b) || p.cfg.Classifier.Classify(b) == ledger.True
		},
	})
	if err != nil {
		return failed(alias, true, ProbeFailUnknown, err)
	}

	if len(strings.TrimSpace(string(output))) == 0 {
		return failed(alias, true, ProbeFailAmbiguous,
			fmt.Errorf("no shell output within %s", p.cfg.ReadWait))
	}

	verdict := p.cfg.Classifier.Classify(output)
	if verdict == ledger.Unknown {
		return failed(alias, true, ProbeFailAmbiguous,
			fmt.Errorf("no password prompt and no clean exit from %q", p.cfg.PrivilegeCommand))
	}

	return Outcome{Reachable: true, CredentialRequired: verdict}
}

func failed(alias string, reachable bool, reason ProbeFailReason, cause error) Outcome {
	return Outcome{
		Reachable:          reachable,
		CredentialRequired: ledger.Unknown,
		Reason:             reason,
		Diagnostic:         (&ProbeError{SSHAlias: alias, Reason: reason, Cause: cause}).Error(),
	}
}

// ValidateCredential reports whether secret works as the account password
// for privileged execution on alias. The secret is sent only over a password
// authenticated session and on the validation command's stdin.
func (p *Prober) ValidateCredential(ctx context.Context, alias, secret string) bool {
	var client sshutil.SSHClient
	if p.IsLoopback(alias) {
		client = sshutil.NewLocalClient(alias)
	} else {
		params, err := p.source.Lookup(alias)
		if err != nil {
			p.log.Debug("validate %s: %s", alias, errors.Describe(err))
			return false
		}
		client, err = p.dialer.DialPassword(ctx, params, secret)
		if err != nil {
			p.log.Debug("validate %s: password session refused", alias)
			return false
		}
	}
	defer client.Close()

	_, _, code, err := client.ExecInput(p.cfg.ValidateCommand, strings.NewReader(secret+"\n"))
	if err != nil {
		p.log.Debug("validate %s: %s", alias, errors.Describe(err))
		return false
	}
	return code == 0
}

// CheckTool inspects alias for tool over a key-authenticated session.
func (p *Prober) CheckTool(ctx context.Context, alias, tool string) (require.CheckResult, error) {
	if p.IsLoopback(alias) {
		return require.CheckTool(sshutil.NewLocalClient(alias), tool)
	}

	params, err := p.source.Lookup(alias)
	if err != nil {
		return require.CheckResult{Name: tool}, err
	}
	client, err := p.dialer.DialKey(ctx, params)
	if err != nil {
		return require.CheckResult{Name: tool}, err
	}
	defer client.Close()

	return require.CheckTool(client, tool)
}

// categorizeProbeError converts a generic error into a ProbeError with
// a categorized failure reason.
func categorizeProbeError(sshAlias string, err error) *ProbeError {
	if err == nil {
		return nil
	}

	probeErr := &ProbeError{
		SSHAlias: sshAlias,
		Reason:   ProbeFailUnknown,
		Cause:    err,
	}

	if errors.IsCode(err, errors.ErrUnresolvableHost) {
		probeErr.Reason = ProbeFailUnresolvable
		return probeErr
	}

	errStr := strings.ToLower(errors.Describe(err))

	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "timed out") {
		probeErr.Reason = ProbeFailTimeout
		return probeErr
	}

	if strings.Contains(errStr, "connection refused") {
		probeErr.Reason = ProbeFailRefused
		return probeErr
	}

	if strings.Contains(errStr, "no route to host") ||
		strings.Contains(errStr, "network is unreachable") ||
		strings.Contains(errStr, "host is down") ||
		strings.Contains(errStr, "no such host") {
		probeErr.Reason = ProbeFailUnreachable
		return probeErr
	}

	if errors.IsCode(err, errors.ErrAuthFailed) ||
		strings.Contains(errStr, "unable to authenticate") ||
		strings.Contains(errStr, "no supported methods") ||
		strings.Contains(errStr, "permission denied") ||
		strings.Contains(errStr, "authentication failed") {
		probeErr.Reason = ProbeFailAuth
		return probeErr
	}

	if strings.Contains(errStr, "host key") || strings.Contains(errStr, "knownhosts") {
		probeErr.Reason = ProbeFailHostKey
		return probeErr
	}

	return probeErr
}
