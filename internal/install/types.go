package install

import (
	"context"
	"time"

	"github.com/rileyhilliard/fleetup/internal/host"
	"github.com/rileyhilliard/fleetup/internal/ledger"
	"github.com/rileyhilliard/fleetup/internal/require"
	"github.com/rileyhilliard/fleetup/internal/workunit"
)

const (
	// DefaultMaxParallel bounds concurrent probes and installs.
	DefaultMaxParallel = 8

	// MaxParallelLimit is the largest accepted MaxParallel.
	MaxParallelLimit = 64

	// DefaultTimeout bounds one backend run.
	DefaultTimeout = 10 * time.Minute
)

// Config holds configuration for an install batch.
type Config struct {
	MaxParallel  int           // Concurrent probes/installs (1-64)
	Timeout      time.Duration // Per work-unit backend timeout
	Refresh      bool          // Probe every host even with a cached status
	VerifyRemote bool          // Double-check ledger hits on the host itself
	GroupHosts   bool          // One backend run per credential posture instead of per host
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxParallel: DefaultMaxParallel,
		Timeout:     DefaultTimeout,
	}
}

// State is where a host is in the install flow.
type State int

const (
	StateUnknown State = iota
	StateProbed
	StateAlreadyInstalled
	StateReady
	StateNeedsCredential
	StateUnreachable
	StateInstalling
	StateInstalled
	StateFailed
	StateSkipped // Batch cancelled before the host was dispatched
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateUnknown:
		return "UNKNOWN"
	case StateProbed:
		return "PROBED"
	case StateAlreadyInstalled:
		return "ALREADY_INSTALLED"
	case StateReady:
		return "READY"
	case StateNeedsCredential:
		return "NEEDS_CREDENTIAL"
	case StateUnreachable:
		return "UNREACHABLE"
	case StateInstalling:
		return "INSTALLING"
	case StateInstalled:
		return "INSTALLED"
	case StateFailed:
		return "FAILED"
	case StateSkipped:
		return "SKIPPED"
	default:
		return "INVALID"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether a batch can end with a host in this state.
func (s State) Terminal() bool {
	switch s {
	case StateAlreadyInstalled, StateNeedsCredential, StateUnreachable,
		StateInstalled, StateFailed, StateSkipped:
		return true
	}
	return false
}

// HostOutcome is the final state of one host in a batch.
type HostOutcome struct {
	Host       string        `json:"host"`
	State      State         `json:"state"`
	Diagnostic string        `json:"diagnostic,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Result holds the aggregate result of an install batch.
type Result struct {
	Tool     string        `json:"tool"`
	Outcomes []HostOutcome `json:"outcomes"` // One per requested host, in request order
	Warnings []string      `json:"warnings,omitempty"`
	Duration time.Duration `json:"duration"`

	Installed        int `json:"installed"`
	AlreadyInstalled int `json:"already_installed"`
	NeedsCredential  int `json:"needs_credential"`
	Unreachable      int `json:"unreachable"`
	Failed           int `json:"failed"`
	Skipped          int `json:"skipped"`
}

// Success returns true if every host ended with the tool installed.
func (r *Result) Success() bool {
	return r.Installed+r.AlreadyInstalled == len(r.Outcomes)
}

// Outcome returns the outcome for alias.
func (r *Result) Outcome(alias string) (HostOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.Host == alias {
			return o, true
		}
	}
	return HostOutcome{}, false
}

// Event is one state transition, for a presentation layer.
type Event struct {
	Host       string
	State      State
	Diagnostic string
	At         time.Time
}

// CredentialProvider supplies privilege-escalation secrets for hosts that
// need one. It is asked once per batch with every such host; hosts missing
// from the returned map stay without a credential.
type CredentialProvider interface {
	RequestCredential(ctx context.Context, hosts []string) (map[string]string, error)
}

// CredentialFunc adapts a function to CredentialProvider.
type CredentialFunc func(ctx context.Context, hosts []string) (map[string]string, error)

// RequestCredential implements CredentialProvider.
func (f CredentialFunc) RequestCredential(ctx context.Context, hosts []string) (map[string]string, error) {
	return f(ctx, hosts)
}

// Store is the subset of the ledger the orchestrator uses.
type Store interface {
	IsInstalled(ctx context.Context, host, tool string) (bool, error)
	GetHostStatus(ctx context.Context, alias string) (*ledger.HostRecord, error)
	UpsertHostStatus(ctx context.Context, alias string, accessible bool, needsCredential ledger.Tri) error
	RecordInstallation(ctx context.Context, host, tool string) error
	RemoveInstallation(ctx context.Context, host, tool string) error
}

// Prober is the subset of host.Prober the orchestrator uses.
type Prober interface {
	Probe(ctx context.Context, alias string) host.Outcome
	ValidateCredential(ctx context.Context, alias, secret string) bool
	CheckTool(ctx context.Context, alias, tool string) (require.CheckResult, error)
}

// UnitBuilder prepares work units.
type UnitBuilder interface {
	Build(tool string, hosts []string, credential string) (*workunit.Unit, error)
}

var (
	_ Store       = (*ledger.Ledger)(nil)
	_ Prober      = (*host.Prober)(nil)
	_ UnitBuilder = (*workunit.Builder)(nil)
)
