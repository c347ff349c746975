package install

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rileyhilliard/fleetup/internal/backend"
	"github.com/rileyhilliard/fleetup/internal/catalog"
	"github.com/rileyhilliard/fleetup/internal/host"
	"github.com/rileyhilliard/fleetup/internal/ledger"
	reqcheck "github.com/rileyhilliard/fleetup/internal/require"
	"github.com/rileyhilliard/fleetup/internal/workunit"
)

// fakeProber answers probes from a table. Unknown hosts are unreachable.
type fakeProber struct {
	mu        sync.Mutex
	outcomes  map[string]host.Outcome
	passwords map[string]string
	remote    map[string]bool // tool present on host, for CheckTool
	probed    []string
	validated []string
	delay     time.Duration
}

func newFakeProber() *fakeProber {
	return &fakeProber{
		outcomes:  make(map[string]host.Outcome),
		passwords: make(map[string]string),
		remote:    make(map[string]bool),
	}
}

func (p *fakeProber) passwordless(aliases ...string) *fakeProber {
	for _, a := range aliases {
		p.outcomes[a] = host.Outcome{Alias: a, Reachable: true, CredentialRequired: ledger.False}
	}
	return p
}

func (p *fakeProber) needsPassword(alias, password string) *fakeProber {
	p.outcomes[alias] = host.Outcome{Alias: alias, Reachable: true, CredentialRequired: ledger.True}
	p.passwords[alias] = password
	return p
}

func (p *fakeProber) ambiguous(alias string) *fakeProber {
	p.outcomes[alias] = host.Outcome{
		Alias:              alias,
		Reachable:          true,
		CredentialRequired: ledger.Unknown,
		Reason:             host.ProbeFailAmbiguous,
		Diagnostic:         "probe " + alias + " failed: ambiguous privilege probe",
	}
	return p
}

func (p *fakeProber) Probe(ctx context.Context, alias string) host.Outcome {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probed = append(p.probed, alias)
	if out, ok := p.outcomes[alias]; ok {
		return out
	}
	return host.Outcome{
		Alias:              alias,
		CredentialRequired: ledger.Unknown,
		Reason:             host.ProbeFailTimeout,
		Diagnostic:         "probe " + alias + " failed: connection timed out",
	}
}

func (p *fakeProber) ValidateCredential(ctx context.Context, alias, secret string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.validated = append(p.validated, alias)
	want, ok := p.passwords[alias]
	return ok && secret == want
}

func (p *fakeProber) CheckTool(ctx context.Context, alias, tool string) (reqcheck.CheckResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.outcomes[alias]; !ok {
		return reqcheck.CheckResult{Name: tool}, context.DeadlineExceeded
	}
	if p.remote[alias] {
		return reqcheck.CheckResult{Name: tool, Satisfied: true, Path: "/usr/sbin/" + tool}, nil
	}
	return reqcheck.CheckResult{Name: tool}, nil
}

func (p *fakeProber) probeCount(alias string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, a := range p.probed {
		if a == alias {
			n++
		}
	}
	return n
}

// runCall is what fakeRunner saw for one unit.
type runCall struct {
	hosts      []string
	credential string
	inventory  string
	dirExisted bool
	dir        string
}

// fakeRunner succeeds unless a host is listed in fail.
type fakeRunner struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls []runCall
	block chan struct{}
}

func newFakeRunner(failing ...string) *fakeRunner {
	r := &fakeRunner{fail: make(map[string]bool)}
	for _, h := range failing {
		r.fail[h] = true
	}
	return r
}

func (r *fakeRunner) Run(ctx context.Context, unit *workunit.Unit) backend.Result {
	if r.block != nil {
		<-r.block
	}

	inv, _ := os.ReadFile(unit.InventoryPath())
	_, statErr := os.Stat(unit.Dir)

	r.mu.Lock()
	r.calls = append(r.calls, runCall{
		hosts:      append([]string(nil), unit.Hosts...),
		credential: unit.Credential(),
		inventory:  string(inv),
		dirExisted: statErr == nil,
		dir:        unit.Dir,
	})
	r.mu.Unlock()

	res := backend.Result{Success: true, Recap: make(map[string]backend.HostRecap)}
	for _, h := range unit.Hosts {
		recap := backend.HostRecap{Host: h, Ok: 1, Changed: 1}
		if r.fail[h] {
			recap = backend.HostRecap{Host: h, Failed: 1}
			res.Success = false
			res.ExitCode = 2
			res.Output = "fatal: [" + h + "]: FAILED! => {\"msg\": \"No package matching 'nginx' found\"}"
		}
		res.Recap[h] = recap
	}
	return res
}

func (r *fakeRunner) hostsRun() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var hosts []string
	for _, c := range r.calls {
		hosts = append(hosts, c.hosts...)
	}
	sort.Strings(hosts)
	return hosts
}

func (r *fakeRunner) callList() []runCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]runCall(nil), r.calls...)
}

// credentials is a scripted CredentialProvider.
type credentials struct {
	mu      sync.Mutex
	secrets map[string]string
	asked   [][]string
	err     error
}

func (c *credentials) RequestCredential(ctx context.Context, hosts []string) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.asked = append(c.asked, append([]string(nil), hosts...))
	if c.err != nil {
		return nil, c.err
	}
	return c.secrets, nil
}

// brokenStore fails every write, for warning paths.
type brokenStore struct {
	Store
}

func (s brokenStore) RecordInstallation(ctx context.Context, host, tool string) error {
	return os.ErrPermission
}

func (s brokenStore) UpsertHostStatus(ctx context.Context, alias string, accessible bool, needs ledger.Tri) error {
	return os.ErrPermission
}

type env struct {
	ledger  *ledger.Ledger
	prober  *fakeProber
	runner  *fakeRunner
	scratch string
	deps    Deps
}

func newEnv(t *testing.T, prober *fakeProber, runner *fakeRunner) *env {
	t.Helper()

	roles := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(roles, "nginx", "tasks"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(roles, "nginx", "tasks", "main.yml"), []byte("- package: name=nginx\n"), 0644))

	l, err := ledger.Open(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	cat := catalog.NewDirCatalog(roles)
	scratch := t.TempDir()

	return &env{
		ledger:  l,
		prober:  prober,
		runner:  runner,
		scratch: scratch,
		deps: Deps{
			Store:   l,
			Prober:  prober,
			Catalog: cat,
			Builder: workunit.NewBuilder(cat, scratch),
			Runner:  runner,
		},
	}
}

func (e *env) orchestrator(cfg Config) *Orchestrator {
	return NewOrchestrator(e.deps, cfg, nil)
}
