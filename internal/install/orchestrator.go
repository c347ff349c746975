// Package install decides which hosts need a tool and drives the backend
// against exactly those hosts.
package install

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rileyhilliard/fleetup/internal/backend"
	"github.com/rileyhilliard/fleetup/internal/catalog"
	"github.com/rileyhilliard/fleetup/internal/errors"
	"github.com/rileyhilliard/fleetup/internal/host"
	"github.com/rileyhilliard/fleetup/internal/ledger"
	"github.com/rileyhilliard/fleetup/internal/logger"
	"github.com/rileyhilliard/fleetup/internal/require"
	"github.com/rileyhilliard/fleetup/internal/workunit"
)

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	Store   Store
	Prober  Prober
	Catalog catalog.RoleCatalog
	Builder UnitBuilder
	Runner  backend.Runner

	// Credentials is optional. Without it, hosts that need a password end
	// as NEEDS_CREDENTIAL.
	Credentials CredentialProvider

	// Events is optional. Sends block, so the receiver must keep draining
	// until the call that produces them returns.
	Events chan<- Event
}

// Orchestrator coordinates probing and installation across hosts.
type Orchestrator struct {
	deps   Deps
	config Config
	log    logger.Logger
}

// NewOrchestrator creates an orchestrator. Out-of-range settings are clamped.
func NewOrchestrator(deps Deps, cfg Config, log logger.Logger) *Orchestrator {
	if cfg.MaxParallel < 1 {
		cfg.MaxParallel = DefaultMaxParallel
	}
	if cfg.MaxParallel > MaxParallelLimit {
		cfg.MaxParallel = MaxParallelLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if log == nil {
		log = logger.Noop()
	}
	return &Orchestrator{deps: deps, config: cfg, log: logger.Named(log, "install")}
}

// InstallTool ensures tool is installed on every host in hosts. Per-host
// problems are reported in the Result; an error means the request itself
// was invalid and no host was touched.
func (o *Orchestrator) InstallTool(ctx context.Context, tool string, hosts []string) (*Result, error) {
	aliases := dedupe(hosts)
	if len(aliases) == 0 {
		return nil, errors.New(errors.ErrInvalidInstallInput,
			"No hosts to install on",
			"Name at least one ssh_config alias: fleetup install <tool> <alias...>")
	}
	if !require.ValidateToolName(tool) {
		return nil, errors.New(errors.ErrInvalidInstallInput,
			fmt.Sprintf("'%s' isn't a valid tool name", tool),
			"Tool names may contain letters, digits, '.', '_', '+' and '-'.")
	}
	if _, err := o.deps.Catalog.LocateBundle(tool); err != nil {
		return nil, err
	}

	start := time.Now()
	b := o.newBatch(tool, aliases)
	o.log.Info("installing %s on %d host(s)", tool, len(aliases))

	pending := b.checkLedger(ctx, aliases)
	ready, needCredential := b.resolveStatus(ctx, pending)
	b.install(ctx, ready, needCredential)

	result := b.result(aliases, time.Since(start))
	o.log.Info("%s: %d installed, %d already installed, %d need a credential, %d unreachable, %d failed, %d skipped",
		tool, result.Installed, result.AlreadyInstalled, result.NeedsCredential,
		result.Unreachable, result.Failed, result.Skipped)
	return result, nil
}

// ProbeHosts probes every alias afresh and records the results. Aliases not
// dispatched before ctx ended are absent from the map.
func (o *Orchestrator) ProbeHosts(ctx context.Context, aliases []string) map[string]host.Outcome {
	aliases = dedupe(aliases)
	outcomes := make(map[string]host.Outcome, len(aliases))
	var mu sync.Mutex

	forEach(ctx, o.config.MaxParallel, aliases, func(alias string) {
		out := o.deps.Prober.Probe(ctx, alias)
		if err := o.deps.Store.UpsertHostStatus(context.WithoutCancel(ctx), alias, out.Reachable, out.CredentialRequired); err != nil {
			o.log.Warn("%s: couldn't record probe result: %s", alias, errors.Describe(err))
		}

		mu.Lock()
		outcomes[alias] = out
		mu.Unlock()

		state := StateProbed
		if !out.Reachable {
			state = StateUnreachable
		}
		o.emit(Event{Host: alias, State: state, Diagnostic: out.Diagnostic, At: time.Now()})
	})

	return outcomes
}

func (o *Orchestrator) emit(ev Event) {
	if o.deps.Events != nil {
		o.deps.Events <- ev
	}
}

// batch is the mutable state of one InstallTool call.
type batch struct {
	o     *Orchestrator
	tool  string
	start time.Time

	mu       sync.Mutex
	hosts    map[string]*hostTrack
	warnings []string
}

type hostTrack struct {
	state      State
	diagnostic string
	end        time.Time
}

// job is one backend run. The credential lives only here and in the unit.
type job struct {
	hosts      []string
	credential string
}

func (o *Orchestrator) newBatch(tool string, aliases []string) *batch {
	b := &batch{o: o, tool: tool, start: time.Now(), hosts: make(map[string]*hostTrack, len(aliases))}
	for _, a := range aliases {
		b.hosts[a] = &hostTrack{state: StateUnknown}
	}
	return b
}

func (b *batch) set(alias string, state State, diagnostic string) {
	now := time.Now()
	b.mu.Lock()
	t := b.hosts[alias]
	t.state = state
	t.diagnostic = diagnostic
	t.end = now
	b.mu.Unlock()

	b.o.log.Debug("%s: %s %s", alias, state, diagnostic)
	b.o.emit(Event{Host: alias, State: state, Diagnostic: diagnostic, At: now})
}

// note moves alias to state and appends detail to the diagnostic it already
// carries, so the probe's classification survives later stages.
func (b *batch) note(alias string, state State, detail string) {
	b.mu.Lock()
	prev := b.hosts[alias].diagnostic
	b.mu.Unlock()
	if prev != "" {
		detail = prev + "; " + detail
	}
	b.set(alias, state, detail)
}

func (b *batch) warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	b.mu.Lock()
	b.warnings = append(b.warnings, msg)
	b.mu.Unlock()
	b.o.log.Warn("%s", msg)
}

// checkLedger settles hosts the ledger already knows have the tool and
// returns the rest.
func (b *batch) checkLedger(ctx context.Context, aliases []string) []string {
	var installed, pending []string
	for _, alias := range aliases {
		ok, err := b.o.deps.Store.IsInstalled(ctx, alias, b.tool)
		if err != nil {
			b.warn("%s: couldn't read install record, treating %s as not installed: %s", alias, b.tool, errors.Describe(err))
		}
		if ok {
			installed = append(installed, alias)
		} else {
			pending = append(pending, alias)
		}
	}

	if !b.o.config.VerifyRemote {
		for _, alias := range installed {
			b.set(alias, StateAlreadyInstalled, "recorded in ledger")
		}
		return pending
	}

	var mu sync.Mutex
	skipped := forEach(ctx, b.o.config.MaxParallel, installed, func(alias string) {
		res, err := b.o.deps.Prober.CheckTool(ctx, alias, b.tool)
		if err != nil {
			b.warn("%s: couldn't verify %s on the host, trusting the ledger: %s", alias, b.tool, errors.Describe(err))
			b.set(alias, StateAlreadyInstalled, "recorded in ledger (not verified)")
			return
		}
		if res.Satisfied {
			b.set(alias, StateAlreadyInstalled, "verified at "+res.Path)
			return
		}

		b.o.log.Info("%s: ledger says %s is installed but it isn't, reinstalling", alias, b.tool)
		if err := b.o.deps.Store.RemoveInstallation(context.WithoutCancel(ctx), alias, b.tool); err != nil {
			b.warn("%s: couldn't drop stale install record: %s", alias, errors.Describe(err))
		}
		mu.Lock()
		pending = append(pending, alias)
		mu.Unlock()
	})
	for _, alias := range skipped {
		b.set(alias, StateSkipped, "batch cancelled")
	}

	return pending
}

// resolveStatus uses cached reachable statuses and probes everything else.
// Returns hosts ready for install and hosts that need a credential.
func (b *batch) resolveStatus(ctx context.Context, pending []string) (ready, needCredential []string) {
	var mu sync.Mutex
	classify := func(alias string, credentialRequired ledger.Tri, source string) {
		if credentialRequired == ledger.False {
			mu.Lock()
			ready = append(ready, alias)
			mu.Unlock()
			b.set(alias, StateReady, source)
			return
		}

		mu.Lock()
		needCredential = append(needCredential, alias)
		mu.Unlock()
		if credentialRequired == ledger.Unknown {
			b.set(alias, StateNeedsCredential, source+"; privilege check inconclusive")
		} else {
			b.set(alias, StateNeedsCredential, source+"; sudo asks for a password")
		}
	}

	var toProbe []string
	for _, alias := range pending {
		if b.o.config.Refresh {
			toProbe = append(toProbe, alias)
			continue
		}
		rec, err := b.o.deps.Store.GetHostStatus(ctx, alias)
		if err != nil {
			b.warn("%s: couldn't read cached status, probing: %s", alias, errors.Describe(err))
		}
		if rec == nil || rec.Accessible != ledger.True {
			toProbe = append(toProbe, alias)
			continue
		}
		b.set(alias, StateProbed, "cached")
		classify(alias, rec.NeedsCredential, "cached status from "+rec.LastCheckedAt.Format(time.RFC3339))
	}

	skipped := forEach(ctx, b.o.config.MaxParallel, toProbe, func(alias string) {
		out := b.o.deps.Prober.Probe(ctx, alias)
		if err := b.o.deps.Store.UpsertHostStatus(context.WithoutCancel(ctx), alias, out.Reachable, out.CredentialRequired); err != nil {
			b.warn("%s: couldn't record probe result: %s", alias, errors.Describe(err))
		}
		if !out.Reachable {
			b.set(alias, StateUnreachable, out.Diagnostic)
			return
		}
		b.set(alias, StateProbed, out.Diagnostic)
		diag := "probed"
		if out.Diagnostic != "" {
			diag = out.Diagnostic
		}
		classify(alias, out.CredentialRequired, diag)
	})
	for _, alias := range skipped {
		b.set(alias, StateSkipped, "batch cancelled")
	}

	return inOrder(pending, ready), inOrder(pending, needCredential)
}

// install runs ready hosts right away while credentials for the others are
// collected and validated; validated hosts join the same pool.
func (b *batch) install(ctx context.Context, ready, needCredential []string) {
	jobs := make(chan job)

	var producers sync.WaitGroup
	producers.Add(2)
	go func() {
		defer producers.Done()
		for _, j := range b.jobsFor(ready, nil) {
			jobs <- j
		}
	}()
	go func() {
		defer producers.Done()
		for _, j := range b.credentialJobs(ctx, needCredential) {
			jobs <- j
		}
	}()
	go func() {
		producers.Wait()
		close(jobs)
	}()

	runPool(ctx, b.o.config.MaxParallel, jobs,
		func(j job) { b.runJob(ctx, j) },
		func(j job) {
			for _, h := range j.hosts {
				b.set(h, StateSkipped, "batch cancelled")
			}
		})
}

// credentialJobs asks the provider once for every host, validates what
// came back and turns the accepted secrets into jobs.
func (b *batch) credentialJobs(ctx context.Context, hosts []string) []job {
	if len(hosts) == 0 {
		return nil
	}
	if b.o.deps.Credentials == nil {
		for _, h := range hosts {
			b.note(h, StateNeedsCredential, "sudo needs a password and none can be requested")
		}
		return nil
	}

	secrets, err := b.o.deps.Credentials.RequestCredential(ctx, hosts)
	if err != nil {
		b.warn("credential request failed: %s", errors.Describe(err))
		for _, h := range hosts {
			b.note(h, StateNeedsCredential, "no credential supplied")
		}
		return nil
	}

	var offered []string
	for _, h := range hosts {
		if secrets[h] == "" {
			b.note(h, StateNeedsCredential, "no credential supplied")
			continue
		}
		offered = append(offered, h)
	}

	var mu sync.Mutex
	accepted := make(map[string]string)
	skipped := forEach(ctx, b.o.config.MaxParallel, offered, func(h string) {
		if !b.o.deps.Prober.ValidateCredential(ctx, h, secrets[h]) {
			b.note(h, StateNeedsCredential, "credential rejected")
			return
		}
		mu.Lock()
		accepted[h] = secrets[h]
		mu.Unlock()
		b.set(h, StateReady, "credential accepted")
	})
	for _, h := range skipped {
		b.set(h, StateSkipped, "batch cancelled")
	}

	var validated []string
	for _, h := range offered {
		if _, ok := accepted[h]; ok {
			validated = append(validated, h)
		}
	}
	return b.jobsFor(validated, accepted)
}

// jobsFor splits hosts into jobs: one per host, or with GroupHosts one per
// distinct credential.
func (b *batch) jobsFor(hosts []string, secrets map[string]string) []job {
	if len(hosts) == 0 {
		return nil
	}
	if !b.o.config.GroupHosts {
		jobs := make([]job, 0, len(hosts))
		for _, h := range hosts {
			jobs = append(jobs, job{hosts: []string{h}, credential: secrets[h]})
		}
		return jobs
	}

	var jobs []job
	index := make(map[string]int)
	for _, h := range hosts {
		secret := secrets[h]
		i, ok := index[secret]
		if !ok {
			i = len(jobs)
			index[secret] = i
			jobs = append(jobs, job{credential: secret})
		}
		jobs[i].hosts = append(jobs[i].hosts, h)
	}
	return jobs
}

// runJob builds a unit, runs the backend on a context detached from batch
// cancellation but bounded by the unit timeout, and records the results.
func (b *batch) runJob(ctx context.Context, j job) {
	for _, h := range j.hosts {
		b.set(h, StateInstalling, "")
	}

	unit, err := b.o.deps.Builder.Build(b.tool, j.hosts, j.credential)
	j.credential = ""
	if err != nil {
		for _, h := range j.hosts {
			b.set(h, StateFailed, errors.Describe(err))
		}
		return
	}
	defer func() {
		if err := workunit.Teardown(unit); err != nil {
			b.warn("couldn't remove work directory %s: %s", unit.Dir, errors.Describe(err))
		}
	}()

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.o.config.Timeout)
	defer cancel()
	res := b.o.deps.Runner.Run(runCtx, unit)

	for _, h := range j.hosts {
		ok := res.Success
		recap, inRecap := res.Recap[h]
		if inRecap {
			ok = recap.Succeeded()
		}

		if !ok {
			b.set(h, StateFailed, failureDiagnostic(res, recap, inRecap))
			continue
		}

		if err := b.o.deps.Store.RecordInstallation(context.WithoutCancel(ctx), h, b.tool); err != nil {
			b.warn("%s: %s installed but the ledger write failed: %s", h, b.tool, errors.Describe(err))
		}
		b.set(h, StateInstalled, fmt.Sprintf("installed in %s", res.Duration.Round(time.Millisecond)))
	}
}

// inOrder returns the members of subset in the order they appear in ref.
func inOrder(ref, subset []string) []string {
	member := make(map[string]bool, len(subset))
	for _, s := range subset {
		member[s] = true
	}
	out := make([]string, 0, len(subset))
	for _, r := range ref {
		if member[r] {
			out = append(out, r)
		}
	}
	return out
}

const diagnosticTailLines = 20

func failureDiagnostic(res backend.Result, recap backend.HostRecap, inRecap bool) string {
	var parts []string
	if res.Err != nil {
		parts = append(parts, errors.Describe(res.Err))
	}
	if inRecap {
		parts = append(parts, fmt.Sprintf("recap: ok=%d changed=%d unreachable=%d failed=%d",
			recap.Ok, recap.Changed, recap.Unreachable, recap.Failed))
	}
	if tail := tailLines(res.Output, diagnosticTailLines); tail != "" {
		parts = append(parts, tail)
	}
	if len(parts) == 0 {
		return "backend reported failure"
	}
	return strings.Join(parts, "\n")
}

func tailLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func (b *batch) result(aliases []string, duration time.Duration) *Result {
	b.mu.Lock()
	defer b.mu.Unlock()

	result := &Result{
		Tool:     b.tool,
		Outcomes: make([]HostOutcome, 0, len(aliases)),
		Warnings: append([]string(nil), b.warnings...),
		Duration: duration,
	}

	for _, alias := range aliases {
		t := b.hosts[alias]
		out := HostOutcome{Host: alias, State: t.state, Diagnostic: t.diagnostic}
		if !t.end.IsZero() {
			out.Duration = t.end.Sub(b.start)
		}
		if !out.State.Terminal() {
			out.State = StateSkipped
		}

		switch out.State {
		case StateInstalled:
			result.Installed++
		case StateAlreadyInstalled:
			result.AlreadyInstalled++
		case StateNeedsCredential:
			result.NeedsCredential++
		case StateUnreachable:
			result.Unreachable++
		case StateFailed:
			result.Failed++
		case StateSkipped:
			result.Skipped++
		}
		result.Outcomes = append(result.Outcomes, out)
	}

	return result
}
