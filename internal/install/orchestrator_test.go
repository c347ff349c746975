package install

import (
	"context"
	stderrors "errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rileyhilliard/fleetup/internal/errors"
	"github.com/rileyhilliard/fleetup/internal/ledger"
)

func states(r *Result) map[string]State {
	m := make(map[string]State, len(r.Outcomes))
	for _, o := range r.Outcomes {
		m[o.Host] = o.State
	}
	return m
}

func TestInstallTool_Web1Web2Scenario(t *testing.T) {
	e := newEnv(t, newFakeProber().passwordless("web1"), newFakeRunner())
	o := e.orchestrator(DefaultConfig())
	ctx := context.Background()

	result, err := o.InstallTool(ctx, "nginx", []string{"web1", "web2"})
	require.NoError(t, err)

	require.Len(t, result.Outcomes, 2)
	assert.Equal(t, "web1", result.Outcomes[0].Host)
	assert.Equal(t, StateInstalled, result.Outcomes[0].State)
	assert.Equal(t, "web2", result.Outcomes[1].Host)
	assert.Equal(t, StateUnreachable, result.Outcomes[1].State)
	assert.Contains(t, result.Outcomes[1].Diagnostic, "timed out")
	assert.Equal(t, 1, result.Installed)
	assert.Equal(t, 1, result.Unreachable)
	assert.False(t, result.Success())

	installed, err := e.ledger.IsInstalled(ctx, "web1", "nginx")
	require.NoError(t, err)
	assert.True(t, installed)
	installed, err = e.ledger.IsInstalled(ctx, "web2", "nginx")
	require.NoError(t, err)
	assert.False(t, installed)

	rec, err := e.ledger.GetHostStatus(ctx, "web2")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, ledger.False, rec.Accessible)

	assert.Equal(t, []string{"web1"}, e.runner.hostsRun())

	// Second run: web1 is settled by the ledger alone
	result, err = o.InstallTool(ctx, "nginx", []string{"web1", "web2"})
	require.NoError(t, err)
	assert.Equal(t, StateAlreadyInstalled, states(result)["web1"])
	assert.Equal(t, StateUnreachable, states(result)["web2"])
	assert.Equal(t, 1, e.prober.probeCount("web1"))
	assert.Equal(t, 2, e.prober.probeCount("web2"), "unreachable hosts are probed again")
	assert.Len(t, e.runner.callList(), 1)
}

func TestInstallTool_IdempotentAcrossOrchestrators(t *testing.T) {
	e := newEnv(t, newFakeProber().passwordless("web1", "web2"), newFakeRunner())

	for i := 0; i < 3; i++ {
		result, err := e.orchestrator(DefaultConfig()).InstallTool(context.Background(), "nginx", []string{"web1", "web2"})
		require.NoError(t, err)
		assert.True(t, result.Success())
	}
	assert.Equal(t, []string{"web1", "web2"}, e.runner.hostsRun())
}

func TestInstallTool_PartialFailure(t *testing.T) {
	e := newEnv(t, newFakeProber().passwordless("web1", "web2", "web3"), newFakeRunner("web2"))

	result, err := e.orchestrator(DefaultConfig()).InstallTool(context.Background(), "nginx", []string{"web1", "web2", "web3"})
	require.NoError(t, err)

	s := states(result)
	assert.Equal(t, StateInstalled, s["web1"])
	assert.Equal(t, StateFailed, s["web2"])
	assert.Equal(t, StateInstalled, s["web3"])

	failed, _ := result.Outcome("web2")
	assert.Contains(t, failed.Diagnostic, "No package matching")
	assert.Contains(t, failed.Diagnostic, "failed=1")

	installed, err := e.ledger.IsInstalled(context.Background(), "web2", "nginx")
	require.NoError(t, err)
	assert.False(t, installed)
}

func TestInstallTool_CredentialGating(t *testing.T) {
	prober := newFakeProber().passwordless("web1").
		needsPassword("db1", "right").
		needsPassword("db2", "right").
		needsPassword("db3", "right")
	e := newEnv(t, prober, newFakeRunner())
	creds := &credentials{secrets: map[string]string{"db1": "right", "db2": "wrong"}}
	e.deps.Credentials = creds

	result, err := e.orchestrator(DefaultConfig()).InstallTool(context.Background(), "nginx", []string{"web1", "db1", "db2", "db3"})
	require.NoError(t, err)

	s := states(result)
	assert.Equal(t, StateInstalled, s["web1"])
	assert.Equal(t, StateInstalled, s["db1"])
	assert.Equal(t, StateNeedsCredential, s["db2"])
	assert.Equal(t, StateNeedsCredential, s["db3"])

	db2, _ := result.Outcome("db2")
	assert.Contains(t, db2.Diagnostic, "sudo asks for a password")
	assert.True(t, strings.HasSuffix(db2.Diagnostic, "; credential rejected"), db2.Diagnostic)
	db3, _ := result.Outcome("db3")
	assert.Contains(t, db3.Diagnostic, "sudo asks for a password")
	assert.True(t, strings.HasSuffix(db3.Diagnostic, "; no credential supplied"), db3.Diagnostic)

	require.Len(t, creds.asked, 1, "one batched credential request")
	assert.Equal(t, []string{"db1", "db2", "db3"}, creds.asked[0])
	assert.ElementsMatch(t, []string{"db1", "db2"}, prober.validated)

	for _, c := range e.runner.callList() {
		switch c.hosts[0] {
		case "db1":
			assert.Equal(t, "right", c.credential)
		case "web1":
			assert.Empty(t, c.credential)
		default:
			t.Errorf("unexpected backend run for %v", c.hosts)
		}
	}
}

func TestInstallTool_NoCredentialProvider(t *testing.T) {
	e := newEnv(t, newFakeProber().needsPassword("db1", "pw"), newFakeRunner())

	result, err := e.orchestrator(DefaultConfig()).InstallTool(context.Background(), "nginx", []string{"db1"})
	require.NoError(t, err)
	assert.Equal(t, StateNeedsCredential, result.Outcomes[0].State)
	assert.Equal(t, 1, result.NeedsCredential)
	assert.Empty(t, e.runner.callList())
}

func TestInstallTool_CredentialProviderError(t *testing.T) {
	e := newEnv(t, newFakeProber().needsPassword("db1", "pw"), newFakeRunner())
	e.deps.Credentials = &credentials{err: stderrors.New("prompt aborted")}

	result, err := e.orchestrator(DefaultConfig()).InstallTool(context.Background(), "nginx", []string{"db1"})
	require.NoError(t, err)
	assert.Equal(t, StateNeedsCredential, result.Outcomes[0].State)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "prompt aborted")
}

func TestInstallTool_AmbiguousProbeNeedsCredential(t *testing.T) {
	e := newEnv(t, newFakeProber().ambiguous("odd1"), newFakeRunner())

	result, err := e.orchestrator(DefaultConfig()).InstallTool(context.Background(), "nginx", []string{"odd1"})
	require.NoError(t, err)
	assert.Equal(t, StateNeedsCredential, result.Outcomes[0].State)
	assert.Contains(t, result.Outcomes[0].Diagnostic, "privilege check inconclusive")
	assert.Contains(t, result.Outcomes[0].Diagnostic, "none can be requested")
}

func TestInstallTool_AmbiguousClassificationSurvivesRejection(t *testing.T) {
	e := newEnv(t, newFakeProber().ambiguous("odd1"), newFakeRunner())
	e.deps.Credentials = &credentials{secrets: map[string]string{"odd1": "wrong"}}

	result, err := e.orchestrator(DefaultConfig()).InstallTool(context.Background(), "nginx", []string{"odd1"})
	require.NoError(t, err)

	out := result.Outcomes[0]
	assert.Equal(t, StateNeedsCredential, out.State)
	assert.Contains(t, out.Diagnostic, "privilege check inconclusive")
	assert.True(t, strings.HasSuffix(out.Diagnostic, "; credential rejected"), out.Diagnostic)
	assert.Empty(t, e.runner.hostsRun())
}

func TestInstallTool_ReadyHostsDoNotWaitForCredentials(t *testing.T) {
	e := newEnv(t, newFakeProber().passwordless("web1").needsPassword("db1", "pw"), newFakeRunner())

	sawInstall := false
	e.deps.Credentials = CredentialFunc(func(ctx context.Context, hosts []string) (map[string]string, error) {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if len(e.runner.hostsRun()) > 0 {
				sawInstall = true
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		return map[string]string{"db1": "pw"}, nil
	})

	result, err := e.orchestrator(DefaultConfig()).InstallTool(context.Background(), "nginx", []string{"web1", "db1"})
	require.NoError(t, err)
	assert.True(t, sawInstall, "web1 should install while the credential prompt is open")
	assert.True(t, result.Success())
}

func TestInstallTool_ProgrammerErrors(t *testing.T) {
	e := newEnv(t, newFakeProber().passwordless("web1"), newFakeRunner())
	o := e.orchestrator(DefaultConfig())

	_, err := o.InstallTool(context.Background(), "redis", []string{"web1"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrToolNotFound))

	_, err = o.InstallTool(context.Background(), "nginx", nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrInvalidInstallInput))

	_, err = o.InstallTool(context.Background(), "nginx; rm -rf /", []string{"web1"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrInvalidInstallInput))

	assert.Equal(t, 0, e.prober.probeCount("web1"), "no host touched")
	assert.Empty(t, e.runner.callList())
}

func TestInstallTool_DeduplicatesHosts(t *testing.T) {
	e := newEnv(t, newFakeProber().passwordless("web1"), newFakeRunner())

	result, err := e.orchestrator(DefaultConfig()).InstallTool(context.Background(), "nginx", []string{"web1", "web1", ""})
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 1)
	assert.Len(t, e.runner.callList(), 1)
}

func TestInstallTool_Cancelled(t *testing.T) {
	e := newEnv(t, newFakeProber().passwordless("web1", "web2"), newFakeRunner())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := e.orchestrator(DefaultConfig()).InstallTool(ctx, "nginx", []string{"web1", "web2"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Skipped)
	for _, o := range result.Outcomes {
		assert.Equal(t, StateSkipped, o.State)
	}
	assert.Empty(t, e.runner.callList())
}

func TestInstallTool_InFlightInstallSurvivesCancel(t *testing.T) {
	runner := newFakeRunner()
	runner.block = make(chan struct{})
	e := newEnv(t, newFakeProber().passwordless("web1"), runner)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan *Result)
	go func() {
		result, err := e.orchestrator(DefaultConfig()).InstallTool(ctx, "nginx", []string{"web1"})
		assert.NoError(t, err)
		done <- result
	}()

	// Let the backend start, then cancel the batch under it
	time.Sleep(50 * time.Millisecond)
	cancel()
	close(runner.block)

	result := <-done
	assert.Equal(t, StateInstalled, result.Outcomes[0].State)
}

func TestInstallTool_LedgerWriteFailureIsWarning(t *testing.T) {
	e := newEnv(t, newFakeProber().passwordless("web1"), newFakeRunner())
	e.deps.Store = brokenStore{Store: e.ledger}

	result, err := e.orchestrator(DefaultConfig()).InstallTool(context.Background(), "nginx", []string{"web1"})
	require.NoError(t, err)
	assert.Equal(t, StateInstalled, result.Outcomes[0].State)
	require.Len(t, result.Warnings, 2)
	assert.Contains(t, result.Warnings[0], "couldn't record probe result")
	assert.Contains(t, result.Warnings[1], "ledger write failed")
}

func TestInstallTool_CachedStatusSkipsProbe(t *testing.T) {
	e := newEnv(t, newFakeProber().passwordless("web1"), newFakeRunner())
	require.NoError(t, e.ledger.UpsertHostStatus(context.Background(), "web1", true, ledger.False))

	result, err := e.orchestrator(DefaultConfig()).InstallTool(context.Background(), "nginx", []string{"web1"})
	require.NoError(t, err)
	assert.Equal(t, StateInstalled, result.Outcomes[0].State)
	assert.Equal(t, 0, e.prober.probeCount("web1"))
}

func TestInstallTool_RefreshProbesAnyway(t *testing.T) {
	e := newEnv(t, newFakeProber().passwordless("web1"), newFakeRunner())
	require.NoError(t, e.ledger.UpsertHostStatus(context.Background(), "web1", true, ledger.False))

	cfg := DefaultConfig()
	cfg.Refresh = true
	_, err := e.orchestrator(cfg).InstallTool(context.Background(), "nginx", []string{"web1"})
	require.NoError(t, err)
	assert.Equal(t, 1, e.prober.probeCount("web1"))
}

func TestInstallTool_VerifyRemote(t *testing.T) {
	prober := newFakeProber().passwordless("web1", "web2")
	prober.remote["web1"] = true
	e := newEnv(t, prober, newFakeRunner())
	ctx := context.Background()
	require.NoError(t, e.ledger.RecordInstallation(ctx, "web1", "nginx"))
	require.NoError(t, e.ledger.RecordInstallation(ctx, "web2", "nginx"))

	cfg := DefaultConfig()
	cfg.VerifyRemote = true
	result, err := e.orchestrator(cfg).InstallTool(ctx, "nginx", []string{"web1", "web2"})
	require.NoError(t, err)

	s := states(result)
	assert.Equal(t, StateAlreadyInstalled, s["web1"])
	assert.Equal(t, StateInstalled, s["web2"], "stale ledger record is reinstalled")
	assert.Equal(t, []string{"web2"}, e.runner.hostsRun())

	web1, _ := result.Outcome("web1")
	assert.Equal(t, "verified at /usr/sbin/nginx", web1.Diagnostic)

	installed, err := e.ledger.IsInstalled(ctx, "web2", "nginx")
	require.NoError(t, err)
	assert.True(t, installed)
}

func TestInstallTool_GroupHosts(t *testing.T) {
	prober := newFakeProber().passwordless("web1", "web2").
		needsPassword("db1", "pw").
		needsPassword("db2", "pw").
		needsPassword("db3", "other")
	e := newEnv(t, prober, newFakeRunner("web2"))
	e.deps.Credentials = &credentials{secrets: map[string]string{"db1": "pw", "db2": "pw", "db3": "other"}}

	cfg := DefaultConfig()
	cfg.GroupHosts = true
	result, err := e.orchestrator(cfg).InstallTool(context.Background(), "nginx", []string{"web1", "web2", "db1", "db2", "db3"})
	require.NoError(t, err)

	calls := e.runner.callList()
	require.Len(t, calls, 3)
	byFirst := make(map[string]runCall)
	for _, c := range calls {
		byFirst[c.hosts[0]] = c
	}
	assert.Equal(t, []string{"web1", "web2"}, byFirst["web1"].hosts)
	assert.Equal(t, "web1\nweb2\n", byFirst["web1"].inventory)
	assert.Equal(t, []string{"db1", "db2"}, byFirst["db1"].hosts)
	assert.Equal(t, "pw", byFirst["db1"].credential)
	assert.Equal(t, []string{"db3"}, byFirst["db3"].hosts)

	// Per-host status comes from the recap, not the overall exit
	s := states(result)
	assert.Equal(t, StateInstalled, s["web1"])
	assert.Equal(t, StateFailed, s["web2"])
	assert.Equal(t, StateInstalled, s["db1"])
	assert.Equal(t, StateInstalled, s["db3"])
}

func TestInstallTool_ScratchRemovedAfterRun(t *testing.T) {
	e := newEnv(t, newFakeProber().passwordless("web1", "web2"), newFakeRunner("web2"))

	_, err := e.orchestrator(DefaultConfig()).InstallTool(context.Background(), "nginx", []string{"web1", "web2"})
	require.NoError(t, err)

	calls := e.runner.callList()
	require.Len(t, calls, 2)
	assert.NotEqual(t, calls[0].dir, calls[1].dir)
	for _, c := range calls {
		assert.True(t, c.dirExisted)
		_, err := os.Stat(c.dir)
		assert.True(t, os.IsNotExist(err), "scratch dir %s left behind", c.dir)
	}
	entries, err := os.ReadDir(e.scratch)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestInstallTool_Events(t *testing.T) {
	e := newEnv(t, newFakeProber().passwordless("web1"), newFakeRunner())
	events := make(chan Event, 64)
	e.deps.Events = events

	_, err := e.orchestrator(DefaultConfig()).InstallTool(context.Background(), "nginx", []string{"web1"})
	require.NoError(t, err)
	close(events)

	var seen []State
	for ev := range events {
		assert.Equal(t, "web1", ev.Host)
		assert.False(t, ev.At.IsZero())
		seen = append(seen, ev.State)
	}
	assert.Equal(t, []State{StateProbed, StateReady, StateInstalling, StateInstalled}, seen)
}

func TestProbeHosts(t *testing.T) {
	e := newEnv(t, newFakeProber().passwordless("web1").needsPassword("db1", "pw"), newFakeRunner())
	ctx := context.Background()

	outcomes := e.orchestrator(DefaultConfig()).ProbeHosts(ctx, []string{"web1", "db1", "web9", "web1"})
	require.Len(t, outcomes, 3)
	assert.Equal(t, ledger.False, outcomes["web1"].CredentialRequired)
	assert.Equal(t, ledger.True, outcomes["db1"].CredentialRequired)
	assert.False(t, outcomes["web9"].Reachable)

	rec, err := e.ledger.GetHostStatus(ctx, "db1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, ledger.True, rec.Accessible)
	assert.Equal(t, ledger.True, rec.NeedsCredential)
	assert.Equal(t, 1, e.prober.probeCount("web1"))
}

func TestNewOrchestrator_Clamps(t *testing.T) {
	e := newEnv(t, newFakeProber(), newFakeRunner())

	o := e.orchestrator(Config{})
	assert.Equal(t, DefaultMaxParallel, o.config.MaxParallel)
	assert.Equal(t, DefaultTimeout, o.config.Timeout)

	o = e.orchestrator(Config{MaxParallel: 500})
	assert.Equal(t, MaxParallelLimit, o.config.MaxParallel)
}

func TestState(t *testing.T) {
	assert.Equal(t, "NEEDS_CREDENTIAL", StateNeedsCredential.String())
	assert.Equal(t, "ALREADY_INSTALLED", StateAlreadyInstalled.String())
	text, err := StateSkipped.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "SKIPPED", string(text))

	assert.True(t, StateInstalled.Terminal())
	assert.False(t, StateInstalling.Terminal())
	assert.False(t, StateReady.Terminal())
}

func TestTailLines(t *testing.T) {
	long := strings.Repeat("line\n", 50)
	assert.Len(t, strings.Split(tailLines(long, 3), "\n"), 3)
	assert.Equal(t, "", tailLines("", 3))
}
