package cli

import (
	"context"
	"io"
	"os"

	"github.com/rileyhilliard/fleetup/internal/backend"
	"github.com/rileyhilliard/fleetup/internal/catalog"
	"github.com/rileyhilliard/fleetup/internal/config"
	"github.com/rileyhilliard/fleetup/internal/errors"
	"github.com/rileyhilliard/fleetup/internal/host"
	"github.com/rileyhilliard/fleetup/internal/install"
	"github.com/rileyhilliard/fleetup/internal/ledger"
	"github.com/rileyhilliard/fleetup/internal/logger"
	"github.com/rileyhilliard/fleetup/internal/workunit"
	"github.com/rileyhilliard/fleetup/pkg/sshutil"
)

// App holds everything a command needs, built once from config.
type App struct {
	Config     *config.Config
	ConfigPath string
	Log        logger.Logger

	Ledger  *ledger.Ledger
	Source  *sshutil.FileSource
	Prober  *host.Prober
	Catalog *catalog.DirCatalog
	Builder *workunit.Builder
	Runner  *backend.AnsibleRunner
}

// loadApp finds and validates config, then wires the components. Logs go
// to logOut (stderr in production).
func loadApp(ctx context.Context, explicit string, logOut io.Writer) (*App, error) {
	cfg, path, err := config.LoadOrDefault(explicit)
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, path, logOut)
}

// newApp wires an App from an already validated config.
func newApp(ctx context.Context, cfg *config.Config, path string, logOut io.Writer) (*App, error) {
	logCfg := cfg.Log
	if verbose {
		logCfg.Debug = true
	}
	if logOut == nil {
		logOut = os.Stderr
	}
	log, err := logger.NewWithWriter(logOut, logCfg)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig, "Invalid log settings", "Check the 'log' section in your fleetup.yaml.")
	}

	store, err := ledger.Open(ctx, cfg.Ledger)
	if err != nil {
		return nil, err
	}

	source := sshutil.NewFileSource(cfg.SSHConfig)
	sshLog := logger.Named(log, "ssh_config")
	source.OnWarning = func(message string) { sshLog.Warn("%s", message) }

	dialer := sshutil.NetDialer{Options: sshutil.DialOptions{
		Timeout:               cfg.Probe.Timeout,
		StrictHostKeyChecking: cfg.Probe.StrictHostKeyChecking,
	}}

	prober := host.NewProber(source, dialer, host.Config{
		SettleDelay:      cfg.Probe.SettleDelay,
		ReadWait:         cfg.Probe.ReadWait,
		PrivilegeCommand: cfg.Probe.PrivilegeCommand,
		ValidateCommand:  cfg.Probe.ValidateCommand,
		LoopbackAliases:  cfg.Probe.LoopbackAliases,
		Classifier:       host.NewMarkerClassifier(cfg.Probe.PromptMarkers),
	}, logger.Named(log, "probe"))

	cat := catalog.NewDirCatalog(cfg.RoleDirs()...)

	builder := workunit.NewBuilder(cat, cfg.ScratchDir)
	builder.BecomePasswordEnv = cfg.Backend.BecomePasswordEnv
	builder.LoopbackAliases = cfg.Probe.LoopbackAliases

	runner := backend.NewAnsibleRunner(logger.Named(log, "backend"))
	runner.Command = cfg.Backend.Command
	runner.ExtraArgs = cfg.Backend.ExtraArgs
	runner.BecomePasswordEnv = cfg.Backend.BecomePasswordEnv
	if cfg.SSHConfig != "" {
		if _, err := os.Stat(cfg.SSHConfig); err == nil {
			runner.SSHConfig = cfg.SSHConfig
		}
	}

	log.Debug("config: %s, ledger: %s", describePath(path), cfg.Ledger)

	return &App{
		Config:     cfg,
		ConfigPath: path,
		Log:        log,
		Ledger:     store,
		Source:     source,
		Prober:     prober,
		Catalog:    cat,
		Builder:    builder,
		Runner:     runner,
	}, nil
}

// Close releases the ledger.
func (a *App) Close() error {
	if a == nil || a.Ledger == nil {
		return nil
	}
	return a.Ledger.Close()
}

// Orchestrator returns an orchestrator over the app's components.
func (a *App) Orchestrator(cfg install.Config, creds install.CredentialProvider, events chan<- install.Event) *install.Orchestrator {
	return install.NewOrchestrator(install.Deps{
		Store:       a.Ledger,
		Prober:      a.Prober,
		Catalog:     a.Catalog,
		Builder:     a.Builder,
		Runner:      a.Runner,
		Credentials: creds,
		Events:      events,
	}, cfg, a.Log)
}

// InstallConfig returns the configured batch settings.
func (a *App) InstallConfig() install.Config {
	return install.Config{
		MaxParallel:  a.Config.Install.MaxParallel,
		Timeout:      a.Config.Install.Timeout,
		Refresh:      a.Config.Install.Refresh,
		VerifyRemote: a.Config.Install.VerifyRemote,
		GroupHosts:   a.Config.Install.GroupHosts,
	}
}

// Aliases returns args, or every concrete alias in ssh_config when args is
// empty.
func (a *App) Aliases(args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	aliases, err := a.Source.Aliases()
	if err != nil {
		return nil, err
	}
	if len(aliases) == 0 {
		return nil, errors.New(errors.ErrConfig,
			"No hosts found in "+a.Source.Path,
			"Add Host entries to your ssh config, or name hosts on the command line.")
	}
	return aliases, nil
}

func describePath(path string) string {
	if path == "" {
		return "(defaults)"
	}
	return path
}
