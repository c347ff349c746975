package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rileyhilliard/fleetup/internal/errors"
)

// MaxParallelLimit is the largest accepted install.max_parallel.
const MaxParallelLimit = 64

var envNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks the config for errors and returns structured error messages.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New(errors.ErrConfig,
			"Config is nil",
			"This is unexpected - try reloading the configuration.")
	}

	// Check version
	if cfg.Version > CurrentConfigVersion {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("This config is from the future (version %d, but fleetup only knows up to %d)", cfg.Version, CurrentConfigVersion),
			"Upgrade fleetup, or lower 'version' in fleetup.yaml.")
	}

	if strings.TrimSpace(cfg.Ledger) == "" {
		return errors.New(errors.ErrConfig,
			"No ledger path configured",
			"Set 'ledger' in fleetup.yaml, e.g. ~/.local/state/fleetup/ledger.db")
	}

	if err := validateProbe(cfg.Probe); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, err.Error(), "Check the 'probe' section in your fleetup.yaml.")
	}

	if err := validateInstall(cfg.Install); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, err.Error(), "Check the 'install' section in your fleetup.yaml.")
	}

	if err := validateBackend(cfg.Backend); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, err.Error(), "Check the 'backend' section in your fleetup.yaml.")
	}

	if cfg.Log.Level != "" {
		if _, err := zerolog.ParseLevel(strings.ToLower(cfg.Log.Level)); err != nil {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Unknown log level '%s'", cfg.Log.Level),
				"Use one of: debug, info, warn, error.")
		}
	}
	if cfg.Log.Output != "" && cfg.Log.Output != "stdout" && cfg.Log.Output != "stderr" {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Unknown log output '%s'", cfg.Log.Output),
			"Use 'stdout' or 'stderr'.")
	}

	return nil
}

func validateProbe(p ProbeConfig) error {
	if p.Timeout <= 0 {
		return fmt.Errorf("probe.timeout must be positive, got %s", p.Timeout)
	}
	if p.SettleDelay < 0 {
		return fmt.Errorf("probe.settle_delay can't be negative, got %s", p.SettleDelay)
	}
	if p.ReadWait <= 0 {
		return fmt.Errorf("probe.read_wait must be positive, got %s", p.ReadWait)
	}
	if strings.TrimSpace(p.PrivilegeCommand) == "" {
		return fmt.Errorf("probe.privilege_command can't be empty")
	}
	if strings.TrimSpace(p.ValidateCommand) == "" {
		return fmt.Errorf("probe.validate_command can't be empty")
	}
	if len(p.PromptMarkers) == 0 {
		return fmt.Errorf("probe.prompt_markers needs at least one marker, or every password prompt reads as ambiguous")
	}
	return nil
}

func validateInstall(i InstallConfig) error {
	if i.MaxParallel < 1 || i.MaxParallel > MaxParallelLimit {
		return fmt.Errorf("install.max_parallel must be between 1 and %d, got %d", MaxParallelLimit, i.MaxParallel)
	}
	if i.Timeout <= 0 {
		return fmt.Errorf("install.timeout must be positive, got %s", i.Timeout)
	}
	return nil
}

func validateBackend(b BackendConfig) error {
	if strings.TrimSpace(b.Command) == "" {
		return fmt.Errorf("backend.command can't be empty")
	}
	if !envNamePattern.MatchString(b.BecomePasswordEnv) {
		return fmt.Errorf("backend.become_password_env '%s' isn't a valid environment variable name", b.BecomePasswordEnv)
	}
	return nil
}
