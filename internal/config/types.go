package config

import (
	"time"

	"github.com/rileyhilliard/fleetup/internal/logger"
)

// CurrentConfigVersion is the schema version for the config file.
// Increment when making breaking changes to the config structure.
const CurrentConfigVersion = 1

// Config represents the complete fleetup.yaml configuration file.
type Config struct {
	Version int `yaml:"version" mapstructure:"version"`

	// SSHConfig is the ssh_config file host aliases come from.
	SSHConfig string `yaml:"ssh_config" mapstructure:"ssh_config"`

	// Ledger is the SQLite file holding host statuses and installations.
	Ledger string `yaml:"ledger" mapstructure:"ledger"`

	// Roles are extra role directories, searched after the built-in one.
	// Relative paths are resolved against the config file's directory.
	Roles []string `yaml:"roles" mapstructure:"roles"`

	// ScratchDir holds work unit directories. os.TempDir() when empty.
	ScratchDir string `yaml:"scratch_dir" mapstructure:"scratch_dir"`

	Probe   ProbeConfig   `yaml:"probe" mapstructure:"probe"`
	Install InstallConfig `yaml:"install" mapstructure:"install"`
	Backend BackendConfig `yaml:"backend" mapstructure:"backend"`
	Log     logger.Config `yaml:"log" mapstructure:"log"`
}

// ProbeConfig controls how hosts are probed.
type ProbeConfig struct {
	// Timeout bounds the TCP connect and the SSH handshake.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	// SettleDelay is how long banner/MOTD output is drained before the
	// privilege check is typed.
	SettleDelay time.Duration `yaml:"settle_delay" mapstructure:"settle_delay"`

	// ReadWait bounds how long the privilege check's output is collected.
	ReadWait time.Duration `yaml:"read_wait" mapstructure:"read_wait"`

	PrivilegeCommand string   `yaml:"privilege_command" mapstructure:"privilege_command"`
	ValidateCommand  string   `yaml:"validate_command" mapstructure:"validate_command"`
	PromptMarkers    []string `yaml:"prompt_markers" mapstructure:"prompt_markers"`
	LoopbackAliases  []string `yaml:"loopback_aliases" mapstructure:"loopback_aliases"`

	StrictHostKeyChecking bool `yaml:"strict_host_key_checking" mapstructure:"strict_host_key_checking"`
}

// InstallConfig controls install batches.
type InstallConfig struct {
	MaxParallel  int           `yaml:"max_parallel" mapstructure:"max_parallel"`
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
	Refresh      bool          `yaml:"refresh" mapstructure:"refresh"`
	VerifyRemote bool          `yaml:"verify_remote" mapstructure:"verify_remote"`
	GroupHosts   bool          `yaml:"group_hosts" mapstructure:"group_hosts"`
}

// BackendConfig controls the playbook runner.
type BackendConfig struct {
	Command           string   `yaml:"command" mapstructure:"command"`
	ExtraArgs         []string `yaml:"extra_args" mapstructure:"extra_args"`
	BecomePasswordEnv string   `yaml:"become_password_env" mapstructure:"become_password_env"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version:   CurrentConfigVersion,
		SSHConfig: "~/.ssh/config",
		Ledger:    "~/.local/state/fleetup/ledger.db",
		Roles:     []string{"./roles"},
		Probe: ProbeConfig{
			Timeout:               10 * time.Second,
			SettleDelay:           2 * time.Second,
			ReadWait:              3 * time.Second,
			PrivilegeCommand:      "sudo -n true",
			ValidateCommand:       "sudo -S -p '' true",
			PromptMarkers:         []string{"password", "[sudo]", "passwort", "mot de passe", "contraseña"},
			LoopbackAliases:       []string{"localhost", "127.0.0.1", "::1"},
			StrictHostKeyChecking: true,
		},
		Install: InstallConfig{
			MaxParallel: 8,
			Timeout:     10 * time.Minute,
		},
		Backend: BackendConfig{
			Command:           "ansible-playbook",
			ExtraArgs:         []string{},
			BecomePasswordEnv: "FLEETUP_BECOME_PASS",
		},
		Log: logger.Config{
			Level:  "info",
			Output: "stderr",
			Pretty: true,
		},
	}
}
