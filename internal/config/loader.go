package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rileyhilliard/fleetup/internal/errors"
)

const (
	// ConfigFileName is the default config file name.
	ConfigFileName = "fleetup.yaml"
	// GlobalConfigDir is the directory for global config.
	GlobalConfigDir = ".config/fleetup"
	// GlobalConfigFile is the global config file name.
	GlobalConfigFile = "config.yaml"
	// EnvPrefix prefixes every environment override, e.g. FLEETUP_INSTALL_MAX_PARALLEL.
	EnvPrefix = "FLEETUP"
	// DotEnvFile is loaded from the working directory before anything else.
	DotEnvFile = ".env"
	// BuiltinRolesDir is searched before any configured role directory.
	BuiltinRolesDir = "~/.local/share/fleetup/roles"
)

// Load reads config from path, or defaults when path is empty. FLEETUP_*
// environment variables override both.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if os.IsNotExist(err) {
				return nil, errors.WrapWithCode(err, errors.ErrConfig,
					"Config file not found",
					"Specify an existing file with --config, or drop the flag to use defaults")
			}
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				"Failed to read config file",
				"Check the file exists and is valid YAML")
		}
	}

	return parseConfig(v, path)
}

// Find locates the config file using the search order:
// 1. Explicit path (from --config flag)
// 2. fleetup.yaml in current directory
// 3. ~/.config/fleetup/config.yaml (global defaults)
//
// Returns the path to the config file, or empty string if not found.
func Find(explicit string) (string, error) {
	// 1. Explicit path takes precedence
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			if os.IsNotExist(err) {
				return "", errors.WrapWithCode(err, errors.ErrConfig,
					"Specified config file not found: "+explicit,
					"Check the path is correct")
			}
			return "", errors.WrapWithCode(err, errors.ErrConfig,
				"Cannot access config file: "+explicit,
				"Check file permissions")
		}
		return explicit, nil
	}

	// 2. Current directory
	cwd, err := os.Getwd()
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrConfig,
			"Cannot determine current directory",
			"Check directory permissions")
	}

	localConfig := filepath.Join(cwd, ConfigFileName)
	if _, err := os.Stat(localConfig); err == nil {
		return localConfig, nil
	}

	// 3. Global config
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		globalConfig := filepath.Join(home, GlobalConfigDir, GlobalConfigFile)
		if _, err := os.Stat(globalConfig); err == nil {
			return globalConfig, nil
		}
	}

	return "", nil
}

// LoadDotEnv loads dir/.env into the process environment. Variables already
// set win. A missing file is not an error.
func LoadDotEnv(dir string) error {
	path := filepath.Join(dir, DotEnvFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to read "+path,
			"Check the file uses KEY=value lines")
	}
	return nil
}

// LoadOrDefault loads .env from the working directory, then the config found
// from explicit, then validates it.
func LoadOrDefault(explicit string) (*Config, string, error) {
	if cwd, err := os.Getwd(); err == nil {
		if err := LoadDotEnv(cwd); err != nil {
			return nil, "", err
		}
	}

	path, err := Find(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, path, err
	}

	if err := Validate(cfg); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// parseConfig converts viper config to our Config struct with defaults merged in.
func parseConfig(v *viper.Viper, path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := v.Unmarshal(cfg); err != nil {
		where := "your environment overrides"
		if path != "" {
			where = path
		}
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Invalid config format",
			"Check the YAML syntax in "+where)
	}

	base := configDir(path)
	cfg.SSHConfig = ExpandPath(cfg.SSHConfig, base)
	cfg.Ledger = ExpandPath(cfg.Ledger, base)
	cfg.ScratchDir = ExpandPath(cfg.ScratchDir, base)
	for i, dir := range cfg.Roles {
		cfg.Roles[i] = ExpandPath(dir, base)
	}

	return cfg, nil
}

// setDefaults registers every key so environment overrides apply even
// without a config file.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("version", d.Version)
	v.SetDefault("ssh_config", d.SSHConfig)
	v.SetDefault("ledger", d.Ledger)
	v.SetDefault("roles", d.Roles)
	v.SetDefault("scratch_dir", d.ScratchDir)

	v.SetDefault("probe.timeout", d.Probe.Timeout)
	v.SetDefault("probe.settle_delay", d.Probe.SettleDelay)
	v.SetDefault("probe.read_wait", d.Probe.ReadWait)
	v.SetDefault("probe.privilege_command", d.Probe.PrivilegeCommand)
	v.SetDefault("probe.validate_command", d.Probe.ValidateCommand)
	v.SetDefault("probe.prompt_markers", d.Probe.PromptMarkers)
	v.SetDefault("probe.loopback_aliases", d.Probe.LoopbackAliases)
	v.SetDefault("probe.strict_host_key_checking", d.Probe.StrictHostKeyChecking)

	v.SetDefault("install.max_parallel", d.Install.MaxParallel)
	v.SetDefault("install.timeout", d.Install.Timeout)
	v.SetDefault("install.refresh", d.Install.Refresh)
	v.SetDefault("install.verify_remote", d.Install.VerifyRemote)
	v.SetDefault("install.group_hosts", d.Install.GroupHosts)

	v.SetDefault("backend.command", d.Backend.Command)
	v.SetDefault("backend.extra_args", d.Backend.ExtraArgs)
	v.SetDefault("backend.become_password_env", d.Backend.BecomePasswordEnv)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.debug", d.Log.Debug)
	v.SetDefault("log.output", d.Log.Output)
	v.SetDefault("log.pretty", d.Log.Pretty)
	v.SetDefault("log.time_format", d.Log.TimeFormat)
}

// RoleDirs returns the role directories in search order: the built-in
// directory, then the configured ones.
func (c *Config) RoleDirs() []string {
	dirs := []string{ExpandTilde(BuiltinRolesDir)}
	for _, d := range c.Roles {
		if d != "" && d != dirs[0] {
			dirs = append(dirs, d)
		}
	}
	return dirs
}

// configDir returns the directory containing the config file.
func configDir(configPath string) string {
	if configPath == "" {
		cwd, _ := os.Getwd()
		return cwd
	}
	return filepath.Dir(configPath)
}
