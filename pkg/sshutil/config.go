package sshutil

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/kevinburke/ssh_config"
	"github.com/rileyhilliard/fleetup/internal/errors"
)

// HostParams are the connection parameters resolved for one alias.
type HostParams struct {
	Alias         string
	Hostname      string
	Port          string
	User          string
	IdentityFiles []string
}

// Address returns the host:port string for dialing.
func (p HostParams) Address() string {
	port := p.Port
	if port == "" {
		port = "22"
	}
	return net.JoinHostPort(p.Hostname, port)
}

// ConfigSource enumerates host aliases and resolves them to connection
// parameters. FileSource is the production implementation.
type ConfigSource interface {
	Aliases() ([]string, error)
	Lookup(alias string) (HostParams, error)
}

// SSHHostEntry represents a parsed host entry from SSH config.
type SSHHostEntry struct {
	Alias        string // The Host pattern (alias)
	Hostname     string // The HostName value (actual host to connect to)
	User         string
	Port         string
	IdentityFile string // First IdentityFile value
}

// Description returns a user-friendly description of the host.
func (h SSHHostEntry) Description() string {
	parts := []string{}

	if h.Hostname != "" && h.Hostname != h.Alias {
		parts = append(parts, h.Hostname)
	}

	if h.User != "" {
		parts = append(parts, "user: "+h.User)
	}

	if h.Port != "" && h.Port != "22" {
		parts = append(parts, "port: "+h.Port)
	}

	if len(parts) == 0 {
		return h.Alias
	}

	return strings.Join(parts, ", ")
}

// DefaultConfigPath returns ~/.ssh/config.
func DefaultConfigPath() string {
	return filepath.Join(homeDir(), ".ssh", "config")
}

// FileSource reads aliases from an ssh_config file. The file is parsed once,
// on first use; a missing file yields no aliases.
type FileSource struct {
	Path string

	// OnWarning receives non-fatal parse notices (e.g. a Match block that
	// hides later entries). Optional.
	OnWarning func(message string)

	once      sync.Once
	cfg       *ssh_config.Config
	matchLine int
	loadErr   error
}

// NewFileSource returns a source for the file at path, or ~/.ssh/config when
// path is empty.
func NewFileSource(path string) *FileSource {
	if path == "" {
		path = DefaultConfigPath()
	}
	return &FileSource{Path: expandPath(path)}
}

func (s *FileSource) load() (*ssh_config.Config, error) {
	s.once.Do(func() {
		content, matchLine, err := preprocessSSHConfig(s.Path)
		if err != nil {
			if os.IsNotExist(err) {
				s.cfg = &ssh_config.Config{}
				return
			}
			s.loadErr = errors.WrapWithCode(err, errors.ErrConfig,
				fmt.Sprintf("Couldn't read SSH config %s", s.Path),
				"Check the file exists and is readable.")
			return
		}
		cfg, err := ssh_config.Decode(bytes.NewReader(content))
		if err != nil {
			s.loadErr = errors.WrapWithCode(err, errors.ErrConfig,
				fmt.Sprintf("Couldn't parse SSH config %s", s.Path),
				"Run 'ssh -G <host>' to see what OpenSSH makes of it.")
			return
		}
		s.cfg = cfg
		s.matchLine = matchLine
	})
	return s.cfg, s.loadErr
}

// Aliases returns every concrete (non-wildcard) Host alias, sorted.
func (s *FileSource) Aliases() ([]string, error) {
	cfg, err := s.load()
	if err != nil {
		return nil, err
	}
	return concreteAliases(cfg), nil
}

// Lookup resolves alias. Only concrete Host entries resolve; anything else is
// an UNRESOLVABLE_HOST error.
func (s *FileSource) Lookup(alias string) (HostParams, error) {
	cfg, err := s.load()
	if err != nil {
		return HostParams{}, err
	}

	found := false
	for _, a := range concreteAliases(cfg) {
		if a == alias {
			found = true
			break
		}
	}
	if !found {
		if s.matchLine > 0 && s.OnWarning != nil {
			s.OnWarning(fmt.Sprintf(
				"Host '%s' not found in SSH config (config has a Match block at line %d that may hide later entries)",
				alias, s.matchLine))
		}
		return HostParams{}, errors.New(errors.ErrUnresolvableHost,
			fmt.Sprintf("Host '%s' isn't defined in %s", alias, s.Path),
			"Add a 'Host "+alias+"' entry to your SSH config.")
	}

	return resolveParams(cfg, alias), nil
}

func resolveParams(cfg *ssh_config.Config, alias string) HostParams {
	params := HostParams{
		Alias:    alias,
		Hostname: alias,
		Port:     "22",
		User:     currentUser(),
	}

	if hostname, _ := cfg.Get(alias, "HostName"); hostname != "" {
		params.Hostname = strings.ReplaceAll(hostname, "%h", alias)
	}
	if port, _ := cfg.Get(alias, "Port"); port != "" {
		params.Port = port
	}
	if user, _ := cfg.Get(alias, "User"); user != "" {
		params.User = user
	}
	if files, _ := cfg.GetAll(alias, "IdentityFile"); len(files) > 0 {
		for _, f := range files {
			params.IdentityFiles = append(params.IdentityFiles, expandPath(f))
		}
	}

	return params
}

func concreteAliases(cfg *ssh_config.Config) []string {
	seen := make(map[string]bool)
	var aliases []string
	for _, host := range cfg.Hosts {
		for _, pattern := range host.Patterns {
			alias := pattern.String()
			if strings.ContainsAny(alias, "*?!") || seen[alias] {
				continue
			}
			seen[alias] = true
			aliases = append(aliases, alias)
		}
	}
	sort.Strings(aliases)
	return aliases
}

// ParseSSHConfigFile parses the specified SSH config file and returns its
// concrete host entries sorted by alias. A missing file is not an error.
func ParseSSHConfigFile(configPath string) ([]SSHHostEntry, error) {
	content, _, err := preprocessSSHConfig(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	cfg, err := ssh_config.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}

	var hosts []SSHHostEntry
	for _, alias := range concreteAliases(cfg) {
		entry := SSHHostEntry{Alias: alias}
		entry.Hostname, _ = cfg.Get(alias, "HostName")
		entry.User, _ = cfg.Get(alias, "User")
		entry.Port, _ = cfg.Get(alias, "Port")
		if identity, _ := cfg.Get(alias, "IdentityFile"); identity != "" {
			entry.IdentityFile = expandPath(identity)
		}
		hosts = append(hosts, entry)
	}

	return hosts, nil
}

// preprocessSSHConfig reads the SSH config and returns content up to the first Match directive.
// kevinburke/ssh_config doesn't support Match, so anything after it is dropped.
// Also returns the line number where Match was found (0 if not found).
func preprocessSSHConfig(configPath string) ([]byte, int, error) {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, 0, err
	}

	lines := strings.Split(string(content), "\n")
	var result []string
	matchLine := 0

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToLower(trimmed), "match ") {
			matchLine = i + 1
			break
		}
		result = append(result, line)
	}

	return []byte(strings.Join(result, "\n")), matchLine, nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}

func currentUser() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "root"
}

func expandPath(path string) string {
	if path == "~" {
		return homeDir()
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}
