package testing

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rileyhilliard/fleetup/pkg/sshutil"
)

// HostBehavior scripts how MockDialer treats one host.
type HostBehavior struct {
	// TCPError fails the reachability check and every dial.
	TCPError error

	// KeyError fails key authentication.
	KeyError error

	// Client is returned by successful dials. A fresh MockClient is
	// created when nil.
	Client *MockClient

	// Password is the only secret DialPassword accepts. Empty rejects all.
	Password string

	// PasswordClient is returned by successful password dials. Falls back
	// to Client.
	PasswordClient *MockClient
}

// MockDialer implements sshutil.Dialer from per-host behaviors keyed by
// HostParams.Alias. Unknown hosts are unreachable.
type MockDialer struct {
	mu        sync.Mutex
	hosts     map[string]*HostBehavior
	tcpChecks map[string]int
	keyDials  map[string]int
	pwDials   map[string]int
}

// NewMockDialer creates an empty dialer.
func NewMockDialer() *MockDialer {
	return &MockDialer{
		hosts:     make(map[string]*HostBehavior),
		tcpChecks: make(map[string]int),
		keyDials:  make(map[string]int),
		pwDials:   make(map[string]int),
	}
}

// SetHost registers behavior for alias.
func (d *MockDialer) SetHost(alias string, b HostBehavior) *MockDialer {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b.Client == nil {
		b.Client = NewMockClient(alias)
	}
	d.hosts[alias] = &b
	return d
}

// Client returns the key-auth client registered for alias.
func (d *MockDialer) Client(alias string) *MockClient {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.hosts[alias]; ok {
		return b.Client
	}
	return nil
}

func (d *MockDialer) behavior(alias string) (*HostBehavior, error) {
	b, ok := d.hosts[alias]
	if !ok {
		return nil, errors.New("dial tcp: connect: no route to host")
	}
	if b.TCPError != nil {
		return nil, b.TCPError
	}
	return b, nil
}

// CheckTCP implements sshutil.Dialer. The address is matched against the
// registered hosts' mock addresses or aliases.
func (d *MockDialer) CheckTCP(ctx context.Context, address string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for alias, b := range d.hosts {
		if address == b.Client.GetAddress() || address == alias {
			d.tcpChecks[alias]++
			return b.TCPError
		}
	}
	return errors.New("dial tcp " + address + ": connect: no route to host")
}

// DialKey implements sshutil.Dialer.
func (d *MockDialer) DialKey(ctx context.Context, params sshutil.HostParams) (sshutil.SSHClient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keyDials[params.Alias]++
	b, err := d.behavior(params.Alias)
	if err != nil {
		return nil, err
	}
	if b.KeyError != nil {
		return nil, b.KeyError
	}
	b.Client.reopen()
	return b.Client, nil
}

// DialPassword implements sshutil.Dialer.
func (d *MockDialer) DialPassword(ctx context.Context, params sshutil.HostParams, secret string) (sshutil.SSHClient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pwDials[params.Alias]++
	b, err := d.behavior(params.Alias)
	if err != nil {
		return nil, err
	}
	if b.Password == "" || secret != b.Password {
		return nil, errors.New("ssh: handshake failed: ssh: unable to authenticate, attempted methods [none password]")
	}
	if b.PasswordClient != nil {
		b.PasswordClient.reopen()
		return b.PasswordClient, nil
	}
	b.Client.reopen()
	return b.Client, nil
}

// KeyDials returns how many key dials were made to alias.
func (d *MockDialer) KeyDials(alias string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.keyDials[alias]
}

// PasswordDials returns how many password dials were made to alias.
func (d *MockDialer) PasswordDials(alias string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pwDials[alias]
}

// TCPChecks returns how many reachability checks hit alias.
func (d *MockDialer) TCPChecks(alias string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tcpChecks[alias]
}

var _ sshutil.Dialer = (*MockDialer)(nil)

// StaticSource is an in-memory sshutil.ConfigSource.
type StaticSource map[string]sshutil.HostParams

// NewStaticSource builds a source where every alias resolves to alias:22.
func NewStaticSource(aliases ...string) StaticSource {
	s := StaticSource{}
	for _, a := range aliases {
		s[a] = sshutil.HostParams{Alias: a, Hostname: a, Port: "22", User: "deploy"}
	}
	return s
}

// Aliases implements sshutil.ConfigSource.
func (s StaticSource) Aliases() ([]string, error) {
	out := make([]string, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	sort.Strings(out)
	return out, nil
}

// Lookup implements sshutil.ConfigSource.
func (s StaticSource) Lookup(alias string) (sshutil.HostParams, error) {
	p, ok := s[alias]
	if !ok {
		return sshutil.HostParams{}, errors.New("unresolvable host " + alias)
	}
	return p, nil
}
