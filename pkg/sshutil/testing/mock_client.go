// Package testing provides in-memory stand-ins for sshutil connections.
package testing

import (
	"context"
	"errors"
	"io"
	"regexp"
	"sync"

	"github.com/rileyhilliard/fleetup/pkg/sshutil"
)

// CommandResponse defines a canned response for a specific command pattern.
type CommandResponse struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Error    error
}

// ShellResponse defines what ShellProbe returns.
type ShellResponse struct {
	Output []byte
	Error  error
}

// MockClient simulates an SSH connection for testing. Commands are answered
// from canned responses; unknown commands succeed with no output.
type MockClient struct {
	mu       sync.Mutex
	host     string
	address  string
	closed   bool
	closes   int
	commands map[string]CommandResponse // pattern -> response
	shell    ShellResponse
	executed []string
	stdin    []string
	probes   []sshutil.ShellProbeOptions
}

// NewMockClient creates a new mock SSH client.
func NewMockClient(host string) *MockClient {
	return &MockClient{
		host:     host,
		address:  host + ":22",
		commands: make(map[string]CommandResponse),
	}
}

// Exec returns the canned response for cmd.
func (m *MockClient) Exec(cmd string) (stdout, stderr []byte, exitCode int, err error) {
	return m.ExecInput(cmd, nil)
}

// ExecInput records whatever is on stdin and returns the canned response for cmd.
func (m *MockClient) ExecInput(cmd string, stdin io.Reader) (stdout, stderr []byte, exitCode int, err error) {
	var input []byte
	if stdin != nil {
		input, _ = io.ReadAll(stdin)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, nil, -1, errors.New("connection closed")
	}

	m.executed = append(m.executed, cmd)
	if stdin != nil {
		m.stdin = append(m.stdin, string(input))
	}

	// Exact matches win over patterns
	if resp, ok := m.commands[cmd]; ok {
		return resp.Stdout, resp.Stderr, resp.ExitCode, resp.Error
	}

	for pattern, resp := range m.commands {
		if matched, _ := regexp.MatchString(pattern, cmd); matched {
			return resp.Stdout, resp.Stderr, resp.ExitCode, resp.Error
		}
	}

	return nil, nil, 0, nil
}

// ShellProbe returns the configured shell response.
func (m *MockClient) ShellProbe(ctx context.Context, opts sshutil.ShellProbeOptions) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errors.New("connection closed")
	}
	m.probes = append(m.probes, opts)
	return m.shell.Output, m.shell.Error
}

// Close marks the connection as closed.
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.closes++
	return nil
}

// reopen lets a dialer hand the same client out again.
func (m *MockClient) reopen() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = false
}

// CloseCount returns how many times Close was called.
func (m *MockClient) CloseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

// GetHost returns the host name.
func (m *MockClient) GetHost() string {
	return m.host
}

// GetAddress returns the host:port address.
func (m *MockClient) GetAddress() string {
	return m.address
}

// SetCommandResponse registers a canned response for a command pattern.
// The pattern can be an exact string or a regex pattern.
func (m *MockClient) SetCommandResponse(pattern string, resp CommandResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands[pattern] = resp
}

// SetShellResponse sets what ShellProbe returns.
func (m *MockClient) SetShellResponse(resp ShellResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shell = resp
}

// IsClosed reports whether Close was called.
func (m *MockClient) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Executed returns the commands run so far, in order.
func (m *MockClient) Executed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.executed...)
}

// Stdin returns what was piped to each ExecInput call that had stdin.
func (m *MockClient) Stdin() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.stdin...)
}

// ShellProbes returns the options passed to each ShellProbe call.
func (m *MockClient) ShellProbes() []sshutil.ShellProbeOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sshutil.ShellProbeOptions(nil), m.probes...)
}

var _ sshutil.SSHClient = (*MockClient)(nil)
