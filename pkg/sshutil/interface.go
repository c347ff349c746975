package sshutil

import (
	"context"
	"io"
)

// SSHClient defines the interface for SSH command execution.
// Both the real Client and mock implementations satisfy this interface.
type SSHClient interface {
	// Exec runs a command and returns stdout, stderr, and exit code.
	// Exit code is -1 if the command couldn't be executed at all.
	// A non-zero exit code with nil error means the command ran but failed.
	Exec(cmd string) (stdout, stderr []byte, exitCode int, err error)

	// ExecInput is Exec with stdin attached.
	ExecInput(cmd string, stdin io.Reader) (stdout, stderr []byte, exitCode int, err error)

	// ShellProbe runs an interactive PTY shell exchange.
	ShellProbe(ctx context.Context, opts ShellProbeOptions) ([]byte, error)

	// Close closes the SSH connection.
	Close() error

	// GetHost returns the alias used to connect.
	GetHost() string

	// GetAddress returns the resolved host:port address.
	GetAddress() string
}

var _ SSHClient = (*Client)(nil)

// Dialer opens connections to resolved hosts. NetDialer is the production
// implementation; tests substitute a mock.
type Dialer interface {
	CheckTCP(ctx context.Context, address string) error
	DialKey(ctx context.Context, params HostParams) (SSHClient, error)
	DialPassword(ctx context.Context, params HostParams, secret string) (SSHClient, error)
}

// NetDialer dials real SSH servers with fixed options.
type NetDialer struct {
	Options DialOptions
}

// CheckTCP implements Dialer.
func (d NetDialer) CheckTCP(ctx context.Context, address string) error {
	return CheckTCP(ctx, address, d.Options.Timeout)
}

// DialKey implements Dialer.
func (d NetDialer) DialKey(ctx context.Context, params HostParams) (SSHClient, error) {
	c, err := DialKey(ctx, params, d.Options)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// DialPassword implements Dialer.
func (d NetDialer) DialPassword(ctx context.Context, params HostParams, secret string) (SSHClient, error) {
	c, err := DialPassword(ctx, params, secret, d.Options)
	if err != nil {
		return nil, err
	}
	return c, nil
}
