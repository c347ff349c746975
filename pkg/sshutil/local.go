package sshutil

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os/exec"

	"github.com/rileyhilliard/fleetup/internal/errors"
)

// LocalClient runs commands on this machine through sh. It stands in for an
// SSH connection when the target is a loopback alias.
type LocalClient struct {
	Host string
}

// NewLocalClient returns a client labelled with alias.
func NewLocalClient(alias string) *LocalClient {
	return &LocalClient{Host: alias}
}

// Exec implements SSHClient.
func (c *LocalClient) Exec(cmd string) (stdout, stderr []byte, exitCode int, err error) {
	return c.ExecInput(cmd, nil)
}

// ExecInput implements SSHClient.
func (c *LocalClient) ExecInput(cmd string, stdin io.Reader) (stdout, stderr []byte, exitCode int, err error) {
	command := exec.Command("sh", "-c", cmd)
	var stdoutBuf, stderrBuf bytes.Buffer
	command.Stdin = stdin
	command.Stdout = &stdoutBuf
	command.Stderr = &stderrBuf

	if err := command.Run(); err != nil {
		var exitErr *exec.ExitError
		if stderrors.As(err, &exitErr) {
			return stdoutBuf.Bytes(), stderrBuf.Bytes(), exitErr.ExitCode(), nil
		}
		return nil, nil, -1, errors.WrapWithCode(err, errors.ErrExec,
			fmt.Sprintf("Failed to execute command: %s", cmd),
			"Check that sh is available on PATH.")
	}

	return stdoutBuf.Bytes(), stderrBuf.Bytes(), 0, nil
}

// ShellProbe is not supported locally; loopback hosts never need a PTY probe.
func (c *LocalClient) ShellProbe(_ context.Context, _ ShellProbeOptions) ([]byte, error) {
	return nil, errors.New(errors.ErrExec, "Interactive shell probes aren't supported for local hosts", "")
}

// Close implements SSHClient.
func (c *LocalClient) Close() error { return nil }

// GetHost implements SSHClient.
func (c *LocalClient) GetHost() string { return c.Host }

// GetAddress implements SSHClient.
func (c *LocalClient) GetAddress() string { return "local" }

var _ SSHClient = (*LocalClient)(nil)
