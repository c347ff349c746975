package sshutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rileyhilliard/fleetup/internal/errors"
	"golang.org/x/crypto/ssh"
)

// Exec runs a command on the remote host and returns the output.
// Returns stdout, stderr, exit code, and any error.
// Exit code is -1 if the command couldn't be executed at all.
func (c *Client) Exec(cmd string) (stdout, stderr []byte, exitCode int, err error) {
	return c.ExecInput(cmd, nil)
}

// ExecInput runs a command with stdin attached. The reader's content is never
// echoed into errors or logs.
func (c *Client) ExecInput(cmd string, stdin io.Reader) (stdout, stderr []byte, exitCode int, err error) {
	session, err := c.Client.NewSession()
	if err != nil {
		return nil, nil, -1, errors.WrapWithCode(err, errors.ErrSSH,
			"Failed to create SSH session",
			"Connection may have been closed. Try reconnecting.")
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdin = stdin
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	exitCode = 0
	err = session.Run(cmd)
	if err != nil {
		if exitErr, ok := err.(*ssh.ExitError); ok {
			exitCode = exitErr.ExitStatus()
		} else {
			return nil, nil, -1, errors.WrapWithCode(err, errors.ErrExec,
				fmt.Sprintf("Failed to execute command: %s", cmd),
				"Check if the command exists on the remote host.")
		}
	}

	return stdoutBuf.Bytes(), stderrBuf.Bytes(), exitCode, nil
}

// ShellProbeOptions drive an interactive shell exchange.
type ShellProbeOptions struct {
	// Input is written to the shell after the settle delay. It should end
	// with a newline.
	Input string

	// SettleDelay is how long banner/MOTD output is drained before Input is sent.
	SettleDelay time.Duration

	// ReadWait bounds how long output is collected after Input is sent.
	ReadWait time.Duration

	// Done, when set, ends collection early once it returns true for the
	// output gathered so far.
	Done func(output []byte) bool
}

// ShellProbe opens a PTY-backed login shell, waits for it to settle, sends
// opts.Input and returns whatever the shell printed in response. Output from
// before the input was sent is discarded. The session is closed on return.
func (c *Client) ShellProbe(ctx context.Context, opts ShellProbeOptions) ([]byte, error) {
	session, err := c.Client.NewSession()
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrSSH,
			"Failed to create SSH session",
			"Connection may have been closed. Try reconnecting.")
	}
	defer session.Close()

	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm", 40, 200, modes); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrSSH,
			"Failed to allocate PTY",
			"The remote host may not support pseudo-terminals.")
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrSSH, "Failed to open shell stdin", "")
	}

	out := &lockedBuffer{}
	session.Stdout = out
	session.Stderr = out

	if err := session.Shell(); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrSSH,
			"Failed to start shell",
			"Check if your user has shell access on the remote host.")
	}

	if err := sleepContext(ctx, opts.SettleDelay); err != nil {
		return nil, err
	}
	out.Reset()

	if _, err := io.WriteString(stdin, opts.Input); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrSSH, "Failed to write to remote shell", "")
	}

	deadline := time.NewTimer(opts.ReadWait)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return out.Bytes(), ctx.Err()
		case <-deadline.C:
			return out.Bytes(), nil
		case <-tick.C:
			if opts.Done != nil && opts.Done(out.Bytes()) {
				return out.Bytes(), nil
			}
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// lockedBuffer is written by the session's copy goroutines and read by the
// probe loop.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func (b *lockedBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}
