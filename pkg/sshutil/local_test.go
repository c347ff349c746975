package sshutil

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalClient(t *testing.T) {
	c := NewLocalClient("localhost")
	assert.Equal(t, "localhost", c.GetHost())
	assert.Equal(t, "local", c.GetAddress())

	stdout, _, code, err := c.Exec("echo hello")
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "hello\n", string(stdout))

	_, _, code, err = c.Exec("exit 4")
	require.NoError(t, err)
	assert.Equal(t, 4, code)

	stdout, _, _, err = c.ExecInput("cat", strings.NewReader("piped"))
	require.NoError(t, err)
	assert.Equal(t, "piped", string(stdout))

	_, err = c.ShellProbe(context.Background(), ShellProbeOptions{})
	assert.Error(t, err)
	assert.NoError(t, c.Close())
}
