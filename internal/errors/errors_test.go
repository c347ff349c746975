package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCodes(t *testing.T) {
	codes := []string{
		ErrConfig,
		ErrSSH,
		ErrExec,
		ErrUnresolvableHost,
		ErrNetworkUnreachable,
		ErrAuthFailed,
		ErrAmbiguousProbe,
		ErrToolNotFound,
		ErrBackendFailed,
		ErrLedger,
		ErrInvalidInstallInput,
	}

	seen := make(map[string]bool)
	for _, code := range codes {
		assert.NotEmpty(t, code, "error code should not be empty")
		assert.False(t, seen[code], "error code %q should be unique", code)
		seen[code] = true
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name       string
		code       string
		message    string
		suggestion string
	}{
		{
			name:       "config error",
			code:       ErrConfig,
			message:    "Invalid configuration in fleetup.yaml",
			suggestion: "Check your configuration file syntax",
		},
		{
			name:       "tool not found",
			code:       ErrToolNotFound,
			message:    "No role named 'nginx'",
			suggestion: "Run 'fleetup tools' to list available roles",
		},
		{
			name:       "ledger error",
			code:       ErrLedger,
			message:    "Couldn't write to the ledger",
			suggestion: "Check the ledger path is writable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, tt.suggestion)

			require.NotNil(t, err)
			assert.Equal(t, tt.code, err.Code)
			assert.Equal(t, tt.message, err.Message)
			assert.Equal(t, tt.suggestion, err.Suggestion)
			assert.Nil(t, err.Cause)
		})
	}
}

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name          string
		err           *Error
		expectedParts []string
		notExpected   []string
	}{
		{
			name:          "basic error formatting",
			err:           New(ErrConfig, "Invalid configuration", "Check fleetup.yaml syntax"),
			expectedParts: []string{"Invalid configuration", "Check fleetup.yaml syntax"},
		},
		{
			name:          "error with failure symbol",
			err:           New(ErrSSH, "Connection failed", "Try again"),
			expectedParts: []string{"✗", "Connection failed"},
		},
		{
			name:          "error without suggestion",
			err:           New(ErrExec, "Command failed", ""),
			expectedParts: []string{"Command failed"},
			notExpected:   []string{"suggestion"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := tt.err.Error()

			for _, part := range tt.expectedParts {
				assert.Contains(t, output, part)
			}
			for _, part := range tt.notExpected {
				assert.NotContains(t, output, part)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("underlying network error")
	wrapped := Wrap(cause, "SSH connection failed")

	require.NotNil(t, wrapped)
	assert.Equal(t, ErrSSH, wrapped.Code, "Wrap should default to ErrSSH code")
	assert.Equal(t, cause, wrapped.Cause)
}

func TestWrapWithCode(t *testing.T) {
	cause := errors.New("database is locked")
	wrapped := WrapWithCode(cause, ErrLedger, "Failed to record installation", "Retry the command")

	assert.Equal(t, ErrLedger, wrapped.Code)
	assert.Equal(t, "Retry the command", wrapped.Suggestion)
	assert.True(t, errors.Is(wrapped, cause))
	assert.Contains(t, wrapped.Error(), "database is locked")
}

func TestShortAndDescribe(t *testing.T) {
	plain := New(ErrAuthFailed, "Authentication failed", "Load your key")
	assert.Equal(t, "Authentication failed", plain.Short())

	withCause := WrapWithCode(errors.New("i/o timeout"), ErrNetworkUnreachable, "Can't reach web1", "")
	assert.Equal(t, "Can't reach web1: i/o timeout", withCause.Short())

	assert.Equal(t, "Can't reach web1: i/o timeout", Describe(fmt.Errorf("probe: %w", withCause)))
	assert.Equal(t, "boom", Describe(errors.New("boom")))
	assert.Equal(t, "", Describe(nil))
}

func TestIsCodeAndCode(t *testing.T) {
	err := New(ErrToolNotFound, "missing", "")
	wrapped := fmt.Errorf("install: %w", err)

	assert.True(t, IsCode(wrapped, ErrToolNotFound))
	assert.False(t, IsCode(wrapped, ErrSSH))
	assert.False(t, IsCode(errors.New("standard error"), ErrConfig))
	assert.False(t, IsCode(nil, ErrConfig))

	assert.Equal(t, ErrToolNotFound, Code(wrapped))
	assert.Equal(t, "", Code(errors.New("plain")))
}

func TestErrorMessageStructure(t *testing.T) {
	err := WrapWithCode(
		errors.New("connection timed out after 10s"),
		ErrNetworkUnreachable,
		"Can't reach 'web2'",
		"Check the host is up",
	)

	lines := strings.Split(err.Error(), "\n")
	assert.True(t, strings.HasPrefix(strings.TrimSpace(lines[0]), "✗"))
	assert.Contains(t, lines[0], "Can't reach 'web2'")
}

func TestExitError(t *testing.T) {
	err := NewExitError(2)
	assert.Equal(t, "exit code 2", err.Error())

	code, ok := GetExitCode(fmt.Errorf("wrapped: %w", err))
	assert.True(t, ok)
	assert.Equal(t, 2, code)

	_, ok = GetExitCode(errors.New("standard"))
	assert.False(t, ok)

	_, ok = GetExitCode(nil)
	assert.False(t, ok)
}
