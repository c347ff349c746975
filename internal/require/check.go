package require

import (
	"fmt"
	"strings"

	"github.com/rileyhilliard/fleetup/internal/errors"
	"github.com/rileyhilliard/fleetup/internal/util"
	"github.com/rileyhilliard/fleetup/pkg/sshutil"
)

// CheckTool verifies a tool exists on the remote host and captures its
// version. Uses "command -v <tool>" which is POSIX-compliant and works across
// shells. An error is returned only when the host couldn't be asked at all;
// a missing tool is a result with Satisfied=false.
func CheckTool(client sshutil.SSHClient, tool string) (CheckResult, error) {
	result := CheckResult{Name: tool}

	// Validate tool name to prevent command injection
	if !ValidateToolName(tool) {
		return result, errors.New(errors.ErrInvalidInstallInput,
			fmt.Sprintf("'%s' isn't a valid tool name", tool),
			"Tool names may contain letters, digits, '.', '_', '+' and '-'.")
	}

	stdout, _, exitCode, err := client.Exec("command -v " + util.ShellQuote(tool))
	if err != nil {
		return result, errors.WrapWithCode(err, errors.ErrExec,
			fmt.Sprintf("Couldn't check for %s on %s", tool, client.GetHost()),
			"Make sure the host is reachable: fleetup probe "+client.GetHost())
	}
	if exitCode != 0 {
		return result, nil
	}

	result.Satisfied = true
	result.Path = strings.TrimSpace(string(stdout))

	versionCmd := fmt.Sprintf("{ %s --version || %s -v; } 2>&1 | head -n 1", tool, tool)
	if out, _, code, err := client.Exec(versionCmd); err == nil && code == 0 {
		result.Version = strings.TrimSpace(string(out))
	}

	return result, nil
}
