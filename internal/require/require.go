// Package require inspects remote hosts for installed tools.
package require

import (
	"regexp"
)

// validToolName matches safe tool names: alphanumeric, hyphens, underscores, and periods.
// Examples: nginx, python3, nvidia-smi, python3.10, g++
var validToolName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._+-]*$`)

// ValidateToolName checks if a tool name is safe to use in shell commands
// and as a role directory name.
func ValidateToolName(name string) bool {
	return validToolName.MatchString(name)
}

// CheckResult represents the result of checking a single tool on a host.
type CheckResult struct {
	// Name is the tool name.
	Name string `json:"name"`
	// Satisfied is true if the tool is on the remote PATH.
	Satisfied bool `json:"satisfied"`
	// Path is where the tool was found (if satisfied).
	Path string `json:"path,omitempty"`
	// Version is the first line of the tool's version output, best effort.
	Version string `json:"version,omitempty"`
}
