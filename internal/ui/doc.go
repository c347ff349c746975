// Package ui renders fleetup's terminal output: host and probe tables,
// install outcomes, progress lines, and the sudo password prompt.
//
// Colors are ANSI codes so they follow the terminal theme:
//
//	ColorSuccess   (green)  - Installed, reachable, no password needed
//	ColorError     (red)    - Failed or unreachable hosts
//	ColorWarning   (yellow) - Hosts waiting on a credential, skipped hosts
//	ColorMuted     (gray)   - Diagnostics and timing
//
// Use DisableColors() to switch to monochrome output (for --no-color flag).
//
// Install states map to symbols through StateSymbol:
//
//	INSTALLED          ✓
//	ALREADY_INSTALLED  ●
//	NEEDS_CREDENTIAL   ⚠
//	FAILED/UNREACHABLE ✗
//	SKIPPED            ⊘
package ui
