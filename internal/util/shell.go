package util

import "strings"

// ShellQuote single-quotes s for a POSIX shell. Embedded quotes become '\''.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
