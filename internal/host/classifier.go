package host

import (
	"regexp"
	"strings"

	"github.com/rileyhilliard/fleetup/internal/ledger"
)

// sentinelPrefix marks the exit-status line echoed after the privilege check.
const sentinelPrefix = "__FLEETUP_RC="

var sentinelPattern = regexp.MustCompile(regexp.QuoteMeta(sentinelPrefix) + `(\d+)`)

// DefaultPromptMarkers are password-prompt fragments in the locales seen in
// the wild. Matching is case-insensitive.
var DefaultPromptMarkers = []string{"password", "[sudo]", "passwort", "mot de passe", "contraseña"}

// Classifier decides from shell output whether privileged execution needs a
// password.
type Classifier interface {
	Classify(output []byte) ledger.Tri
}

// MarkerClassifier reports True when any marker appears in the output, False
// when the privilege check exited 0, and Unknown otherwise.
type MarkerClassifier struct {
	Markers []string
}

// NewMarkerClassifier lowercases markers once. Empty markers are dropped.
func NewMarkerClassifier(markers []string) *MarkerClassifier {
	c := &MarkerClassifier{}
	for _, m := range markers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			c.Markers = append(c.Markers, m)
		}
	}
	return c
}

// Classify implements Classifier.
func (c *MarkerClassifier) Classify(output []byte) ledger.Tri {
	text := strings.ToLower(string(output))
	for _, m := range c.Markers {
		if strings.Contains(text, m) {
			return ledger.True
		}
	}

	if code, ok := exitStatus(output); ok && code == "0" {
		return ledger.False
	}
	return ledger.Unknown
}

// exitStatus extracts the sentinel exit status, if the shell printed one.
func exitStatus(output []byte) (string, bool) {
	m := sentinelPattern.FindSubmatch(output)
	if m == nil {
		return "", false
	}
	return string(m[1]), true
}

// probeInput is what gets typed into the shell: the privilege check, then
// the sentinel carrying its exit status.
func probeInput(privilegeCommand string) string {
	return privilegeCommand + "; echo " + sentinelPrefix + "$?\n"
}

func sentinelSeen(output []byte) bool {
	_, ok := exitStatus(output)
	return ok
}
