package backend

import (
	"regexp"
	"strconv"
	"strings"
)

// HostRecap is one host's line from the PLAY RECAP.
type HostRecap struct {
	Host        string
	Ok          int
	Changed     int
	Unreachable int
	Failed      int
	Skipped     int
	Rescued     int
	Ignored     int
}

// Succeeded reports whether the host ran every task.
func (h HostRecap) Succeeded() bool {
	return h.Unreachable == 0 && h.Failed == 0
}

var (
	ansiPattern  = regexp.MustCompile(`\x1b\[[0-9;]*m`)
	recapLine    = regexp.MustCompile(`^(\S+)\s*:\s*(.*=.*)$`)
	recapCounter = regexp.MustCompile(`(\w+)=(\d+)`)
)

// ParseRecap extracts per-host stats from the last PLAY RECAP in output.
// Returns nil when there is none.
func ParseRecap(output string) map[string]HostRecap {
	idx := strings.LastIndex(output, "PLAY RECAP")
	if idx < 0 {
		return nil
	}

	recap := make(map[string]HostRecap)
	lines := strings.Split(output[idx:], "\n")
	for _, line := range lines[1:] {
		line = strings.TrimSpace(ansiPattern.ReplaceAllString(line, ""))
		if line == "" {
			continue
		}
		m := recapLine.FindStringSubmatch(line)
		if m == nil {
			break
		}

		h := HostRecap{Host: m[1]}
		for _, c := range recapCounter.FindAllStringSubmatch(m[2], -1) {
			n, _ := strconv.Atoi(c[2])
			switch c[1] {
			case "ok":
				h.Ok = n
			case "changed":
				h.Changed = n
			case "unreachable":
				h.Unreachable = n
			case "failed":
				h.Failed = n
			case "skipped":
				h.Skipped = n
			case "rescued":
				h.Rescued = n
			case "ignored":
				h.Ignored = n
			}
		}
		recap[h.Host] = h
	}
	return recap
}
