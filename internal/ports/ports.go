// Package ports enumerates serial devices on the host so the gateway can
// reject a `start` for a port name that does not exist, instead of opening
// a handle that will simply never respond.
//
// Adapted from the teacher's serial/ports_list.go ListPorts: the same
// enumerator-first, glob-fallback-per-OS shape, generalized only in name
// (this repo has no other notion of "port" to disambiguate from).
package ports

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"go.bug.st/serial/enumerator"
)

// List returns a best-effort, sorted, de-duplicated list of serial device
// names available on the host.
func List() []string {
	if detailed, err := enumerator.GetDetailedPortsList(); err == nil && len(detailed) > 0 {
		out := make([]string, 0, len(detailed))
		seen := make(map[string]struct{}, len(detailed))
		for _, p := range detailed {
			if p == nil || p.Name == "" {
				continue
			}
			if _, ok := seen[p.Name]; ok {
				continue
			}
			seen[p.Name] = struct{}{}
			out = append(out, p.Name)
		}
		sort.Strings(out)
		return out
	}

	switch runtime.GOOS {
	case "windows":
		return nil
	case "darwin":
		return listByGlob("/dev/cu.*", "/dev/tty.*")
	default:
		return listByGlob("/dev/ttyUSB*", "/dev/ttyACM*")
	}
}

func listByGlob(patterns ...string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, 16)
	for _, pat := range patterns {
		matches, _ := filepath.Glob(pat)
		for _, m := range matches {
			if m == "" {
				continue
			}
			if _, err := os.Stat(m); err != nil {
				continue
			}
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}
