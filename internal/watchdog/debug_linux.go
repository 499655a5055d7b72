//go:build linux

package watchdog

import (
	"bufio"
	"os"
	"strings"
)

// debuggerAttached reports whether a tracer holds this process, read from
// the TracerPid field of /proc/self/status. A paused-under-debugger main
// loop must not be reported as a stall.
func debuggerAttached() bool {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "TracerPid:") {
			continue
		}
		pid := strings.TrimSpace(strings.TrimPrefix(line, "TracerPid:"))
		return pid != "" && pid != "0"
	}
	return false
}
