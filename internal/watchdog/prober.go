package watchdog

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/process"
)

// Prober gives the OS a chance to veto a stall report. The heartbeat
// verdict alone cannot tell a wedged main loop apart from a process the
// OS has paused as a whole (SIGSTOP, job control, a debugger freezing
// every thread); in the paused case no heartbeat can land but nothing is
// actually wrong.
type Prober interface {
	Verify(pid int) (stalled bool, err error)
}

// StatusProber reads the OS process table.
type StatusProber struct{}

// NewStatusProber creates the default OS prober.
func NewStatusProber() *StatusProber {
	return &StatusProber{}
}

// Verify implements Prober. A stopped process is paused from outside and
// not stalled; any state the scheduler can still run confirms the missed
// heartbeats.
func (p *StatusProber) Verify(pid int) (bool, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return false, fmt.Errorf("open process %d: %w", pid, err)
	}
	statuses, err := proc.Status()
	if err != nil {
		return false, fmt.Errorf("query process %d status: %w", pid, err)
	}
	for _, s := range statuses {
		if s == process.Stop {
			return false, nil
		}
	}
	return true, nil
}
