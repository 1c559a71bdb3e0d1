package process

import (
	"os"
	"os/exec"
	"runtime"
	"strconv"
)

// Handle identifies an OS process for termination.
// A PID of zero or less means the process never got an id.
type Handle struct {
	PID      int
	Platform string
}

// HandleFromPID returns a handle for pid on the current platform.
func HandleFromPID(pid int) Handle {
	return Handle{PID: pid, Platform: runtime.GOOS}
}

// HandleFromProcess returns a handle for p. A nil process yields an absent handle.
func HandleFromProcess(p *os.Process) Handle {
	if p == nil {
		return Handle{Platform: runtime.GOOS}
	}
	return HandleFromPID(p.Pid)
}

// HandleFromCmd returns a handle for a started command.
func HandleFromCmd(cmd *exec.Cmd) Handle {
	if cmd == nil {
		return Handle{Platform: runtime.GOOS}
	}
	return HandleFromProcess(cmd.Process)
}

// Valid reports whether the handle carries a process id.
func (h Handle) Valid() bool {
	return h.PID > 0
}

func (h Handle) String() string {
	if !h.Valid() {
		return "pid:<none>"
	}
	return "pid:" + strconv.Itoa(h.PID)
}
