//go:build windows

package process

import (
	"errors"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"golang.org/x/sys/windows"
)

// stillActive is the exit code GetExitCodeProcess reports for a running process.
const stillActive = 259

// windowsPlatform destroys whole trees at once. Children is only used for snapshots.
type windowsPlatform struct {
	lister ChildLister
}

// NewPlatform returns the native platform using lister for child discovery.
// A nil lister falls back to PsutilLister.
func NewPlatform(lister ChildLister) Platform {
	if lister == nil {
		lister = PsutilLister{}
	}
	return &windowsPlatform{lister: lister}
}

func (p *windowsPlatform) Children(pid int) ([]int, error) {
	return listChildren(p.lister, pid)
}

// Signal has no graceful variant on Windows; every signal terminates.
func (p *windowsPlatform) Signal(pid int, _ syscall.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}

// KillTreeAtomic prefers the job object the runner attached the root to,
// then falls back to taskkill with force and tree flags.
func (p *windowsPlatform) KillTreeAtomic(pid int) error {
	if terminateJob(pid) {
		return nil
	}
	cmd := exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(pid))
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
	return cmd.Run()
}

func (p *windowsPlatform) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(handle)

	var exitCode uint32
	if err := windows.GetExitCodeProcess(handle, &exitCode); err != nil {
		return false
	}
	return exitCode == stillActive
}

// isNoSuchProcess returns true if the error indicates the process doesn't exist.
func isNoSuchProcess(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, windows.ERROR_INVALID_PARAMETER) || errors.Is(err, syscall.EINVAL) {
		return true
	}
	return errors.Is(err, os.ErrProcessDone) || os.IsNotExist(err)
}
