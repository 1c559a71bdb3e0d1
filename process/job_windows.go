//go:build windows

package process

import (
	"os/exec"
	"sync"
	"syscall"

	"golang.org/x/sys/windows"
)

// jobs maps a root PID to the job object holding its tree.
var jobs sync.Map

// setProcAttr gives the shell its own process group so console control
// events aimed at the parent do not reach it.
func setProcAttr(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.CreationFlags |= syscall.CREATE_NEW_PROCESS_GROUP
}

// attachJob places a started command into a fresh job object. Descendants
// created afterwards inherit the job, so TerminateJobObject reaches the whole tree.
// The job has no kill-on-close limit: releasing it leaves survivors alone.
func attachJob(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}

	job, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return err
	}

	handle, err := windows.OpenProcess(
		windows.PROCESS_SET_QUOTA|windows.PROCESS_TERMINATE,
		false,
		uint32(cmd.Process.Pid),
	)
	if err != nil {
		windows.CloseHandle(job)
		return err
	}
	defer windows.CloseHandle(handle)

	if err := windows.AssignProcessToJobObject(job, handle); err != nil {
		windows.CloseHandle(job)
		return err
	}

	jobs.Store(cmd.Process.Pid, job)
	return nil
}

// releaseJob closes the job registered for pid.
func releaseJob(pid int) {
	if val, ok := jobs.LoadAndDelete(pid); ok {
		windows.CloseHandle(val.(windows.Handle))
	}
}

// terminateJob kills every process in pid's job. It reports false when no
// job is registered or termination failed.
func terminateJob(pid int) bool {
	val, ok := jobs.Load(pid)
	if !ok {
		return false
	}
	return windows.TerminateJobObject(val.(windows.Handle), 1) == nil
}
