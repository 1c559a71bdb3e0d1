//go:build !windows

package process

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// DefaultShell returns the argv prefix used to interpret commands.
func DefaultShell() []string {
	return []string{"/bin/sh", "-c"}
}

func shellCommand(shell []string, command string) *exec.Cmd {
	if len(shell) == 0 {
		shell = DefaultShell()
	}
	args := append(append([]string{}, shell[1:]...), command)
	return exec.Command(shell[0], args...)
}

// ParseSignal accepts "TERM", "SIGTERM", "sigterm" or a number.
func ParseSignal(name string) (syscall.Signal, error) {
	if sig, ok := parseSignalNumber(name); ok {
		return sig, nil
	}
	if sig := unix.SignalNum(canonicalSignalName(name)); sig != 0 {
		return sig, nil
	}
	return 0, unknownSignal(name)
}

// SignalName returns the conventional name of sig, e.g. "SIGTERM".
func SignalName(sig syscall.Signal) string {
	if name := unix.SignalName(sig); name != "" {
		return name
	}
	return sig.String()
}
