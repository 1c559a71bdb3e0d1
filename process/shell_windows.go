//go:build windows

package process

import (
	"os"
	"os/exec"
	"strings"
	"syscall"
)

// DefaultShell returns the argv prefix used to interpret commands.
func DefaultShell() []string {
	comspec := os.Getenv("ComSpec")
	if comspec == "" {
		comspec = "cmd.exe"
	}
	return []string{comspec, "/d", "/s", "/c"}
}

// shellCommand passes the command line verbatim; cmd.exe does its own
// quote parsing and Go's argv escaping would break it.
func shellCommand(shell []string, command string) *exec.Cmd {
	if len(shell) == 0 {
		shell = DefaultShell()
	}
	cmd := exec.Command(shell[0])
	line := append(append([]string{}, shell...), `"`+command+`"`)
	cmd.SysProcAttr = &syscall.SysProcAttr{CmdLine: strings.Join(line, " ")}
	return cmd
}

var windowsSignals = map[string]syscall.Signal{
	"SIGINT":  syscall.SIGINT,
	"SIGTERM": syscall.SIGTERM,
	"SIGKILL": syscall.SIGKILL,
}

// ParseSignal accepts "TERM", "SIGTERM", "sigterm" or a number. Windows only
// knows INT, TERM and KILL, and all of them terminate.
func ParseSignal(name string) (syscall.Signal, error) {
	if sig, ok := parseSignalNumber(name); ok {
		return sig, nil
	}
	if sig, ok := windowsSignals[canonicalSignalName(name)]; ok {
		return sig, nil
	}
	return 0, unknownSignal(name)
}

// SignalName returns the conventional name of sig, e.g. "SIGTERM".
func SignalName(sig syscall.Signal) string {
	for name, s := range windowsSignals {
		if s == sig {
			return name
		}
	}
	return sig.String()
}
