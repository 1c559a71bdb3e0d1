package process

import (
	"fmt"
	"strconv"
	"strings"
	"syscall"
)

// DefaultSignal is the graceful termination request used when none is given.
const DefaultSignal = syscall.SIGTERM

func parseSignalNumber(name string) (syscall.Signal, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(name))
	if err != nil || n <= 0 {
		return 0, false
	}
	return syscall.Signal(n), true
}

func canonicalSignalName(name string) string {
	name = strings.ToUpper(strings.TrimSpace(name))
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	return name
}

func unknownSignal(name string) error {
	return fmt.Errorf("unknown signal %q", name)
}
