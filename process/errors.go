package process

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSpawn is returned when the OS could not create the process.
	ErrSpawn = errors.New("spawn failed")
	// ErrAtomicUnsupported is returned by platforms without a whole-tree kill facility.
	ErrAtomicUnsupported = errors.New("atomic tree kill not supported")
	// ErrUnknownLister is returned for an unrecognized child lister name.
	ErrUnknownLister = errors.New("unknown child lister")
	// ErrProcessNotFound is returned when an inspected process is not running.
	ErrProcessNotFound = errors.New("process not found")
	// ErrRunNotFound is returned when a run ID is not registered.
	ErrRunNotFound = errors.New("run not found")
	// ErrShuttingDown is returned when the registry is shutting down.
	ErrShuttingDown = errors.New("registry is shutting down")
)

// ExitError reports a command that ran but did not exit cleanly.
type ExitError struct {
	Command  string
	ExitCode int
	// Signal is the name of the terminating signal, empty for a normal exit.
	Signal string
	// Stderr is the captured standard error text.
	Stderr string
}

func (e *ExitError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "command %q ", e.Command)
	if e.Signal != "" {
		fmt.Fprintf(&b, "killed by %s", e.Signal)
	} else {
		fmt.Fprintf(&b, "exited with status %d", e.ExitCode)
	}
	if msg := strings.TrimSpace(e.Stderr); msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	return b.String()
}
