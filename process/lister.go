package process

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	gproc "github.com/shirou/gopsutil/v4/process"
)

// Lister names accepted by NewChildLister.
const (
	ListerPsutil = "psutil"
	ListerPgrep  = "pgrep"
)

// listTimeout bounds a single process-table query.
const listTimeout = 5 * time.Second

// ChildLister answers "what are the direct children of pid".
type ChildLister interface {
	ListChildren(ctx context.Context, pid int) ([]int, error)
}

// NewChildLister returns the lister registered under name.
// An empty name selects the gopsutil lister.
func NewChildLister(name string) (ChildLister, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", ListerPsutil:
		return PsutilLister{}, nil
	case ListerPgrep:
		return PgrepLister{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownLister, name)
	}
}

// PsutilLister reads the process table through gopsutil.
type PsutilLister struct{}

// ListChildren returns pid's direct children. A pid that is not running has
// none.
func (PsutilLister) ListChildren(ctx context.Context, pid int) ([]int, error) {
	p, err := gproc.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, gproc.ErrorProcessNotRunning) {
			return nil, nil
		}
		return nil, err
	}
	children, err := p.ChildrenWithContext(ctx)
	if err != nil {
		if errors.Is(err, gproc.ErrorNoChildren) || errors.Is(err, gproc.ErrorProcessNotRunning) {
			return nil, nil
		}
		return nil, err
	}
	pids := make([]int, 0, len(children))
	for _, c := range children {
		pids = append(pids, int(c.Pid))
	}
	return pids, nil
}

// PgrepLister shells out to `pgrep -P pid`.
type PgrepLister struct{}

// ListChildren returns the PIDs pgrep reports as pid's children.
func (PgrepLister) ListChildren(ctx context.Context, pid int) ([]int, error) {
	out, err := exec.CommandContext(ctx, "pgrep", "-P", strconv.Itoa(pid)).Output()
	if err != nil {
		// pgrep exits 1 when nothing matched.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		return nil, fmt.Errorf("pgrep -P %d: %w", pid, err)
	}
	return parsePIDLines(string(out)), nil
}

// parsePIDLines parses one PID per line, skipping anything that is not a positive integer.
func parsePIDLines(output string) []int {
	output = strings.TrimSpace(output)
	if output == "" {
		return nil
	}

	var pids []int
	for _, line := range strings.Split(output, "\n") {
		pid, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil || pid <= 0 {
			continue
		}
		pids = append(pids, pid)
	}
	return pids
}

func listChildren(l ChildLister, pid int) ([]int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), listTimeout)
	defer cancel()
	return l.ListChildren(ctx, pid)
}
