package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/standardbeagle/go-treekill/process"
)

const pollInterval = 50 * time.Millisecond

func newKillCmd(a *app) *cobra.Command {
	var (
		signalName string
		wait       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "kill <pid>",
		Short: "Signal a process and all of its descendants, children first",
		Long: `Signal a process and every descendant it spawned, leaves first.

With --wait, treekill polls the root and the descendants it saw before
signaling, and exits 1 listing any that are still alive once the wait ends.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := parsePID(args[0])
			if err != nil {
				return err
			}
			sig, err := process.ParseSignal(signalName)
			if err != nil {
				return err
			}
			return a.killTree(cmd.Context(), pid, sig, wait)
		},
	}

	cmd.Flags().StringVarP(&signalName, "signal", "s", "TERM", "Signal name or number")
	cmd.Flags().DurationVar(&wait, "wait", 0, "Wait this long for the tree to exit")

	return cmd
}

func (a *app) killTree(ctx context.Context, pid int, sig syscall.Signal, wait time.Duration) error {
	term, err := a.terminator()
	if err != nil {
		return err
	}

	var tracked []int
	if wait > 0 {
		tracked = append(term.Snapshot(pid), pid)
	}

	term.KillTree(process.HandleFromPID(pid), sig)
	a.log.Info("signaled process tree", "pid", pid, "signal", process.SignalName(sig))

	if wait <= 0 {
		return nil
	}

	survivors := awaitExit(ctx, term.Platform(), tracked, wait)
	if len(survivors) == 0 {
		return nil
	}
	ids := make([]string, len(survivors))
	for i, p := range survivors {
		ids[i] = strconv.Itoa(p)
	}
	return &ExitCodeError{Code: 1, Err: fmt.Errorf("still alive after %s: %s", wait, strings.Join(ids, " "))}
}

// awaitExit polls pids until all are gone, wait elapses or ctx ends, and
// returns the ones still alive.
func awaitExit(ctx context.Context, platform process.Platform, pids []int, wait time.Duration) []int {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		var alive []int
		for _, p := range pids {
			if platform.Alive(p) {
				alive = append(alive, p)
			}
		}
		if len(alive) == 0 {
			return nil
		}
		pids = alive

		select {
		case <-ticker.C:
		case <-deadline.C:
			return alive
		case <-ctx.Done():
			return alive
		}
	}
}

func parsePID(s string) (int, error) {
	pid, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid %q", s)
	}
	return pid, nil
}
