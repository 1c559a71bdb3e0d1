package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/standardbeagle/go-treekill/process"
)

// ExitTimeout is the status of a run stopped by --timeout.
const ExitTimeout = 124

// stopBudget bounds the final cleanup once the run has been stopped.
const stopBudget = 10 * time.Second

type runOptions struct {
	dir     string
	timeout time.Duration
	grace   time.Duration
	useLog  bool
	shell   []string
}

func newRunCmd(a *app) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run [flags] -- <command...>",
		Short: "Run a shell command and kill its whole tree on interrupt or timeout",
		Long: `Run a command through the shell, forwarding its output as it arrives.

On SIGINT, SIGTERM or --timeout the command's process tree receives SIGTERM,
then SIGKILL once the grace period expires. The exit status mirrors the
command's, or is 124 after a timeout.

With --log, stdout chunks are logged at debug level and stderr chunks at
error level instead of being written through. Unless a log level is set
explicitly, command output is logged at debug level regardless of the
default.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("timeout") {
				opts.timeout = a.cfg.Timeout.Duration
			}
			if !cmd.Flags().Changed("grace") {
				opts.grace = a.cfg.GracePeriod.Duration
			}
			if !cmd.Flags().Changed("shell") {
				opts.shell = a.cfg.Shell
			}
			return a.runCommand(cmd.Context(), strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVar(&opts.dir, "dir", "", "Working directory for the command")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Stop the command after this long (0 disables)")
	cmd.Flags().DurationVar(&opts.grace, "grace", 0, "Wait between SIGTERM and SIGKILL when stopping")
	cmd.Flags().BoolVar(&opts.useLog, "log", false, "Route output through the logger instead of passing it through")
	cmd.Flags().StringSliceVar(&opts.shell, "shell", nil, "Shell argv prefix, comma separated (e.g. /bin/bash,-c)")
	// Everything after the first argument belongs to the command.
	cmd.Flags().SetInterspersed(false)

	return cmd
}

func (a *app) runCommand(ctx context.Context, command string, opts runOptions) error {
	term, err := a.terminator()
	if err != nil {
		return err
	}
	reg := process.NewRegistry(process.RegistryConfig{
		Terminator:  term,
		GracePeriod: opts.grace,
		Logger:      a.log,
		Ledger:      a.ledger(),
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), stopBudget)
		defer cancel()
		if err := reg.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("shutdown", "error", err)
		}
	}()

	runOpts := process.Options{
		Dir:        opts.dir,
		Shell:      opts.shell,
		MaxOutput:  a.cfg.MaxOutput,
		Stdout:     a.stdout,
		Stderr:     a.stderr,
		Terminator: term,
	}
	if opts.useLog {
		runOpts.Log, err = a.outputLogger()
		if err != nil {
			return err
		}
	}

	run, err := reg.Start(command, runOpts)
	if err != nil {
		return err
	}
	a.log.Debug("started", "id", run.ID, "pid", run.Handle().PID, "command", command)

	var timeout <-chan time.Time
	if opts.timeout > 0 {
		timer := time.NewTimer(opts.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	timedOut := false
	select {
	case <-run.Done():
	case <-ctx.Done():
		a.log.Info("interrupted, stopping process tree", "pid", run.Handle().PID)
		a.stop(reg, run)
	case <-timeout:
		timedOut = true
		a.log.Warn("timed out, stopping process tree", "pid", run.Handle().PID, "timeout", opts.timeout)
		a.stop(reg, run)
	}

	res, err := run.Wait()
	a.log.Debug("finished", "id", run.ID, "state", run.State().String(),
		"exit_code", res.ExitCode, "signal", res.Signal, "duration", res.Duration)

	if timedOut {
		return &ExitCodeError{Code: ExitTimeout, Err: fmt.Errorf("command timed out after %s", opts.timeout)}
	}
	return exitStatus(err)
}

// outputLogger is the sink for --log. Stdout chunks are debug records, so
// unless a level was chosen explicitly the sink logs at debug level.
func (a *app) outputLogger() (*slog.Logger, error) {
	if a.cfg.LogLevelSet() {
		return a.log, nil
	}
	return newLogger(a.stderr, a.logTarget, "debug", a.cfg.Log.Format)
}

func (a *app) stop(reg *process.Registry, run *process.Run) {
	ctx, cancel := context.WithTimeout(context.Background(), stopBudget)
	defer cancel()
	if err := reg.StopRun(ctx, run); err != nil {
		a.log.Error("stop process tree", "pid", run.Handle().PID, "error", err)
	}
}

// exitStatus mirrors the child's status. A signaled child maps to 128+n as
// shells report it.
func exitStatus(err error) error {
	if err == nil {
		return nil
	}

	var exitErr *process.ExitError
	if !errors.As(err, &exitErr) {
		return &ExitCodeError{Code: 1, Err: err}
	}
	if exitErr.Signal != "" {
		if sig, perr := process.ParseSignal(exitErr.Signal); perr == nil {
			return &ExitCodeError{Code: 128 + int(sig)}
		}
		return &ExitCodeError{Code: 1}
	}
	if exitErr.ExitCode > 0 {
		return &ExitCodeError{Code: exitErr.ExitCode}
	}
	return &ExitCodeError{Code: 1}
}
