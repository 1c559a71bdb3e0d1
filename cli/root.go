// Package cli implements the treekill command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/standardbeagle/go-treekill/config"
	"github.com/standardbeagle/go-treekill/process"
)

// ExitCodeError carries the process exit status out of a command. A nil Err
// exits silently.
type ExitCodeError struct {
	Code int
	Err  error
}

func (e *ExitCodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitCodeError) Unwrap() error {
	return e.Err
}

// app is the state shared by every subcommand once the root has loaded
// configuration.
type app struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg    *config.Config
	log    *slog.Logger
	stdout io.Writer
	stderr io.Writer
	// logTarget is the unwrapped stderr, used for terminal detection.
	logTarget io.Writer
}

// NewRootCmd returns the treekill root command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *app) {
	a := &app{}

	root := &cobra.Command{
		Use:   "treekill",
		Short: "Terminate process trees and run supervised commands",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to config file (default: $XDG_CONFIG_HOME/treekill/config.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "Log format: text, json, auto")

	root.AddCommand(newRunCmd(a))
	root.AddCommand(newKillCmd(a))
	root.AddCommand(newTreeCmd(a))
	root.AddCommand(newReapCmd(a))
	root.AddCommand(newConfigCmd(a))
	root.AddCommand(newVersionCmd())

	root.SilenceUsage = true
	root.SilenceErrors = true

	return root, a
}

// setup loads configuration, applies flag overrides and builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.SetLogLevel(a.logLevel)
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.cfg = cfg
	a.stdout = &lockedWriter{w: cmd.OutOrStdout()}
	a.stderr = &lockedWriter{w: cmd.ErrOrStderr()}
	a.logTarget = cmd.ErrOrStderr()
	a.log, err = newLogger(a.stderr, a.logTarget, cfg.Log.Level, cfg.Log.Format)
	return err
}

// terminator builds a Terminator around the configured child lister.
func (a *app) terminator() (*process.Terminator, error) {
	lister, err := process.NewChildLister(a.cfg.Lister)
	if err != nil {
		return nil, err
	}
	return process.NewTerminator(
		process.WithPlatform(process.NewPlatform(lister)),
		process.WithLogger(a.log),
	), nil
}

// ledger returns the configured run ledger, or nil when it is disabled.
func (a *app) ledger() *process.Ledger {
	if !a.cfg.LedgerEnabled() {
		return nil
	}
	return process.NewLedger(a.cfg.Ledger)
}

// Execute runs the CLI entrypoint.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, NewRootCmd(), os.Stderr))
}

// run executes root and maps its error to an exit status.
func run(ctx context.Context, root *cobra.Command, stderr io.Writer) int {
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var exitErr *ExitCodeError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintln(stderr, "treekill:", exitErr.Err)
		}
		return exitErr.Code
	}
	fmt.Fprintln(stderr, "treekill:", err)
	return 1
}

// lockedWriter serializes writes from the stream goroutines and the logger.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
