package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// RunState represents the lifecycle state of a Run.
type RunState uint32

const (
	// StateNotStarted is the initial state before the process is spawned.
	StateNotStarted RunState = iota
	// StateRunning indicates the process exists and has not exited.
	StateRunning
	// StateExitedOK indicates the process exited with status 0.
	StateExitedOK
	// StateExitedError indicates a non-zero exit or a terminating signal.
	StateExitedError
	// StateSpawnFailed indicates the OS could not create the process.
	StateSpawnFailed
)

// String returns a human-readable state name.
func (s RunState) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateExitedOK:
		return "exited_ok"
	case StateExitedError:
		return "exited_error"
	case StateSpawnFailed:
		return "spawn_failed"
	default:
		return "unknown"
	}
}

// Settled reports whether s is terminal.
func (s RunState) Settled() bool {
	return s == StateExitedOK || s == StateExitedError || s == StateSpawnFailed
}

// Logger receives output chunks. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures a Run.
type Options struct {
	// Dir is the working directory. Empty means the caller's directory.
	Dir string

	// Env is the child environment (KEY=VALUE). Nil inherits the parent's.
	Env []string

	// Shell is the argv prefix the command is appended to. Empty selects
	// DefaultShell.
	Shell []string

	// Log receives stdout chunks on Debug and stderr chunks on Error. When
	// nil, chunks are written through to Stdout and Stderr instead.
	Log Logger

	// Stdout and Stderr are the pass-through targets used when Log is nil.
	// They default to os.Stdout and os.Stderr.
	Stdout io.Writer
	Stderr io.Writer

	// OnStart is called once, synchronously, as soon as the process exists
	// and before the Run can settle. It is not called when spawning fails.
	OnStart func(Handle)

	// MaxOutput bounds the bytes captured per stream; the tail is kept.
	// Zero or less selects DefaultMaxOutput.
	MaxOutput int

	// Terminator is used by Run.Kill. Nil selects the package default.
	Terminator *Terminator
}

// Result is the terminal value of a Run.
type Result struct {
	Stdout string
	Stderr string
	// ExitCode is -1 when the process was killed by a signal or never started.
	ExitCode  int
	Signal    string
	Truncated bool
	Duration  time.Duration
}

// Run is a single supervised command. It settles exactly once.
type Run struct {
	// ID is a unique identifier for this run.
	ID string

	// Command is the shell command line.
	Command string

	state      atomic.Uint32
	handle     Handle
	terminator *Terminator
	startTime  time.Time

	done   chan struct{}
	result Result
	err    error
}

// Start spawns command through the shell and returns its Run immediately.
// Spawn failures are reported by Wait, never by Start.
func Start(command string, opts Options) *Run {
	r := &Run{
		ID:         uuid.NewString(),
		Command:    command,
		terminator: opts.Terminator,
		done:       make(chan struct{}),
	}
	if r.terminator == nil {
		r.terminator = defaultTerminator
	}
	r.start(opts)
	return r
}

// Exec runs command to completion.
func Exec(command string, opts Options) (Result, error) {
	return Start(command, opts).Wait()
}

// Executable binds command, log and opts into a function that runs the
// command and returns its standard output.
func Executable(command string, log Logger, opts Options) func() (string, error) {
	opts.Log = log
	return func() (string, error) {
		res, err := Exec(command, opts)
		return res.Stdout, err
	}
}

func (r *Run) start(opts Options) {
	cmd := shellCommand(opts.Shell, r.Command)
	cmd.Dir = opts.Dir
	cmd.Env = opts.Env
	setProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		r.spawnFailed(err)
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		r.spawnFailed(err)
		return
	}

	r.startTime = time.Now()
	if err := cmd.Start(); err != nil {
		r.spawnFailed(err)
		return
	}

	// Non-fatal: without a job the platform falls back to taskkill.
	_ = attachJob(cmd)

	r.handle = HandleFromCmd(cmd)
	r.state.Store(uint32(StateRunning))

	outCap := newTailBuffer(opts.MaxOutput)
	errCap := newTailBuffer(opts.MaxOutput)
	emitOut, emitErr := sinks(opts)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		forward(chunks(stdout), outCap, emitOut)
	}()
	go func() {
		defer wg.Done()
		forward(chunks(stderr), errCap, emitErr)
	}()

	if opts.OnStart != nil {
		opts.OnStart(r.handle)
	}

	go r.wait(cmd, &wg, outCap, errCap)
}

// wait joins both stream readers before reaping, since Wait closes the pipes.
func (r *Run) wait(cmd *exec.Cmd, streams *sync.WaitGroup, outCap, errCap *tailBuffer) {
	streams.Wait()
	waitErr := cmd.Wait()
	releaseJob(r.handle.PID)

	res := Result{
		Stdout:    outCap.String(),
		Stderr:    errCap.String(),
		Truncated: outCap.Truncated() || errCap.Truncated(),
		Duration:  time.Since(r.startTime),
	}

	if waitErr == nil {
		r.settle(StateExitedOK, res, nil)
		return
	}

	var exitErr *exec.ExitError
	if !errors.As(waitErr, &exitErr) {
		res.ExitCode = -1
		r.settle(StateExitedError, res, fmt.Errorf("wait for %q: %w", r.Command, waitErr))
		return
	}

	res.ExitCode = exitErr.ExitCode()
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		res.Signal = SignalName(ws.Signal())
	}
	r.settle(StateExitedError, res, &ExitError{
		Command:  r.Command,
		ExitCode: res.ExitCode,
		Signal:   res.Signal,
		Stderr:   res.Stderr,
	})
}

func (r *Run) spawnFailed(err error) {
	r.settle(StateSpawnFailed, Result{ExitCode: -1}, fmt.Errorf("%w: %q: %w", ErrSpawn, r.Command, err))
}

func (r *Run) settle(state RunState, res Result, err error) {
	r.result = res
	r.err = err
	r.state.Store(uint32(state))
	close(r.done)
}

// State returns the current run state.
func (r *Run) State() RunState {
	return RunState(r.state.Load())
}

// Handle returns the process handle. It is absent if spawning failed.
func (r *Run) Handle() Handle {
	return r.handle
}

// Done returns a channel that is closed when the run settles.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run settles. The error is nil only for exit status 0;
// otherwise it wraps ErrSpawn or is an *ExitError carrying the captured stderr.
func (r *Run) Wait() (Result, error) {
	<-r.done
	return r.result, r.err
}

// WaitContext is Wait bounded by ctx. Giving up does not stop the process;
// call Kill for that.
func (r *Run) WaitContext(ctx context.Context) (Result, error) {
	select {
	case <-r.done:
		return r.result, r.err
	case <-ctx.Done():
		return Result{ExitCode: -1}, ctx.Err()
	}
}

// Kill terminates the run's process tree. It is a no-op once the run has
// settled or if it never started.
func (r *Run) Kill(sig syscall.Signal) {
	select {
	case <-r.done:
		return
	default:
	}
	r.terminator.KillTree(r.handle, sig)
}
