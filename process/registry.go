package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// DefaultGracePeriod is how long StopRun waits after SIGTERM before forcing.
const DefaultGracePeriod = 5 * time.Second

// forcedWait bounds the wait for a run to settle after SIGKILL.
const forcedWait = 2 * time.Second

// RegistryConfig holds configuration for a Registry.
type RegistryConfig struct {
	Terminator  *Terminator
	GracePeriod time.Duration
	Logger      *slog.Logger
	// Ledger, when set, records every tracked run for later orphan cleanup.
	Ledger *Ledger
}

// Registry tracks in-flight runs so an embedding tool can cancel them,
// one at a time or all at once on shutdown. It never restarts anything.
type Registry struct {
	runs sync.Map // ID -> *Run

	activeCount  atomic.Int64
	totalStarted atomic.Int64
	totalFailed  atomic.Int64

	terminator *Terminator
	grace      time.Duration
	log        *slog.Logger
	ledger     *Ledger

	// startMu orders Start against Shutdown: a run is either refused or
	// tracked before Shutdown collects the runs to stop.
	startMu      sync.Mutex
	shutdownOnce sync.Once
	shuttingDown atomic.Bool
	wg           sync.WaitGroup
}

// NewRegistry creates a Registry with the given configuration.
func NewRegistry(cfg RegistryConfig) *Registry {
	reg := &Registry{
		terminator: cfg.Terminator,
		grace:      cfg.GracePeriod,
		log:        cfg.Logger,
		ledger:     cfg.Ledger,
	}
	if reg.terminator == nil {
		reg.terminator = defaultTerminator
	}
	if reg.grace <= 0 {
		reg.grace = DefaultGracePeriod
	}
	if reg.log == nil {
		reg.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return reg
}

// Start launches command and tracks it until it settles.
func (reg *Registry) Start(command string, opts Options) (*Run, error) {
	if opts.Terminator == nil {
		opts.Terminator = reg.terminator
	}

	reg.startMu.Lock()
	if reg.shuttingDown.Load() {
		reg.startMu.Unlock()
		return nil, ErrShuttingDown
	}

	run := Start(command, opts)
	reg.totalStarted.Add(1)

	if run.State() == StateSpawnFailed {
		reg.startMu.Unlock()
		reg.totalFailed.Add(1)
		return run, nil
	}

	reg.runs.Store(run.ID, run)
	reg.activeCount.Add(1)
	reg.wg.Add(1)
	reg.startMu.Unlock()

	reg.log.Debug("run started", "id", run.ID, "pid", run.Handle().PID, "command", command)
	if reg.ledger != nil {
		if err := reg.ledger.Add(run); err != nil {
			reg.log.Warn("record run in ledger", "id", run.ID, "error", err)
		}
	}

	go reg.untrack(run)

	return run, nil
}

func (reg *Registry) untrack(run *Run) {
	defer reg.wg.Done()
	<-run.Done()

	if run.State() != StateExitedOK {
		reg.totalFailed.Add(1)
	}
	if _, loaded := reg.runs.LoadAndDelete(run.ID); loaded {
		reg.activeCount.Add(-1)
	}
	if reg.ledger != nil {
		if err := reg.ledger.Remove(run.ID); err != nil {
			reg.log.Warn("remove run from ledger", "id", run.ID, "error", err)
		}
	}
	reg.log.Debug("run settled", "id", run.ID, "state", run.State().String())
}

// Get retrieves a tracked run by ID.
func (reg *Registry) Get(id string) (*Run, error) {
	val, ok := reg.runs.Load(id)
	if !ok {
		return nil, ErrRunNotFound
	}
	return val.(*Run), nil
}

// List returns all tracked runs.
func (reg *Registry) List() []*Run {
	var result []*Run
	reg.runs.Range(func(_, value any) bool {
		result = append(result, value.(*Run))
		return true
	})
	return result
}

// ActiveCount returns the number of runs that have not settled.
func (reg *Registry) ActiveCount() int64 {
	return reg.activeCount.Load()
}

// TotalStarted returns the number of runs ever started.
func (reg *Registry) TotalStarted() int64 {
	return reg.totalStarted.Load()
}

// TotalFailed returns the number of runs that did not exit with status 0.
func (reg *Registry) TotalFailed() int64 {
	return reg.totalFailed.Load()
}

// IsShuttingDown reports whether Shutdown has been called.
func (reg *Registry) IsShuttingDown() bool {
	return reg.shuttingDown.Load()
}

// Stop stops the run with the given ID.
func (reg *Registry) Stop(ctx context.Context, id string) error {
	run, err := reg.Get(id)
	if err != nil {
		return err
	}
	return reg.StopRun(ctx, run)
}

// StopRun sends SIGTERM to the run's tree and waits up to the grace period.
// If the run has not settled by then, or ctx ends first, the tree is killed
// with SIGKILL along with any descendant seen before the first signal that
// is still alive.
func (reg *Registry) StopRun(ctx context.Context, run *Run) error {
	select {
	case <-run.Done():
		return nil
	default:
	}

	h := run.Handle()
	snapshot := reg.terminator.Snapshot(h.PID)
	reg.terminator.KillTree(h, syscall.SIGTERM)

	timer := time.NewTimer(reg.grace)
	defer timer.Stop()

	select {
	case <-run.Done():
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	reg.forceKill(h, snapshot)

	select {
	case <-run.Done():
		return nil
	case <-time.After(forcedWait):
		return fmt.Errorf("run %s (%s) still running after SIGKILL", run.ID, h)
	}
}

// forceKill kills the current tree, then anything from the earlier snapshot
// that outlived its parent.
func (reg *Registry) forceKill(h Handle, snapshot []int) {
	reg.log.Debug("escalating to SIGKILL", "pid", h.PID, "descendants", len(snapshot))
	reg.terminator.KillTree(h, syscall.SIGKILL)

	platform := reg.terminator.Platform()
	for _, pid := range snapshot {
		if platform.Alive(pid) {
			_ = platform.Signal(pid, syscall.SIGKILL)
		}
	}
}

// Shutdown stops every tracked run concurrently and refuses new ones.
func (reg *Registry) Shutdown(ctx context.Context) error {
	var shutdownErr error

	reg.shutdownOnce.Do(func() {
		reg.startMu.Lock()
		reg.shuttingDown.Store(true)
		reg.startMu.Unlock()

		var stopWg sync.WaitGroup
		var errMu sync.Mutex
		var errs []error

		for _, run := range reg.List() {
			stopWg.Add(1)
			go func(r *Run) {
				defer stopWg.Done()
				if err := reg.StopRun(ctx, r); err != nil {
					errMu.Lock()
					errs = append(errs, err)
					errMu.Unlock()
				}
			}(run)
		}
		stopWg.Wait()

		done := make(chan struct{})
		go func() {
			reg.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}

		shutdownErr = errors.Join(errs...)
	})

	return shutdownErr
}
