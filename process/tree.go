package process

import (
	"errors"
	"io"
	"log/slog"
	"syscall"
)

// Terminator kills process trees. The zero value is not usable; use NewTerminator.
type Terminator struct {
	platform Platform
	log      *slog.Logger
}

// TerminatorOption configures a Terminator.
type TerminatorOption func(*Terminator)

// WithPlatform replaces the OS capability, typically with a fake in tests.
func WithPlatform(p Platform) TerminatorOption {
	return func(t *Terminator) {
		if p != nil {
			t.platform = p
		}
	}
}

// WithLogger sets the logger for debug records about signals and lookups.
func WithLogger(log *slog.Logger) TerminatorOption {
	return func(t *Terminator) {
		if log != nil {
			t.log = log
		}
	}
}

// NewTerminator returns a Terminator for the native platform unless overridden.
func NewTerminator(opts ...TerminatorOption) *Terminator {
	t := &Terminator{}
	for _, opt := range opts {
		opt(t)
	}
	if t.platform == nil {
		t.platform = DefaultPlatform()
	}
	if t.log == nil {
		t.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return t
}

var defaultTerminator = NewTerminator()

// KillTree terminates h and its descendants with the default Terminator.
func KillTree(h Handle, sig syscall.Signal) {
	defaultTerminator.KillTree(h, sig)
}

// Platform returns the capability the Terminator uses.
func (t *Terminator) Platform() Platform {
	return t.platform
}

// KillTree terminates h's process and every transitive descendant, children
// before parents. A zero sig means DefaultSignal. It never fails: a missing
// PID, an exited process, or a failed lookup all end the call silently.
func (t *Terminator) KillTree(h Handle, sig syscall.Signal) {
	if !h.Valid() {
		return
	}
	if sig == 0 {
		sig = DefaultSignal
	}

	err := t.platform.KillTreeAtomic(h.PID)
	if !errors.Is(err, ErrAtomicUnsupported) {
		if err != nil {
			t.log.Debug("tree kill failed", "pid", h.PID, "err", err)
		}
		return
	}

	t.killPID(h.PID, sig, map[int]bool{h.PID: true})
}

// killPID recurses into each child subtree, then signals pid itself. PIDs
// already in seen are skipped so a cyclic listing terminates.
func (t *Terminator) killPID(pid int, sig syscall.Signal, seen map[int]bool) {
	children, err := t.platform.Children(pid)
	if err != nil {
		t.log.Debug("list children failed", "pid", pid, "err", err)
	}
	for _, child := range children {
		if child <= 0 || seen[child] {
			continue
		}
		seen[child] = true
		t.killPID(child, sig, seen)
	}

	if err := t.platform.Signal(pid, sig); err != nil {
		if isNoSuchProcess(err) {
			t.log.Debug("process already exited", "pid", pid)
			return
		}
		t.log.Debug("signal failed", "pid", pid, "signal", SignalName(sig), "err", err)
		return
	}
	t.log.Debug("signaled", "pid", pid, "signal", SignalName(sig))
}

// Snapshot returns pid's descendants in post-order, leaves first. It is
// stale as soon as it returns.
func (t *Terminator) Snapshot(pid int) []int {
	if pid <= 0 {
		return nil
	}
	var out []int
	seen := map[int]bool{pid: true}
	var walk func(int)
	walk = func(p int) {
		children, _ := t.platform.Children(p)
		for _, c := range children {
			if c <= 0 || seen[c] {
				continue
			}
			seen[c] = true
			walk(c)
			out = append(out, c)
		}
	}
	walk(pid)
	return out
}
