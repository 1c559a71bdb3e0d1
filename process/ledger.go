package process

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"syscall"
	"time"

	gproc "github.com/shirou/gopsutil/v4/process"
)

// createTimeSlack absorbs the clock-tick rounding of process start times.
const createTimeSlack = time.Second

// LedgerEntry is one run recorded for orphan cleanup.
type LedgerEntry struct {
	ID        string    `json:"id"`
	PID       int       `json:"pid"`
	Command   string    `json:"command"`
	Owner     int       `json:"owner"`
	StartedAt time.Time `json:"started_at"`
	// OwnerStartedAt is the owner's creation time, zero when unknown.
	OwnerStartedAt time.Time `json:"owner_started_at,omitzero"`
}

// ownerStartedAt is the current process's creation time.
var ownerStartedAt = sync.OnceValue(func() time.Time {
	ctx := context.Background()
	p, err := gproc.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return time.Time{}
	}
	ms, err := p.CreateTimeWithContext(ctx)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
})

type ledgerState struct {
	Runs      []LedgerEntry `json:"runs"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Ledger persists the root PIDs of in-flight runs so that trees left behind
// by a crashed owner can be reaped later. The file is shared between
// processes and guarded by an advisory lock next to it.
type Ledger struct {
	path string
	mu   sync.Mutex
}

// NewLedger returns a ledger stored at path. An empty path selects
// DefaultLedgerPath.
func NewLedger(path string) *Ledger {
	if path == "" {
		path = DefaultLedgerPath()
	}
	return &Ledger{path: path}
}

// DefaultLedgerPath returns the default ledger location.
func DefaultLedgerPath() string {
	if stateHome := os.Getenv("XDG_STATE_HOME"); stateHome != "" {
		return filepath.Join(stateHome, "treekill", "runs.json")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "state", "treekill", "runs.json")
	}
	return filepath.Join(os.TempDir(), "treekill-runs.json")
}

// Path returns the ledger file path.
func (l *Ledger) Path() string {
	return l.path
}

// Entries returns the recorded runs.
func (l *Ledger) Entries() ([]LedgerEntry, error) {
	var entries []LedgerEntry
	err := l.update(func(st *ledgerState) bool {
		entries = slices.Clone(st.Runs)
		return false
	})
	return entries, err
}

// Add records run as owned by the current process.
func (l *Ledger) Add(run *Run) error {
	entry := LedgerEntry{
		ID:        run.ID,
		PID:       run.Handle().PID,
		Command:   run.Command,
		Owner:     os.Getpid(),
		StartedAt: time.Now(),

		OwnerStartedAt: ownerStartedAt(),
	}
	return l.update(func(st *ledgerState) bool {
		st.Runs = slices.DeleteFunc(st.Runs, func(e LedgerEntry) bool { return e.ID == entry.ID })
		st.Runs = append(st.Runs, entry)
		return true
	})
}

// Remove forgets the run with the given ID.
func (l *Ledger) Remove(id string) error {
	return l.update(func(st *ledgerState) bool {
		before := len(st.Runs)
		st.Runs = slices.DeleteFunc(st.Runs, func(e LedgerEntry) bool { return e.ID == id })
		return len(st.Runs) != before
	})
}

// Reap kills the tree of every recorded run whose owner is gone and drops
// those entries. Entries whose root already exited, or whose PID now
// belongs to a newer process, are dropped without signaling. Runs owned by a
// live process are kept, unless the owner's PID was reused.
func (l *Ledger) Reap(term *Terminator, sig syscall.Signal) ([]LedgerEntry, error) {
	if term == nil {
		term = defaultTerminator
	}
	platform := term.Platform()

	var reaped []LedgerEntry
	err := l.update(func(st *ledgerState) bool {
		kept := st.Runs[:0]
		for _, e := range st.Runs {
			if ownerAlive(platform, e) {
				kept = append(kept, e)
				continue
			}
			if !platform.Alive(e.PID) || createdAfter(e.PID, e.StartedAt) {
				continue
			}
			term.KillTree(HandleFromPID(e.PID), sig)
			reaped = append(reaped, e)
		}
		changed := len(kept) != len(st.Runs)
		st.Runs = kept
		return changed
	})
	return reaped, err
}

// ownerAlive reports whether the process that recorded e is still running.
func ownerAlive(platform Platform, e LedgerEntry) bool {
	if e.Owner <= 0 || !platform.Alive(e.Owner) {
		return false
	}
	return e.OwnerStartedAt.IsZero() || !createdAfter(e.Owner, e.OwnerStartedAt)
}

// createdAfter reports whether pid now names a process created after t, or
// no process at all.
func createdAfter(pid int, t time.Time) bool {
	ctx := context.Background()
	p, err := gproc.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return true
	}
	ms, err := p.CreateTimeWithContext(ctx)
	if err != nil {
		return false
	}
	return time.UnixMilli(ms).After(t.Add(createTimeSlack))
}

// update loads the ledger under both locks, applies fn, and saves when fn
// reports a change.
func (l *Ledger) update(fn func(*ledgerState) bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}
	lock, err := os.OpenFile(l.path+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open ledger lock: %w", err)
	}
	defer lock.Close()
	if err := lockFile(lock); err != nil {
		return fmt.Errorf("lock ledger: %w", err)
	}
	defer func() { _ = unlockFile(lock) }()

	st, err := l.load()
	if err != nil {
		return err
	}
	if !fn(&st) {
		return nil
	}
	return l.save(st)
}

func (l *Ledger) load() (ledgerState, error) {
	var st ledgerState
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("read ledger: %w", err)
	}
	if len(data) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("decode ledger %s: %w", l.path, err)
	}
	return st, nil
}

// save writes atomically via a temp file.
func (l *Ledger) save(st ledgerState) error {
	st.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}
