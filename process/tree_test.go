package process

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"syscall"
	"testing"
)

// fakePlatform is an in-memory process table.
type fakePlatform struct {
	mu        sync.Mutex
	children  map[int][]int
	alive     map[int]bool
	listErr   map[int]error
	atomic    bool
	atomicErr error

	calls    []string
	signaled []int
	signals  []syscall.Signal
}

func newFakePlatform(children map[int][]int) *fakePlatform {
	f := &fakePlatform{
		children: children,
		alive:    map[int]bool{},
		listErr:  map[int]error{},
	}
	for parent, kids := range children {
		f.alive[parent] = true
		for _, k := range kids {
			f.alive[k] = true
		}
	}
	return f
}

func (f *fakePlatform) Children(pid int) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("children:%d", pid))
	if err := f.listErr[pid]; err != nil {
		return nil, err
	}
	if !f.alive[pid] {
		return nil, nil
	}
	return slices.Clone(f.children[pid]), nil
}

func (f *fakePlatform) Signal(pid int, sig syscall.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("signal:%d", pid))
	if !f.alive[pid] {
		return syscall.ESRCH
	}
	f.alive[pid] = false
	f.signaled = append(f.signaled, pid)
	f.signals = append(f.signals, sig)
	return nil
}

func (f *fakePlatform) KillTreeAtomic(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.atomic {
		return ErrAtomicUnsupported
	}
	f.calls = append(f.calls, fmt.Sprintf("atomic:%d", pid))
	if f.atomicErr != nil {
		return f.atomicErr
	}
	f.alive[pid] = false
	return nil
}

func (f *fakePlatform) Alive(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[pid]
}

func (f *fakePlatform) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func TestKillTreeAbsentPIDMakesNoCalls(t *testing.T) {
	tests := []struct {
		name   string
		handle Handle
	}{
		{"zero value", Handle{}},
		{"zero pid", HandleFromPID(0)},
		{"negative pid", HandleFromPID(-1)},
		{"nil process", HandleFromProcess(nil)},
		{"nil cmd", HandleFromCmd(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakePlatform(map[int][]int{1: {2}})
			term := NewTerminator(WithPlatform(fake))

			term.KillTree(tt.handle, syscall.SIGTERM)

			if calls := fake.callLog(); len(calls) != 0 {
				t.Errorf("expected no platform calls, got %v", calls)
			}
		})
	}
}

func TestKillTreeSignalsChildrenBeforeParents(t *testing.T) {
	//      1
	//    /   \
	//   2     3
	//  / \     \
	// 4   5     6
	//     |
	//     7
	fake := newFakePlatform(map[int][]int{
		1: {2, 3},
		2: {4, 5},
		3: {6},
		5: {7},
	})
	term := NewTerminator(WithPlatform(fake))

	term.KillTree(HandleFromPID(1), syscall.SIGTERM)

	want := []int{4, 7, 5, 2, 6, 3, 1}
	if !slices.Equal(fake.signaled, want) {
		t.Fatalf("signal order = %v, want %v", fake.signaled, want)
	}

	position := map[int]int{}
	for i, pid := range fake.signaled {
		position[pid] = i
	}
	for parent, kids := range fake.children {
		for _, kid := range kids {
			if position[kid] >= position[parent] {
				t.Errorf("child %d signaled at %d, not before parent %d at %d",
					kid, position[kid], parent, position[parent])
			}
		}
	}
}

func TestKillTreeDefaultSignalIsGraceful(t *testing.T) {
	fake := newFakePlatform(map[int][]int{10: {11}})
	term := NewTerminator(WithPlatform(fake))

	term.KillTree(HandleFromPID(10), 0)

	for _, sig := range fake.signals {
		if sig != syscall.SIGTERM {
			t.Errorf("signal = %v, want SIGTERM", sig)
		}
	}
	if len(fake.signals) != 2 {
		t.Errorf("signals sent = %d, want 2", len(fake.signals))
	}
}

func TestKillTreeExplicitSignal(t *testing.T) {
	fake := newFakePlatform(map[int][]int{10: {11}})
	term := NewTerminator(WithPlatform(fake))

	term.KillTree(HandleFromPID(10), syscall.SIGKILL)

	for _, sig := range fake.signals {
		if sig != syscall.SIGKILL {
			t.Errorf("signal = %v, want SIGKILL", sig)
		}
	}
}

func TestKillTreeSingleProcessTouchesNothingElse(t *testing.T) {
	fake := newFakePlatform(map[int][]int{
		1: {2},
		5: {6},
	})
	fake.alive[3] = true
	term := NewTerminator(WithPlatform(fake))

	term.KillTree(HandleFromPID(3), syscall.SIGTERM)

	if !slices.Equal(fake.signaled, []int{3}) {
		t.Errorf("signaled = %v, want [3]", fake.signaled)
	}
	for _, pid := range []int{1, 2, 5, 6} {
		if !fake.Alive(pid) {
			t.Errorf("pid %d should still be alive", pid)
		}
	}
}

func TestKillTreeAlreadyExitedIsSilent(t *testing.T) {
	fake := newFakePlatform(nil)
	term := NewTerminator(WithPlatform(fake))

	term.KillTree(HandleFromPID(4242), syscall.SIGTERM)

	want := []string{"children:4242", "signal:4242"}
	if calls := fake.callLog(); !slices.Equal(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
	if len(fake.signaled) != 0 {
		t.Errorf("signaled = %v, want none", fake.signaled)
	}
}

func TestKillTreeIsIdempotent(t *testing.T) {
	fake := newFakePlatform(map[int][]int{1: {2, 3}})
	term := NewTerminator(WithPlatform(fake))

	term.KillTree(HandleFromPID(1), syscall.SIGTERM)
	first := len(fake.callLog())

	// Everything is dead now; two further passes must behave identically.
	term.KillTree(HandleFromPID(1), syscall.SIGTERM)
	second := fake.callLog()[first:]
	term.KillTree(HandleFromPID(1), syscall.SIGTERM)
	third := fake.callLog()[first+len(second):]

	if !slices.Equal(second, third) {
		t.Errorf("repeat calls differ: %v vs %v", second, third)
	}
	if len(fake.signaled) != 3 {
		t.Errorf("signaled %d processes, want 3", len(fake.signaled))
	}
}

func TestKillTreeEnumerationFailureStillSignalsRoot(t *testing.T) {
	fake := newFakePlatform(map[int][]int{1: {2}})
	fake.listErr[1] = errors.New("process table unavailable")
	term := NewTerminator(WithPlatform(fake))

	term.KillTree(HandleFromPID(1), syscall.SIGTERM)

	if !slices.Equal(fake.signaled, []int{1}) {
		t.Errorf("signaled = %v, want [1]", fake.signaled)
	}
}

func TestKillTreeChildSpawnedAfterEnumerationSurvives(t *testing.T) {
	fake := newFakePlatform(map[int][]int{1: {2}})
	term := NewTerminator(WithPlatform(&spawningPlatform{fakePlatform: fake, parent: 1, late: 9}))

	term.KillTree(HandleFromPID(1), syscall.SIGTERM)

	if !fake.Alive(9) {
		t.Error("late child should survive a single pass")
	}
	if fake.Alive(1) || fake.Alive(2) {
		t.Error("enumerated processes should be signaled")
	}
}

// spawningPlatform adds a child to parent right after parent is enumerated.
type spawningPlatform struct {
	*fakePlatform
	parent, late int
}

func (s *spawningPlatform) Children(pid int) ([]int, error) {
	kids, err := s.fakePlatform.Children(pid)
	if pid == s.parent {
		s.mu.Lock()
		s.children[pid] = append(s.children[pid], s.late)
		s.alive[s.late] = true
		s.mu.Unlock()
	}
	return kids, err
}

func TestKillTreeAtomicPlatformSkipsRecursion(t *testing.T) {
	fake := newFakePlatform(map[int][]int{1: {2, 3}})
	fake.atomic = true
	term := NewTerminator(WithPlatform(fake))

	term.KillTree(HandleFromPID(1), syscall.SIGTERM)

	want := []string{"atomic:1"}
	if calls := fake.callLog(); !slices.Equal(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestKillTreeAtomicFailureIsSwallowed(t *testing.T) {
	fake := newFakePlatform(nil)
	fake.atomic = true
	fake.atomicErr = errors.New("exit status 128")
	term := NewTerminator(WithPlatform(fake))

	term.KillTree(HandleFromPID(77), syscall.SIGTERM)
	term.KillTree(HandleFromPID(77), syscall.SIGTERM)

	want := []string{"atomic:77", "atomic:77"}
	if calls := fake.callLog(); !slices.Equal(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestSnapshotIsPostOrder(t *testing.T) {
	fake := newFakePlatform(map[int][]int{
		1: {2, 3},
		2: {4},
	})
	term := NewTerminator(WithPlatform(fake))

	got := term.Snapshot(1)
	want := []int{4, 2, 3}
	if !slices.Equal(got, want) {
		t.Errorf("Snapshot = %v, want %v", got, want)
	}
	if len(fake.signaled) != 0 {
		t.Error("Snapshot must not signal")
	}
}

func TestSnapshotToleratesCycles(t *testing.T) {
	fake := newFakePlatform(map[int][]int{
		1: {2},
		2: {1, 3},
	})
	term := NewTerminator(WithPlatform(fake))

	got := term.Snapshot(1)
	want := []int{3, 2}
	if !slices.Equal(got, want) {
		t.Errorf("Snapshot = %v, want %v", got, want)
	}
	if term.Snapshot(0) != nil {
		t.Error("Snapshot(0) should be nil")
	}
}

func TestKillTreeToleratesCycles(t *testing.T) {
	fake := newFakePlatform(map[int][]int{
		10: {11},
		11: {10, 12},
	})
	term := NewTerminator(WithPlatform(fake))

	term.KillTree(HandleFromPID(10), syscall.SIGTERM)

	want := []int{12, 11, 10}
	if !slices.Equal(fake.signaled, want) {
		t.Errorf("signaled = %v, want %v", fake.signaled, want)
	}
	var lookups int
	for _, c := range fake.callLog() {
		if len(c) > 9 && c[:9] == "children:" {
			lookups++
		}
	}
	if lookups != 3 {
		t.Errorf("Children called %d times, want 3 (calls %v)", lookups, fake.callLog())
	}
}
