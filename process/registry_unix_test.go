//go:build !windows

package process

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"
)

func newTestRegistry(t *testing.T, grace time.Duration) *Registry {
	t.Helper()
	reg := NewRegistry(RegistryConfig{GracePeriod: grace})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = reg.Shutdown(ctx)
	})
	return reg
}

func TestRegistryTracksUntilSettled(t *testing.T) {
	reg := newTestRegistry(t, time.Second)

	run, err := reg.Start("sleep 0.3", Options{Stdout: &bytes.Buffer{}})
	if err != nil {
		t.Fatalf("Start error = %v", err)
	}

	got, err := reg.Get(run.ID)
	if err != nil || got != run {
		t.Fatalf("Get(%s) = %v, %v", run.ID, got, err)
	}
	if reg.ActiveCount() != 1 || len(reg.List()) != 1 {
		t.Errorf("ActiveCount = %d, List = %d, want 1", reg.ActiveCount(), len(reg.List()))
	}

	if _, err := run.Wait(); err != nil {
		t.Fatalf("Wait error = %v", err)
	}
	if !waitFor(t, 2*time.Second, func() bool { return reg.ActiveCount() == 0 }) {
		t.Fatal("run still tracked after settling")
	}
	if _, err := reg.Get(run.ID); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Get after settle error = %v, want ErrRunNotFound", err)
	}
	if reg.TotalStarted() != 1 || reg.TotalFailed() != 0 {
		t.Errorf("TotalStarted = %d, TotalFailed = %d", reg.TotalStarted(), reg.TotalFailed())
	}
}

func TestRegistryCountsFailures(t *testing.T) {
	reg := newTestRegistry(t, time.Second)

	failing, err := reg.Start("exit 3", Options{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}})
	if err != nil {
		t.Fatalf("Start error = %v", err)
	}
	_, _ = failing.Wait()

	spawnFail, err := reg.Start("true", Options{Dir: filepath.Join(t.TempDir(), "missing")})
	if err != nil {
		t.Fatalf("Start error = %v", err)
	}
	if spawnFail.State() != StateSpawnFailed {
		t.Fatalf("state = %v, want spawn failure", spawnFail.State())
	}
	if _, err := reg.Get(spawnFail.ID); !errors.Is(err, ErrRunNotFound) {
		t.Error("spawn failures must not be tracked")
	}

	if !waitFor(t, 2*time.Second, func() bool { return reg.TotalFailed() == 2 }) {
		t.Errorf("TotalFailed = %d, want 2", reg.TotalFailed())
	}
	if reg.TotalStarted() != 2 {
		t.Errorf("TotalStarted = %d, want 2", reg.TotalStarted())
	}
}

func TestRegistryStopGraceful(t *testing.T) {
	reg := newTestRegistry(t, 5*time.Second)

	run, err := reg.Start("sleep 30 & sleep 30 & wait", Options{Stdout: &bytes.Buffer{}})
	if err != nil {
		t.Fatalf("Start error = %v", err)
	}
	waitForChildren(t, run.Handle().PID, 2)

	start := time.Now()
	if err := reg.Stop(context.Background(), run.ID); err != nil {
		t.Fatalf("Stop error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("graceful stop took %v", elapsed)
	}

	res, _ := run.Wait()
	if res.Signal == "SIGKILL" {
		t.Error("graceful stop escalated to SIGKILL")
	}
}

func TestRegistryStopEscalatesToKill(t *testing.T) {
	reg := newTestRegistry(t, 200*time.Millisecond)

	// Both the shell and its child ignore SIGTERM.
	run, err := reg.Start("trap '' TERM; sleep 30 & wait", Options{Stdout: &bytes.Buffer{}})
	if err != nil {
		t.Fatalf("Start error = %v", err)
	}
	kids := waitForChildren(t, run.Handle().PID, 1)

	start := time.Now()
	if err := reg.StopRun(context.Background(), run); err != nil {
		t.Fatalf("StopRun error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Errorf("run settled after %v, before the grace period", elapsed)
	}

	res, _ := run.Wait()
	if res.Signal == "SIGTERM" {
		t.Error("shell died from the ignored SIGTERM")
	}
	platform := NewPlatform(nil)
	for _, pid := range kids {
		if !waitFor(t, 3*time.Second, func() bool { return !platform.Alive(pid) }) {
			t.Errorf("descendant %d survived escalation", pid)
		}
	}
}

func TestRegistryStopUnknownRun(t *testing.T) {
	reg := newTestRegistry(t, time.Second)
	if err := reg.Stop(context.Background(), "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Stop error = %v, want ErrRunNotFound", err)
	}
}

func TestRegistryShutdown(t *testing.T) {
	reg := NewRegistry(RegistryConfig{GracePeriod: time.Second})

	var runs []*Run
	for range 3 {
		run, err := reg.Start("sleep 30", Options{Stdout: &bytes.Buffer{}})
		if err != nil {
			t.Fatalf("Start error = %v", err)
		}
		runs = append(runs, run)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := reg.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown error = %v", err)
	}

	for _, run := range runs {
		if !run.State().Settled() {
			t.Errorf("run %s state = %v after shutdown", run.ID, run.State())
		}
	}
	if reg.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d, want 0", reg.ActiveCount())
	}
	if !reg.IsShuttingDown() {
		t.Error("IsShuttingDown = false")
	}
	if _, err := reg.Start("true", Options{}); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Start after shutdown error = %v, want ErrShuttingDown", err)
	}
	if err := reg.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown error = %v", err)
	}
}

func TestRegistryShutdownRacingStarts(t *testing.T) {
	reg := NewRegistry(RegistryConfig{GracePeriod: time.Second})

	var (
		mu      sync.Mutex
		started []*Run
		wg      sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 5 {
				run, err := reg.Start("sleep 30", Options{Stdout: &bytes.Buffer{}})
				if errors.Is(err, ErrShuttingDown) {
					return
				}
				if err != nil {
					t.Errorf("Start error = %v", err)
					return
				}
				mu.Lock()
				started = append(started, run)
				mu.Unlock()
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := reg.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown error = %v", err)
	}
	wg.Wait()

	// Every run admitted before Shutdown was stopped by it.
	for _, run := range started {
		if !run.State().Settled() {
			t.Errorf("run %s (pid %d) state = %v after shutdown", run.ID, run.Handle().PID, run.State())
			run.Kill(syscall.SIGKILL)
		}
	}
	if reg.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d, want 0", reg.ActiveCount())
	}
}

func TestRegistryRecordsRunsInLedger(t *testing.T) {
	ledger := NewLedger(filepath.Join(t.TempDir(), "runs.json"))
	reg := NewRegistry(RegistryConfig{GracePeriod: time.Second, Ledger: ledger})

	run, err := reg.Start("sleep 30", Options{Stdout: &bytes.Buffer{}})
	if err != nil {
		t.Fatalf("Start error = %v", err)
	}

	entries, err := ledger.Entries()
	if err != nil {
		t.Fatalf("Entries error = %v", err)
	}
	if len(entries) != 1 || entries[0].ID != run.ID || entries[0].PID != run.Handle().PID {
		t.Fatalf("entries = %+v", entries)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := reg.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown error = %v", err)
	}

	entries, err = ledger.Entries()
	if err != nil {
		t.Fatalf("Entries error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("entries after shutdown = %+v, want none", entries)
	}
}

// waitForChildren waits until pid has n direct children and returns them.
func waitForChildren(t *testing.T, pid, n int) []int {
	t.Helper()
	platform := NewPlatform(nil)
	var kids []int
	if !waitFor(t, 3*time.Second, func() bool {
		kids, _ = platform.Children(pid)
		return len(kids) == n
	}) {
		t.Fatalf("pid %d children = %v, want %d", pid, kids, n)
	}
	return kids
}
