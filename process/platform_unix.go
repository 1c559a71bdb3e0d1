//go:build !windows

package process

import (
	"context"
	"errors"
	"slices"
	"syscall"

	gproc "github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/unix"
)

// posixPlatform discovers children through a lister and signals one PID at a time.
type posixPlatform struct {
	lister ChildLister
}

// NewPlatform returns the native platform using lister for child discovery.
// A nil lister falls back to PsutilLister.
func NewPlatform(lister ChildLister) Platform {
	if lister == nil {
		lister = PsutilLister{}
	}
	return &posixPlatform{lister: lister}
}

func (p *posixPlatform) Children(pid int) ([]int, error) {
	return listChildren(p.lister, pid)
}

func (p *posixPlatform) Signal(pid int, sig syscall.Signal) error {
	return unix.Kill(pid, sig)
}

func (p *posixPlatform) KillTreeAtomic(int) error {
	return ErrAtomicUnsupported
}

// Alive uses the null signal. EPERM means the process exists but belongs to
// someone else. An unreaped zombie still accepts signals but counts as dead.
func (p *posixPlatform) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if err := unix.Kill(pid, syscall.Signal(0)); err != nil && !errors.Is(err, unix.EPERM) {
		return false
	}
	return !isZombie(pid)
}

func isZombie(pid int) bool {
	ctx, cancel := context.WithTimeout(context.Background(), listTimeout)
	defer cancel()

	proc, err := gproc.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return errors.Is(err, gproc.ErrorProcessNotRunning)
	}
	status, err := proc.StatusWithContext(ctx)
	if err != nil {
		return false
	}
	return slices.Contains(status, gproc.Zombie)
}

// isNoSuchProcess returns true if the error indicates the process doesn't exist.
func isNoSuchProcess(err error) bool {
	return errors.Is(err, unix.ESRCH)
}
