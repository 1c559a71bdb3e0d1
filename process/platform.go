package process

import (
	"syscall"
)

// Platform is the OS capability the Terminator is written against.
type Platform interface {
	// Children returns the direct children of pid. A process without
	// children may return an empty slice or an error; both are benign.
	Children(pid int) ([]int, error)

	// Signal delivers sig to pid. Failure usually means pid already exited.
	Signal(pid int, sig syscall.Signal) error

	// KillTreeAtomic destroys pid and all of its descendants in one call.
	// Platforms without such a facility return ErrAtomicUnsupported.
	KillTreeAtomic(pid int) error

	// Alive reports whether pid still resolves to a live process.
	Alive(pid int) bool
}

// DefaultPlatform returns the native platform backed by the gopsutil lister.
func DefaultPlatform() Platform {
	return NewPlatform(PsutilLister{})
}
