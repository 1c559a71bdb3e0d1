// Package process terminates process trees and runs supervised shell commands.
//
// The Terminator kills a root process and every descendant it spawned. On
// POSIX systems the tree is discovered one level at a time through a
// ChildLister and signaled bottom-up, so leaves die before their parents. On
// Windows the whole tree is destroyed in one call (job object or taskkill).
// Termination is best-effort: processes that are already gone, lookups that
// find nothing and signals that cannot be delivered are all silent.
//
// A child spawned after its parent was enumerated can survive a KillTree
// pass. There is no portable primitive that fences a tree, so callers that
// need a stronger guarantee must repeat the call or escalate (see Registry).
//
// The runner starts a command through the platform shell and exposes it as a
// Run whose Wait method yields the Result once the process exits:
//
//	run := process.Start("make test", process.Options{Log: logger})
//	// later, to cancel:
//	run.Kill(syscall.SIGTERM)
//	res, err := run.Wait()
//
// Output chunks are forwarded to the Logger as they arrive (stdout to Debug,
// stderr to Error). Without a Logger they are written through to the parent's
// standard streams. Either way they are captured for the Result.
package process
