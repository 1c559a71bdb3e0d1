//go:build !windows

package process

import "os/exec"

// setProcAttr leaves the shell in the caller's process group; the tree is
// found by walking parent links, not by group id.
func setProcAttr(*exec.Cmd) {}

// attachJob is a no-op on Unix.
func attachJob(*exec.Cmd) error { return nil }

// releaseJob is a no-op on Unix.
func releaseJob(int) {}
