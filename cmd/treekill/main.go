// Command treekill terminates process trees and runs shell commands whose
// whole tree is stopped on interrupt or timeout.
//
// Usage:
//
//	# Kill a process and everything it spawned
//	treekill kill 4242
//
//	# Run a command, killing its tree after five minutes
//	treekill run --timeout 5m -- make test
//
//	# Show what would be killed
//	treekill tree --kill-order 4242
package main

import "github.com/standardbeagle/go-treekill/cli"

func main() {
	cli.Execute()
}
