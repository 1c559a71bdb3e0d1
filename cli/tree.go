package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/standardbeagle/go-treekill/process"
)

func newTreeCmd(a *app) *cobra.Command {
	var killOrder bool

	cmd := &cobra.Command{
		Use:   "tree <pid>",
		Short: "Show a process and its descendants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := parsePID(args[0])
			if err != nil {
				return err
			}

			if killOrder {
				term, err := a.terminator()
				if err != nil {
					return err
				}
				for _, p := range append(term.Snapshot(pid), pid) {
					fmt.Fprintln(a.stdout, p)
				}
				return nil
			}

			node, err := process.Inspect(cmd.Context(), pid)
			if err != nil {
				return err
			}
			return node.Write(a.stdout)
		},
	}

	cmd.Flags().BoolVar(&killOrder, "kill-order", false, "Print PIDs in the order kill would signal them")

	return cmd
}
