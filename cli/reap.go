package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/standardbeagle/go-treekill/process"
)

func newReapCmd(a *app) *cobra.Command {
	var (
		signalName string
		list       bool
	)

	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Kill process trees left behind by treekill runs that died",
		Long: `Every 'treekill run' records its command's root PID in the run ledger.
If treekill itself is killed before the command exits, the entry stays
behind. reap kills the tree of every entry whose owner is gone and forgets it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger := a.ledger()
			if ledger == nil {
				return errors.New("run ledger is disabled (ledger: off)")
			}

			if list {
				entries, err := ledger.Entries()
				if err != nil {
					return err
				}
				for _, e := range entries {
					fmt.Fprintf(a.stdout, "%d\towner=%d\t%s\t%s\n", e.PID, e.Owner, e.StartedAt.Format(time.RFC3339), e.Command)
				}
				return nil
			}

			sig, err := process.ParseSignal(signalName)
			if err != nil {
				return err
			}
			term, err := a.terminator()
			if err != nil {
				return err
			}
			reaped, err := ledger.Reap(term, sig)
			if err != nil {
				return err
			}
			for _, e := range reaped {
				a.log.Info("reaped orphaned tree", "pid", e.PID, "owner", e.Owner, "command", e.Command)
				fmt.Fprintf(a.stdout, "%d\t%s\n", e.PID, e.Command)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&signalName, "signal", "s", "KILL", "Signal name or number")
	cmd.Flags().BoolVar(&list, "list", false, "List recorded runs without killing anything")

	return cmd
}
