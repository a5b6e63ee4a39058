package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"fitprogress/core"
)

func newLadderCmd() *cobra.Command {
	var from, to int64
	cmd := &cobra.Command{
		Use:   "ladder",
		Short: "Print the XP required for each level",
		RunE: func(cmd *cobra.Command, args []string) error {
			if from < 1 || to < from {
				return fmt.Errorf("invalid level range %d..%d", from, to)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "LEVEL\tXP TO REACH\tCUMULATIVE")
			var total int64
			for lvl := int64(2); lvl < from; lvl++ {
				total += core.XPRequiredFor(lvl)
			}
			for lvl := from; lvl <= to; lvl++ {
				var need int64
				// everyone starts at level 1
				if lvl > 1 {
					need = core.XPRequiredFor(lvl)
				}
				total += need
				fmt.Fprintf(w, "%d\t%d\t%d\n", lvl, need, total)
			}
			return w.Flush()
		},
	}
	cmd.Flags().Int64Var(&from, "from", 1, "first level")
	cmd.Flags().Int64Var(&to, "to", 10, "last level")
	return cmd
}
