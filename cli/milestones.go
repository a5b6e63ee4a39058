package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"fitprogress/config"
	"fitprogress/core"
)

func newMilestonesCmd() *cobra.Command {
	var export bool
	cmd := &cobra.Command{
		Use:   "milestones",
		Short: "List the milestone catalog",
		Long: `List the milestone catalog, either the built-in one or the file given
with --milestones. --export prints it as TOML, ready to edit and load back.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := thresholdsFlag(cmd)
			if err != nil {
				return err
			}
			if export {
				return config.WriteMilestones(cmd.OutOrStdout(), t)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "FAMILY\tID\tTHRESHOLD\tPOINTS\tBADGE\tNAME")
			for _, fam := range []core.Family{core.FamilyWorkout, core.FamilyStreak, core.FamilyLevel} {
				for _, m := range t.ForFamily(fam) {
					fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n", fam, m.ID, m.Threshold, m.Points, m.Badge, m.Name)
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&export, "export", false, "print the catalog as TOML")
	return cmd
}
