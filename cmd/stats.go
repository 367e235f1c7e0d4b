package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/voidmaw/regrip/api/schemas"
	"github.com/voidmaw/regrip/internal/observability"
)

// newStatsCmd creates the `stats` command, which dumps the learned state for
// one target key.
func newStatsCmd() *cobra.Command {
	statsCmd := &cobra.Command{
		Use:   "stats <screen/intent/role>",
		Short: "Shows learned candidate statistics for a target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			target, err := schemas.ParseTargetKey(args[0])
			if err != nil {
				return err
			}

			st, err := openStore(ctx, appConfig, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			ids, err := st.ListCandidates(ctx, target)
			if err != nil {
				return fmt.Errorf("failed to list candidates: %w", err)
			}
			if len(ids) == 0 {
				fmt.Printf("No recorded state for %s\n", target)
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CANDIDATE\tTRIALS\tMEAN REWARD\tMISCLICK RATE\tBREAKER\tEMA FAIL")
			for _, id := range ids {
				stats, _, err := st.GetStats(ctx, target, id)
				if err != nil {
					return err
				}
				row, _, err := st.GetBreaker(ctx, target, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%d\t%+.3f\t%.3f\t%s\t%.3f\n",
					id, stats.Trials, stats.MeanReward(), stats.MisclickRate(), row.Phase, row.EMAFail)
			}
			return w.Flush()
		},
	}
	return statsCmd
}
