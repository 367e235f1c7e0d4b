package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/voidmaw/regrip/api/schemas"
	"github.com/voidmaw/regrip/internal/observability"
)

// newResetCmd creates the `reset` command, which drops learned state for one
// target or for everything.
func newResetCmd() *cobra.Command {
	var all bool

	resetCmd := &cobra.Command{
		Use:   "reset [screen/intent/role]",
		Short: "Drops learned statistics and breaker state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			if all == (len(args) == 1) {
				return fmt.Errorf("pass exactly one of a target key or --all")
			}

			st, err := openStore(ctx, appConfig, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			if all {
				if err := st.ResetAll(ctx); err != nil {
					return fmt.Errorf("failed to reset: %w", err)
				}
				logger.Info("Dropped all learned state")
				fmt.Println("All learned state dropped.")
				return nil
			}

			target, err := schemas.ParseTargetKey(args[0])
			if err != nil {
				return err
			}
			if err := st.ResetTarget(ctx, target); err != nil {
				return fmt.Errorf("failed to reset %s: %w", target, err)
			}
			logger.Info("Dropped learned state for target", zap.String("target", target.String()))
			fmt.Printf("Learned state dropped for %s.\n", target)
			return nil
		},
	}

	resetCmd.Flags().BoolVar(&all, "all", false, "Drop state for every target")
	return resetCmd
}
