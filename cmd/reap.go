package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newReapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Returns jobs with expired leases to the queue once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			n, err := appInstance.NewReaper().RunOnce(cmd.Context())
			if err != nil {
				return fmt.Errorf("reap: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reaped %d jobs\n", n)
			return nil
		},
	}
}
