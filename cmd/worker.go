package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Claims and processes enrichment jobs until interrupted",
		Long: `Runs worker.instances single-job loops. On SIGINT/SIGTERM no new jobs
are claimed; in-flight jobs get worker.grace_period_seconds to finish.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			d, err := appInstance.NewDispatcher()
			if err != nil {
				return fmt.Errorf("build workers: %w", err)
			}
			logger := appInstance.Logger()
			logger.Info("worker command started", zap.Int("instances", d.Len()))
			if err := d.Run(cmd.Context()); err != nil {
				return fmt.Errorf("run workers: %w", err)
			}
			logger.Info("worker command finished")
			return nil
		},
	}
}
