package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newEnqueueCmd() *cobra.Command {
	var (
		priority int
		missing  bool
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "enqueue [entity-id...]",
		Short: "Adds enrichment jobs to the queue",
		Long: `Enqueues one job per entity id. With --missing, enqueues up to --limit
entities that still lack a website, email or phone and have no open job.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := appInstance.Config()
			if !cmd.Flags().Changed("priority") {
				priority = cfg.Queue.DefaultPriority
			}
			if !cmd.Flags().Changed("limit") {
				limit = cfg.Queue.SweepLimit
			}
			queue := appInstance.Queue()
			out := cmd.OutOrStdout()

			if missing {
				if limit <= 0 {
					return errors.New("--limit must be > 0")
				}
				n, err := queue.EnqueueMissing(cmd.Context(), priority, limit)
				if err != nil {
					return fmt.Errorf("enqueue missing: %w", err)
				}
				fmt.Fprintf(out, "enqueued %d entities\n", n)
				return nil
			}

			if len(args) == 0 {
				return errors.New("entity ids required unless --missing is set")
			}
			for _, id := range args {
				created, err := queue.Enqueue(cmd.Context(), id, priority)
				if err != nil {
					return fmt.Errorf("enqueue %s: %w", id, err)
				}
				if created {
					fmt.Fprintf(out, "enqueued %s\n", id)
				} else {
					fmt.Fprintf(out, "skipped %s (already queued)\n", id)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&priority, "priority", 0, "job priority, higher runs first (defaults to queue.default_priority)")
	cmd.Flags().BoolVar(&missing, "missing", false, "enqueue entities missing contact fields")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum entities for --missing (defaults to queue.sweep_limit)")
	return cmd
}
