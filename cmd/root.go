// Package cmd defines the CLI commands for the enricher executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/entity-enricher/internal/app"
	"github.com/JakeFAU/entity-enricher/internal/config"
)

type appKeyType string

const appKey appKeyType = "app"

type rootOptions struct {
	configFile string
	envFiles   []string
	app        *app.App
}

// newApp is the application factory; tests swap it for one with fixed config.
var newApp = func(ctx context.Context, opts rootOptions) (*app.App, error) {
	cfg, err := config.Load(opts.configFile, opts.envFiles...)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return app.Build(ctx, cfg)
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enricher",
		Short: "Discovers and verifies websites and contact details for registered entities.",
		Long: `enricher runs the enrichment job queue: workers claim jobs, guess
candidate websites for each entity, verify them against registry data and
fill in missing website, email and phone fields.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), *opts)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			opts.app = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "dotenv files loaded before the environment")

	cmd.AddCommand(newWorkerCmd())
	cmd.AddCommand(newEnqueueCmd())
	cmd.AddCommand(newReapCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// runRoot executes cmd and closes the App it built, whether or not the
// command succeeded. cobra skips post-run hooks once RunE fails.
func runRoot(ctx context.Context, cmd *cobra.Command, opts *rootOptions) error {
	err := cmd.ExecuteContext(ctx)
	if opts.app != nil {
		if cerr := opts.app.Close(context.WithoutCancel(ctx)); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close application services: %w", cerr))
		}
		opts.app = nil
	}
	return err
}

// Execute runs the root command until it returns or SIGINT/SIGTERM arrives.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	opts := &rootOptions{}
	err := runRoot(ctx, newRootCmd(opts), opts)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
