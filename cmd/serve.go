package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var (
		addr       string
		withWorker bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the operator HTTP API and the background lease reaper",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			logger := appInstance.Logger()
			cfg := appInstance.Config()
			if addr == "" {
				addr = fmt.Sprintf(":%d", cfg.Server.Port)
			}

			ctx, stop := context.WithCancel(cmd.Context())
			defer stop()

			listener, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", addr, err)
			}
			srv := &http.Server{
				Handler:           appInstance.NewAPIServer().Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			var (
				wg        sync.WaitGroup
				workerErr error
			)
			wg.Add(1)
			go func() {
				defer wg.Done()
				appInstance.NewReaper().Run(ctx)
			}()
			if withWorker {
				d, err := appInstance.NewDispatcher()
				if err != nil {
					_ = listener.Close()
					return fmt.Errorf("build workers: %w", err)
				}
				wg.Add(1)
				go func() {
					defer wg.Done()
					workerErr = d.Run(ctx)
				}()
			}

			serveErr := make(chan error, 1)
			go func() {
				logger.Info("http server started", zap.String("addr", listener.Addr().String()))
				if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			var runErr error
			select {
			case <-ctx.Done():
				logger.Info("shutdown initiated")
			case err := <-serveErr:
				if err != nil {
					logger.Error("http server error", zap.Error(err))
					runErr = fmt.Errorf("serve: %w", err)
				}
			}
			stop()

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("server shutdown error", zap.Error(err))
			}
			wg.Wait()
			if workerErr != nil {
				return errors.Join(runErr, fmt.Errorf("run workers: %w", workerErr))
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to :server.port)")
	cmd.Flags().BoolVar(&withWorker, "with-worker", false, "also run the workers in this process")
	return cmd
}
