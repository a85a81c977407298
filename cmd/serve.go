// File: cmd/serve.go
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/rover/internal/api"
	"github.com/xkilldash9x/rover/internal/observability"
	"github.com/xkilldash9x/rover/internal/service"
)

const componentShutdownTimeout = 20 * time.Second

// componentFactory is swapped out in tests.
var componentFactory = service.NewComponentFactory

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the agent over HTTP",
		Long: `Starts the HTTP API. Clients open a browser session with POST /setup-browser,
stream a run with POST /query and follow navigation on GET /browser-events.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			components, err := componentFactory().Create(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), componentShutdownTimeout)
				defer cancel()
				components.Shutdown(shutdownCtx)
			}()

			var transcripts api.Transcripts
			if components.Store != nil {
				transcripts = components.Store
			}
			server := api.NewServer(cfg.Server(), components.Browser, components.Runner, components.Bus, transcripts, logger)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return server.ListenAndServe(gctx)
			})
			g.Go(func() error {
				<-gctx.Done()
				logger.Info("Shutdown signal received.")
				// Unblocks open event streams so the server can drain.
				components.Bus.Shutdown()
				return nil
			})

			if err := g.Wait(); err != nil {
				logger.Error("Server stopped with error.", zap.Error(err))
				return err
			}
			logger.Info("Server stopped.")
			return nil
		},
	}

	serveCmd.Flags().String("addr", "", "listen address, e.g. 127.0.0.1:8001 (overrides config/env)")
	serveCmd.Flags().Bool("headless", true, "run the browser without a window (overrides config/env)")
	return serveCmd
}
