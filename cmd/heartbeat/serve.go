package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nidhogg/nuka-heartbeat/internal/world"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, if enabled, the automatic ticker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			defer a.Close()
			logger := a.logger
			defer logger.Sync()

			if port == 0 {
				port = a.cfg.Server.Port
			}

			var ticker *world.Ticker
			if a.cfg.Heartbeat.AutoTick {
				ticker = world.NewTicker(a.cfg.Heartbeat.TickInterval.Duration, logger)
				ticker.AddListener(a.heartbeat)
				ticker.Start(ctx)
			}

			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", port),
				Handler:           a.handler().Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				logger.Info("Nuka heartbeat listening", zap.Int("port", port))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server: %w", err)
				}
			}

			logger.Info("Shutting down Nuka heartbeat...")
			if ticker != nil {
				ticker.Stop()
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides server.port)")
	return cmd
}
