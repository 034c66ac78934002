package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/rewards-engine/internal/api"
	"github.com/sells-group/rewards-engine/internal/config"
	"github.com/sells-group/rewards-engine/internal/monitoring"
)

var servePort int

// shutdownTimeout bounds how long in-flight requests get to finish.
const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the rules and analytics HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initEngine(ctx, cfg, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		// Redis expires entries itself.
		if cfg.Cache.Backend == "memory" {
			go env.Cache.Sweep(ctx, cfg.Cache.TTL())
		}
		if cfg.Monitoring.Enabled {
			go newChecker(env, cfg).Run(ctx)
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           apiHandler(env, cfg),
			ReadHeaderTimeout: 10 * time.Second,
		}
		return runServer(ctx, srv)
	},
}

// apiHandler builds the HTTP API over env.
func apiHandler(env *engineEnv, c *config.Config) http.Handler {
	return api.NewRouter(env.Deps(c))
}

// newChecker builds the background spend alert checker over env's metrics.
func newChecker(env *engineEnv, c *config.Config) *monitoring.Checker {
	return monitoring.NewChecker(
		monitoring.NewCollector(env.Recorder),
		monitoring.NewAlerter(c.Monitoring),
		c.Monitoring,
	)
}

// runServer serves until ctx is cancelled, then shuts down gracefully.
func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- eris.Wrap(err, "server listen")
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zap.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server shutdown")
	}
	return <-errCh
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
