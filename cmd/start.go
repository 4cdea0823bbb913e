package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"marketsync/routes"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newStartCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the scheduler and the status server",
		Long: `Runs migrations, starts the job scheduler and, when enabled, the HTTP
status server. Blocks until SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*opts)
			if err != nil {
				return err
			}
			defer a.close()
			return a.serve(cmd.Context())
		},
	}
}

// serve runs until ctx is cancelled or a shutdown signal arrives
func (a *app) serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.scheduler.Start()

	var server *http.Server
	serverErr := make(chan error, 1)
	if a.cfg.Server.Enabled {
		if !a.cfg.Debug {
			gin.SetMode(gin.ReleaseMode)
		}
		router := routes.NewRouter(routes.Deps{
			Store:     a.store,
			Status:    a.syncer,
			Scheduler: a.scheduler,
			Gatherer:  a.registry,
			Logger:    a.log,
		})
		server = &http.Server{
			Addr:              "0.0.0.0:" + a.cfg.Server.Port,
			Handler:           router,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Minute, // manual task runs block until done
			IdleTimeout:       120 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			MaxHeaderBytes:    1 << 20,
		}
		go func() {
			a.log.Info("Server listening", zap.String("addr", server.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("Shutdown signal received")
	case runErr = <-serverErr:
		a.log.Error("Server failed", zap.Error(runErr))
	}

	// scheduler first so no job starts while the server drains
	a.scheduler.Stop()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("Server forced to shutdown", zap.Error(err))
		}
	}

	a.log.Info("Shutdown completed")
	return runErr
}
