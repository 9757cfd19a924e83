package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/TungSeven30/henrii-sub000/internal/config"
	"github.com/TungSeven30/henrii-sub000/internal/db"
	"github.com/TungSeven30/henrii-sub000/internal/handlers"
	"github.com/TungSeven30/henrii-sub000/internal/httpserver"
	"github.com/TungSeven30/henrii-sub000/internal/logging"
	"github.com/TungSeven30/henrii-sub000/internal/repos"
	"github.com/TungSeven30/henrii-sub000/internal/services"
)

func NewServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the henrii API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

// buildServer opens and migrates the event store and returns a server bound
// to the configured port. The returned DB must be closed by the caller.
func buildServer(ctx context.Context, cfg config.ServerConfig, log *logging.Logger) (*http.Server, *db.DB, error) {
	d, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := repos.Migrate(ctx, d); err != nil {
		_ = d.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}

	events := repos.NewEventRepo(d)
	conflicts := repos.NewConflictRepo(d)
	detector := services.NewConflictDetector(events, conflicts, cfg.DuplicateWindow(), log)

	router := httpserver.NewRouter(cfg, log, httpserver.Handlers{
		Events:    handlers.NewEventHandler(services.NewEventService(events, detector, log), log),
		Mutations: handlers.NewMutationHandler(services.NewMutationService(events, conflicts, log), log),
		Conflicts: handlers.NewConflictHandler(services.NewResolutionService(conflicts, log), log),
	})
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	return srv, d, nil
}

func runServe(ctx context.Context, opts *RootOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := opts.Log
	srv, d, err := buildServer(ctx, opts.Config.Server, log)
	if err != nil {
		return err
	}
	defer d.Close()

	errCh := make(chan error, 1)
	go func() {
		log.Infof("server listening on %s (%s)", srv.Addr, d.Dialect)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)
	select {
	case <-quit:
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Infof("shutting down")
	return srv.Shutdown(shutdownCtx)
}
