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
	"golang.org/x/sync/errgroup"

	"github.com/pandeptwidyaop/leadflow/internal/db"
	"github.com/pandeptwidyaop/leadflow/internal/server/dispatch"
	"github.com/pandeptwidyaop/leadflow/internal/server/ingest"
	"github.com/pandeptwidyaop/leadflow/internal/server/pipeline"
	"github.com/pandeptwidyaop/leadflow/internal/server/queue"
	tlsmanager "github.com/pandeptwidyaop/leadflow/internal/server/tls"
	"github.com/pandeptwidyaop/leadflow/internal/server/web/api"
	"github.com/pandeptwidyaop/leadflow/internal/version"
	"github.com/pandeptwidyaop/leadflow/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ingestion server",
	Long:  `Start the webhook receiver, tenant API, queue workers, pending sweeper and stuck-lead reaper.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServer(ctx)
	},
}

func runServer(ctx context.Context) error {
	cfg, database, err := bootstrap()
	if err != nil {
		return err
	}

	info := version.GetVersion()
	logger.InfoEvent().
		Str("version", info.Version).
		Str("git_commit", info.GitCommit).
		Str("build_date", info.BuildDate).
		Msg("Starting leadflow server")

	if err := db.AutoMigrate(database); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.InfoEvent().Msg("Database migrations completed")

	events := newEvents()
	processor := newProcessor(cfg, database, events)

	sqlDB, err := database.DB()
	if err != nil {
		return fmt.Errorf("failed to get database handle: %w", err)
	}

	q, err := queue.Build(cfg.Queue.DSN, processor.HandleJob, queue.Options{
		Workers:           cfg.Queue.Workers,
		MaxRetries:        cfg.Queue.MaxRetries,
		InitialBackoff:    cfg.Queue.InitialBackoff,
		MaxBackoff:        cfg.Queue.MaxBackoff,
		Capacity:          cfg.Queue.Capacity,
		DB:                sqlDB,
		PollInterval:      cfg.Queue.PollInterval,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		Token:             cfg.Queue.Token,
	})
	if err != nil {
		return err
	}

	store := ingest.NewStore(database)
	dispatcher := dispatch.NewDispatcher(q, store, events, dispatch.Options{
		MaxRetries:        cfg.Queue.MaxRetries,
		StalePendingAfter: cfg.Queue.StalePendingAfter,
		SweepBatch:        cfg.Queue.SweepBatch,
	})
	reaper := pipeline.NewReaper(store, dispatcher, events, cfg.Pipeline.StuckAfter, cfg.Pipeline.ReapBatch)

	apiHandler := api.NewHandler(database, cfg, api.Services{
		Processor:  processor,
		Dispatcher: dispatcher,
		Events:     events,
	})
	defer apiHandler.Close()

	tlsMgr, err := tlsmanager.NewManager(tlsmanager.Config{
		AutoCert: cfg.TLS.AutoCert,
		CertDir:  cfg.TLS.CertDir,
		Domain:   cfg.TLS.Domain,
		Email:    cfg.TLS.Email,
		CertFile: cfg.TLS.CertFile,
		KeyFile:  cfg.TLS.KeyFile,
	})
	if err != nil {
		return fmt.Errorf("failed to setup TLS: %w", err)
	}

	router := apiHandler.Router()
	httpServer := newHTTPServer(cfg.Server.HTTPPort, tlsMgr.HTTPHandler(router))

	var httpsServer *http.Server
	if tlsMgr.IsEnabled() {
		httpsServer = newHTTPServer(cfg.Server.HTTPSPort, router)
		httpsServer.TLSConfig = tlsMgr.TLSConfig()
		logger.InfoEvent().
			Bool("auto_cert", tlsMgr.IsAutoCert()).
			Str("domain", cfg.TLS.Domain).
			Msg("TLS enabled")
	}

	g, gctx := errgroup.WithContext(ctx)

	if httpsServer != nil {
		g.Go(func() error {
			logger.InfoEvent().Str("addr", httpsServer.Addr).Msg("HTTPS server listening")
			if err := httpsServer.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("https server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		logger.InfoEvent().Str("addr", httpServer.Addr).Str("queue", cfg.Queue.DSN).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		pipeline.Every(gctx, cfg.Queue.SweepInterval, "sweeper", dispatcher.Sweep)
		return nil
	})

	g.Go(func() error {
		pipeline.Every(gctx, cfg.Pipeline.ReapInterval, "reaper", reaper.Run)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.InfoEvent().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.ErrorEvent().Err(err).Msg("HTTP server shutdown error")
		}
		if httpsServer != nil {
			if err := httpsServer.Shutdown(shutdownCtx); err != nil {
				logger.ErrorEvent().Err(err).Msg("HTTPS server shutdown error")
			}
		}

		// Workers finish their current job. Jobs still queued in memory stay
		// pending for the next sweep; table-backed jobs wait for the next start.
		if err := q.Close(); err != nil {
			logger.ErrorEvent().Err(err).Msg("Queue shutdown error")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.InfoEvent().Msg("Server stopped")
	return nil
}

func newHTTPServer(port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No WriteTimeout: /api/events streams indefinitely.
	}
}
