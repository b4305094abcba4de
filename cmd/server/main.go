// Command server runs the service registry HTTP API.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	app "github.com/cuidalink/service-registry/internal/app"
	"github.com/cuidalink/service-registry/internal/app/httpapi"
	"github.com/cuidalink/service-registry/internal/app/ledger"
	"github.com/cuidalink/service-registry/internal/app/metrics"
	"github.com/cuidalink/service-registry/internal/app/storage/postgres"
	"github.com/cuidalink/service-registry/internal/config"
	"github.com/cuidalink/service-registry/internal/middleware"
	"github.com/cuidalink/service-registry/internal/platform/migrations"
	"github.com/cuidalink/service-registry/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
		Name:   "service-registry",
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, closeDB, err := buildStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	if closeDB != nil {
		defer closeDB()
	}

	ldg, err := buildLedger(cfg, log)
	if err != nil {
		return err
	}

	application, err := app.New(stores, app.Options{
		Variant:         cfg.Variant(),
		Ledger:          ldg,
		StatsInterval:   cfg.Registry.StatsInterval,
		EventBufferSize: cfg.Registry.EventBufferSize,
	}, log)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start application: %w", err)
	}

	if err := seedStateURIs(ctx, cfg, application); err != nil {
		return err
	}

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst, log)
	if err := limiter.Start(ctx); err != nil {
		return fmt.Errorf("start rate limiter: %w", err)
	}
	handler := metrics.InstrumentHandler(limiter.Handler(httpapi.NewHandler(application)))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown")
	}
	if err := limiter.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("rate limiter shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application shutdown")
	}
	return nil
}

func buildStores(ctx context.Context, cfg config.Config, log *logger.Logger) (app.Stores, func(), error) {
	if cfg.Database.URL == "" {
		log.Info("no database configured; using in-memory store")
		return app.Stores{}, nil, nil
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return app.Stores{}, nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return app.Stores{}, nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrations.Apply(ctx, db); err != nil {
		db.Close()
		return app.Stores{}, nil, fmt.Errorf("apply migrations: %w", err)
	}

	store := postgres.New(db)
	log.Info("postgres store ready")
	return app.Stores{Tokens: store, URIs: store}, func() { db.Close() }, nil
}

func buildLedger(cfg config.Config, log *logger.Logger) (ledger.Ledger, error) {
	if cfg.Ledger.Mode == "rpc" {
		client, err := ledger.NewRPCClient(ledger.RPCConfig{
			RPCURL:  cfg.Ledger.RPCURL,
			Timeout: cfg.Ledger.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("build ledger client: %w", err)
		}
		log.WithField("url", cfg.Ledger.RPCURL).Info("using remote ownership ledger")
		return client, nil
	}
	log.Warn("using in-memory ownership ledger; holdings do not survive restarts")
	return ledger.NewMemory(), nil
}

func seedStateURIs(ctx context.Context, cfg config.Config, application *app.Application) error {
	if cfg.Registry.StateURIFile == "" {
		return nil
	}
	uris, err := config.LoadStateURIs(cfg.Registry.StateURIFile, cfg.Variant())
	if err != nil {
		return fmt.Errorf("load state uris: %w", err)
	}
	for st, uri := range uris {
		if err := application.Registry.ConfigureStateURI(ctx, st, uri); err != nil {
			return fmt.Errorf("seed state uri: %w", err)
		}
	}
	return nil
}
