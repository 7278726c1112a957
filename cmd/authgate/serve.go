// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthGate Contributors

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/authgate/authgate/internal/auth"
	"github.com/authgate/authgate/internal/auth/postgres"
	"github.com/authgate/authgate/internal/config"
	"github.com/authgate/authgate/internal/events"
	"github.com/authgate/authgate/internal/logging"
	"github.com/authgate/authgate/internal/observability"
	"github.com/authgate/authgate/internal/store"
	"github.com/authgate/authgate/internal/web"
)

const serviceName = "authgate"

// Database is the connection pool serve runs on. *pgxpool.Pool satisfies it.
type Database interface {
	postgres.Querier
	Ping(ctx context.Context) error
	Close()
}

// Publisher delivers registration events and flushes them on Close.
type Publisher interface {
	auth.EventPublisher
	Close() error
}

// AutoMigrator applies pending migrations at startup.
type AutoMigrator interface {
	Up() error
	Close() error
}

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// DatabaseFactory opens the connection pool.
	// Default: store.OpenPool
	DatabaseFactory func(ctx context.Context, url string, opts store.PoolOptions) (Database, error)

	// MigratorFactory opens the migrator used with --auto-migrate.
	// Default: store.NewMigrator
	MigratorFactory func(url string) (AutoMigrator, error)

	// PublisherFactory creates the event publisher when brokers are configured.
	// Default: events.NewKafkaPublisher
	PublisherFactory func(brokers []string, topic string, logger *slog.Logger) (Publisher, error)

	// TracingSetup installs the tracer provider.
	// Default: observability.SetupTracing
	TracingSetup func(ctx context.Context, opts observability.TracingOptions) (observability.ShutdownFunc, error)

	// Ready is called once every listener is accepting connections.
	Ready func(apiAddr, metricsAddr string)
}

func (d *ServeDeps) setDefaults() {
	if d.DatabaseFactory == nil {
		d.DatabaseFactory = func(ctx context.Context, url string, opts store.PoolOptions) (Database, error) {
			return store.OpenPool(ctx, url, opts)
		}
	}
	if d.MigratorFactory == nil {
		d.MigratorFactory = func(url string) (AutoMigrator, error) {
			return store.NewMigrator(url)
		}
	}
	if d.PublisherFactory == nil {
		d.PublisherFactory = func(brokers []string, topic string, logger *slog.Logger) (Publisher, error) {
			return events.NewKafkaPublisher(brokers, topic, logger)
		}
	}
	if d.TracingSetup == nil {
		d.TracingSetup = observability.SetupTracing
	}
	if d.Ready == nil {
		d.Ready = func(string, string) {}
	}
}

// serveOptions holds flags that are not part of config.Config.
type serveOptions struct {
	autoMigrate bool
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the authentication API",
		Long: `Start the HTTP API serving /auth/token, /auth/register, /auth/logout
and /auth/me, plus the metrics and health listener.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, true)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, opts, nil)
		},
	}

	cmd.Flags().String("addr", ":8080", "API listen address")
	cmd.Flags().String("metrics-addr", ":9100", "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().BoolVar(&opts.autoMigrate, "auto-migrate", true, "apply pending migrations before serving")

	return cmd
}

// runServeWithDeps runs the API until ctx is cancelled or SIGINT/SIGTERM
// arrives. If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg config.Config, opts *serveOptions, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	deps.setDefaults()

	logger := logging.SetDefault(logging.Options{
		Service: serviceName,
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
	})
	logger.Info("starting authgate", "config", cfg)

	shutdownTracing, err := deps.TracingSetup(ctx, observability.TracingOptions{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: serviceName,
		Version:     version,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return err
	}
	defer func() {
		if shutdownErr := shutdownTracing(context.Background()); shutdownErr != nil {
			logger.Warn("failed to flush traces", "error", shutdownErr)
		}
	}()

	databaseURL, err := getDatabaseURL(cfg)
	if err != nil {
		return err
	}

	if opts != nil && opts.autoMigrate {
		if err := autoMigrate(deps, databaseURL, logger); err != nil {
			return err
		}
	}

	db, err := deps.DatabaseFactory(ctx, databaseURL, store.PoolOptions{MaxConns: cfg.Database.MaxConns})
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("connected to database")

	var publisher Publisher
	if len(cfg.Events.Brokers) > 0 {
		publisher, err = deps.PublisherFactory(cfg.Events.Brokers, cfg.Events.Topic, logger)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := publisher.Close(); closeErr != nil {
				logger.Warn("failed to close event publisher", "error", closeErr)
			}
		}()
	}

	router, registry, err := buildRouter(cfg, db, publisher, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	api := web.NewServer(cfg.Server.Addr, router, cfg.Server.ReadHeaderTimeout, logger)
	apiErrCh, err := api.Start()
	if err != nil {
		return err
	}
	go monitorServerErrors(ctx, cancel, apiErrCh, "api", logger)

	var obsServer *observability.Server
	if cfg.Metrics.Addr != "" {
		obsServer = observability.NewServer(cfg.Metrics.Addr, registry, store.ReadinessCheck(db), logger)
		obsErrCh, startErr := obsServer.Start()
		if startErr != nil {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer stopCancel()
			if stopErr := api.Stop(stopCtx); stopErr != nil {
				logger.Warn("failed to stop api server during cleanup", "error", stopErr)
			}
			return startErr
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability", logger)
	}

	metricsAddr := ""
	if obsServer != nil {
		metricsAddr = obsServer.Addr()
	}
	logger.Info("authgate ready", "addr", api.Addr(), "metrics_addr", metricsAddr)
	deps.Ready(api.Addr(), metricsAddr)

	<-ctx.Done()
	logger.Info("shutting down")

	if obsServer != nil {
		obsServer.Drain()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if stopErr := api.Stop(shutdownCtx); stopErr != nil {
		logger.Warn("error stopping api server", "error", stopErr)
	}
	if obsServer != nil {
		if stopErr := obsServer.Stop(shutdownCtx); stopErr != nil {
			logger.Warn("error stopping observability server", "error", stopErr)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// buildRouter assembles the auth service and its HTTP surface on db.
func buildRouter(cfg config.Config, db Database, publisher Publisher, logger *slog.Logger) (http.Handler, *prometheus.Registry, error) {
	hasher, err := auth.NewPasswordHasher(cfg.Password.Algorithm, cfg.Password.BcryptCost)
	if err != nil {
		return nil, nil, err
	}
	codec, err := auth.NewTokenCodec(cfg.TokenConfig())
	if err != nil {
		return nil, nil, err
	}

	serviceOpts := []auth.ServiceOption{auth.WithLogger(logger)}
	if publisher != nil {
		serviceOpts = append(serviceOpts, auth.WithEventPublisher(publisher))
	}
	service, err := auth.NewAuthService(postgres.NewUserRepository(db), hasher, codec, serviceOpts...)
	if err != nil {
		return nil, nil, err
	}

	resolver, err := auth.NewSessionResolver(codec, auth.TokenSource(cfg.Auth.TokenSource), cfg.Auth.CookieName)
	if err != nil {
		return nil, nil, err
	}

	registry := observability.NewRegistry()
	router, err := web.NewRouter(web.Deps{
		Service:      service,
		Resolver:     resolver,
		Metrics:      observability.NewMetrics(registry),
		Logger:       logger,
		CookieSecure: cfg.Auth.CookieSecure,
		ServiceName:  serviceName,
	})
	if err != nil {
		return nil, nil, err
	}
	return router, registry, nil
}

func autoMigrate(deps *ServeDeps, databaseURL string, logger *slog.Logger) (err error) {
	m, err := deps.MigratorFactory(databaseURL)
	if err != nil {
		return oops.With("operation", "open migrator").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			logger.Warn("failed to close migrator", "error", closeErr)
		}
	}()

	if err := m.Up(); err != nil {
		return oops.With("operation", "auto-migrate").Wrap(err)
	}
	logger.Info("database schema is up to date")
	return nil
}

// monitorServerErrors cancels ctx when a server reports a serve error. It
// exits when the channel closes or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown", "server", serverName, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
