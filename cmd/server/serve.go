package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"arcadepos/backend/internal/billing"
	"arcadepos/backend/internal/cache"
	"arcadepos/backend/internal/config"
	"arcadepos/backend/internal/httpapi"
	"arcadepos/backend/internal/logging"
	"arcadepos/backend/internal/metrics"
	"arcadepos/backend/internal/notify"
	"arcadepos/backend/internal/service"
	"arcadepos/backend/internal/store"
	"arcadepos/backend/internal/store/memory"
	pgstore "arcadepos/backend/internal/store/postgres"
)

type serveOptions struct {
	port    string
	migrate bool
}

func newServeCmd() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API.

Postgres is used when DATABASE_URL is set, otherwise a seeded in-memory
store. REDIS_ADDR enables shared sequence counters and PC lock/unlock
notifications over Redis pub/sub.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if opts.port != "" {
				cfg.Port = opts.port
			}
			return runServe(cmd.Context(), cfg, opts.migrate)
		},
	}
	cmd.Flags().StringVar(&opts.port, "port", "", "listen port (overrides PORT)")
	cmd.Flags().BoolVar(&opts.migrate, "migrate", false, "apply the postgres schema before serving")
	return cmd
}

// deps carries everything assembled from configuration.
type deps struct {
	repo     store.Repository
	recorder *metrics.Recorder
	options  []service.Option
	closers  []func() error
}

func (d *deps) Close() {
	log := logging.Component("main")
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close failed")
		}
	}
}

func buildDeps(ctx context.Context, cfg config.Config, migrate bool) (*deps, error) {
	log := logging.Component("main")
	d := &deps{}

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set: %w", err)
		}
		d.closers = append(d.closers, pg.Close)
		if migrate {
			if err := pg.Migrate(ctx); err != nil {
				d.Close()
				return nil, err
			}
		}
		d.repo = pg
		log.Info().Str("repository", "postgres").Msg("repository ready")
	} else {
		d.repo = memory.NewSeeded()
		log.Info().Str("repository", "memory").Msg("repository ready")
	}

	if cfg.MetricsEnabled {
		d.recorder = metrics.New()
		d.options = append(d.options, service.WithMetrics(d.recorder))
	}

	notifier := notify.Notifier(notify.LogNotifier{Logger: logging.Component("notify")})
	if cfg.RedisAddr != "" {
		counter := cache.NewRedisCounter(cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB))
		if err := counter.Ping(ctx); err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable, using repository counters and log notifications")
			_ = counter.Close()
		} else {
			d.closers = append(d.closers, counter.Close)
			d.options = append(d.options, service.WithCounter(counter))
			notifier = notify.NewRedisNotifier(counter.Client(), cfg.NotifyChannel)
			log.Info().Str("addr", cfg.RedisAddr).Msg("redis ready")
		}
	}

	d.options = append(d.options,
		service.WithNotifier(notifier),
		service.WithPolicy(billing.Policy{MinBillableMinutes: cfg.MinBillableMinutes}),
		service.WithDefaultExchangeRate(cfg.ExchangeRate),
		service.WithSequenceLocation(cfg.SequenceLocation),
	)
	return d, nil
}

func newHTTPServer(cfg config.Config, d *deps) *http.Server {
	svc := service.New(d.repo, d.options...)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, d.repo)

	var apiOpts []httpapi.Option
	if d.recorder != nil {
		apiOpts = append(apiOpts, httpapi.WithMetrics(d.recorder))
	}
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, apiOpts...)

	return &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func runServe(parent context.Context, cfg config.Config, migrate bool) error {
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}
	if parent == nil {
		parent = context.Background()
	}
	log := logging.Component("main")

	startCtx, cancel := context.WithTimeout(parent, 10*time.Second)
	d, err := buildDeps(startCtx, cfg, migrate)
	cancel()
	if err != nil {
		return err
	}
	defer d.Close()

	server := newHTTPServer(cfg, d)
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Str("version", version).Msg("arcadepos backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
	return nil
}
