package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/koopa0/system-design/14-link-redirector/internal/auth"
	"github.com/koopa0/system-design/14-link-redirector/internal/config"
	"github.com/koopa0/system-design/14-link-redirector/internal/events"
	"github.com/koopa0/system-design/14-link-redirector/internal/handler"
	"github.com/koopa0/system-design/14-link-redirector/internal/links"
	"github.com/koopa0/system-design/14-link-redirector/internal/metrics"
	"github.com/koopa0/system-design/14-link-redirector/internal/migrations"
	"github.com/koopa0/system-design/14-link-redirector/internal/ratelimit"
	"github.com/koopa0/system-design/14-link-redirector/internal/storage"
	"github.com/koopa0/system-design/14-link-redirector/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default $CONFIG_PATH or ./config.yaml)")
	migrateDown := flag.Bool("migrate-down", false, "roll back all migrations and exit")
	flag.Parse()

	if err := run(*configPath, *migrateDown); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, migrateDown bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(logger.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	ctx := context.Background()

	// 資料庫遷移
	migrator, err := migrations.New(cfg.PostgresDSN(), log)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer func() {
		if err := migrator.Close(); err != nil {
			log.Warn("close migrator failed", "error", err)
		}
	}()

	if migrateDown {
		if err := migrator.Down(); err != nil {
			return err
		}
		log.Info("all migrations rolled back")
		return nil
	}
	if err := migrator.Up(); err != nil {
		return err
	}

	// 連接 PostgreSQL
	pgConfig, err := pgxpool.ParseConfig(cfg.PostgresDSN())
	if err != nil {
		return fmt.Errorf("parse postgres config: %w", err)
	}
	pgConfig.MaxConns = cfg.Postgres.MaxConns
	pgConfig.MinConns = cfg.Postgres.MinConns

	pool, err := pgxpool.NewWithConfig(ctx, pgConfig)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	store, err := storage.NewPostgres(pool)
	if err != nil {
		return err
	}
	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}

	checks := map[string]handler.Checker{"postgres": store.Ping, "schema": migrator.Check}
	m := metrics.New()

	// 登入限流：有 Redis 時跨實例共享，否則進程內
	var limiter ratelimit.Limiter = ratelimit.NewLocal(cfg.Auth.LoginBurst, cfg.Auth.LoginRate)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unavailable, login rate limit falls back to allow", "addr", cfg.Redis.Addr, "error", err)
		}
		limiter = ratelimit.NewDistributed(rdb, "redirector:ratelimit:", cfg.Auth.LoginBurst, cfg.Auth.LoginRate)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	// 連結服務
	opts := []links.Option{links.WithRecorder(m)}
	if cfg.Links.LockStripes > 0 {
		opts = append(opts, links.WithLockStripes(cfg.Links.LockStripes))
	}
	if cfg.NATS.URL != "" {
		publisher, err := events.Connect(events.Config{
			URL:      cfg.NATS.URL,
			Stream:   cfg.NATS.Stream,
			Subjects: []string{"links.>"},
			MaxAge:   cfg.NATS.MaxAge,
			Storage:  cfg.NATS.Storage,
		}, log)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer publisher.Close()
		opts = append(opts, links.WithPublisher(publisher))
	}

	disallowed := links.NewDisallowed(cfg.Links.Disallowed)
	svc, err := links.NewService(store, links.NewCache(cfg.Links.CacheShards), disallowed, log, opts...)
	if err != nil {
		return err
	}
	if err := svc.Warm(ctx); err != nil {
		return fmt.Errorf("warm link cache: %w", err)
	}

	// 授權
	tokens := auth.NewTokens(cfg.Auth.TokenShards)
	accounts, err := auth.NewAccounts(store, tokens, log)
	if err != nil {
		return err
	}
	guard, err := auth.NewGuard(tokens)
	if err != nil {
		return err
	}

	bootstrap, err := accounts.Bootstrap(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	if bootstrap != "" {
		log.Warn("no accounts exist; use this token with POST /api/setup to create the first account",
			"bootstrap_token", bootstrap)
	}

	h, err := handler.New(handler.Config{
		Links:    svc,
		Accounts: accounts,
		Guard:    guard,
		Limiter:  limiter,
		Metrics:  m,
		Checks:   checks,
		Root:     cfg.Links.Root,
		Logger:   log,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      h.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(log.Handler(), slog.LevelWarn),
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("starting server", "addr", srv.Addr, "disallowed", disallowed.Len())
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}

	case sig := <-shutdown:
		log.Info("shutdown signal received", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error("failed to shutdown server", "error", err)
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("failed to force close server", "error", closeErr)
			}
		}
	}

	log.Info("server stopped")
	return nil
}
