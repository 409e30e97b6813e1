// Package testutils 提供整合測試用的測試容器
//
// 包括：
//   - PostgreSQL 測試容器（已套用 internal/migrations）
//   - Redis 測試容器
//
// 所有容器都會在測試結束時自動清理。`go test -short` 時直接跳過。
package testutils

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/koopa0/system-design/14-link-redirector/internal/migrations"
)

// TestEnvironment 封裝測試環境
type TestEnvironment struct {
	PostgresPool *pgxpool.Pool
	PostgresDSN  string
	RedisClient  *redis.Client
	RedisAddr    string
	Logger       *slog.Logger

	containers []tc.Container
}

// SkipIfShort 在 -short 模式下跳過整合測試
func SkipIfShort(t testing.TB) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

// NewEnvironment 建立空的測試環境
//
//	env := testutils.NewEnvironment(t)
//	env.StartPostgres(t)
func NewEnvironment(t testing.TB) *TestEnvironment {
	t.Helper()
	SkipIfShort(t)

	env := &TestEnvironment{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	t.Cleanup(env.Cleanup)
	return env
}

// StartPostgres 啟動 PostgreSQL 測試容器並執行遷移
func (env *TestEnvironment) StartPostgres(t testing.TB) {
	t.Helper()

	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpass"),
		tc.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	env.containers = append(env.containers, pgContainer)

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}
	env.PostgresDSN = dsn

	m, err := migrations.New(dsn, env.Logger)
	if err != nil {
		t.Fatalf("failed to create migrator: %v", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("failed to parse postgres config: %v", err)
	}
	config.MaxConns = 10
	config.MinConns = 2

	env.PostgresPool, err = pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		t.Fatalf("failed to create postgres pool: %v", err)
	}
	if err := env.PostgresPool.Ping(ctx); err != nil {
		t.Fatalf("failed to ping postgres: %v", err)
	}
}

// StartRedis 啟動 Redis 測試容器
func (env *TestEnvironment) StartRedis(t testing.TB) {
	t.Helper()

	ctx := context.Background()

	redisContainer, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	env.containers = append(env.containers, redisContainer)

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}
	env.RedisAddr = endpoint

	env.RedisClient = redis.NewClient(&redis.Options{
		Addr:         endpoint,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := env.RedisClient.Ping(pingCtx).Err(); err != nil {
		t.Fatalf("failed to ping redis: %v", err)
	}
}

// TruncateTables 清空所有資料表（用於子測試之間的清理）
func (env *TestEnvironment) TruncateTables(t testing.TB) {
	t.Helper()

	if _, err := env.PostgresPool.Exec(context.Background(), `TRUNCATE TABLE links, accounts`); err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
}

// Cleanup 清理測試環境
func (env *TestEnvironment) Cleanup() {
	ctx := context.Background()

	if env.RedisClient != nil {
		_ = env.RedisClient.Close()
	}
	if env.PostgresPool != nil {
		env.PostgresPool.Close()
	}
	for _, c := range env.containers {
		_ = c.Terminate(ctx)
	}
	env.containers = nil
}
