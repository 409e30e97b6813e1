// Package config 載入服務配置（YAML 檔案 + 環境變數覆蓋）
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath 未設定 CONFIG_PATH 時讀取的檔案
const DefaultPath = "config.yaml"

// Config 整個應用的配置
type Config struct {
	Server struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Postgres struct {
		URL      string `yaml:"url"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		DBName   string `yaml:"dbname"`
		SSLMode  string `yaml:"sslmode"`
		MaxConns int32  `yaml:"max_conns"`
		MinConns int32  `yaml:"min_conns"`
	} `yaml:"postgres"`

	Redis struct {
		// Addr 為空時登入限流改用進程內令牌桶
		Addr         string        `yaml:"addr"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db"`
		PoolSize     int           `yaml:"pool_size"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"redis"`

	NATS struct {
		// URL 為空時不發布事件
		URL     string        `yaml:"url"`
		Stream  string        `yaml:"stream"`
		MaxAge  time.Duration `yaml:"max_age"`
		Storage string        `yaml:"storage"`
	} `yaml:"nats"`

	Links struct {
		// Disallowed 保留短碼，不能被新增
		Disallowed []string `yaml:"disallowed"`
		// Root 非空時 GET / 以 308 導向此處，否則顯示內建首頁
		Root        string `yaml:"root"`
		CacheShards int    `yaml:"cache_shards"`
		LockStripes int    `yaml:"lock_stripes"`
	} `yaml:"links"`

	Auth struct {
		TokenShards int `yaml:"token_shards"`
		// 每個使用者名稱的登入嘗試令牌桶
		LoginBurst int64   `yaml:"login_burst"`
		LoginRate  float64 `yaml:"login_rate"`
	} `yaml:"auth"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"log"`
}

// Load 讀取 YAML 配置並套用環境變數覆蓋與預設值
//
// 檔案不存在時只使用預設值與環境變數（12-factor 部署常見）。
func Load(path string) (*Config, error) {
	if path == "" {
		path = getEnv("CONFIG_PATH", DefaultPath)
	}

	cfg := &Config{}

	// #nosec G304 - 路徑來自啟動參數
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.Defaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 環境變數覆蓋
func (c *Config) applyEnv() {
	c.Postgres.URL = getEnv("DATABASE_URL", c.Postgres.URL)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.Links.Root = getEnv("ROOT_REDIRECT", c.Links.Root)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)

	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("DISALLOWED_LINKS"); v != "" {
		c.Links.Disallowed = strings.Split(v, ",")
	}
}

// Defaults 填入零值欄位的預設值
func (c *Config) Defaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.DBName == "" {
		c.Postgres.DBName = "redirector"
	}
	if c.Postgres.SSLMode == "" {
		c.Postgres.SSLMode = "disable"
	}
	if c.Postgres.MaxConns == 0 {
		c.Postgres.MaxConns = 10
	}
	if c.Postgres.MinConns == 0 {
		c.Postgres.MinConns = 2
	}

	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 100 * time.Millisecond
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 100 * time.Millisecond
	}

	if c.NATS.Stream == "" {
		c.NATS.Stream = "LINKS"
	}
	if c.NATS.MaxAge == 0 {
		c.NATS.MaxAge = 7 * 24 * time.Hour
	}
	if c.NATS.Storage == "" {
		c.NATS.Storage = "file"
	}

	if c.Links.Disallowed == nil {
		c.Links.Disallowed = []string{"api", "health", "ready", "metrics", "favicon.ico"}
	}

	if c.Auth.LoginBurst == 0 {
		c.Auth.LoginBurst = 5
	}
	if c.Auth.LoginRate == 0 {
		c.Auth.LoginRate = 0.1
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// Validate 檢查配置是否合法
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Postgres.MinConns > c.Postgres.MaxConns {
		errs = append(errs, fmt.Errorf("postgres.min_conns (%d) > max_conns (%d)", c.Postgres.MinConns, c.Postgres.MaxConns))
	}
	if c.Postgres.URL != "" {
		if u, err := url.Parse(c.Postgres.URL); err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
			errs = append(errs, fmt.Errorf("postgres.url must be a postgres:// URL"))
		}
	}
	if c.Links.Root != "" && strings.ContainsAny(c.Links.Root, "\r\n") {
		errs = append(errs, fmt.Errorf("links.root must not contain line breaks"))
	}
	for _, code := range c.Links.Disallowed {
		if strings.Contains(code, "/") {
			errs = append(errs, fmt.Errorf("links.disallowed entry %q must not contain '/'", code))
		}
	}
	if c.Auth.LoginBurst < 0 || c.Auth.LoginRate < 0 {
		errs = append(errs, fmt.Errorf("auth login limits must not be negative"))
	}
	switch c.NATS.Storage {
	case "file", "memory":
	default:
		errs = append(errs, fmt.Errorf("nats.storage must be file or memory, got %q", c.NATS.Storage))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// PostgresDSN 生成 PostgreSQL 連線 URL
//
// 使用 URL 形式，pgxpool 與 golang-migrate 都能解析。
func (c *Config) PostgresDSN() string {
	if c.Postgres.URL != "" {
		return c.Postgres.URL
	}

	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(c.Postgres.Host, strconv.Itoa(c.Postgres.Port)),
		Path:     "/" + c.Postgres.DBName,
		RawQuery: url.Values{"sslmode": []string{c.Postgres.SSLMode}}.Encode(),
	}
	switch {
	case c.Postgres.User != "" && c.Postgres.Password != "":
		u.User = url.UserPassword(c.Postgres.User, c.Postgres.Password)
	case c.Postgres.User != "":
		u.User = url.User(c.Postgres.User)
	}
	return u.String()
}

// Addr 返回 HTTP 監聽位址
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Server.Port)
}

// getEnv 讀取環境變數，未設定時返回預設值
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
