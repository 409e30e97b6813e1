// Package handler 實現 HTTP 請求處理
//
// 路由（Go 1.22+ ServeMux 方法與路徑參數）：
//
//	GET    /{code}       重定向（308）
//	GET    /             內建首頁，或 308 到設定的 root
//	GET    /api/list     列出所有連結          （需授權）
//	POST   /api/add      新增連結（201）       （需授權）
//	PUT    /api/edit     修改連結              （需授權）
//	DELETE /api/delete   刪除連結              （需授權）
//	POST   /api/token    以 username/password header 取得 token
//	POST   /api/setup    建立帳號              （需授權）
//	GET    /health, /ready, /metrics
//
// 中間件鏈：recovery → request id → 日誌/指標 → （授權）→ 業務處理
package handler

import (
	"context"
	_ "embed"
	"log/slog"
	"net/http"

	"github.com/koopa0/system-design/14-link-redirector/internal/auth"
	"github.com/koopa0/system-design/14-link-redirector/internal/links"
	"github.com/koopa0/system-design/14-link-redirector/internal/metrics"
	"github.com/koopa0/system-design/14-link-redirector/internal/ratelimit"
	apperrors "github.com/koopa0/system-design/14-link-redirector/pkg/errors"
)

//go:embed static/root.html
var rootPage []byte

// maxBodyBytes 管理 API 請求體上限
const maxBodyBytes = 1 << 20

// Checker 就緒檢查（例如資料庫 Ping）
type Checker func(ctx context.Context) error

// Config Handler 的依賴
type Config struct {
	Links    *links.Service
	Accounts *auth.Accounts
	Guard    *auth.Guard

	// 以下皆為可選
	Limiter ratelimit.Limiter
	Metrics *metrics.Metrics
	Checks  map[string]Checker
	// Root 非空時 GET / 以 308 導向此處
	Root   string
	Logger *slog.Logger
}

// Handler HTTP 處理器
//
// Go 慣用法：
//   - 依賴注入（service、accounts、guard、logger）
//   - 方法接收器提供 HTTP handler 函數
type Handler struct {
	links    *links.Service
	accounts *auth.Accounts
	guard    *auth.Guard
	limiter  ratelimit.Limiter
	metrics  *metrics.Metrics
	checks   map[string]Checker
	root     string
	logger   *slog.Logger
}

// New 創建 Handler 實例
func New(cfg Config) (*Handler, error) {
	switch {
	case cfg.Links == nil:
		return nil, apperrors.Uninitialized("link service")
	case cfg.Accounts == nil:
		return nil, apperrors.Uninitialized("account service")
	case cfg.Guard == nil:
		return nil, apperrors.Uninitialized("authorization guard")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		links:    cfg.Links,
		accounts: cfg.Accounts,
		guard:    cfg.Guard,
		limiter:  cfg.Limiter,
		metrics:  cfg.Metrics,
		checks:   cfg.Checks,
		root:     cfg.Root,
		logger:   logger.With("component", "http"),
	}, nil
}

// Routes 設置路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 重定向（核心功能），不加前綴
	mux.HandleFunc("GET /{code}", h.wrap(h.redirect))
	mux.HandleFunc("GET /{$}", h.wrap(h.rootPage))

	// 管理 API
	mux.HandleFunc("GET /api/list", h.wrap(h.authorized(h.list)))
	mux.HandleFunc("POST /api/add", h.wrap(h.authorized(h.add)))
	mux.HandleFunc("PUT /api/edit", h.wrap(h.authorized(h.edit)))
	mux.HandleFunc("DELETE /api/delete", h.wrap(h.authorized(h.delete)))

	// 帳號
	mux.HandleFunc("POST /api/token", h.wrap(h.token))
	mux.HandleFunc("POST /api/setup", h.wrap(h.authorized(h.setup)))

	// 健康檢查
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /ready", h.ready)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
	}

	return mux
}

// health 存活檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// ready 就緒檢查：所有依賴都可用才返回 200
func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	status := make(map[string]string, len(h.checks))
	healthy := true

	for name, check := range h.checks {
		if err := check(r.Context()); err != nil {
			h.logger.WarnContext(r.Context(), "readiness check failed", "check", name, "error", err)
			status[name] = "unavailable"
			healthy = false
			continue
		}
		status[name] = "ok"
	}

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	h.writeJSON(w, map[string]any{"ready": healthy, "checks": status}, code)
}
