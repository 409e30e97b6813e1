package handler

import (
	"context"
	"net"
	"net/http"
	"unicode/utf8"

	"github.com/koopa0/system-design/14-link-redirector/internal/auth"
	apperrors "github.com/koopa0/system-design/14-link-redirector/pkg/errors"
	"github.com/koopa0/system-design/14-link-redirector/pkg/logger"
)

type authorizedKey struct{}

type setupRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// authorized 授權中間件
//
// 在任何業務處理（包括解析請求體）之前驗證 Authorization header，
// 通過後把 auth.Authorized 放進 context。
func (h *Handler) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		values := r.Header.Values("Authorization")
		header := ""
		if len(values) > 0 {
			header = values[0]
		}

		by, err := h.guard.Check(header, len(values) > 0)
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), authorizedKey{}, by)
		ctx = logger.WithUser(ctx, by.User())
		next(w, r.WithContext(ctx))
	}
}

// authorizedFrom 取出授權中間件放入的 auth.Authorized
func authorizedFrom(ctx context.Context) (auth.Authorized, bool) {
	by, ok := ctx.Value(authorizedKey{}).(auth.Authorized)
	return by, ok
}

// token 登入並取得 token
//
// API: POST /api/token
// Headers: username, password
// Response: {"token": "..."} 或 {"error": "Username or password incorrect!"}
//
// 帳號不存在與密碼錯誤返回完全相同的回應（狀態碼 200）。
func (h *Handler) token(w http.ResponseWriter, r *http.Request) {
	username, okUser := headerValue(r, "username")
	password, okPass := headerValue(r, "password")
	if !okUser || !okPass {
		h.writeError(w, r, apperrors.New(apperrors.ErrCodeBadRequest, "username and password headers are required"))
		return
	}

	if !h.allowLogin(r) {
		h.observeLogin("rate_limited")
		h.writeError(w, r, apperrors.ErrRateLimited)
		return
	}

	token, err := h.accounts.Login(r.Context(), username, password)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.ErrCodeIncorrectAuth {
			h.observeLogin("incorrect")
			h.writeJSON(w, map[string]string{"error": auth.ErrLoginIncorrect.Message}, http.StatusOK)
			return
		}
		h.observeLogin("error")
		h.writeError(w, r, err)
		return
	}

	h.observeLogin("ok")
	h.writeJSON(w, tokenResponse{Token: token}, http.StatusOK)
}

// setup 建立帳號
//
// API: POST /api/setup
// Body: {"username": "...", "password": "..."}
// Response: {"message": "Account added!"}
func (h *Handler) setup(w http.ResponseWriter, r *http.Request) {
	by, ok := authorizedFrom(r.Context())
	if !ok {
		h.writeError(w, r, apperrors.ErrIncorrectAuth)
		return
	}

	var req setupRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.accounts.Setup(r.Context(), by, req.Username, req.Password); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, messageResponse{Message: "Account added!"}, http.StatusOK)
}

// allowLogin 以來源 IP 限流
//
// 使用者名稱由呼叫方任意指定，不能作為 key。限流器出錯時放行並記錄日誌。
func (h *Handler) allowLogin(r *http.Request) bool {
	if h.limiter == nil {
		return true
	}

	key := "login:ip:" + clientIP(r)
	allowed, err := h.limiter.Allow(r.Context(), key)
	if err != nil {
		h.logger.WarnContext(r.Context(), "rate limiter unavailable", "error", err)
		return true
	}
	if !allowed {
		h.logger.WarnContext(r.Context(), "login rate limited", "key", key)
		return false
	}
	return true
}

func (h *Handler) observeLogin(result string) {
	if h.metrics != nil {
		h.metrics.ObserveLogin(result)
	}
}

// headerValue 讀取 header，不存在或不是合法 UTF-8 時返回 false
func headerValue(r *http.Request, key string) (string, bool) {
	values := r.Header.Values(key)
	if len(values) == 0 || !utf8.ValidString(values[0]) {
		return "", false
	}
	return values[0], true
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
