package handler

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/koopa0/system-design/14-link-redirector/pkg/logger"
)

// RequestIDHeader 請求 ID header
const RequestIDHeader = "X-Request-ID"

// wrap 應用中間件鏈
//
// recovery 在最外層，捕獲所有 panic。
func (h *Handler) wrap(next http.HandlerFunc) http.HandlerFunc {
	return h.recovery(h.requestID(h.logRequest(next)))
}

// requestID 沿用上游的 X-Request-ID，沒有則產生 UUID
func (h *Handler) requestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	}
}

// logRequest 記錄請求日誌與延遲指標
func (h *Handler) logRequest(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next(wrapped, r)

		duration := time.Since(start)
		if h.metrics != nil {
			h.metrics.ObserveRequest(r.Method, r.Pattern, wrapped.statusCode, duration)
		}

		// 重定向是熱路徑，降到 DEBUG
		level := h.logger.InfoContext
		if wrapped.statusCode == http.StatusPermanentRedirect {
			level = h.logger.DebugContext
		}
		level(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", duration,
			"ip", clientIP(r),
		)
	}
}

// recovery 恢復 panic
func (h *Handler) recovery(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.ErrorContext(r.Context(), "panic recovered",
					"error", err,
					"path", r.URL.Path,
				)
				h.writeJSON(w, errorResponse{Error: "internal server error"}, http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 http.ResponseWriter 以捕獲狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

// WriteHeader 攔截狀態碼
func (w *responseWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
		w.ResponseWriter.WriteHeader(code)
	}
}

// Write 確保 WriteHeader 被調用
func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap 讓 http.ResponseController 取得底層 writer
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
