package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/koopa0/system-design/14-link-redirector/pkg/errors"
)

// errorResponse 統一的錯誤格式
type errorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// writeJSON 寫入 JSON 響應
func (h *Handler) writeJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("encode json failed", "error", err)
	}
}

// writeError 依錯誤碼寫入錯誤響應
//
// 5xx 記錄為 ERROR；內部錯誤的細節不回傳給客戶端。
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	resp := errorResponse{Error: "internal server error", Code: apperrors.ErrCodeInternal}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		resp = errorResponse{Error: appErr.Message, Code: appErr.Code}
		if status < http.StatusInternalServerError {
			resp.Details = appErr.Details
		}
	}

	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"code", resp.Code,
			"error", err,
		)
	}

	h.writeJSON(w, resp, status)
}

// decodeJSON 解析請求體
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeBadRequest, "invalid request body")
	}
	return nil
}
