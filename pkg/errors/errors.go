// Package errors 提供應用程式錯誤處理
//
// 所有核心錯誤都以 AppError 表示，HTTP 邊界依 Code 決定狀態碼。
// 核心內部不做任何自動重試，重試（如果有）屬於呼叫方。
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// 定義錯誤碼
const (
	// ErrCodeBadRequest 請求格式錯誤（例如缺少 Authorization header）
	ErrCodeBadRequest = "BAD_REQUEST"
	// ErrCodeIncorrectAuth token 不存在於 Token Store
	ErrCodeIncorrectAuth = "INCORRECT_AUTH"
	// ErrCodeNotFound 資源未找到
	ErrCodeNotFound = "NOT_FOUND"
	// ErrCodeConflict 資源已存在或為保留短碼
	ErrCodeConflict = "CONFLICT"
	// ErrCodeInvalidRedirectTarget 儲存的目的地無法作為 Location header
	ErrCodeInvalidRedirectTarget = "INVALID_REDIRECT_TARGET"
	// ErrCodeUnavailable 持久化儲存不可用
	ErrCodeUnavailable = "SERVICE_UNAVAILABLE"
	// ErrCodeUninitialized 必要的元件未初始化（程式或配置錯誤）
	ErrCodeUninitialized = "UNINITIALIZED"
	// ErrCodeConsistencyViolation 快取與資料庫狀態分歧
	ErrCodeConsistencyViolation = "CONSISTENCY_VIOLATION"
	// ErrCodeRateLimited 登入嘗試過於頻繁
	ErrCodeRateLimited = "RATE_LIMITED"
	// ErrCodeInternal 內部錯誤
	ErrCodeInternal = "INTERNAL_ERROR"
)

// AppError 應用程式錯誤
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 實現 errors.Is（以錯誤碼比對）
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New 創建新的應用程式錯誤
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包裝錯誤
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails 返回帶有詳細資訊的副本
//
// 預定義錯誤是共享的，因此不能就地修改。
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// 預定義錯誤
var (
	// ErrMissingAuthorization 缺少或無法解析 Authorization header
	ErrMissingAuthorization = New(ErrCodeBadRequest, "missing authorization header")

	// ErrIncorrectAuth token 不正確
	ErrIncorrectAuth = New(ErrCodeIncorrectAuth, "incorrect authorization")

	// ErrLinkNotFound 短碼不存在
	ErrLinkNotFound = New(ErrCodeNotFound, "link not found")

	// ErrLinkConflict 短碼已存在或為保留短碼
	ErrLinkConflict = New(ErrCodeConflict, "link already exists or is reserved")

	// ErrAccountConflict 使用者名稱已存在
	ErrAccountConflict = New(ErrCodeConflict, "account already exists")

	// ErrInvalidRedirectTarget 目的地不是合法的 header 值
	ErrInvalidRedirectTarget = New(ErrCodeInvalidRedirectTarget, "stored destination is not a valid redirect target")

	// ErrDatabaseUnavailable 資料庫不可用
	ErrDatabaseUnavailable = New(ErrCodeUnavailable, "database service unavailable")

	// ErrConsistencyViolation 受影響行數與預期不符
	ErrConsistencyViolation = New(ErrCodeConsistencyViolation, "cache and durable store diverged")

	// ErrRateLimited 登入嘗試過於頻繁
	ErrRateLimited = New(ErrCodeRateLimited, "too many attempts")
)

// Uninitialized 返回指出哪個元件未初始化的錯誤
func Uninitialized(component string) *AppError {
	return New(ErrCodeUninitialized, component+" is not initialized")
}

// ConsistencyViolation 返回帶有操作與行數資訊的一致性錯誤
func ConsistencyViolation(op, code string, affected int64) *AppError {
	return ErrConsistencyViolation.WithDetails(
		fmt.Sprintf("%s %q affected %d rows, want 1", op, code, affected))
}

// CodeOf 取出錯誤碼，非 AppError 視為內部錯誤
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HTTPStatus 將錯誤映射為 HTTP 狀態碼
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrCodeBadRequest:
		return http.StatusBadRequest
	case ErrCodeIncorrectAuth:
		return http.StatusUnauthorized
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// IsNotFound 檢查是否為未找到錯誤
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}

// IsConflict 檢查是否為衝突錯誤
func IsConflict(err error) bool {
	return CodeOf(err) == ErrCodeConflict
}

// IsConsistencyViolation 檢查是否為一致性錯誤
func IsConsistencyViolation(err error) bool {
	return CodeOf(err) == ErrCodeConsistencyViolation
}

// IsUninitialized 檢查是否為未初始化錯誤
func IsUninitialized(err error) bool {
	return CodeOf(err) == ErrCodeUninitialized
}

// IsUnavailable 檢查是否為服務不可用錯誤
func IsUnavailable(err error) bool {
	return CodeOf(err) == ErrCodeUnavailable
}
