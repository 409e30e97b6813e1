package auth

import (
	"unicode/utf8"

	apperrors "github.com/koopa0/system-design/14-link-redirector/pkg/errors"
)

// Authorized 通過授權檢查的證明
//
// 只能由 Guard 建立（欄位未匯出），需要授權的操作以它作為參數，
// 編譯期就保證呼叫前已經驗證過。
type Authorized struct {
	user string
}

// User 返回 token 的發放對象（僅供日誌使用）
func (a Authorized) User() string {
	return a.user
}

// valid 檢查是否由 Guard 建立
func (a Authorized) valid() bool {
	return a.user != ""
}

// Guard 授權守衛
type Guard struct {
	tokens *Tokens
}

// NewGuard 建立授權守衛
func NewGuard(tokens *Tokens) (*Guard, error) {
	if tokens == nil {
		return nil, apperrors.Uninitialized("token store")
	}
	return &Guard{tokens: tokens}, nil
}

// Check 驗證 Authorization header
//
// present 為 false（沒有 header）或值不是合法 UTF-8 → BadRequest；
// token 不存在 → IncorrectAuth。
func (g *Guard) Check(header string, present bool) (Authorized, error) {
	if g == nil || g.tokens == nil {
		return Authorized{}, apperrors.Uninitialized("authorization guard")
	}
	if !present || !utf8.ValidString(header) {
		return Authorized{}, apperrors.ErrMissingAuthorization
	}
	if err := g.tokens.Validate(header); err != nil {
		return Authorized{}, err
	}

	user, ok := g.tokens.Owner(header)
	if !ok || user == "" {
		user = "unknown"
	}
	return Authorized{user: user}, nil
}
