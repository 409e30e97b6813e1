// Package auth 實現 token 式授權：登入發放 token、管理 API 驗證 token、建立帳號
//
// Token 只存在記憶體中，沒有過期時間，重啟後全部失效。
// 帳號存在資料庫，只能新增，不能修改或刪除。
package auth

import (
	"fmt"

	apperrors "github.com/koopa0/system-design/14-link-redirector/pkg/errors"
	"github.com/koopa0/system-design/14-link-redirector/pkg/base62"
	"github.com/koopa0/system-design/14-link-redirector/pkg/shardmap"
)

// TokenLength token 長度（43 個 base62 字元 ≈ 256 bits）
const TokenLength = 43

// maxIssueAttempts 碰撞重試上限（256 bits 的空間下實際上不會碰撞）
const maxIssueAttempts = 3

// Tokens Token Store：token → 發放給哪個使用者
//
// 使用者名稱只作為紀錄，授權只看 token 是否存在。
type Tokens struct {
	m *shardmap.Map[string]
}

// NewTokens 建立 Token Store
func NewTokens(shards int) *Tokens {
	return &Tokens{m: shardmap.New[string](shards)}
}

// Issue 發放新 token
func (t *Tokens) Issue(username string) (string, error) {
	if t == nil || t.m == nil {
		return "", apperrors.Uninitialized("token store")
	}

	for i := 0; i < maxIssueAttempts; i++ {
		token, err := base62.Random(TokenLength)
		if err != nil {
			return "", fmt.Errorf("generate token: %w", err)
		}
		if t.m.SetIfAbsent(token, username) {
			return token, nil
		}
	}
	return "", apperrors.New(apperrors.ErrCodeInternal, "could not generate unique token")
}

// Validate 檢查 token 是否存在
//
// 長度或字元集不符的值不會查表。
func (t *Tokens) Validate(token string) error {
	if t == nil || t.m == nil {
		return apperrors.Uninitialized("token store")
	}
	if len(token) != TokenLength || !base62.IsValid(token) || !t.m.Has(token) {
		return apperrors.ErrIncorrectAuth
	}
	return nil
}

// Owner 返回 token 的發放對象
func (t *Tokens) Owner(token string) (string, bool) {
	if t == nil || t.m == nil {
		return "", false
	}
	return t.m.Get(token)
}

// Len 返回目前的 token 數
func (t *Tokens) Len() int {
	if t == nil || t.m == nil {
		return 0
	}
	return t.m.Len()
}
