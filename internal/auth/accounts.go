package auth

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	apperrors "github.com/koopa0/system-design/14-link-redirector/pkg/errors"
	"github.com/koopa0/system-design/14-link-redirector/pkg/base62"
)

// SaltLength 每個帳號的隨機 salt 長度
const SaltLength = 32

// BootstrapUser 啟動 token 的發放對象
const BootstrapUser = "bootstrap"

// ErrLoginIncorrect 登入失敗
//
// 使用者不存在與密碼錯誤返回同一個錯誤，不洩漏帳號是否存在。
var ErrLoginIncorrect = apperrors.New(apperrors.ErrCodeIncorrectAuth, "Username or password incorrect!")

// AccountStore 帳號持久化儲存
//
// GetPassword 在帳號不存在時返回 NotFound；
// InsertAccount 遇到主鍵衝突時返回 errors.ErrAccountConflict。
type AccountStore interface {
	GetPassword(ctx context.Context, username string) (string, error)
	InsertAccount(ctx context.Context, username, password string) (int64, error)
	CountAccounts(ctx context.Context) (int64, error)
}

// 帳號不存在時用來比對的假雜湊，讓兩種失敗花費相同的計算
var (
	dummySalt = strings.Repeat("0", SaltLength)
	dummyHash = strings.Repeat("0", sha512.Size*2)
)

// Accounts 登入與帳號建立
type Accounts struct {
	store  AccountStore
	tokens *Tokens
	hash   func(salt, password string) string
	logger *slog.Logger
}

// NewAccounts 建立帳號服務
func NewAccounts(store AccountStore, tokens *Tokens, logger *slog.Logger) (*Accounts, error) {
	if store == nil {
		return nil, apperrors.Uninitialized("account store")
	}
	if tokens == nil {
		return nil, apperrors.Uninitialized("token store")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Accounts{
		store:  store,
		tokens: tokens,
		hash:   HashPassword,
		logger: logger.With("component", "auth"),
	}, nil
}

func (a *Accounts) ready() error {
	if a == nil || a.store == nil || a.tokens == nil {
		return apperrors.Uninitialized("account service")
	}
	return nil
}

// Login 驗證帳號密碼並發放 token
func (a *Accounts) Login(ctx context.Context, username, password string) (string, error) {
	if err := a.ready(); err != nil {
		return "", err
	}

	stored, err := a.store.GetPassword(ctx, username)
	if err != nil && !apperrors.IsNotFound(err) {
		return "", storeError(err)
	}
	found := err == nil

	salt, hash := dummySalt, dummyHash
	if found {
		var ok bool
		salt, hash, ok = strings.Cut(stored, "|")
		if !ok {
			a.logger.ErrorContext(ctx, "stored password has no salt", "user", username)
			return "", apperrors.New(apperrors.ErrCodeInternal, "stored password is malformed")
		}
	}

	// 帳號不存在時照樣計算雜湊
	provided := a.hash(salt, password)
	if subtle.ConstantTimeCompare([]byte(hash), []byte(provided)) != 1 || !found {
		return "", ErrLoginIncorrect
	}

	token, err := a.tokens.Issue(username)
	if err != nil {
		return "", err
	}
	a.logger.InfoContext(ctx, "token issued", "user", username)
	return token, nil
}

// Setup 建立新帳號（只有已授權的呼叫方可以呼叫）
func (a *Accounts) Setup(ctx context.Context, by Authorized, username, password string) error {
	if err := a.ready(); err != nil {
		return err
	}
	if !by.valid() {
		return apperrors.ErrIncorrectAuth
	}
	if username == "" || password == "" {
		return apperrors.New(apperrors.ErrCodeBadRequest, "username and password are required")
	}

	salt, err := base62.Random(SaltLength)
	if err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}

	affected, err := a.store.InsertAccount(ctx, username, salt+"|"+a.hash(salt, password))
	if err != nil {
		return storeError(err)
	}
	if affected != 1 {
		a.logger.ErrorContext(ctx, "account insert affected unexpected rows",
			"alert", true, "user", username, "rows_affected", affected)
		return apperrors.ConsistencyViolation("setup", username, affected)
	}

	a.logger.DebugContext(ctx, "account created", "user", username, "by", by.User())
	return nil
}

// Bootstrap 沒有任何帳號時發放一個啟動 token，用來建立第一個帳號
//
// 已有帳號時返回空字串。
func (a *Accounts) Bootstrap(ctx context.Context) (string, error) {
	if err := a.ready(); err != nil {
		return "", err
	}

	n, err := a.store.CountAccounts(ctx)
	if err != nil {
		return "", storeError(err)
	}
	if n > 0 {
		return "", nil
	}
	return a.tokens.Issue(BootstrapUser)
}

// HashPassword 計算 hex(SHA-512(salt + "|" + password))
func HashPassword(salt, password string) string {
	sum := sha512.Sum512([]byte(salt + "|" + password))
	return hex.EncodeToString(sum[:])
}

func storeError(err error) error {
	if apperrors.CodeOf(err) != apperrors.ErrCodeInternal {
		return err
	}
	return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "database service unavailable")
}
