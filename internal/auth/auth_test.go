package auth_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/koopa0/system-design/14-link-redirector/internal/auth"
	apperrors "github.com/koopa0/system-design/14-link-redirector/pkg/errors"
	"github.com/koopa0/system-design/14-link-redirector/pkg/base62"
	"github.com/koopa0/system-design/14-link-redirector/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAccounts 記憶體中的 AccountStore
type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[string]string
	failWith error
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{accounts: make(map[string]string)}
}

func (f *fakeAccounts) GetPassword(_ context.Context, username string) (string, error) {
	if f.failWith != nil {
		return "", f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	pw, ok := f.accounts[username]
	if !ok {
		return "", apperrors.New(apperrors.ErrCodeNotFound, "account not found")
	}
	return pw, nil
}

func (f *fakeAccounts) InsertAccount(_ context.Context, username, password string) (int64, error) {
	if f.failWith != nil {
		return 0, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.accounts[username]; ok {
		return 0, apperrors.ErrAccountConflict
	}
	f.accounts[username] = password
	return 1, nil
}

func (f *fakeAccounts) CountAccounts(context.Context) (int64, error) {
	if f.failWith != nil {
		return 0, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.accounts)), nil
}

func setupAuth(t *testing.T) (*auth.Accounts, *auth.Guard, *auth.Tokens, *fakeAccounts) {
	t.Helper()

	store := newFakeAccounts()
	tokens := auth.NewTokens(4)
	accounts, err := auth.NewAccounts(store, tokens, logger.Discard())
	require.NoError(t, err)
	guard, err := auth.NewGuard(tokens)
	require.NoError(t, err)
	return accounts, guard, tokens, store
}

// authorize 以啟動 token 取得授權
func authorize(t *testing.T, accounts *auth.Accounts, guard *auth.Guard) auth.Authorized {
	t.Helper()

	token, err := accounts.Bootstrap(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, token)

	by, err := guard.Check(token, true)
	require.NoError(t, err)
	return by
}

func TestTokens_IssueValidate(t *testing.T) {
	tokens := auth.NewTokens(0)

	token, err := tokens.Issue("alice")
	require.NoError(t, err)
	assert.Len(t, token, auth.TokenLength)
	assert.True(t, base62.IsValid(token))

	assert.NoError(t, tokens.Validate(token))
	owner, ok := tokens.Owner(token)
	assert.True(t, ok)
	assert.Equal(t, "alice", owner)

	assert.ErrorIs(t, tokens.Validate("nope"), apperrors.ErrIncorrectAuth)
	assert.ErrorIs(t, tokens.Validate(""), apperrors.ErrIncorrectAuth)
	assert.ErrorIs(t, tokens.Validate(token[:auth.TokenLength-1]), apperrors.ErrIncorrectAuth)
	assert.ErrorIs(t, tokens.Validate(strings.Repeat("!", auth.TokenLength)), apperrors.ErrIncorrectAuth)

	// 同一使用者可以持有多個 token
	second, err := tokens.Issue("alice")
	require.NoError(t, err)
	assert.NotEqual(t, token, second)
	assert.NoError(t, tokens.Validate(token))
	assert.Equal(t, 2, tokens.Len())
}

func TestTokens_Uninitialized(t *testing.T) {
	var tokens *auth.Tokens

	_, err := tokens.Issue("x")
	assert.True(t, apperrors.IsUninitialized(err))
	assert.True(t, apperrors.IsUninitialized(tokens.Validate("x")))

	_, err = auth.NewGuard(nil)
	assert.True(t, apperrors.IsUninitialized(err))

	_, err = auth.NewAccounts(nil, auth.NewTokens(0), nil)
	assert.True(t, apperrors.IsUninitialized(err))
}

func TestGuard_Check(t *testing.T) {
	tokens := auth.NewTokens(4)
	guard, err := auth.NewGuard(tokens)
	require.NoError(t, err)

	valid, err := tokens.Issue("alice")
	require.NoError(t, err)

	tests := []struct {
		name     string
		header   string
		present  bool
		wantCode string
	}{
		{"missing header", "", false, apperrors.ErrCodeBadRequest},
		{"non utf8 header", "\xff\xfe", true, apperrors.ErrCodeBadRequest},
		{"empty token", "", true, apperrors.ErrCodeIncorrectAuth},
		{"unknown token", "not-a-token", true, apperrors.ErrCodeIncorrectAuth},
		{"valid token", valid, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			by, err := guard.Check(tt.header, tt.present)
			if tt.wantCode == "" {
				require.NoError(t, err)
				assert.Equal(t, "alice", by.User())
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, apperrors.CodeOf(err))
		})
	}
}

func TestGuard_ConcurrentValidation(t *testing.T) {
	tokens := auth.NewTokens(8)
	guard, err := auth.NewGuard(tokens)
	require.NoError(t, err)

	var wg sync.WaitGroup
	issued := make(chan string, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := tokens.Issue("user")
			if err != nil {
				t.Errorf("issue: %v", err)
				return
			}
			issued <- token
			if _, err := guard.Check(token, true); err != nil {
				t.Errorf("check own token: %v", err)
			}
		}()
	}
	wg.Wait()
	close(issued)

	for token := range issued {
		_, err := guard.Check(token, true)
		assert.NoError(t, err)
	}
	assert.Equal(t, 100, tokens.Len())
}

func TestAccounts_SetupLogin(t *testing.T) {
	accounts, guard, tokens, store := setupAuth(t)
	ctx := context.Background()
	by := authorize(t, accounts, guard)

	require.NoError(t, accounts.Setup(ctx, by, "alice", "s3cret"))

	// 儲存格式為 salt|hash，且不包含明文密碼
	stored := store.accounts["alice"]
	salt, hash, ok := strings.Cut(stored, "|")
	require.True(t, ok)
	assert.Len(t, salt, auth.SaltLength)
	assert.Equal(t, auth.HashPassword(salt, "s3cret"), hash)
	assert.NotContains(t, stored, "s3cret")

	token, err := accounts.Login(ctx, "alice", "s3cret")
	require.NoError(t, err)
	assert.NoError(t, tokens.Validate(token))

	owner, _ := tokens.Owner(token)
	assert.Equal(t, "alice", owner)
}

func TestAccounts_LoginFailuresAreIndistinguishable(t *testing.T) {
	accounts, guard, tokens, _ := setupAuth(t)
	ctx := context.Background()
	require.NoError(t, accounts.Setup(ctx, authorize(t, accounts, guard), "alice", "s3cret"))
	before := tokens.Len()

	_, errNoUser := accounts.Login(ctx, "bob", "s3cret")
	_, errBadPass := accounts.Login(ctx, "alice", "wrong")

	require.Error(t, errNoUser)
	require.Error(t, errBadPass)
	assert.Equal(t, errNoUser.Error(), errBadPass.Error())
	assert.Equal(t, apperrors.CodeOf(errNoUser), apperrors.CodeOf(errBadPass))
	assert.ErrorIs(t, errBadPass, auth.ErrLoginIncorrect)

	// 失敗不發放 token
	assert.Equal(t, before, tokens.Len())
}

// TestAccounts_LoginHashesForUnknownUser 帳號不存在與密碼錯誤都計算一次雜湊
func TestAccounts_LoginHashesForUnknownUser(t *testing.T) {
	accounts, guard, _, _ := setupAuth(t)
	ctx := context.Background()
	require.NoError(t, accounts.Setup(ctx, authorize(t, accounts, guard), "alice", "s3cret"))

	var calls int
	auth.SetHasher(accounts, func(salt, password string) string {
		calls++
		return auth.HashPassword(salt, password)
	})

	_, err := accounts.Login(ctx, "bob", "s3cret")
	assert.ErrorIs(t, err, auth.ErrLoginIncorrect)
	assert.Equal(t, 1, calls)

	_, err = accounts.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, auth.ErrLoginIncorrect)
	assert.Equal(t, 2, calls)

	_, err = accounts.Login(ctx, "alice", "s3cret")
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestAccounts_LoginMalformedStoredPassword(t *testing.T) {
	accounts, _, _, store := setupAuth(t)
	store.accounts["legacy"] = "nosalt"

	_, err := accounts.Login(context.Background(), "legacy", "anything")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInternal, apperrors.CodeOf(err))
}

func TestAccounts_LoginStoreUnavailable(t *testing.T) {
	accounts, _, _, store := setupAuth(t)
	store.failWith = errors.New("connection refused")

	_, err := accounts.Login(context.Background(), "alice", "pw")
	assert.True(t, apperrors.IsUnavailable(err))
}

func TestAccounts_Setup(t *testing.T) {
	accounts, guard, _, _ := setupAuth(t)
	ctx := context.Background()
	by := authorize(t, accounts, guard)

	require.NoError(t, accounts.Setup(ctx, by, "alice", "pw"))

	err := accounts.Setup(ctx, by, "alice", "other")
	assert.True(t, apperrors.IsConflict(err))

	err = accounts.Setup(ctx, by, "", "pw")
	assert.Equal(t, apperrors.ErrCodeBadRequest, apperrors.CodeOf(err))

	// 零值 Authorized 不能繞過授權
	err = accounts.Setup(ctx, auth.Authorized{}, "mallory", "pw")
	assert.ErrorIs(t, err, apperrors.ErrIncorrectAuth)
}

func TestAccounts_Bootstrap(t *testing.T) {
	accounts, guard, _, _ := setupAuth(t)
	ctx := context.Background()

	by := authorize(t, accounts, guard)
	assert.Equal(t, auth.BootstrapUser, by.User())
	require.NoError(t, accounts.Setup(ctx, by, "alice", "pw"))

	token, err := accounts.Bootstrap(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestHashPassword(t *testing.T) {
	h := auth.HashPassword("salt", "password")
	assert.Len(t, h, 128)
	assert.Equal(t, h, auth.HashPassword("salt", "password"))
	assert.NotEqual(t, h, auth.HashPassword("salt2", "password"))
	assert.NotEqual(t, h, auth.HashPassword("salt", "password2"))
}
