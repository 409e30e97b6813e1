package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-link-redirector/internal/auth"
	"github.com/koopa0/system-design/14-link-redirector/internal/handler"
	"github.com/koopa0/system-design/14-link-redirector/internal/links"
	"github.com/koopa0/system-design/14-link-redirector/internal/metrics"
	"github.com/koopa0/system-design/14-link-redirector/internal/ratelimit"
	"github.com/koopa0/system-design/14-link-redirector/internal/storage"
	"github.com/koopa0/system-design/14-link-redirector/pkg/logger"
)

type testServer struct {
	handler  http.Handler
	store    *storage.Memory
	cache    *links.Cache
	accounts *auth.Accounts
	metrics  *metrics.Metrics
	token    string
}

type serverOptions struct {
	root    string
	limiter ratelimit.Limiter
	checks  map[string]handler.Checker
}

func newTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()

	log := logger.Discard()
	store := storage.NewMemory()
	cache := links.NewCache(4)
	m := metrics.New()

	svc, err := links.NewService(store, cache, links.NewDisallowed([]string{"api", "admin"}), log,
		links.WithRecorder(m))
	require.NoError(t, err)

	tokens := auth.NewTokens(4)
	accounts, err := auth.NewAccounts(store, tokens, log)
	require.NoError(t, err)
	guard, err := auth.NewGuard(tokens)
	require.NoError(t, err)

	bootstrap, err := accounts.Bootstrap(context.Background())
	require.NoError(t, err)

	h, err := handler.New(handler.Config{
		Links:    svc,
		Accounts: accounts,
		Guard:    guard,
		Limiter:  opts.limiter,
		Metrics:  m,
		Checks:   opts.checks,
		Root:     opts.root,
		Logger:   log,
	})
	require.NoError(t, err)

	return &testServer{
		handler:  h.Routes(),
		store:    store,
		cache:    cache,
		accounts: accounts,
		metrics:  m,
		token:    bootstrap,
	}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		if str, ok := body.(string); ok {
			reader = strings.NewReader(str)
		} else {
			data, err := json.Marshal(body)
			require.NoError(t, err)
			reader = strings.NewReader(string(data))
		}
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestNew_Uninitialized(t *testing.T) {
	_, err := handler.New(handler.Config{})
	assert.Error(t, err)
}

// TestLinkLifecycle add → redirect → edit → redirect → delete → 404
func TestLinkLifecycle(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	rec := s.do(t, http.MethodPost, "/api/add", s.token, map[string]string{"link": "abc", "destination": "https://x.test"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "Link added!", decode[map[string]string](t, rec)["message"])

	rec = s.do(t, http.MethodGet, "/abc", "", nil, nil)
	assert.Equal(t, http.StatusPermanentRedirect, rec.Code)
	assert.Equal(t, "https://x.test", rec.Header().Get("Location"))

	rec = s.do(t, http.MethodPut, "/api/edit", s.token, map[string]string{"link": "abc", "destination": "https://y.test"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Link edited!", decode[map[string]string](t, rec)["message"])

	rec = s.do(t, http.MethodGet, "/abc", "", nil, nil)
	assert.Equal(t, http.StatusPermanentRedirect, rec.Code)
	assert.Equal(t, "https://y.test", rec.Header().Get("Location"))

	rec = s.do(t, http.MethodDelete, "/api/delete", s.token, map[string]string{"link": "abc"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Link removed!", decode[map[string]string](t, rec)["message"])

	rec = s.do(t, http.MethodGet, "/abc", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdd_UTF8Destination(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	rec := s.do(t, http.MethodPost, "/api/add", s.token, map[string]string{"link": "uni", "destination": "https://example.test/ü"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/uni", "", nil, nil)
	assert.Equal(t, http.StatusPermanentRedirect, rec.Code)
	assert.Equal(t, "https://example.test/ü", rec.Header().Get("Location"))
}

func TestAdd_Disallowed(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	rec := s.do(t, http.MethodPost, "/api/add", s.token, map[string]string{"link": "admin", "destination": "https://x.test"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CONFLICT", decode[map[string]string](t, rec)["code"])

	assert.Zero(t, s.cache.Len())
	all, err := s.store.ListLinks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestAdminErrors(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	rec := s.do(t, http.MethodPost, "/api/add", s.token, map[string]string{"link": "gh", "destination": "https://github.com"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"duplicate add", http.MethodPost, "/api/add", map[string]string{"link": "gh", "destination": "https://x"}, http.StatusConflict},
		{"edit missing", http.MethodPut, "/api/edit", map[string]string{"link": "nope", "destination": "https://x"}, http.StatusNotFound},
		{"delete missing", http.MethodDelete, "/api/delete", map[string]string{"link": "nope"}, http.StatusNotFound},
		{"malformed json", http.MethodPost, "/api/add", "{not json", http.StatusBadRequest},
		{"bad destination", http.MethodPost, "/api/add", map[string]string{"link": "bad", "destination": "https://x\r\nX: y"}, http.StatusBadRequest},
		{"empty link", http.MethodPost, "/api/add", map[string]string{"link": "", "destination": "https://x"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, s.token, tt.body, nil)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestAuthorization(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	tests := []struct {
		name    string
		headers map[string]string
		want    int
		code    string
	}{
		{"missing header", nil, http.StatusBadRequest, "BAD_REQUEST"},
		{"unknown token", map[string]string{"Authorization": "wrong"}, http.StatusUnauthorized, "INCORRECT_AUTH"},
		{"non utf8 token", map[string]string{"Authorization": "\xff\xfe"}, http.StatusBadRequest, "BAD_REQUEST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// 請求體故意是壞的：授權必須先於解析
			rec := s.do(t, http.MethodPost, "/api/add", "", "{broken", tt.headers)
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, tt.code, decode[map[string]string](t, rec)["code"])
		})
	}

	for _, path := range []string{"/api/list"} {
		rec := s.do(t, http.MethodGet, path, "", nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}
	assert.Zero(t, s.cache.Len())
}

func TestList(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	for code, dest := range map[string]string{"a": "https://a.test", "b": "https://b.test"} {
		rec := s.do(t, http.MethodPost, "/api/add", s.token, map[string]string{"link": code, "destination": dest}, nil)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := s.do(t, http.MethodGet, "/api/list", s.token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[struct {
		Links map[string]string `json:"links"`
	}](t, rec)
	assert.Equal(t, map[string]string{"a": "https://a.test", "b": "https://b.test"}, resp.Links)
}

func TestLoginAndSetup(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	rec := s.do(t, http.MethodPost, "/api/setup", s.token, map[string]string{"username": "alice", "password": "s3cret"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Account added!", decode[map[string]string](t, rec)["message"])

	rec = s.do(t, http.MethodPost, "/api/setup", s.token, map[string]string{"username": "alice", "password": "other"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/token", "", nil, map[string]string{"username": "alice", "password": "s3cret"})
	require.Equal(t, http.StatusOK, rec.Code)
	token := decode[map[string]string](t, rec)["token"]
	require.Len(t, token, auth.TokenLength)

	// 新 token 立即可用
	rec = s.do(t, http.MethodGet, "/api/list", token, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogin_FailuresAreIdentical(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	rec := s.do(t, http.MethodPost, "/api/setup", s.token, map[string]string{"username": "alice", "password": "s3cret"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	wrongPass := s.do(t, http.MethodPost, "/api/token", "", nil, map[string]string{"username": "alice", "password": "nope"})
	noUser := s.do(t, http.MethodPost, "/api/token", "", nil, map[string]string{"username": "bob", "password": "s3cret"})

	assert.Equal(t, http.StatusOK, wrongPass.Code)
	assert.Equal(t, wrongPass.Code, noUser.Code)
	assert.Equal(t, wrongPass.Body.Bytes(), noUser.Body.Bytes())
	assert.JSONEq(t, `{"error":"Username or password incorrect!"}`, wrongPass.Body.String())
}

func TestLogin_MissingHeaders(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	rec := s.do(t, http.MethodPost, "/api/token", "", nil, map[string]string{"username": "alice"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogin_RateLimited(t *testing.T) {
	s := newTestServer(t, serverOptions{limiter: ratelimit.NewLocal(2, 0)})
	headers := map[string]string{"username": "alice", "password": "guess"}

	for i := 0; i < 2; i++ {
		rec := s.do(t, http.MethodPost, "/api/token", "", nil, headers)
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	rec := s.do(t, http.MethodPost, "/api/token", "", nil, headers)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func (s *testServer) login(remoteAddr, username, password string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/token", nil)
	req.RemoteAddr = remoteAddr
	req.Header.Set("username", username)
	req.Header.Set("password", password)

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

// TestLogin_RateLimitPerClient 他人猜測同一帳號的密碼不影響帳號擁有者登入
func TestLogin_RateLimitPerClient(t *testing.T) {
	s := newTestServer(t, serverOptions{limiter: ratelimit.NewLocal(5, 0)})
	rec := s.do(t, http.MethodPost, "/api/setup", s.token, map[string]string{"username": "admin", "password": "right"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	for i := 0; i < 5; i++ {
		rec := s.login("203.0.113.9:4000", "admin", "wrong")
		assert.JSONEq(t, `{"error":"Username or password incorrect!"}`, rec.Body.String())
	}
	assert.Equal(t, http.StatusTooManyRequests, s.login("203.0.113.9:4001", "admin", "wrong").Code)

	rec = s.login("198.51.100.7:5000", "admin", "right")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string]string](t, rec)["token"], auth.TokenLength)
}

// TestConcurrentAdd 同一短碼並發新增：恰好一個 201，其餘 409
func TestConcurrentAdd(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	const n = 20
	codes := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body := `{"link":"race","destination":"https://race.test"}`
			req := httptest.NewRequest(http.MethodPost, "/api/add", strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", s.token)

			rec := httptest.NewRecorder()
			s.handler.ServeHTTP(rec, req)
			codes <- rec.Code
		}()
	}
	wg.Wait()
	close(codes)

	counts := map[int]int{}
	for c := range codes {
		counts[c]++
	}
	assert.Equal(t, 1, counts[http.StatusCreated])
	assert.Equal(t, n-1, counts[http.StatusConflict])
}

func TestRoot(t *testing.T) {
	t.Run("static page", func(t *testing.T) {
		s := newTestServer(t, serverOptions{})
		rec := s.do(t, http.MethodGet, "/", "", nil, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, rec.Body.String(), "<html")
	})

	t.Run("configured root", func(t *testing.T) {
		s := newTestServer(t, serverOptions{root: "https://koopa.dev"})
		rec := s.do(t, http.MethodGet, "/", "", nil, nil)
		assert.Equal(t, http.StatusPermanentRedirect, rec.Code)
		assert.Equal(t, "https://koopa.dev", rec.Header().Get("Location"))
	})
}

func TestHealthReadyMetrics(t *testing.T) {
	failing := false
	s := newTestServer(t, serverOptions{checks: map[string]handler.Checker{
		"postgres": func(context.Context) error {
			if failing {
				return assert.AnError
			}
			return nil
		},
	}})

	rec := s.do(t, http.MethodGet, "/health", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/ready", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	failing = true
	rec = s.do(t, http.MethodGet, "/ready", "", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s.do(t, http.MethodGet, "/missing", "", nil, nil)
	rec = s.do(t, http.MethodGet, "/metrics", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `redirector_redirects_total{result="not_found"} 1`)
}

func TestRequestID(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	rec := s.do(t, http.MethodGet, "/x", "", nil, nil)
	assert.NotEmpty(t, rec.Header().Get(handler.RequestIDHeader))

	rec = s.do(t, http.MethodGet, "/x", "", nil, map[string]string{handler.RequestIDHeader: "req-1"})
	assert.Equal(t, "req-1", rec.Header().Get(handler.RequestIDHeader))
}
