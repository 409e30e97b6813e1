package links

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	apperrors "github.com/koopa0/system-design/14-link-redirector/pkg/errors"
	"github.com/koopa0/system-design/14-link-redirector/pkg/shardmap"
)

// 指標結果標籤
const (
	resultOK       = "ok"
	resultNotFound = "not_found"
	resultConflict = "conflict"
	resultInvalid  = "invalid"
	resultError    = "error"
)

// Service 管理操作與重定向解析
//
// Go 慣用法：
//   - 依賴注入（store、cache、disallowed、logger）
//   - 建構後不可變，所有並發控制都在 Cache 與 KeyLock 內
type Service struct {
	store      Store
	cache      *Cache
	disallowed *Disallowed
	locks      *shardmap.KeyLock
	publisher  Publisher
	metrics    Recorder
	logger     *slog.Logger
	now        func() time.Time
}

// Option 可選設定
type Option func(*Service)

// WithPublisher 設定事件發布器
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithRecorder 設定指標記錄器
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.metrics = r
		}
	}
}

// WithLockStripes 設定寫入條帶鎖數量
func WithLockStripes(n int) Option {
	return func(s *Service) { s.locks = shardmap.NewKeyLock(n) }
}

// NewService 建立服務
//
// store、cache、disallowed 任一為 nil 都返回 Uninitialized 錯誤，
// 而不是留下一個之後才會 panic 的半成品。
func NewService(store Store, cache *Cache, disallowed *Disallowed, logger *slog.Logger, opts ...Option) (*Service, error) {
	switch {
	case store == nil:
		return nil, apperrors.Uninitialized("link store")
	case cache == nil:
		return nil, apperrors.Uninitialized("link cache")
	case disallowed == nil:
		return nil, apperrors.Uninitialized("disallowed code set")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		store:      store,
		cache:      cache,
		disallowed: disallowed,
		locks:      shardmap.NewKeyLock(shardmap.DefaultShards),
		metrics:    nopRecorder{},
		logger:     logger.With("component", "links"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ready 檢查服務是否已初始化
func (s *Service) ready() error {
	if s == nil || s.cache == nil || s.store == nil || s.disallowed == nil {
		return apperrors.Uninitialized("link service")
	}
	return nil
}

// Warm 從資料庫載入所有連結到快取
//
// 啟動時呼叫；也會修復寫資料庫後、更新快取前崩潰留下的過時快取。
func (s *Service) Warm(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}

	rows, err := s.store.ListLinks(ctx)
	if err != nil {
		return storeError(err)
	}

	loaded := make([]Link, 0, len(rows))
	for _, l := range rows {
		if s.disallowed.Contains(l.Code) {
			// 舊資料可能早於保留短碼設定，不讓它遮蔽系統路由
			s.logger.Warn("skipping reserved code found in store", "link", l.Code)
			continue
		}
		loaded = append(loaded, l)
	}

	s.cache.replaceAll(loaded)
	s.metrics.SetCacheSize(s.cache.Len())
	s.logger.Info("link cache warmed", "links", len(loaded))
	return nil
}

// Resolve 解析短碼
//
// 純快取讀取。目的地無法作為 Location header 時返回
// InvalidRedirectTarget，而不是寫出損壞的回應。
func (s *Service) Resolve(ctx context.Context, code string) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}

	destination, ok := s.cache.Get(code)
	if !ok {
		s.metrics.ObserveRedirect(resultNotFound)
		return "", apperrors.ErrLinkNotFound
	}

	if !ValidRedirectTarget(destination) {
		s.metrics.ObserveRedirect(resultInvalid)
		s.logger.ErrorContext(ctx, "stored destination is not a valid redirect target", "link", code)
		return "", apperrors.ErrInvalidRedirectTarget
	}

	s.metrics.ObserveRedirect(resultOK)
	return destination, nil
}

// List 返回所有連結（快取快照）
func (s *Service) List(ctx context.Context) ([]Link, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.cache.List(), nil
}

// Add 新增連結
//
// 流程：
//  1. 驗證：保留短碼或已存在 → Conflict
//  2. INSERT，受影響行數必須為 1
//  3. 寫入快取
func (s *Service) Add(ctx context.Context, code, destination string) (err error) {
	const op = "add"
	defer func() { s.observe(op, err) }()

	if err := s.ready(); err != nil {
		return err
	}
	if err := validateInput(code, destination); err != nil {
		return err
	}

	unlock := s.locks.Lock(code)
	defer unlock()

	if s.disallowed.Contains(code) {
		return apperrors.ErrLinkConflict.WithDetails("reserved code")
	}
	if s.cache.Contains(code) {
		return apperrors.ErrLinkConflict
	}

	affected, err := s.store.InsertLink(ctx, code, destination)
	if err != nil {
		return storeError(err)
	}
	if affected != 1 {
		return s.violation(ctx, op, code, affected)
	}

	s.cache.Insert(code, destination)
	s.metrics.SetCacheSize(s.cache.Len())
	s.logger.InfoContext(ctx, "link added", "link", code)
	s.publish(ctx, EventLinkAdded, code, destination)
	return nil
}

// Edit 修改連結目的地
func (s *Service) Edit(ctx context.Context, code, destination string) (err error) {
	const op = "edit"
	defer func() { s.observe(op, err) }()

	if err := s.ready(); err != nil {
		return err
	}
	if err := validateInput(code, destination); err != nil {
		return err
	}

	unlock := s.locks.Lock(code)
	defer unlock()

	if !s.cache.Contains(code) {
		return apperrors.ErrLinkNotFound
	}

	affected, err := s.store.UpdateLink(ctx, code, destination)
	if err != nil {
		return storeError(err)
	}
	if affected != 1 {
		return s.violation(ctx, op, code, affected)
	}

	s.cache.Update(code, destination)
	s.logger.InfoContext(ctx, "link edited", "link", code)
	s.publish(ctx, EventLinkEdited, code, destination)
	return nil
}

// Delete 刪除連結
func (s *Service) Delete(ctx context.Context, code string) (err error) {
	const op = "delete"
	defer func() { s.observe(op, err) }()

	if err := s.ready(); err != nil {
		return err
	}
	if code == "" {
		return apperrors.New(apperrors.ErrCodeBadRequest, "link is required")
	}

	unlock := s.locks.Lock(code)
	defer unlock()

	if !s.cache.Contains(code) {
		return apperrors.ErrLinkNotFound
	}

	affected, err := s.store.DeleteLink(ctx, code)
	if err != nil {
		return storeError(err)
	}
	if affected != 1 {
		return s.violation(ctx, op, code, affected)
	}

	s.cache.Remove(code)
	s.metrics.SetCacheSize(s.cache.Len())
	s.logger.InfoContext(ctx, "link deleted", "link", code)
	s.publish(ctx, EventLinkDeleted, code, "")
	return nil
}

// violation 記錄並返回一致性錯誤
//
// 這不是使用者輸入錯誤：快取以為存在（或不存在）的資料列與資料庫不符。
// 以 alert 屬性記錄在 ERROR 級別並單獨計數，方便告警。
func (s *Service) violation(ctx context.Context, op, code string, affected int64) error {
	s.metrics.ConsistencyViolation(op)
	s.logger.ErrorContext(ctx, "cache and durable store diverged",
		"alert", true,
		"op", op,
		"link", code,
		"rows_affected", affected,
	)
	return apperrors.ConsistencyViolation(op, code, affected)
}

func (s *Service) publish(ctx context.Context, typ EventType, code, destination string) {
	if s.publisher == nil {
		return
	}
	event := Event{
		Type:        typ,
		Code:        code,
		Destination: destination,
		Timestamp:   s.now().UTC(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "publish link event failed", "type", typ, "link", code, "error", err)
	}
}

func (s *Service) observe(op string, err error) {
	if s == nil || s.metrics == nil {
		return
	}
	switch {
	case err == nil:
		s.metrics.ObserveAdmin(op, resultOK)
	case apperrors.IsNotFound(err):
		s.metrics.ObserveAdmin(op, resultNotFound)
	case apperrors.IsConflict(err):
		s.metrics.ObserveAdmin(op, resultConflict)
	case apperrors.CodeOf(err) == apperrors.ErrCodeBadRequest:
		s.metrics.ObserveAdmin(op, resultInvalid)
	default:
		s.metrics.ObserveAdmin(op, resultError)
	}
}

// storeError 保留儲存層返回的 AppError，其餘視為資料庫不可用
func storeError(err error) error {
	if apperrors.CodeOf(err) != apperrors.ErrCodeInternal {
		return err
	}
	return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "database service unavailable")
}

// validateInput 驗證短碼與目的地
//
// 短碼不能為空也不能含 '/'（否則 GET /{code} 永遠匹配不到）。
func validateInput(code, destination string) error {
	if code == "" {
		return apperrors.New(apperrors.ErrCodeBadRequest, "link is required")
	}
	if strings.ContainsRune(code, '/') {
		return apperrors.New(apperrors.ErrCodeBadRequest, "link must not contain '/'")
	}
	if !ValidRedirectTarget(destination) {
		return apperrors.New(apperrors.ErrCodeBadRequest, fmt.Sprintf("invalid destination for %q", code))
	}
	return nil
}

// ValidRedirectTarget 檢查字串能否作為 Location header 值
//
// 不可為空，不可含控制字元（tab 除外）與 DEL；0x80 以上的位元組（UTF-8）照常接受。
func ValidRedirectTarget(destination string) bool {
	if destination == "" {
		return false
	}
	for i := 0; i < len(destination); i++ {
		c := destination[i]
		if c == '\t' {
			continue
		}
		if c < 0x20 || c == 0x7f {
			return false
		}
	}
	return true
}
