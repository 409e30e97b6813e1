// Package storage 實現持久化存儲後端
//
//	Memory：單機、開發與測試用，重啟即遺失
//	Postgres：生產環境，唯一真實來源
//
// 兩者都同時實現 links.Store 與 auth.AccountStore。
package storage

import (
	"context"
	"sync"

	"github.com/koopa0/system-design/14-link-redirector/internal/links"
	apperrors "github.com/koopa0/system-design/14-link-redirector/pkg/errors"
)

// Memory 內存存儲實現
//
// 受影響行數的語義與 Postgres 相同（UPDATE/DELETE 不存在的短碼返回 0），
// 所以 Service 的一致性檢查在兩種後端下行為一致。
type Memory struct {
	mu       sync.RWMutex
	links    map[string]string
	accounts map[string]string
}

// NewMemory 創建內存存儲實例
func NewMemory() *Memory {
	return &Memory{
		links:    make(map[string]string),
		accounts: make(map[string]string),
	}
}

// InsertLink 新增連結
func (m *Memory) InsertLink(_ context.Context, code, destination string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.links[code]; exists {
		return 0, apperrors.ErrLinkConflict
	}
	m.links[code] = destination
	return 1, nil
}

// UpdateLink 修改連結目的地
func (m *Memory) UpdateLink(_ context.Context, code, destination string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.links[code]; !exists {
		return 0, nil
	}
	m.links[code] = destination
	return 1, nil
}

// DeleteLink 刪除連結
func (m *Memory) DeleteLink(_ context.Context, code string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.links[code]; !exists {
		return 0, nil
	}
	delete(m.links, code)
	return 1, nil
}

// ListLinks 返回所有連結的副本
func (m *Memory) ListLinks(_ context.Context) ([]links.Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]links.Link, 0, len(m.links))
	for code, dest := range m.links {
		out = append(out, links.Link{Code: code, Destination: dest})
	}
	return out, nil
}

// GetPassword 讀取帳號的 salt|hash
func (m *Memory) GetPassword(_ context.Context, username string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pw, exists := m.accounts[username]
	if !exists {
		return "", apperrors.New(apperrors.ErrCodeNotFound, "account not found")
	}
	return pw, nil
}

// InsertAccount 新增帳號
func (m *Memory) InsertAccount(_ context.Context, username, password string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.accounts[username]; exists {
		return 0, apperrors.ErrAccountConflict
	}
	m.accounts[username] = password
	return 1, nil
}

// CountAccounts 返回帳號數量
func (m *Memory) CountAccounts(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.accounts)), nil
}

// Ping 永遠可用
func (m *Memory) Ping(context.Context) error {
	return nil
}
