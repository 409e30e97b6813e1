// Package links 實現短碼 → 目的地 URL 的映射與一致性寫入流程
//
// 系統設計要點：
//
//  1. 讀取路徑：重定向只讀進程內的 Mapping Cache，完全不碰資料庫
//
//  2. 寫入路徑（Add / Edit / Delete）嚴格三階段：
//     驗證（快取 + 保留短碼）→ 寫資料庫並檢查受影響行數 → 更新快取
//     → 快取永遠不會領先資料庫；中途崩潰只會讓快取落後，重啟時 Warm 修復
//
//  3. 同一個短碼的寫入以條帶鎖序列化，不同短碼互不阻塞
//
// 非目標：多節點快取一致性（假設單一進程擁有快取）。
package links

import (
	"context"
	"time"
)

// Link 表示一個短碼映射
type Link struct {
	Code        string `json:"link"`
	Destination string `json:"destination"`
}

// Store 持久化儲存（資料庫是唯一真實來源）
//
// 寫入方法返回受影響的行數，由 Service 檢查是否恰好為 1。
// InsertLink 遇到主鍵衝突時返回 errors.ErrLinkConflict。
type Store interface {
	InsertLink(ctx context.Context, code, destination string) (int64, error)
	UpdateLink(ctx context.Context, code, destination string) (int64, error)
	DeleteLink(ctx context.Context, code string) (int64, error)
	ListLinks(ctx context.Context) ([]Link, error)
}

// EventType 連結變更事件類型
type EventType string

// 事件主題
const (
	EventLinkAdded   EventType = "links.added"
	EventLinkEdited  EventType = "links.edited"
	EventLinkDeleted EventType = "links.deleted"
)

// Event 連結變更事件（在快取更新後發布）
type Event struct {
	Type        EventType `json:"type"`
	Code        string    `json:"link"`
	Destination string    `json:"destination,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Publisher 事件發布器
//
// 發布失敗只記錄日誌，不影響已提交的寫入。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Recorder 指標記錄器
type Recorder interface {
	ObserveRedirect(result string)
	ObserveAdmin(op, result string)
	ConsistencyViolation(op string)
	SetCacheSize(n int)
}

// nopRecorder 未設定指標時使用
type nopRecorder struct{}

func (nopRecorder) ObserveRedirect(string)      {}
func (nopRecorder) ObserveAdmin(string, string) {}
func (nopRecorder) ConsistencyViolation(string) {}
func (nopRecorder) SetCacheSize(int)            {}
