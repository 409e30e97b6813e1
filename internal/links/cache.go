package links

import (
	"github.com/koopa0/system-design/14-link-redirector/pkg/shardmap"
)

// Cache 進程內的 Mapping Cache
//
// 只由 Service 的寫入流程更新，本身不知道資料庫的存在。
// 底層是分片 map：重定向的大量讀取不會被少量的管理寫入擋住。
type Cache struct {
	m *shardmap.Map[string]
}

// NewCache 建立快取，shards <= 0 時使用預設分片數
func NewCache(shards int) *Cache {
	return &Cache{m: shardmap.New[string](shards)}
}

// Get 查詢目的地
func (c *Cache) Get(code string) (string, bool) {
	return c.m.Get(code)
}

// Contains 檢查短碼是否存在
func (c *Cache) Contains(code string) bool {
	return c.m.Has(code)
}

// Insert 新增映射，已存在時返回 false
func (c *Cache) Insert(code, destination string) bool {
	return c.m.SetIfAbsent(code, destination)
}

// Update 更新映射，不存在時返回 false
func (c *Cache) Update(code, destination string) bool {
	return c.m.Replace(code, destination)
}

// Remove 刪除映射，不存在時返回 false
func (c *Cache) Remove(code string) bool {
	return c.m.Delete(code)
}

// List 返回某個時間點的快照（順序不固定，可能略為過時）
func (c *Cache) List() []Link {
	out := make([]Link, 0, c.m.Len())
	c.m.Range(func(code, destination string) bool {
		out = append(out, Link{Code: code, Destination: destination})
		return true
	})
	return out
}

// Len 返回快取項目數
func (c *Cache) Len() int {
	return c.m.Len()
}

// replaceAll 以資料庫內容重建快取（僅供 Warm 使用）
//
// 先寫入再移除多餘項目，重建期間已存在的短碼不會短暫消失。
func (c *Cache) replaceAll(links []Link) {
	keep := make(map[string]struct{}, len(links))
	for _, l := range links {
		c.m.Set(l.Code, l.Destination)
		keep[l.Code] = struct{}{}
	}
	c.m.Range(func(code, _ string) bool {
		if _, ok := keep[code]; !ok {
			c.m.Delete(code)
		}
		return true
	})
}
