// Package shardmap 提供分片的並發安全 map。
//
// 設計考量：
//   - 每個分片有自己的 sync.RWMutex，不存在全域鎖
//   - 讀取只鎖住 key 所在的分片，與其他分片的寫入互不阻塞
//   - 呼叫方看不到鎖，只能透過 Get/Set/... 操作資料
//
// 分片選擇使用 FNV-1a，與一致性哈希的做法相同。
package shardmap

import (
	"hash/fnv"
	"sync"
)

// DefaultShards 預設分片數量
const DefaultShards = 32

// Map 分片 map，key 固定為 string。
type Map[V any] struct {
	shards []*shard[V]
	mask   uint32
}

type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

// New 建立分片 map。
//
// shards 會向上取整為 2 的次方，<= 0 時使用 DefaultShards。
func New[V any](shards int) *Map[V] {
	n := nextPowerOfTwo(shards)

	m := &Map[V]{
		shards: make([]*shard[V], n),
		mask:   uint32(n - 1),
	}
	for i := range m.shards {
		m.shards[i] = &shard[V]{items: make(map[string]V)}
	}
	return m
}

func nextPowerOfTwo(n int) int {
	if n <= 0 {
		return DefaultShards
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// index 計算 key 所屬分片
func index(key string, mask uint32) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() & mask
}

func (m *Map[V]) shardFor(key string) *shard[V] {
	return m.shards[index(key, m.mask)]
}

// Get 讀取 key
func (m *Map[V]) Get(key string) (V, bool) {
	s := m.shardFor(key)
	s.mu.RLock()
	v, ok := s.items[key]
	s.mu.RUnlock()
	return v, ok
}

// Has 檢查 key 是否存在
func (m *Map[V]) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Set 寫入 key（存在則覆蓋）
func (m *Map[V]) Set(key string, value V) {
	s := m.shardFor(key)
	s.mu.Lock()
	s.items[key] = value
	s.mu.Unlock()
}

// SetIfAbsent 僅在 key 不存在時寫入，返回是否寫入成功
func (m *Map[V]) SetIfAbsent(key string, value V) bool {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[key]; exists {
		return false
	}
	s.items[key] = value
	return true
}

// Replace 僅在 key 存在時覆蓋，返回是否覆蓋成功
func (m *Map[V]) Replace(key string, value V) bool {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[key]; !exists {
		return false
	}
	s.items[key] = value
	return true
}

// Delete 刪除 key，返回 key 原本是否存在
func (m *Map[V]) Delete(key string) bool {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.items[key]
	delete(s.items, key)
	return exists
}

// Len 返回所有分片的項目總數（不保證強一致）
func (m *Map[V]) Len() int {
	total := 0
	for _, s := range m.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}

// Range 逐分片複製後再回呼，回呼內可以安全地修改 map。
//
// 每個分片各自是某個時間點的快照，整體可能略為過時。
// fn 返回 false 時停止。
func (m *Map[V]) Range(fn func(key string, value V) bool) {
	for _, s := range m.shards {
		s.mu.RLock()
		keys := make([]string, 0, len(s.items))
		values := make([]V, 0, len(s.items))
		for k, v := range s.items {
			keys = append(keys, k)
			values = append(values, v)
		}
		s.mu.RUnlock()

		for i := range keys {
			if !fn(keys[i], values[i]) {
				return
			}
		}
	}
}
