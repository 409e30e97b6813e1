package shardmap

import "sync"

// KeyLock 條帶鎖（striped lock）：同一個 key 永遠對應同一把鎖。
//
// 用來序列化同一個 key 的寫入流程（驗證 → 寫資料庫 → 更新快取），
// 不同 key 大多落在不同條帶，彼此不阻塞。
type KeyLock struct {
	stripes []sync.Mutex
	mask    uint32
}

// NewKeyLock 建立條帶鎖，stripes 會向上取整為 2 的次方
func NewKeyLock(stripes int) *KeyLock {
	n := nextPowerOfTwo(stripes)
	return &KeyLock{
		stripes: make([]sync.Mutex, n),
		mask:    uint32(n - 1),
	}
}

// Lock 鎖住 key 所在條帶，返回解鎖函數
//
//	unlock := kl.Lock(code)
//	defer unlock()
func (kl *KeyLock) Lock(key string) (unlock func()) {
	mu := &kl.stripes[index(key, kl.mask)]
	mu.Lock()
	return mu.Unlock
}
