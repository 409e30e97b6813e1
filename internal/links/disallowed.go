package links

import "strings"

// Disallowed 保留短碼集合（例如 "api"、"health"），啟動時載入，之後唯讀
//
// 保護系統路由不被短碼遮蔽。沒有任何修改 API。
type Disallowed struct {
	set map[string]struct{}
}

// NewDisallowed 建立保留短碼集合，忽略空白項目
func NewDisallowed(codes []string) *Disallowed {
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		set[c] = struct{}{}
	}
	return &Disallowed{set: set}
}

// Contains 檢查短碼是否為保留短碼
func (d *Disallowed) Contains(code string) bool {
	_, ok := d.set[code]
	return ok
}

// Len 返回保留短碼數量
func (d *Disallowed) Len() int {
	return len(d.set)
}
