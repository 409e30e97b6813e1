// Package base62 提供 Base62 字元集與安全隨機字串
//
// Base62 使用字符集：0-9, A-Z, a-z（共 62 個字符）。
// 不含 + 和 /，可以直接放進 HTTP header 與 URL，不需要轉義。
//
// 使用場景：
//   - 存取 token（Authorization header）
//   - 密碼鹽（以 salt|hash 形式存放，因此不得包含 '|'）
package base62

import (
	"crypto/rand"
	"errors"
	"io"
)

// 字符集：0-9（10個）+ A-Z（26個）+ a-z（26個）= 62個字符
const base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const base = 62

// maxUnbiased 拒絕取樣的上界：248 = 62 × 4
//
// 直接對 byte 取 %62 會讓前 8 個字元（256 % 62 = 8）機率偏高，
// 所以 >= 248 的 byte 直接丟棄。
const maxUnbiased = 256 - (256 % base)

// ErrInvalidLength 長度必須為正數
var ErrInvalidLength = errors.New("base62: length must be positive")

// Reader 隨機來源，測試時可替換
var Reader io.Reader = rand.Reader

// Random 生成 n 個字元的密碼學安全隨機字串
//
// 每個字元約 5.95 bit 熵：
//   - 22 字元 ≈ 131 bit（鹽）
//   - 43 字元 ≈ 256 bit（token）
func Random(n int) (string, error) {
	if n <= 0 {
		return "", ErrInvalidLength
	}

	result := make([]byte, 0, n)
	buf := make([]byte, n+n/4+8)

	for len(result) < n {
		if _, err := io.ReadFull(Reader, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= maxUnbiased {
				continue
			}
			result = append(result, base62Chars[int(b)%base])
			if len(result) == n {
				break
			}
		}
	}

	return string(result), nil
}

// IsValid 檢查字符串是否只包含 Base62 字元
func IsValid(str string) bool {
	if str == "" {
		return false
	}
	for i := 0; i < len(str); i++ {
		c := str[i]
		if !('0' <= c && c <= '9' || 'A' <= c && c <= 'Z' || 'a' <= c && c <= 'z') {
			return false
		}
	}
	return true
}
