package auth

// SetHasher 替換密碼雜湊函式（測試用）
func SetHasher(a *Accounts, fn func(salt, password string) string) {
	a.hash = fn
}
