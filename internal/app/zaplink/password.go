package zaplink

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword 生成链接密码的 bcrypt 哈希。cost 传 0 使用 bcrypt.DefaultCost。
func HashPassword(password string, cost int) (string, error) {
	if err := ValidatePassword(password); err != nil {
		return "", err
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword 比较明文与哈希。哈希损坏时返回非 ErrPasswordMismatch 的错误。
func CheckPassword(hash, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrPasswordMismatch
	}
	return err
}
