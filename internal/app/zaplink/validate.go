package zaplink

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// 访问被拒绝的原因。全部是终态、对用户可见、不可重试。
var (
	ErrNotFound         = errors.New("link not found")
	ErrPasswordRequired = errors.New("password required")
	ErrPasswordMismatch = errors.New("password mismatch")
	ErrExpired          = errors.New("link expired")
)

var ErrAlreadyExhausted = errors.New("link already exhausted")

// 输入校验错误，HTTP 层统一映射成 400。
var (
	ErrInvalidName     = errors.New("invalid name")
	ErrInvalidFile     = errors.New("invalid file")
	ErrInvalidPolicy   = errors.New("invalid self-destruct policy")
	ErrInvalidPassword = errors.New("invalid password")
	ErrInvalidCode     = errors.New("invalid code")
)

const (
	maxNameLen     = 100
	maxPasswordLen = 72 // bcrypt 只看前 72 字节
	maxFileNameLen = 255
)

// AllowedExtensions 上传表单的 accept 列表。只是输入检查，不是安全边界。
var AllowedExtensions = map[string]struct{}{
	".pdf":  {},
	".doc":  {},
	".docx": {},
	".ppt":  {},
	".pptx": {},
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".zip":  {},
	".txt":  {},
}

// ValidateName 校验二维码名称：去掉首尾空白后 1~100 个字符。
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLen {
		return ErrInvalidName
	}
	return nil
}

// ValidateFileName 只允许白名单里的扩展名（大小写不敏感）。
func ValidateFileName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxFileNameLen {
		return ErrInvalidFile
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return ErrInvalidFile
	}
	ext := strings.ToLower(filepath.Ext(name))
	if _, ok := AllowedExtensions[ext]; !ok {
		return fmt.Errorf("%w: extension %q not allowed", ErrInvalidFile, ext)
	}
	return nil
}

func ValidatePassword(password string) error {
	if strings.TrimSpace(password) == "" || len(password) > maxPasswordLen {
		return ErrInvalidPassword
	}
	return nil
}

var codeRe = regexp.MustCompile(`^[A-Za-z0-9]{3,64}$`)

var reservedCodes = map[string]struct{}{
	"api":     {},
	"healthz": {},
	"favicon": {},
	"metrics": {},
}

// ValidateCode 在访问存储之前挡掉明显不合法的 code，避免无意义的缓存/DB 查询。
func ValidateCode(code string) error {
	if !codeRe.MatchString(code) {
		return ErrInvalidCode
	}
	if _, ok := reservedCodes[strings.ToLower(code)]; ok {
		return ErrInvalidCode
	}
	return nil
}

// Self-destruct 表单取值。
const (
	DestructViews = "views"
	DestructHours = "hours"
)

// ParsePolicy 把上传表单的 self-destruct 字段翻译成 Policy。
//
// - destructType 为空：Unlimited
// - views + n：MaxViews(n)
// - hours + h：ExpiresAt(now + h 小时)
//
// n、h 必须是 >= 1 的整数。
func ParsePolicy(destructType, value string, now time.Time) (Policy, error) {
	destructType = strings.ToLower(strings.TrimSpace(destructType))
	value = strings.TrimSpace(value)
	if destructType == "" && value == "" {
		return Unlimited(), nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n < 1 {
		return Policy{}, fmt.Errorf("%w: value must be a positive integer", ErrInvalidPolicy)
	}
	switch destructType {
	case DestructViews:
		return MaxViews(n), nil
	case DestructHours:
		// 上限一年，防止 Duration 溢出
		if n > 24*366 {
			return Policy{}, fmt.Errorf("%w: hours out of range", ErrInvalidPolicy)
		}
		return ExpiresAt(now.Add(time.Duration(n) * time.Hour)), nil
	}
	return Policy{}, fmt.Errorf("%w: unknown type %q", ErrInvalidPolicy, destructType)
}
