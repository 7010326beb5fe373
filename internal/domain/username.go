package domain

import (
	"errors"
	"strings"
)

// ErrInvalidUsername 表示账号名包含非法字符或长度超限。
var ErrInvalidUsername = errors.New("invalid username")

const maxUsernameLength = 30

// NormalizeUsername 去除首尾空白与前导 @，转小写并校验字符集（字母、数字、点、下划线）。
func NormalizeUsername(raw string) (string, error) {
	name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(raw), "@"))
	if name == "" || len(name) > maxUsernameLength {
		return "", ErrInvalidUsername
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_':
		default:
			return "", ErrInvalidUsername
		}
	}
	return name, nil
}
