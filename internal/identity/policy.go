// Package identity 用户名格式策略
package identity

import (
	"errors"
	"regexp"
)

// 用户名校验错误，按规则顺序命中第一条
var (
	ErrEmpty    = errors.New("用户名不能为空")
	ErrTooShort = errors.New("用户名长度不足 3 个字符")
	ErrTooLong  = errors.New("用户名长度超过 50 个字符")
	ErrCharset  = errors.New("用户名只能包含字母、数字、点号、下划线和连字符")
)

// usernamePattern 用户名字符集规则
var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// 用户名长度限制
const (
	MinLength = 3
	MaxLength = 50
)

// Check 校验用户名格式
// 规则按顺序检查：非空 -> 长度 3-50 -> 字符集，命中第一条失败规则即返回
// CAS 返回的用户名在通过本检查之前不得作为身份使用
func Check(username string) error {
	if username == "" {
		return ErrEmpty
	}
	if len(username) < MinLength {
		return ErrTooShort
	}
	if len(username) > MaxLength {
		return ErrTooLong
	}
	if !usernamePattern.MatchString(username) {
		return ErrCharset
	}
	return nil
}

// Valid 校验用户名格式是否合法
func Valid(username string) bool {
	return Check(username) == nil
}
