package session

import (
	"crypto/hmac"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// csrfTokenBytes CSRF 令牌随机字节数
const csrfTokenBytes = 32

// MintCSRFToken 生成 CSRF 令牌
// 写入非 HttpOnly Cookie，由客户端读取后通过 X-CSRF-Token 头回传
func MintCSRFToken() (string, error) {
	buf := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("生成 CSRF 令牌失败: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// VerifyCSRFToken 比较请求头令牌与 Cookie 令牌
// 恒定时间比较，两者任一为空即失败
func VerifyCSRFToken(headerToken, cookieToken string) bool {
	if headerToken == "" || cookieToken == "" {
		return false
	}
	return hmac.Equal([]byte(headerToken), []byte(cookieToken))
}
