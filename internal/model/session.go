// Package model 数据模型定义
package model

import (
	"time"
)

// Identity 经过校验的身份
// 仅由票据验证或旧版直传路径产生，用户名须先通过格式策略检查
type Identity struct {
	Username string `json:"username"`
}

// Session 用户会话
// 由签名令牌承载，浏览器侧只持有 HttpOnly Cookie
type Session struct {
	SubjectID   string    `json:"subject_id"`
	DisplayName string    `json:"display_name"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// IsExpired 检查会话是否过期
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// LoginState 登录状态参数（防重放）
// 发起登录时生成，首次消费或过期后即失效
type LoginState struct {
	State    string    `json:"state"`
	IssuedAt time.Time `json:"issued_at"`
}
