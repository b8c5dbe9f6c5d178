package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pu-ac-cn/cas-gateway/internal/audit"
	"github.com/pu-ac-cn/cas-gateway/internal/model"
	"github.com/pu-ac-cn/cas-gateway/internal/session"
	"github.com/pu-ac-cn/cas-gateway/pkg/response"
)

// 上下文键
const (
	ContextSession = "session"
	ContextSubject = "subject_id"
)

// SessionAuth 会话认证中间件
// 从 HttpOnly Cookie 读取会话令牌并校验；签名无效、过期、格式错误
// 一律视为未认证。浏览器请求重定向到登录页，API 请求返回 401
func SessionAuth(issuer *session.Issuer, cookieName string, sink audit.Sink) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(cookieName)
		if err != nil || token == "" {
			unauthorized(c, sink, "缺少会话令牌")
			return
		}

		sess, err := issuer.Verify(token)
		if err != nil {
			unauthorized(c, sink, "会话令牌校验失败")
			return
		}

		// 将会话信息存入上下文
		c.Set(ContextSession, sess)
		c.Set(ContextSubject, sess.SubjectID)

		c.Next()
	}
}

// OptionalSessionAuth 可选的会话认证中间件（不强制要求登录）
// 允许匿名浏览的路由使用，会话有效时照常注入上下文
func OptionalSessionAuth(issuer *session.Issuer, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(cookieName)
		if err != nil || token == "" {
			c.Next()
			return
		}

		if sess, err := issuer.Verify(token); err == nil {
			c.Set(ContextSession, sess)
			c.Set(ContextSubject, sess.SubjectID)
		}

		c.Next()
	}
}

// SessionFromContext 从上下文取出会话
func SessionFromContext(c *gin.Context) (*model.Session, bool) {
	value, exists := c.Get(ContextSession)
	if !exists {
		return nil, false
	}
	sess, ok := value.(*model.Session)
	return sess, ok
}

// unauthorized 处理未认证请求
// 会话失效不是系统错误：记录低级别事件后静默引导重新登录
func unauthorized(c *gin.Context, sink audit.Sink, reason string) {
	sink.Record(&model.SecurityEvent{
		Type:        model.EventUnauthorizedAccess,
		Severity:    model.SeverityLow,
		Description: reason,
		IP:          c.ClientIP(),
		UserAgent:   c.Request.UserAgent(),
		Metadata: map[string]string{
			"path": c.Request.URL.Path,
		},
	})

	// 浏览器页面请求重定向到登录页，API 请求返回 401
	if strings.Contains(c.GetHeader("Accept"), "text/html") {
		c.Redirect(http.StatusFound, "/login")
		c.Abort()
		return
	}

	response.AbortError(c, response.CodeUnauthorized, "未登录或会话已失效")
}
