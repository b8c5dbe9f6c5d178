package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorBody 错误响应结构
// 对外只暴露通用描述和错误码，完整细节仅记录在服务端日志
type ErrorBody struct {
	Error string `json:"error"` // 用户可见的错误描述
	Code  string `json:"code"`  // 机器可读的错误码
}

// 错误码
const (
	// 输入错误
	CodeTicketMissing       = "TICKET_MISSING"        // 缺少票据参数
	CodeTicketInvalidFormat = "TICKET_INVALID_FORMAT" // 票据格式无效
	CodeUsernameInvalid     = "USERNAME_INVALID"      // 用户名格式无效
	CodeStateInvalid        = "STATE_INVALID"         // 状态参数无效
	CodeStateExpired        = "STATE_EXPIRED"         // 状态参数已过期

	// 上游错误
	CodeCASTimeout            = "CAS_TIMEOUT"             // CAS 服务器超时
	CodeCASCommunicationError = "CAS_COMMUNICATION_ERROR" // CAS 服务器不可达
	CodeCASInvalidResponse    = "CAS_INVALID_RESPONSE"    // CAS 响应无法解析
	CodeCASAuthFailedPrefix   = "CAS_AUTH_FAILED_"        // CAS 认证失败（后接 CAS 错误码）

	// 安全策略
	CodeOriginInvalid   = "ORIGIN_INVALID"      // 请求来源无效
	CodeCSRFInvalid     = "CSRF_TOKEN_INVALID"  // CSRF 令牌无效
	CodeRateLimited     = "RATE_LIMIT_EXCEEDED" // 请求过于频繁
	CodeUnauthorized    = "UNAUTHORIZED"        // 未认证
	CodeSessionExpired  = "SESSION_EXPIRED"     // 会话已过期
	CodeSessionInvalid  = "SESSION_INVALID"     // 会话无效

	// 服务器错误
	CodeConfigError   = "CONFIG_ERROR"   // 服务器配置缺失
	CodeInternalError = "INTERNAL_ERROR" // 服务器内部错误
)

// 错误码对应的 HTTP 状态码
var codeStatus = map[string]int{
	CodeTicketMissing:         http.StatusBadRequest,
	CodeTicketInvalidFormat:   http.StatusBadRequest,
	CodeUsernameInvalid:       http.StatusBadRequest,
	CodeStateInvalid:          http.StatusBadRequest,
	CodeStateExpired:          http.StatusBadRequest,
	CodeCASTimeout:            http.StatusGatewayTimeout,
	CodeCASCommunicationError: http.StatusBadGateway,
	CodeCASInvalidResponse:    http.StatusInternalServerError,
	CodeOriginInvalid:         http.StatusForbidden,
	CodeCSRFInvalid:           http.StatusForbidden,
	CodeRateLimited:           http.StatusTooManyRequests,
	CodeUnauthorized:          http.StatusUnauthorized,
	CodeSessionExpired:        http.StatusUnauthorized,
	CodeSessionInvalid:        http.StatusUnauthorized,
	CodeConfigError:           http.StatusInternalServerError,
	CodeInternalError:         http.StatusInternalServerError,
}

// Status 错误码转 HTTP 状态码
// CAS_AUTH_FAILED_* 系列统一返回 401
func Status(code string) int {
	if s, ok := codeStatus[code]; ok {
		return s
	}
	if len(code) > len(CodeCASAuthFailedPrefix) && code[:len(CodeCASAuthFailedPrefix)] == CodeCASAuthFailedPrefix {
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// Error 错误响应
func Error(c *gin.Context, code, msg string) {
	c.JSON(Status(code), ErrorBody{
		Error: msg,
		Code:  code,
	})
}

// AbortError 错误响应并终止后续处理（中间件用）
func AbortError(c *gin.Context, code, msg string) {
	c.AbortWithStatusJSON(Status(code), ErrorBody{
		Error: msg,
		Code:  code,
	})
}
