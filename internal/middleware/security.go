package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pu-ac-cn/cas-gateway/internal/audit"
	"github.com/pu-ac-cn/cas-gateway/internal/model"
	"github.com/pu-ac-cn/cas-gateway/internal/ratelimit"
	"github.com/pu-ac-cn/cas-gateway/internal/session"
	"github.com/pu-ac-cn/cas-gateway/pkg/response"
	"go.uber.org/zap"
)

// SecurityConfig 安全中间件配置
type SecurityConfig struct {
	// PublicURL 应用对外地址，来源校验白名单成员
	PublicURL string
	// CSRFCookieName CSRF Cookie 名称
	CSRFCookieName string
	// CSRFProtectedPaths 需要 CSRF 校验的路径前缀
	CSRFProtectedPaths []string
	// SensitivePrefixes 需要来源校验的敏感路径前缀
	SensitivePrefixes []string
	// TLSEnabled 是否启用 HSTS
	TLSEnabled bool
}

// DefaultSecurityConfig 默认安全配置
func DefaultSecurityConfig(publicURL, csrfCookieName string, tlsEnabled bool) *SecurityConfig {
	return &SecurityConfig{
		PublicURL:      publicURL,
		CSRFCookieName: csrfCookieName,
		CSRFProtectedPaths: []string{
			"/api/cas/validate",
			"/api/auth/callback",
			"/api/auth/logout",
		},
		SensitivePrefixes: []string{
			"/api/cas/",
			"/api/auth/",
		},
		TLSEnabled: tlsEnabled,
	}
}

// mutatingMethods 需要 CSRF / 来源校验的方法
var mutatingMethods = map[string]bool{
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// SecurityHeaders 基线安全响应头中间件
// 无论请求结果如何都附加到响应
func SecurityHeaders(tlsEnabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		c.Header("Content-Security-Policy",
			"default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline'; "+
				"img-src 'self' data: https:; font-src 'self' data:; connect-src 'self' https:; "+
				"frame-ancestors 'none';")
		if tlsEnabled {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
		}
		c.Next()
	}
}

// RateLimit 按客户端 IP 的速率限制中间件
// 存储故障时放行（可用性优先），仅记录日志
func RateLimit(limiter ratelimit.Limiter, sink audit.Sink, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()

		allowed, err := limiter.Allow(c.Request.Context(), ip)
		if err != nil {
			logger.Error("速率限制检查失败",
				zap.String("ip", ip),
				zap.Error(err),
			)
			c.Next()
			return
		}

		if !allowed {
			sink.Record(&model.SecurityEvent{
				Type:        model.EventRateLimitExceeded,
				Severity:    model.SeverityMedium,
				Description: "IP 请求超出速率限制",
				IP:          ip,
				UserAgent:   c.Request.UserAgent(),
				Metadata: map[string]string{
					"path":   c.Request.URL.Path,
					"method": c.Request.Method,
				},
			})
			response.AbortError(c, response.CodeRateLimited, "请求过于频繁，请稍后重试")
			return
		}

		c.Next()
	}
}

// CSRF CSRF 防护中间件
// 变更类方法访问受保护路径时，X-CSRF-Token 头必须与 Cookie 中的令牌一致
func CSRF(cfg *SecurityConfig, sink audit.Sink, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !mutatingMethods[c.Request.Method] || !matchPrefix(c.Request.URL.Path, cfg.CSRFProtectedPaths) {
			c.Next()
			return
		}

		headerToken := c.GetHeader("X-CSRF-Token")
		cookieToken, _ := c.Cookie(cfg.CSRFCookieName)

		if !session.VerifyCSRFToken(headerToken, cookieToken) {
			logger.Warn("CSRF 令牌校验失败",
				zap.String("ip", c.ClientIP()),
				zap.String("path", c.Request.URL.Path),
				zap.String("method", c.Request.Method),
				zap.Bool("has_header_token", headerToken != ""),
				zap.Bool("has_cookie_token", cookieToken != ""),
			)
			sink.Record(&model.SecurityEvent{
				Type:        model.EventCSRFAttack,
				Severity:    model.SeverityHigh,
				Description: "CSRF 令牌缺失或不匹配",
				IP:          c.ClientIP(),
				UserAgent:   c.Request.UserAgent(),
				Metadata: map[string]string{
					"path":   c.Request.URL.Path,
					"method": c.Request.Method,
				},
			})
			response.AbortError(c, response.CodeCSRFInvalid, "CSRF 令牌无效")
			return
		}

		c.Next()
	}
}

// OriginCheck 请求来源校验中间件
// 非 GET 请求访问敏感路径时，Origin（优先）或 Referer 必须命中白名单；
// 两者都缺失的请求直接拒绝
func OriginCheck(cfg *SecurityConfig, sink audit.Sink, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet || !matchPrefix(c.Request.URL.Path, cfg.SensitivePrefixes) {
			c.Next()
			return
		}

		if !originAllowed(c, cfg.PublicURL) {
			logger.Warn("请求来源校验失败",
				zap.String("ip", c.ClientIP()),
				zap.String("path", c.Request.URL.Path),
				zap.String("origin", c.GetHeader("Origin")),
				zap.String("referer", c.GetHeader("Referer")),
			)
			sink.Record(&model.SecurityEvent{
				Type:        model.EventSuspiciousRequest,
				Severity:    model.SeverityHigh,
				Description: "敏感接口请求来源无效",
				IP:          c.ClientIP(),
				UserAgent:   c.Request.UserAgent(),
				Metadata: map[string]string{
					"path":    c.Request.URL.Path,
					"method":  c.Request.Method,
					"origin":  c.GetHeader("Origin"),
					"referer": c.GetHeader("Referer"),
				},
			})
			response.AbortError(c, response.CodeOriginInvalid, "请求来源无效")
			return
		}

		c.Next()
	}
}

// originAllowed 判断请求来源是否在白名单内
// 白名单：当前 Host 的 https/http 形式与配置的对外地址
func originAllowed(c *gin.Context, publicURL string) bool {
	origin := c.GetHeader("Origin")
	referer := c.GetHeader("Referer")

	if origin == "" && referer == "" {
		return false
	}

	host := c.Request.Host
	allowed := []string{
		"https://" + host,
		"http://" + host, // 开发环境
	}
	if publicURL != "" {
		allowed = append(allowed, strings.TrimSuffix(publicURL, "/"))
	}

	if origin != "" {
		return containsString(allowed, origin)
	}

	refererURL, err := url.Parse(referer)
	if err != nil {
		return false
	}
	return containsString(allowed, refererURL.Scheme+"://"+refererURL.Host)
}

// matchPrefix 路径是否命中任一前缀
func matchPrefix(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
