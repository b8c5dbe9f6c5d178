// Package handler HTTP 处理器
package handler

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pu-ac-cn/cas-gateway/internal/audit"
	"github.com/pu-ac-cn/cas-gateway/internal/model"
	"github.com/pu-ac-cn/cas-gateway/internal/service"
	"github.com/pu-ac-cn/cas-gateway/pkg/response"
	"go.uber.org/zap"
)

// loginStateCookie 发起登录时下发的状态 Cookie，回调消费后清除
const loginStateCookie = "cas-gateway.login-state"

// CASHandlerConfig CAS 处理器配置
type CASHandlerConfig struct {
	// CASBaseURL CAS 服务器地址前缀
	CASBaseURL string
	// ServiceURL 验证使用的 service 参数
	ServiceURL string
	// PublicURL 应用对外地址
	PublicURL string
	// SessionCookieName 会话 Cookie 名称
	SessionCookieName string
	// CSRFCookieName CSRF Cookie 名称
	CSRFCookieName string
	// SessionMaxAgeSeconds 会话 Cookie 有效期（秒）
	SessionMaxAgeSeconds int
	// StateMaxAgeSeconds 状态 Cookie 有效期（秒）
	StateMaxAgeSeconds int
	// Secure Cookie 是否仅通过 TLS 传输
	Secure bool
}

// CASHandler CAS 登录处理器
type CASHandler struct {
	flow   service.FlowService
	sink   audit.Sink
	logger *zap.Logger
	cfg    *CASHandlerConfig
}

// NewCASHandler 创建 CAS 登录处理器
func NewCASHandler(flow service.FlowService, sink audit.Sink, logger *zap.Logger, cfg *CASHandlerConfig) *CASHandler {
	return &CASHandler{
		flow:   flow,
		sink:   sink,
		logger: logger,
		cfg:    cfg,
	}
}

// Login 发起 CAS 登录
// GET /api/cas/login
func (h *CASHandler) Login(c *gin.Context) {
	state, loginURL, err := h.flow.Begin(c.Request.Context())
	if err != nil {
		h.logger.Error("发起登录失败", zap.Error(err))
		response.Error(c, response.CodeInternalError, "发起登录失败，请稍后重试")
		return
	}

	// 状态参数短期存放在客户端，首次消费或过期后即失效
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(loginStateCookie, state.State, h.cfg.StateMaxAgeSeconds, "/", "", h.cfg.Secure, true)

	c.Redirect(http.StatusFound, loginURL)
}

// Validate 票据验证回调
// GET /api/cas/validate?ticket=ST-...
func (h *CASHandler) Validate(c *gin.Context) {
	// CAS 重定向回跳时 Referer 通常是 CAS 服务器；
	// Referer 存在但不在白名单内的请求直接拒绝
	if referer := c.GetHeader("Referer"); referer != "" && !h.refererAllowed(referer) {
		h.logger.Warn("回调请求来源校验失败",
			zap.String("referer", referer),
			zap.String("ip", c.ClientIP()),
		)
		h.sink.Record(&model.SecurityEvent{
			Type:        model.EventInvalidOrigin,
			Severity:    model.SeverityMedium,
			Description: "票据验证回调的请求来源无效",
			IP:          c.ClientIP(),
			UserAgent:   c.Request.UserAgent(),
			Metadata:    map[string]string{"referer": referer},
		})
		response.Error(c, response.CodeOriginInvalid, "请求来源无效")
		return
	}

	ticket := c.Query("ticket")
	if ticket == "" {
		h.sink.Record(&model.SecurityEvent{
			Type:        model.EventSuspiciousRequest,
			Severity:    model.SeverityLow,
			Description: "票据验证请求缺少 ticket 参数",
			IP:          c.ClientIP(),
			UserAgent:   c.Request.UserAgent(),
		})
		response.Error(c, response.CodeTicketMissing, "缺少 ticket 参数")
		return
	}

	if h.cfg.CASBaseURL == "" || h.cfg.ServiceURL == "" {
		h.logger.Error("CAS 服务器地址未配置")
		response.Error(c, response.CodeConfigError, "服务器配置错误")
		return
	}

	outcome, ferr := h.flow.Complete(c.Request.Context(), service.TicketInput{Ticket: ticket})
	if ferr != nil {
		response.Error(c, ferr.Code, ferr.Message)
		return
	}

	h.setSessionCookies(c, outcome.Token, outcome.CSRFToken)

	// 兼容旧版前端：回跳登录页并携带用户名与状态参数
	redirect := strings.TrimSuffix(h.cfg.PublicURL, "/") + "/login" +
		"?cas_user=" + url.QueryEscape(outcome.Identity.Username) +
		"&cas_login=success" +
		"&state=" + url.QueryEscape(outcome.State.State) +
		"&timestamp=" + service.FormatTimestamp(outcome.State.IssuedAt)

	c.Redirect(http.StatusFound, redirect)
}

// refererAllowed Referer 是否命中白名单
// 白名单：应用对外地址、CAS 服务器地址及其主机部分
func (h *CASHandler) refererAllowed(referer string) bool {
	allowed := []string{
		strings.TrimSuffix(h.cfg.PublicURL, "/"),
		strings.TrimSuffix(h.cfg.CASBaseURL, "/"),
	}
	if base, err := url.Parse(h.cfg.CASBaseURL); err == nil && base.Host != "" {
		allowed = append(allowed, base.Scheme+"://"+base.Host)
	}

	for _, origin := range allowed {
		if origin != "" && strings.HasPrefix(referer, origin) {
			return true
		}
	}
	return false
}

// setSessionCookies 下发会话 Cookie 与 CSRF Cookie
// 会话 Cookie 为 HttpOnly；CSRF Cookie 允许客户端读取后回传请求头
func (h *CASHandler) setSessionCookies(c *gin.Context, token, csrfToken string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cfg.SessionCookieName, token, h.cfg.SessionMaxAgeSeconds, "/", "", h.cfg.Secure, true)
	c.SetCookie(h.cfg.CSRFCookieName, csrfToken, h.cfg.SessionMaxAgeSeconds, "/", "", h.cfg.Secure, false)
	// 状态 Cookie 已完成使命
	c.SetCookie(loginStateCookie, "", -1, "/", "", h.cfg.Secure, true)
}
