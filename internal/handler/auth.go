package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pu-ac-cn/cas-gateway/internal/audit"
	"github.com/pu-ac-cn/cas-gateway/internal/middleware"
	"github.com/pu-ac-cn/cas-gateway/internal/model"
	"github.com/pu-ac-cn/cas-gateway/internal/service"
	"github.com/pu-ac-cn/cas-gateway/internal/session"
	"github.com/pu-ac-cn/cas-gateway/pkg/response"
	"go.uber.org/zap"
)

// AuthHandler 会话处理器
type AuthHandler struct {
	flow   service.FlowService
	issuer *session.Issuer
	sink   audit.Sink
	logger *zap.Logger
	cfg    *CASHandlerConfig
}

// NewAuthHandler 创建会话处理器
func NewAuthHandler(flow service.FlowService, issuer *session.Issuer, sink audit.Sink, logger *zap.Logger, cfg *CASHandlerConfig) *AuthHandler {
	return &AuthHandler{
		flow:   flow,
		issuer: issuer,
		sink:   sink,
		logger: logger,
		cfg:    cfg,
	}
}

// LegacyCallbackRequest 旧版直传回调请求
type LegacyCallbackRequest struct {
	Username  string `json:"cas_user" binding:"required"`
	State     string `json:"state" binding:"required"`
	Timestamp string `json:"timestamp" binding:"required"`
}

// SessionResponse 会话信息响应
type SessionResponse struct {
	SubjectID   string `json:"subject_id"`
	DisplayName string `json:"display_name"`
	IssuedAt    int64  `json:"issued_at"`
	ExpiresAt   int64  `json:"expires_at"`
}

// LegacyCallback 旧版直传用户名回调
// POST /api/auth/callback
// CAS-only 认证确认充分后该路径移除
func (h *AuthHandler) LegacyCallback(c *gin.Context) {
	var req LegacyCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, response.CodeStateInvalid, "回调参数缺失或格式错误")
		return
	}

	outcome, ferr := h.flow.Complete(c.Request.Context(), service.LegacyInput{
		Username:  req.Username,
		State:     req.State,
		Timestamp: req.Timestamp,
	})
	if ferr != nil {
		response.Error(c, ferr.Code, ferr.Message)
		return
	}

	h.setCookies(c, outcome.Token, outcome.CSRFToken)

	response.Success(c, sessionResponse(outcome.Session))
}

// Logout 登出
// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	if sess, ok := middleware.SessionFromContext(c); ok {
		h.sink.Record(&model.SecurityEvent{
			Type:        model.EventSessionDestroyed,
			Severity:    model.SeverityLow,
			Description: "用户登出",
			IP:          c.ClientIP(),
			UserAgent:   c.Request.UserAgent(),
			SubjectID:   sess.SubjectID,
		})
	}

	// 清除会话与 CSRF Cookie
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cfg.SessionCookieName, "", -1, "/", "", h.cfg.Secure, true)
	c.SetCookie(h.cfg.CSRFCookieName, "", -1, "/", "", h.cfg.Secure, false)

	response.Success(c, gin.H{"message": "登出成功"})
}

// Me 当前会话信息
// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	sess, ok := middleware.SessionFromContext(c)
	if !ok {
		response.Error(c, response.CodeUnauthorized, "未登录或会话已失效")
		return
	}

	response.Success(c, sessionResponse(sess))
}

// Refresh 滑动刷新会话
// GET /api/auth/refresh
// 距上次签发不足刷新间隔时令牌原样保留
func (h *AuthHandler) Refresh(c *gin.Context) {
	token, err := c.Cookie(h.cfg.SessionCookieName)
	if err != nil || token == "" {
		response.Error(c, response.CodeUnauthorized, "未登录或会话已失效")
		return
	}

	refreshed, sess, err := h.issuer.Refresh(token)
	if err != nil {
		// 刷新失败视为未认证，引导重新登录
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(h.cfg.SessionCookieName, "", -1, "/", "", h.cfg.Secure, true)
		response.Error(c, response.CodeSessionExpired, "会话已失效，请重新登录")
		return
	}

	if refreshed != token {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(h.cfg.SessionCookieName, refreshed, h.cfg.SessionMaxAgeSeconds, "/", "", h.cfg.Secure, true)
	}

	response.Success(c, sessionResponse(sess))
}

// setCookies 下发会话 Cookie 与 CSRF Cookie
func (h *AuthHandler) setCookies(c *gin.Context, token, csrfToken string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cfg.SessionCookieName, token, h.cfg.SessionMaxAgeSeconds, "/", "", h.cfg.Secure, true)
	c.SetCookie(h.cfg.CSRFCookieName, csrfToken, h.cfg.SessionMaxAgeSeconds, "/", "", h.cfg.Secure, false)
	c.SetCookie(loginStateCookie, "", -1, "/", "", h.cfg.Secure, true)
}

// sessionResponse 会话转响应结构
func sessionResponse(sess *model.Session) SessionResponse {
	return SessionResponse{
		SubjectID:   sess.SubjectID,
		DisplayName: sess.DisplayName,
		IssuedAt:    sess.IssuedAt.Unix(),
		ExpiresAt:   sess.ExpiresAt.Unix(),
	}
}
