// Package service 登录流程编排
package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pu-ac-cn/cas-gateway/internal/audit"
	"github.com/pu-ac-cn/cas-gateway/internal/cas"
	"github.com/pu-ac-cn/cas-gateway/internal/identity"
	"github.com/pu-ac-cn/cas-gateway/internal/model"
	"github.com/pu-ac-cn/cas-gateway/internal/replay"
	"github.com/pu-ac-cn/cas-gateway/internal/session"
	"github.com/pu-ac-cn/cas-gateway/pkg/response"
	"go.uber.org/zap"
)

// 流程阶段，单次登录尝试内按序推进
const (
	PhaseAwaitingTicket = "awaiting_ticket"
	PhaseValidating     = "validating"
	PhaseIssuing        = "issuing"
	PhaseComplete       = "complete"
	PhaseFailed         = "failed"
)

// FlowError 登录流程终态错误
// 错误码供前端渲染具体提示，原始错误仅记录在服务端
type FlowError struct {
	Code    string
	Message string
	Err     error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

// CallbackInput 回调输入
// 历史上的票据路径与旧版直传路径收敛到同一个编排器，
// 以带标签的变体区分（旧版路径确认 CAS-only 后移除）
type CallbackInput interface {
	inputKind() string
}

// TicketInput 票据验证路径
type TicketInput struct {
	// Ticket CAS 回跳携带的 Service Ticket
	Ticket string
	// ServiceURL 验证使用的 service 参数，空则使用配置值
	ServiceURL string
}

func (TicketInput) inputKind() string { return "ticket" }

// LegacyInput 旧版直传用户名路径
// 携带发起登录时签发的状态参数与时间戳
type LegacyInput struct {
	Username  string
	State     string
	Timestamp string
}

func (LegacyInput) inputKind() string { return "legacy" }

// Outcome 登录流程成功终态
type Outcome struct {
	Identity  *model.Identity
	Session   *model.Session
	Token     string
	CSRFToken string
	// State 回跳重定向携带的状态参数（兼容旧版前端）
	State *model.LoginState
}

// FlowService 登录流程编排接口
type FlowService interface {
	// Begin 发起登录：签发状态参数并给出 CAS 登录页地址
	Begin(ctx context.Context) (*model.LoginState, string, error)
	// Complete 完成登录：验证回调输入并签发会话
	Complete(ctx context.Context, input CallbackInput) (*Outcome, *FlowError)
}

// FlowConfig 登录流程配置
type FlowConfig struct {
	// CASBaseURL CAS 服务器地址前缀
	CASBaseURL string
	// ServiceURL 默认 service 参数
	ServiceURL string
}

// flowService 登录流程实现
type flowService struct {
	validator cas.Validator
	guard     replay.Guard
	issuer    *session.Issuer
	sink      audit.Sink
	logger    *zap.Logger
	baseURL   string
	service   string
}

// NewFlowService 创建登录流程编排器
func NewFlowService(
	validator cas.Validator,
	guard replay.Guard,
	issuer *session.Issuer,
	sink audit.Sink,
	logger *zap.Logger,
	cfg *FlowConfig,
) FlowService {
	return &flowService{
		validator: validator,
		guard:     guard,
		issuer:    issuer,
		sink:      sink,
		logger:    logger,
		baseURL:   strings.TrimSuffix(cfg.CASBaseURL, "/"),
		service:   cfg.ServiceURL,
	}
}

// Begin 发起登录
func (s *flowService) Begin(ctx context.Context) (*model.LoginState, string, error) {
	state, err := s.guard.Issue()
	if err != nil {
		return nil, "", err
	}

	loginURL := fmt.Sprintf("%s/login?service=%s", s.baseURL, url.QueryEscape(s.service))

	s.logger.Info("发起 CAS 登录",
		zap.String("phase", PhaseAwaitingTicket),
	)

	return state, loginURL, nil
}

// Complete 完成登录
// 顺序约束：旧版路径先消费状态参数再信任任何伴随参数；
// 身份策略通过之前不签发会话；状态参数无论成败都已一次性消费，
// 同一回调重放会在消费账本处失败，绝不产生第二个会话
func (s *flowService) Complete(ctx context.Context, input CallbackInput) (*Outcome, *FlowError) {
	switch in := input.(type) {
	case TicketInput:
		return s.completeTicket(ctx, in)
	case LegacyInput:
		return s.completeLegacy(ctx, in)
	default:
		return nil, &FlowError{
			Code:    response.CodeInternalError,
			Message: "未知的回调类型",
		}
	}
}

// completeTicket 票据验证路径
func (s *flowService) completeTicket(ctx context.Context, in TicketInput) (*Outcome, *FlowError) {
	serviceURL := in.ServiceURL
	if serviceURL == "" {
		serviceURL = s.service
	}

	s.logger.Info("开始验证票据",
		zap.String("phase", PhaseValidating),
	)

	ident, err := s.validator.Validate(ctx, in.Ticket, serviceURL)
	if err != nil {
		return nil, s.fail(mapValidationError(err))
	}

	// CAS 返回的用户名必须通过格式策略才能作为身份
	if err := identity.Check(ident.Username); err != nil {
		return nil, s.fail(&FlowError{
			Code:    response.CodeUsernameInvalid,
			Message: err.Error(),
			Err:     err,
		})
	}

	return s.issue(ident)
}

// completeLegacy 旧版直传用户名路径
// 任何伴随参数在状态参数消费成功之前都不可信；
// 该路径同样必须通过身份策略校验（历史实现曾跳过，按缺陷修复）
func (s *flowService) completeLegacy(ctx context.Context, in LegacyInput) (*Outcome, *FlowError) {
	if err := s.guard.Consume(ctx, in.State, in.Timestamp, time.Now()); err != nil {
		return nil, s.fail(mapStateError(err))
	}

	if err := identity.Check(in.Username); err != nil {
		return nil, s.fail(&FlowError{
			Code:    response.CodeUsernameInvalid,
			Message: err.Error(),
			Err:     err,
		})
	}

	return s.issue(&model.Identity{Username: in.Username})
}

// issue 签发会话，进入终态
func (s *flowService) issue(ident *model.Identity) (*Outcome, *FlowError) {
	s.logger.Info("签发会话",
		zap.String("phase", PhaseIssuing),
		zap.String("subject_id", ident.Username),
	)

	token, sess, err := s.issuer.Issue(ident)
	if err != nil {
		return nil, s.fail(&FlowError{
			Code:    response.CodeInternalError,
			Message: "签发会话失败",
			Err:     err,
		})
	}

	csrfToken, err := session.MintCSRFToken()
	if err != nil {
		return nil, s.fail(&FlowError{
			Code:    response.CodeInternalError,
			Message: "生成 CSRF 令牌失败",
			Err:     err,
		})
	}

	// 兼容旧版前端的回跳参数
	redirectState, err := s.guard.Issue()
	if err != nil {
		return nil, s.fail(&FlowError{
			Code:    response.CodeInternalError,
			Message: "生成状态参数失败",
			Err:     err,
		})
	}

	s.sink.Record(&model.SecurityEvent{
		Type:        model.EventSessionIssued,
		Severity:    model.SeverityLow,
		Description: "会话签发成功",
		SubjectID:   sess.SubjectID,
	})

	s.logger.Info("登录完成",
		zap.String("phase", PhaseComplete),
		zap.String("subject_id", sess.SubjectID),
	)

	return &Outcome{
		Identity:  ident,
		Session:   sess,
		Token:     token,
		CSRFToken: csrfToken,
		State:     redirectState,
	}, nil
}

// fail 记录失败终态
func (s *flowService) fail(ferr *FlowError) *FlowError {
	s.logger.Warn("登录失败",
		zap.String("phase", PhaseFailed),
		zap.String("code", ferr.Code),
		zap.Error(ferr.Err),
	)
	return ferr
}

// mapValidationError 票据验证错误转流程错误
func mapValidationError(err error) *FlowError {
	var rejected *cas.RejectedError
	var upstream *cas.UpstreamError

	switch {
	case errors.Is(err, cas.ErrFormatInvalid):
		return &FlowError{
			Code:    response.CodeTicketInvalidFormat,
			Message: "票据格式无效",
			Err:     err,
		}
	case errors.Is(err, cas.ErrTimeout):
		return &FlowError{
			Code:    response.CodeCASTimeout,
			Message: "CAS 服务器请求超时",
			Err:     err,
		}
	case errors.As(err, &rejected):
		return &FlowError{
			Code:    response.CodeCASAuthFailedPrefix + rejected.Code,
			Message: "CAS 认证失败",
			Err:     err,
		}
	case errors.Is(err, cas.ErrMalformedResponse):
		return &FlowError{
			Code:    response.CodeCASInvalidResponse,
			Message: "CAS 响应无法解析",
			Err:     err,
		}
	case errors.As(err, &upstream):
		return &FlowError{
			Code:    response.CodeCASCommunicationError,
			Message: "CAS 服务器通信失败",
			Err:     err,
		}
	default:
		return &FlowError{
			Code:    response.CodeInternalError,
			Message: "票据验证失败",
			Err:     err,
		}
	}
}

// mapStateError 状态参数错误转流程错误
func mapStateError(err error) *FlowError {
	switch {
	case errors.Is(err, replay.ErrStateExpired):
		return &FlowError{
			Code:    response.CodeStateExpired,
			Message: "登录状态已过期，请重新登录",
			Err:     err,
		}
	case errors.Is(err, replay.ErrStateMalformed), errors.Is(err, replay.ErrStateReplayed):
		return &FlowError{
			Code:    response.CodeStateInvalid,
			Message: "登录状态无效，请重新登录",
			Err:     err,
		}
	default:
		return &FlowError{
			Code:    response.CodeInternalError,
			Message: "登录状态检查失败",
			Err:     err,
		}
	}
}

// FormatTimestamp 状态时间戳的毫秒字符串形式
func FormatTimestamp(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
