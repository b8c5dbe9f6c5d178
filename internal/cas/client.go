package cas

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/pu-ac-cn/cas-gateway/internal/audit"
	"github.com/pu-ac-cn/cas-gateway/internal/model"
	"go.uber.org/zap"
)

// 票据验证错误
var (
	ErrFormatInvalid     = errors.New("票据格式无效")
	ErrTimeout           = errors.New("CAS 服务器请求超时")
	ErrMalformedResponse = errors.New("CAS 响应无法解析")
)

// UpstreamError CAS 服务器不可达或返回异常状态
type UpstreamError struct {
	Status int // 0 表示传输层错误
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("CAS 服务器返回异常状态: %d", e.Status)
	}
	return fmt.Sprintf("CAS 服务器通信失败: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// RejectedError CAS 明确拒绝票据
// 错误码原样透传（INVALID_TICKET / INVALID_SERVICE / INVALID_REQUEST 等）
type RejectedError struct {
	Code    string
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("CAS 认证失败: %s - %s", e.Code, e.Message)
}

// 票据格式约束
const (
	MinTicketLength = 10
	MaxTicketLength = 256
)

// ticketPattern Service Ticket 格式：ST- 前缀加随机字符
var ticketPattern = regexp.MustCompile(`^ST-[A-Za-z0-9_-]+$`)

// ValidateTicketFormat 本地校验票据格式
// 不合格的票据直接拒绝，不发起任何网络请求
func ValidateTicketFormat(ticket string) error {
	if ticket == "" {
		return ErrFormatInvalid
	}
	if len(ticket) < MinTicketLength || len(ticket) > MaxTicketLength {
		return ErrFormatInvalid
	}
	if !ticketPattern.MatchString(ticket) {
		return ErrFormatInvalid
	}
	return nil
}

// Validator 票据验证接口
type Validator interface {
	// Validate 调用 CAS serviceValidate 验证票据并提取身份
	// 返回的用户名尚未通过格式策略校验，调用方必须再经 identity.Check
	Validate(ctx context.Context, ticket, serviceURL string) (*model.Identity, error)
}

// ValidatorConfig 票据验证配置
type ValidatorConfig struct {
	// BaseURL CAS 服务器地址前缀
	BaseURL string
	// Timeout serviceValidate 请求超时，默认 10 秒
	Timeout time.Duration
}

// validator 票据验证实现
type validator struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	parser     EnvelopeParser
	sink       audit.Sink
	logger     *zap.Logger
}

// NewValidator 创建票据验证器
func NewValidator(cfg *ValidatorConfig, parser EnvelopeParser, sink audit.Sink, logger *zap.Logger) Validator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &validator{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
		parser:     parser,
		sink:       sink,
		logger:     logger,
	}
}

// Validate 验证票据
// 票据是一次性凭证：无论成功、失败还是超时都不重试，
// 超时重试可能因 CAS 已消费票据而得到错误的 INVALID_TICKET
func (v *validator) Validate(ctx context.Context, ticket, serviceURL string) (*model.Identity, error) {
	if err := ValidateTicketFormat(ticket); err != nil {
		v.record(model.EventCASValidationFailure, model.SeverityMedium,
			"票据格式无效，未发起验证请求", "")
		return nil, err
	}

	validateURL := fmt.Sprintf("%s/serviceValidate?ticket=%s&service=%s",
		v.baseURL, url.QueryEscape(ticket), url.QueryEscape(serviceURL))

	reqCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, validateURL, nil)
	if err != nil {
		return nil, fmt.Errorf("构造验证请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/xml, text/xml")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("User-Agent", "cas-gateway/1.0")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || reqCtx.Err() == context.DeadlineExceeded {
			v.record(model.EventCASValidationFailure, model.SeverityMedium,
				"CAS 服务器请求超时", "")
			return nil, ErrTimeout
		}
		v.record(model.EventCASValidationFailure, model.SeverityMedium,
			"CAS 服务器通信失败", "")
		return nil, &UpstreamError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		v.record(model.EventCASValidationFailure, model.SeverityMedium,
			fmt.Sprintf("CAS 服务器返回异常状态: %d", resp.StatusCode), "")
		return nil, &UpstreamError{Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		v.record(model.EventCASValidationFailure, model.SeverityMedium,
			"读取 CAS 响应失败", "")
		return nil, &UpstreamError{Err: err}
	}

	envelope := v.parser.Parse(body)
	switch envelope.Kind {
	case EnvelopeSuccess:
		v.record(model.EventCASValidationSuccess, model.SeverityLow,
			"票据验证成功", envelope.User)
		return &model.Identity{Username: envelope.User}, nil

	case EnvelopeFailure:
		v.record(model.EventCASValidationFailure, model.SeverityMedium,
			fmt.Sprintf("CAS 拒绝票据: %s", envelope.Code), "")
		return nil, &RejectedError{Code: envelope.Code, Message: envelope.Message}

	default:
		v.logger.Error("CAS 响应无法解析",
			zap.Int("body_length", len(body)),
		)
		v.record(model.EventCASValidationFailure, model.SeverityMedium,
			"CAS 响应无法解析", "")
		return nil, ErrMalformedResponse
	}
}

// record 上报审计事件
// 审计失败不影响验证结果
func (v *validator) record(eventType, severity, description, subjectID string) {
	if v.sink == nil {
		return
	}
	v.sink.Record(&model.SecurityEvent{
		Type:        eventType,
		Severity:    severity,
		Description: description,
		SubjectID:   subjectID,
		OccurredAt:  time.Now(),
	})
}
