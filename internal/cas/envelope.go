// Package cas CAS 票据验证客户端
package cas

import (
	"regexp"
	"strings"
)

// EnvelopeKind CAS 响应信封类型
type EnvelopeKind int

const (
	// EnvelopeMalformed 无法识别的响应体
	EnvelopeMalformed EnvelopeKind = iota
	// EnvelopeSuccess 认证成功信封
	EnvelopeSuccess
	// EnvelopeFailure 认证失败信封
	EnvelopeFailure
)

// Envelope 解析后的 CAS 响应
type Envelope struct {
	Kind EnvelopeKind
	// User 成功信封中的用户名（未经格式策略校验）
	User string
	// Code 失败信封中的 CAS 错误码（INVALID_TICKET 等，原样透传）
	Code string
	// Message 失败信封中的描述
	Message string
}

// EnvelopeParser CAS 响应解析接口
// 解析策略独立于调用方，便于替换匹配实现
type EnvelopeParser interface {
	Parse(body []byte) Envelope
}

// 宽松匹配：各家 CAS 服务器对 cas: 命名空间前缀的使用不一致，
// 带前缀和不带前缀的标签都接受
var (
	successPattern = regexp.MustCompile(`(?s)<(?:cas:)?authenticationSuccess[^>]*>(.*?)</(?:cas:)?authenticationSuccess>`)
	failurePattern = regexp.MustCompile(`(?s)<(?:cas:)?authenticationFailure[^>]*\bcode="([^"]*)"[^>]*>(.*?)</(?:cas:)?authenticationFailure>`)
	userPattern    = regexp.MustCompile(`<(?:cas:)?user>([^<]+)</(?:cas:)?user>`)
)

// regexParser 基于正则的宽松解析实现
// 针对已知的窄 schema 足够，schema 变化时整体替换解析器
type regexParser struct{}

// NewEnvelopeParser 创建默认的 CAS 响应解析器
func NewEnvelopeParser() EnvelopeParser {
	return &regexParser{}
}

// Parse 解析 CAS serviceValidate 响应体
// 成功信封缺少用户名字段视为无法识别
func (p *regexParser) Parse(body []byte) Envelope {
	text := string(body)

	if m := successPattern.FindStringSubmatch(text); m != nil {
		um := userPattern.FindStringSubmatch(m[1])
		if um == nil {
			return Envelope{Kind: EnvelopeMalformed}
		}
		user := strings.TrimSpace(um[1])
		if user == "" {
			return Envelope{Kind: EnvelopeMalformed}
		}
		return Envelope{Kind: EnvelopeSuccess, User: user}
	}

	if m := failurePattern.FindStringSubmatch(text); m != nil {
		code := m[1]
		if code == "" {
			code = "UNKNOWN"
		}
		return Envelope{
			Kind:    EnvelopeFailure,
			Code:    code,
			Message: strings.TrimSpace(m[2]),
		}
	}

	return Envelope{Kind: EnvelopeMalformed}
}
