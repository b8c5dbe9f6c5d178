// Package session 会话签发与校验
package session

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pu-ac-cn/cas-gateway/internal/model"
)

// 会话校验错误，统一映射为"未认证"，不产生部分身份
var (
	ErrSignatureInvalid = errors.New("会话签名验证失败")
	ErrExpired          = errors.New("会话已过期")
	ErrMalformed        = errors.New("会话令牌格式无效")
	ErrSecretTooShort   = errors.New("会话签名密钥长度不足 32 字节")
)

// 会话有效期常量
const (
	// DefaultMaxAge 会话绝对有效期
	DefaultMaxAge = 24 * time.Hour
	// DefaultUpdateAge 滑动刷新间隔
	DefaultUpdateAge = time.Hour
	// MinSecretLength 签名密钥最小字节数
	MinSecretLength = 32
)

// SessionClaims 会话令牌声明
type SessionClaims struct {
	jwt.RegisteredClaims
	// DisplayName 展示名称
	DisplayName string `json:"name,omitempty"`
	// OrigIssuedAt 首次签发时间（Unix 秒）
	// 刷新只轮换 IssuedAt，绝对有效期始终以首次签发时间为基准
	OrigIssuedAt int64 `json:"orig_iat"`
}

// IssuerConfig 会话签发配置
type IssuerConfig struct {
	// Secret 签名密钥，至少 32 字节
	Secret []byte
	// Issuer 签发者标识
	Issuer string
	// MaxAge 绝对有效期，默认 24 小时
	MaxAge time.Duration
	// UpdateAge 滑动刷新间隔，默认 1 小时
	UpdateAge time.Duration
	// Now 时钟函数（测试用），默认 time.Now
	Now func() time.Time
}

// Issuer 会话签发器
// HMAC-SHA256 签名，密钥为进程级只读状态
type Issuer struct {
	secret    []byte
	issuer    string
	maxAge    time.Duration
	updateAge time.Duration
	now       func() time.Time
}

// NewIssuer 创建会话签发器
// 密钥长度不足直接失败，弱密钥不允许启动
func NewIssuer(cfg *IssuerConfig) (*Issuer, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	issuer := &Issuer{
		secret:    cfg.Secret,
		issuer:    cfg.Issuer,
		maxAge:    cfg.MaxAge,
		updateAge: cfg.UpdateAge,
		now:       cfg.Now,
	}
	if issuer.maxAge <= 0 {
		issuer.maxAge = DefaultMaxAge
	}
	if issuer.updateAge <= 0 {
		issuer.updateAge = DefaultUpdateAge
	}
	if issuer.now == nil {
		issuer.now = time.Now
	}
	return issuer, nil
}

// Issue 为已校验的身份签发会话
// 身份必须先通过格式策略检查，签发是全有或全无的
func (i *Issuer) Issue(identity *model.Identity) (string, *model.Session, error) {
	now := i.now()
	expiresAt := now.Add(i.maxAge)

	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   identity.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		DisplayName:  identity.Username,
		OrigIssuedAt: now.Unix(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", nil, err
	}

	return token, &model.Session{
		SubjectID:   identity.Username,
		DisplayName: identity.Username,
		IssuedAt:    now,
		ExpiresAt:   expiresAt,
	}, nil
}

// Refresh 滑动刷新会话
// 距上次签发不足刷新间隔时原样返回；刷新轮换 IssuedAt，
// 有效期不超过首次签发时间加绝对有效期
func (i *Issuer) Refresh(tokenString string) (string, *model.Session, error) {
	claims, err := i.parse(tokenString)
	if err != nil {
		return "", nil, err
	}

	now := i.now()
	if now.Sub(claims.IssuedAt.Time) < i.updateAge {
		return tokenString, claimsToSession(claims), nil
	}

	absoluteLimit := time.Unix(claims.OrigIssuedAt, 0).Add(i.maxAge)
	expiresAt := now.Add(i.maxAge)
	if expiresAt.After(absoluteLimit) {
		expiresAt = absoluteLimit
	}

	refreshed := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   claims.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		DisplayName:  claims.DisplayName,
		OrigIssuedAt: claims.OrigIssuedAt,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshed).SignedString(i.secret)
	if err != nil {
		return "", nil, err
	}

	return token, claimsToSession(refreshed), nil
}

// Verify 校验会话令牌
// 任何失败都视为未认证，不返回部分身份
func (i *Issuer) Verify(tokenString string) (*model.Session, error) {
	claims, err := i.parse(tokenString)
	if err != nil {
		return nil, err
	}
	return claimsToSession(claims), nil
}

// MaxAge 会话绝对有效期
func (i *Issuer) MaxAge() time.Duration {
	return i.maxAge
}

// parse 解析并校验令牌
func (i *Issuer) parse(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrSignatureInvalid
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now))

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, ErrSignatureInvalid):
			return nil, ErrSignatureInvalid
		default:
			return nil, ErrMalformed
		}
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, ErrMalformed
	}
	if claims.Subject == "" || claims.OrigIssuedAt == 0 {
		return nil, ErrMalformed
	}

	// 绝对有效期以首次签发时间为基准，刷新无法绕过
	if i.now().After(time.Unix(claims.OrigIssuedAt, 0).Add(i.maxAge)) {
		return nil, ErrExpired
	}

	return claims, nil
}

// claimsToSession 声明转会话
func claimsToSession(claims *SessionClaims) *model.Session {
	return &model.Session{
		SubjectID:   claims.Subject,
		DisplayName: claims.DisplayName,
		IssuedAt:    claims.IssuedAt.Time,
		ExpiresAt:   claims.ExpiresAt.Time,
	}
}
