package session

import (
	"strings"
	"testing"
	"time"

	"github.com/pu-ac-cn/cas-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

// newTestIssuer 创建可控时钟的签发器
func newTestIssuer(t *testing.T, now *time.Time) *Issuer {
	issuer, err := NewIssuer(&IssuerConfig{
		Secret:    testSecret,
		Issuer:    "cas-gateway",
		MaxAge:    24 * time.Hour,
		UpdateAge: time.Hour,
		Now:       func() time.Time { return *now },
	})
	require.NoError(t, err)
	return issuer
}

func TestNewIssuer_SecretTooShort(t *testing.T) {
	_, err := NewIssuer(&IssuerConfig{
		Secret: []byte("too-short"),
	})
	assert.ErrorIs(t, err, ErrSecretTooShort)
}

// TestIssuer_RoundTrip 签发后立即校验返回同一身份
func TestIssuer_RoundTrip(t *testing.T) {
	now := time.Now()
	issuer := newTestIssuer(t, &now)

	token, sess, err := issuer.Issue(&model.Identity{Username: "alice"})
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.Equal(t, "alice", sess.SubjectID)
	assert.Equal(t, now.Add(24*time.Hour).Unix(), sess.ExpiresAt.Unix())

	verified, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, sess.SubjectID, verified.SubjectID)
	assert.Equal(t, sess.DisplayName, verified.DisplayName)
}

// TestIssuer_Expired 过期令牌校验失败
func TestIssuer_Expired(t *testing.T) {
	now := time.Now()
	issuer := newTestIssuer(t, &now)

	token, _, err := issuer.Issue(&model.Identity{Username: "alice"})
	require.NoError(t, err)

	// 时钟推进到绝对有效期之后
	now = now.Add(24*time.Hour + time.Minute)

	_, err = issuer.Verify(token)
	assert.ErrorIs(t, err, ErrExpired)
}

// TestIssuer_TamperedToken 被篡改的令牌签名校验失败
func TestIssuer_TamperedToken(t *testing.T) {
	now := time.Now()
	issuer := newTestIssuer(t, &now)

	token, _, err := issuer.Issue(&model.Identity{Username: "alice"})
	require.NoError(t, err)

	// 篡改载荷部分
	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	_, err = issuer.Verify(tampered)
	assert.Error(t, err)

	// 换密钥签发的令牌同样被拒
	other, err := NewIssuer(&IssuerConfig{
		Secret: []byte("another-secret-of-32-bytes-xxxxx"),
		Now:    func() time.Time { return now },
	})
	require.NoError(t, err)

	foreign, _, err := other.Issue(&model.Identity{Username: "alice"})
	require.NoError(t, err)

	_, err = issuer.Verify(foreign)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestIssuer_MalformedToken(t *testing.T) {
	now := time.Now()
	issuer := newTestIssuer(t, &now)

	for _, token := range []string{"", "garbage", "a.b", "a.b.c"} {
		_, err := issuer.Verify(token)
		assert.Error(t, err, "令牌 %q 应校验失败", token)
	}
}

// TestIssuer_RefreshWithinUpdateAge 刷新间隔内令牌原样返回
func TestIssuer_RefreshWithinUpdateAge(t *testing.T) {
	now := time.Now()
	issuer := newTestIssuer(t, &now)

	token, _, err := issuer.Issue(&model.Identity{Username: "alice"})
	require.NoError(t, err)

	now = now.Add(30 * time.Minute)

	refreshed, sess, err := issuer.Refresh(token)
	require.NoError(t, err)
	assert.Equal(t, token, refreshed)
	assert.Equal(t, "alice", sess.SubjectID)
}

// TestIssuer_RefreshRotates 超过刷新间隔后轮换令牌
func TestIssuer_RefreshRotates(t *testing.T) {
	start := time.Now()
	now := start
	issuer := newTestIssuer(t, &now)

	token, _, err := issuer.Issue(&model.Identity{Username: "alice"})
	require.NoError(t, err)

	now = start.Add(2 * time.Hour)

	refreshed, sess, err := issuer.Refresh(token)
	require.NoError(t, err)
	assert.NotEqual(t, token, refreshed)
	// 刷新不会把有效期延长到首次签发时间加绝对有效期之后
	assert.Equal(t, start.Add(24*time.Hour).Unix(), sess.ExpiresAt.Unix())

	// 刷新后的令牌依然有效
	verified, err := issuer.Verify(refreshed)
	require.NoError(t, err)
	assert.Equal(t, "alice", verified.SubjectID)
}

// TestIssuer_RefreshCannotOutliveAbsoluteLimit 刷新无法绕过绝对有效期
func TestIssuer_RefreshCannotOutliveAbsoluteLimit(t *testing.T) {
	start := time.Now()
	now := start
	issuer := newTestIssuer(t, &now)

	token, _, err := issuer.Issue(&model.Identity{Username: "alice"})
	require.NoError(t, err)

	// 每小时刷新一次直到接近绝对有效期
	for i := 0; i < 23; i++ {
		now = now.Add(time.Hour)
		token, _, err = issuer.Refresh(token)
		require.NoError(t, err)
	}

	// 越过绝对有效期后校验失败
	now = start.Add(24*time.Hour + time.Minute)
	_, err = issuer.Verify(token)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestCSRFToken(t *testing.T) {
	token, err := MintCSRFToken()
	require.NoError(t, err)
	// 32 字节十六进制编码为 64 个字符
	assert.Len(t, token, 64)

	other, err := MintCSRFToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, other)

	assert.True(t, VerifyCSRFToken(token, token))
	assert.False(t, VerifyCSRFToken(token, other))
	assert.False(t, VerifyCSRFToken("", token))
	assert.False(t, VerifyCSRFToken(token, ""))
	assert.False(t, VerifyCSRFToken("", ""))
}
