package cas

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pu-ac-cn/cas-gateway/internal/audit"
	"github.com/pu-ac-cn/cas-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTestValidator 指向本地模拟 CAS 服务器的验证器
func newTestValidator(baseURL string, timeout time.Duration, sink audit.Sink) Validator {
	if sink == nil {
		sink = audit.NewCapture()
	}
	return NewValidator(&ValidatorConfig{
		BaseURL: baseURL,
		Timeout: timeout,
	}, NewEnvelopeParser(), sink, zap.NewNop())
}

func TestValidateTicketFormat(t *testing.T) {
	tests := []struct {
		name   string
		ticket string
		valid  bool
	}{
		{"合法票据", "ST-abc123XYZ", true},
		{"带下划线连字符", "ST-a_b-c1234567890", true},
		{"最短长度", "ST-1234567", true},
		{"空票据", "", false},
		{"过短", "bad", false},
		{"长度不足 10", "ST-123456", false},
		{"超长", "ST-" + strings.Repeat("a", 254), false},
		{"缺少 ST 前缀", "TGT-abc1234567", false},
		{"包含非法字符", "ST-abc!@#12345", false},
		{"包含空格", "ST-abc 1234567", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTicketFormat(tt.ticket)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrFormatInvalid)
			}
		})
	}
}

// TestValidator_FormatInvalidNoNetworkCall 格式不合格的票据不发起任何网络请求
func TestValidator_FormatInvalidNoNetworkCall(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(namespacedSuccess))
	}))
	defer server.Close()

	v := newTestValidator(server.URL, time.Second, nil)

	for _, ticket := range []string{"", "bad", "ST-123", "TGT-abcdef12345", "ST-abc!@#12345"} {
		_, err := v.Validate(context.Background(), ticket, "https://app.example.edu.cn/api/cas/validate")
		assert.ErrorIs(t, err, ErrFormatInvalid, "票据 %q", ticket)
	}

	assert.Equal(t, int64(0), calls.Load(), "格式校验失败不应发起网络请求")
}

func TestValidator_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// serviceValidate 请求携带 ticket 与 service 参数
		assert.Equal(t, "/serviceValidate", r.URL.Path)
		assert.Equal(t, "ST-abc123XYZ", r.URL.Query().Get("ticket"))
		assert.NotEmpty(t, r.URL.Query().Get("service"))
		w.Write([]byte(namespacedSuccess))
	}))
	defer server.Close()

	sink := audit.NewCapture()
	v := newTestValidator(server.URL, time.Second, sink)

	ident, err := v.Validate(context.Background(), "ST-abc123XYZ", "https://app.example.edu.cn/api/cas/validate")
	require.NoError(t, err)
	assert.Equal(t, "alice", ident.Username)

	// 每次尝试必须产生一条结果审计事件
	assert.Equal(t, 1, sink.CountByType(model.EventCASValidationSuccess))
}

func TestValidator_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(namespacedFailure))
	}))
	defer server.Close()

	sink := audit.NewCapture()
	v := newTestValidator(server.URL, time.Second, sink)

	_, err := v.Validate(context.Background(), "ST-abc123XYZ", "https://app.example.edu.cn/api/cas/validate")

	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "INVALID_TICKET", rejected.Code)
	assert.Equal(t, 1, sink.CountByType(model.EventCASValidationFailure))
}

func TestValidator_MalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not cas</html>"))
	}))
	defer server.Close()

	v := newTestValidator(server.URL, time.Second, nil)

	_, err := v.Validate(context.Background(), "ST-abc123XYZ", "https://app.example.edu.cn/api/cas/validate")
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestValidator_SuccessWithoutUsername(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<cas:authenticationSuccess><cas:attributes/></cas:authenticationSuccess>`))
	}))
	defer server.Close()

	v := newTestValidator(server.URL, time.Second, nil)

	_, err := v.Validate(context.Background(), "ST-abc123XYZ", "https://app.example.edu.cn/api/cas/validate")
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestValidator_UpstreamStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	v := newTestValidator(server.URL, time.Second, nil)

	_, err := v.Validate(context.Background(), "ST-abc123XYZ", "https://app.example.edu.cn/api/cas/validate")

	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusBadGateway, upstream.Status)
}

func TestValidator_Unreachable(t *testing.T) {
	// 先关闭服务器制造连接失败
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	v := newTestValidator(server.URL, time.Second, nil)

	_, err := v.Validate(context.Background(), "ST-abc123XYZ", "https://app.example.edu.cn/api/cas/validate")

	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, 0, upstream.Status)
}

func TestValidator_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte(namespacedSuccess))
	}))
	defer server.Close()

	v := newTestValidator(server.URL, 50*time.Millisecond, nil)

	_, err := v.Validate(context.Background(), "ST-abc123XYZ", "https://app.example.edu.cn/api/cas/validate")
	assert.ErrorIs(t, err, ErrTimeout)
}
