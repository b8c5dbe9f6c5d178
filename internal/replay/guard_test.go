package replay

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 创建测试用的 Redis 客户端
func setupTestRedis(t *testing.T) (*redis.Client, func()) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return client, func() {
		client.Close()
		mr.Close()
	}
}

func TestGuard_Issue(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	g := NewGuard(client, 0)

	state, err := g.Issue()
	require.NoError(t, err)
	// 32 字节 base64url 编码为 43 个字符
	assert.GreaterOrEqual(t, len(state.State), MinStateLength)
	assert.False(t, state.IssuedAt.IsZero())

	// 连续签发的状态值不重复
	other, err := g.Issue()
	require.NoError(t, err)
	assert.NotEqual(t, state.State, other.State)
}

func TestGuard_Consume(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	maxAge := 5 * time.Minute
	g := NewGuard(client, maxAge)
	ctx := context.Background()
	now := time.Now()

	millis := func(t time.Time) string {
		return strconv.FormatInt(t.UnixMilli(), 10)
	}

	tests := []struct {
		name      string
		state     string
		timestamp string
		wantErr   error
	}{
		{"刚签发", "abcdefghijklmnop", millis(now), nil},
		{"窗口内", "bbcdefghijklmnop", millis(now.Add(-4 * time.Minute)), nil},
		{"恰好等于最大有效期", "cbcdefghijklmnop", millis(now.Add(-maxAge)), nil},
		{"超出最大有效期 1 毫秒", "dbcdefghijklmnop", millis(now.Add(-maxAge - time.Millisecond)), ErrStateExpired},
		{"未来时间戳", "ebcdefghijklmnop", millis(now.Add(time.Second)), ErrStateExpired},
		{"状态参数过短", "shortstate", millis(now), ErrStateMalformed},
		{"时间戳非整数", "fbcdefghijklmnop", "not-a-number", ErrStateMalformed},
		{"时间戳为空", "gbcdefghijklmnop", "", ErrStateMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.Consume(ctx, tt.state, tt.timestamp, now)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

// TestGuard_ConsumeOnce 同一状态值至多成功消费一次
func TestGuard_ConsumeOnce(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	g := NewGuard(client, 5*time.Minute)
	ctx := context.Background()

	state, err := g.Issue()
	require.NoError(t, err)

	now := time.Now()
	timestamp := strconv.FormatInt(state.IssuedAt.UnixMilli(), 10)

	// 首次消费成功
	require.NoError(t, g.Consume(ctx, state.State, timestamp, now))

	// 第二次消费同一 (state, timestamp) 必须失败
	err = g.Consume(ctx, state.State, timestamp, now)
	assert.ErrorIs(t, err, ErrStateReplayed)
}

// TestGuard_IssueConsumeRoundTrip 签发后立即消费应成功
func TestGuard_IssueConsumeRoundTrip(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	g := NewGuard(client, 5*time.Minute)
	ctx := context.Background()

	state, err := g.Issue()
	require.NoError(t, err)

	timestamp := strconv.FormatInt(state.IssuedAt.UnixMilli(), 10)
	assert.NoError(t, g.Consume(ctx, state.State, timestamp, time.Now()))
}
