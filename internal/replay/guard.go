// Package replay 登录状态防重放
package replay

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/pu-ac-cn/cas-gateway/internal/model"
	"github.com/redis/go-redis/v9"
)

// 状态参数校验错误
var (
	ErrStateMalformed = errors.New("状态参数格式无效")
	ErrStateExpired   = errors.New("状态参数已过期")
	ErrStateReplayed  = errors.New("状态参数已被使用")
)

const (
	// stateBytes 状态参数随机字节数（256 位熵，密码学安全随机源）
	stateBytes = 32
	// MinStateLength 状态参数最小长度
	MinStateLength = 16
	// DefaultMaxAge 状态参数默认有效期
	DefaultMaxAge = 5 * time.Minute

	// Redis key 前缀
	consumedKeyPrefix = "login_state:consumed:"
)

// Guard 登录状态守卫接口
type Guard interface {
	// Issue 签发一个新的登录状态参数
	Issue() (*model.LoginState, error)
	// Consume 消费状态参数，同一状态值至多成功消费一次
	Consume(ctx context.Context, state, timestamp string, now time.Time) error
}

// guard 基于 Redis 的实现
// 消费账本用 SETNX 保证一次性，与 Service Ticket 的单次使用语义一致
type guard struct {
	redis  *redis.Client
	maxAge time.Duration
}

// NewGuard 创建登录状态守卫
func NewGuard(redisClient *redis.Client, maxAge time.Duration) Guard {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &guard{
		redis:  redisClient,
		maxAge: maxAge,
	}
}

// Issue 签发登录状态参数
func (g *guard) Issue() (*model.LoginState, error) {
	buf := make([]byte, stateBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("生成状态参数失败: %w", err)
	}
	return &model.LoginState{
		State:    base64.RawURLEncoding.EncodeToString(buf),
		IssuedAt: time.Now(),
	}, nil
}

// Consume 消费状态参数
// 校验顺序：长度 -> 时间戳解析 -> 时间窗口 -> 一次性账本
// 时间戳为毫秒整数；负的时间差（时钟回拨或被篡改的未来时间戳）同样拒绝
func (g *guard) Consume(ctx context.Context, state, timestamp string, now time.Time) error {
	if len(state) < MinStateLength {
		return ErrStateMalformed
	}

	issuedMillis, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrStateMalformed
	}

	delta := now.UnixMilli() - issuedMillis
	if delta < 0 || delta > g.maxAge.Milliseconds() {
		return ErrStateExpired
	}

	// SETNX 成功表示首次消费，失败表示重放
	// 账本有效期与时间窗口一致，过期后时间戳检查先行拒绝
	key := consumedKeyPrefix + state
	ok, err := g.redis.SetNX(ctx, key, timestamp, g.maxAge).Result()
	if err != nil {
		return fmt.Errorf("写入状态消费账本失败: %w", err)
	}
	if !ok {
		return ErrStateReplayed
	}

	return nil
}
