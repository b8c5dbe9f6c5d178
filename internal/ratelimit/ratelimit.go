// Package ratelimit 按键速率限制
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter 速率限制接口
// 构造时注入，存储实现可替换（单实例内存 / 多实例 Redis）
type Limiter interface {
	// Allow 判断该键在当前窗口内是否还允许请求
	Allow(ctx context.Context, key string) (bool, error)
}

// 默认限制：15 分钟 100 次
const (
	DefaultLimit  = 100
	DefaultWindow = 15 * time.Minute
)

// record 固定窗口计数
type record struct {
	count   int
	resetAt time.Time
}

// Memory 内存固定窗口限制器
// 进程内共享可变状态，互斥锁保护；仅适用于单实例部署，
// 水平扩展须切换到 Redis 实现
type Memory struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	records map[string]*record
	now     func() time.Time
}

// NewMemory 创建内存限制器
func NewMemory(limit int, window time.Duration) *Memory {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Memory{
		limit:   limit,
		window:  window,
		records: make(map[string]*record),
		now:     time.Now,
	}
}

// Allow 判断是否允许请求
func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	r, ok := m.records[key]
	if !ok || now.After(r.resetAt) {
		m.records[key] = &record{count: 1, resetAt: now.Add(m.window)}
		return true, nil
	}

	if r.count >= m.limit {
		return false, nil
	}

	r.count++
	return true, nil
}

// Sweep 清理已过期的窗口记录
// 由调用方按需定期执行，避免长期运行下的无界增长
func (m *Memory) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, r := range m.records {
		if now.After(r.resetAt) {
			delete(m.records, key)
		}
	}
}

// rateLimitKeyPrefix Redis key 前缀
const rateLimitKeyPrefix = "rate_limit:"

// Redis Redis 固定窗口限制器
// 计数跨实例共享，适用于水平扩展部署
type Redis struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewRedis 创建 Redis 限制器
func NewRedis(client *redis.Client, limit int, window time.Duration) *Redis {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Redis{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Allow 判断是否允许请求
// 首次计数时设置窗口过期；存储故障返回错误由调用方决策
func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := rateLimitKeyPrefix + key

	count, err := r.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("速率限制计数失败: %w", err)
	}

	if count == 1 {
		if err := r.client.Expire(ctx, redisKey, r.window).Err(); err != nil {
			return false, fmt.Errorf("设置速率限制窗口失败: %w", err)
		}
	}

	return count <= int64(r.limit), nil
}
