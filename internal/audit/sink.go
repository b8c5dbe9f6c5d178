// Package audit 安全审计
package audit

import (
	"sync"
	"time"

	"github.com/pu-ac-cn/cas-gateway/internal/model"
	"go.uber.org/zap"
)

// Sink 安全事件接收端接口
// 由构造时注入，便于测试时替换为采集实现
type Sink interface {
	// Record 记录安全事件
	// 不阻塞调用方、不返回错误，接收端故障只影响审计不影响业务
	Record(event *model.SecurityEvent)
}

// zapSink 基于 zap 的审计实现
type zapSink struct {
	logger *zap.Logger
}

// NewZapSink 创建基于 zap 的审计接收端
func NewZapSink(logger *zap.Logger) Sink {
	return &zapSink{logger: logger.Named("audit")}
}

// Record 记录安全事件
func (s *zapSink) Record(event *model.SecurityEvent) {
	if event == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	fields := []zap.Field{
		zap.String("type", event.Type),
		zap.String("severity", event.Severity),
		zap.String("ip", event.IP),
		zap.String("user_agent", event.UserAgent),
		zap.Time("occurred_at", event.OccurredAt),
	}
	if event.SubjectID != "" {
		fields = append(fields, zap.String("subject_id", event.SubjectID))
	}
	if len(event.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", event.Metadata))
	}

	switch event.Severity {
	case model.SeverityHigh, model.SeverityCritical:
		s.logger.Warn(event.Description, fields...)
	default:
		s.logger.Info(event.Description, fields...)
	}
}

// Capture 采集型审计接收端（测试用）
type Capture struct {
	mu     sync.Mutex
	events []*model.SecurityEvent
}

// NewCapture 创建采集型接收端
func NewCapture() *Capture {
	return &Capture{}
}

// Record 记录安全事件
func (c *Capture) Record(event *model.SecurityEvent) {
	if event == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

// Events 返回已记录的事件副本
func (c *Capture) Events() []*model.SecurityEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*model.SecurityEvent, len(c.events))
	copy(out, c.events)
	return out
}

// CountByType 按类型统计事件数
func (c *Capture) CountByType(eventType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}
