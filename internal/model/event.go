package model

import (
	"time"
)

// 安全事件类型
const (
	EventCASValidationStart   = "CAS_VALIDATION_START"
	EventCASValidationSuccess = "CAS_VALIDATION_SUCCESS"
	EventCASValidationFailure = "CAS_VALIDATION_FAILURE"
	EventCSRFAttack           = "CSRF_ATTACK"
	EventSuspiciousRequest    = "SUSPICIOUS_REQUEST"
	EventRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
	EventUnauthorizedAccess   = "UNAUTHORIZED_ACCESS"
	EventInvalidOrigin        = "INVALID_ORIGIN"
	EventSessionIssued        = "SESSION_ISSUED"
	EventSessionDestroyed     = "SESSION_DESTROYED"
)

// 安全事件严重级别
const (
	SeverityLow      = "LOW"
	SeverityMedium   = "MEDIUM"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)

// SecurityEvent 安全事件
// 只追加，由审计接收端持有
type SecurityEvent struct {
	Type        string            `json:"type"`
	Severity    string            `json:"severity"`
	Description string            `json:"description"`
	IP          string            `json:"ip"`
	UserAgent   string            `json:"user_agent"`
	SubjectID   string            `json:"subject_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}
