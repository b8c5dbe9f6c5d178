package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// TestLogger 测试日志中间件
func TestLogger(t *testing.T) {
	router := gin.New()
	router.Use(Logger(zap.NewNop()))
	router.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	// 发送请求
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	// 验证响应
	if w.Code != http.StatusOK {
		t.Errorf("期望状态码 200, 实际 %d", w.Code)
	}

	// 验证 X-Request-ID 头
	requestID := w.Header().Get("X-Request-ID")
	if requestID == "" {
		t.Error("期望 X-Request-ID 头存在")
	}
}

// TestLoggerWithRequestID 测试日志中间件使用已有的请求 ID
func TestLoggerWithRequestID(t *testing.T) {
	router := gin.New()
	router.Use(Logger(zap.NewNop()))
	router.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	// 发送带有 X-Request-ID 的请求
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("X-Request-ID", "custom-request-id")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	// 验证响应中的 X-Request-ID 与请求中的一致
	requestID := w.Header().Get("X-Request-ID")
	if requestID != "custom-request-id" {
		t.Errorf("期望 X-Request-ID 为 custom-request-id, 实际 %s", requestID)
	}
}

// TestRecovery 测试恢复中间件
func TestRecovery(t *testing.T) {
	router := gin.New()
	router.Use(Logger(zap.NewNop()))
	router.Use(Recovery(zap.NewNop()))
	router.GET("/panic", func(c *gin.Context) {
		panic("测试 panic")
	})

	// 发送请求
	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	// 验证返回 500 状态码
	if w.Code != http.StatusInternalServerError {
		t.Errorf("期望状态码 500, 实际 %d", w.Code)
	}
}
